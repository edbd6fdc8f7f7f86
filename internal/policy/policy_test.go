package policy

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/governance"
	atomicio "github.com/sawpanic/edgerun/internal/io"
)

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func healthyReport(t *testing.T, abBets int) *governance.Report {
	t.Helper()
	dir := t.TempDir()
	confPath := filepath.Join(dir, "governance_x_confidence.json")
	conf := map[string]any{
		"active_thresholds": confidence.ActiveThresholds{Mode: confidence.ModeHybrid, BucketA: 70, BucketB: 55},
		"policy_results": []confidence.PolicyResult{
			{Policy: confidence.PolicyAOnly, NBets: 12, ROIOnStaked: 0.05},
			{Policy: confidence.PolicyAB, NBets: abBets, ROIOnStaked: 0.03},
		},
	}
	require.NoError(t, atomicio.WriteJSONAtomic(confPath, conf))

	ab := confidence.PolicyResult{Policy: confidence.PolicyAB, NBets: abBets, ROIOnStaked: 0.03}
	return &governance.Report{
		RunID:     "governance_x",
		Status:    governance.StatusHealthy,
		Alerts:    []string{},
		Artifacts: governance.Artifacts{Confidence: confPath, Governance: filepath.Join(dir, "governance_x.json")},
		Metrics:   &governance.Metrics{Confidence: governance.ConfidenceMetrics{ABPolicy: &ab}},
	}
}

func TestPublish(t *testing.T) {
	gov := healthyReport(t, 40)

	state, err := Publish(gov, gov.Artifacts.Governance, DefaultPublishConfig(), now)
	require.NoError(t, err)

	assert.Equal(t, StatusProvisionalActive, state.Status)
	assert.Equal(t, now.Add(30*24*time.Hour), state.ValidUntil)
	assert.Equal(t, confidence.PolicyAB, state.ModelPolicy.Policy)
	assert.Equal(t, confidence.ModeHybrid, state.ModelPolicy.ThresholdMode)
	assert.Equal(t, 70.0, state.ModelPolicy.BucketA)
	assert.Equal(t, 55.0, state.ModelPolicy.BucketB)
	assert.Equal(t, 40, state.ModelPolicy.PerformanceSnapshot.NBets)
	assert.Equal(t, "governance_x", state.GovernanceRunID)
	assert.True(t, state.Controls.RequireHealthyGovernance)
}

func TestPublishRejects(t *testing.T) {
	t.Run("unhealthy governance", func(t *testing.T) {
		gov := healthyReport(t, 40)
		gov.Status = governance.StatusAttention
		_, err := Publish(gov, "", DefaultPublishConfig(), now)
		require.Error(t, err)
		var ve errs.ValidationError
		require.True(t, errors.As(err, &ve))
		assert.Equal(t, errs.ReasonGovernanceUnhealthy, ve.Reason)
	})

	t.Run("missing confidence artifact", func(t *testing.T) {
		gov := healthyReport(t, 40)
		gov.Artifacts.Confidence = filepath.Join(t.TempDir(), "gone.json")
		_, err := Publish(gov, "", DefaultPublishConfig(), now)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "confidence artifact not found")
	})

	t.Run("unknown policy", func(t *testing.T) {
		gov := healthyReport(t, 40)
		_, err := Publish(gov, "", PublishConfig{Policy: confidence.PolicyAll, ValidDays: 30}, now)
		require.Error(t, err)
		assert.Equal(t, errs.ExitValidation, errs.ExitCode(err))
	})
}

func provisional() *ProvisionalState {
	return &ProvisionalState{
		CreatedAt:  now,
		ValidUntil: now.Add(30 * 24 * time.Hour),
		Status:     StatusProvisionalActive,
		ModelPolicy: ModelPolicy{
			Policy:  confidence.PolicyAB,
			BucketA: 70,
			BucketB: 55,
		},
	}
}

func TestEvaluate(t *testing.T) {
	cfg := DefaultRuntimeConfig()

	tests := []struct {
		name    string
		prov    func() *ProvisionalState
		gov     func(*governance.Report)
		at      time.Time
		action  Action
		policy  string
		reasons []string
	}{
		{
			name:    "healthy keeps policy",
			prov:    provisional,
			gov:     func(*governance.Report) {},
			at:      now.Add(time.Hour),
			action:  ActionKeep,
			policy:  "A_B",
			reasons: []string{},
		},
		{
			name: "expired suspends betting even when unhealthy",
			prov: provisional,
			gov: func(g *governance.Report) {
				g.Status = governance.StatusAttention
				g.Alerts = []string{"walk_forward_roi_mean_below_threshold"}
			},
			at:     now.Add(31 * 24 * time.Hour),
			action: ActionNoBet,
			policy: NoBetPolicy,
			reasons: []string{
				ReasonExpired,
				ReasonNotHealthy,
				"governance_alerts:walk_forward_roi_mean_below_threshold",
			},
		},
		{
			name: "missing expiry counts as expired",
			prov: func() *ProvisionalState {
				p := provisional()
				p.ValidUntil = time.Time{}
				return p
			},
			gov:     func(*governance.Report) {},
			at:      now,
			action:  ActionNoBet,
			policy:  NoBetPolicy,
			reasons: []string{ReasonExpired},
		},
		{
			name: "alerts fall back",
			prov: provisional,
			gov: func(g *governance.Report) {
				g.Status = governance.StatusAttention
				g.Alerts = []string{"a", "b"}
			},
			at:      now,
			action:  ActionFallback,
			policy:  "A_only",
			reasons: []string{ReasonNotHealthy, "governance_alerts:a|b"},
		},
		{
			name: "low A_B sample falls back",
			prov: provisional,
			gov: func(g *governance.Report) {
				g.Metrics.Confidence.ABPolicy.NBets = 12
			},
			at:      now,
			action:  ActionFallback,
			policy:  "A_only",
			reasons: []string{"ab_bets_below_min:12<20"},
		},
		{
			name: "missing A_B snapshot counts as zero bets",
			prov: provisional,
			gov: func(g *governance.Report) {
				g.Metrics = nil
			},
			at:      now,
			action:  ActionFallback,
			policy:  "A_only",
			reasons: []string{"ab_bets_below_min:0<20"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gov := healthyReport(t, 40)
			tt.gov(gov)

			state := Evaluate(tt.prov(), gov, tt.at, cfg)
			assert.Equal(t, tt.action, state.Action)
			assert.Equal(t, tt.policy, state.ActivePolicy)
			assert.Equal(t, tt.reasons, state.Reasons)
			require.NotNil(t, state.Thresholds)
			assert.Equal(t, 70.0, state.Thresholds.BucketA)
		})
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "provisional.json"), filepath.Join(dir, "runtime.json"))
	ctx := context.Background()

	_, err := store.LoadProvisional(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveProvisional(ctx, provisional()))
	got, err := store.LoadProvisional(ctx)
	require.NoError(t, err)
	assert.Equal(t, confidence.PolicyAB, got.ModelPolicy.Policy)
	assert.True(t, got.ValidUntil.Equal(now.Add(30*24*time.Hour)))

	rt := &RuntimeState{CreatedAt: now, Action: ActionFallback, ActivePolicy: "A_only", Reasons: []string{"x"}}
	require.NoError(t, store.SaveRuntime(ctx, rt))
	gotRT, err := store.LoadRuntime(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionFallback, gotRT.Action)
}

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, "")
	store.now = func() time.Time { return now }
	ctx := context.Background()

	prov := provisional()
	provJSON, err := json.Marshal(prov)
	require.NoError(t, err)
	mock.ExpectSet("edgerun:policy:provisional", string(provJSON), 30*24*time.Hour).SetVal("OK")
	require.NoError(t, store.SaveProvisional(ctx, prov))

	mock.ExpectGet("edgerun:policy:provisional").SetVal(string(provJSON))
	got, err := store.LoadProvisional(ctx)
	require.NoError(t, err)
	assert.Equal(t, 70.0, got.ModelPolicy.BucketA)

	rt := &RuntimeState{CreatedAt: now, Action: ActionKeep, ActivePolicy: "A_B", Reasons: []string{}}
	rtJSON, err := json.Marshal(rt)
	require.NoError(t, err)
	mock.ExpectSet("edgerun:policy:runtime", string(rtJSON), 0).SetVal("OK")
	mock.ExpectPublish("edgerun:policy:runtime:updates", string(rtJSON)).SetVal(1)
	require.NoError(t, store.SaveRuntime(ctx, rt))

	mock.ExpectGet("edgerun:policy:runtime").RedisNil()
	_, err = store.LoadRuntime(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMultiStore(t *testing.T) {
	dir := t.TempDir()
	a := NewFileStore(filepath.Join(dir, "a_prov.json"), filepath.Join(dir, "a_rt.json"))
	b := NewFileStore(filepath.Join(dir, "b_prov.json"), filepath.Join(dir, "b_rt.json"))
	ms := MultiStore{a, b}
	ctx := context.Background()

	require.NoError(t, ms.SaveRuntime(ctx, &RuntimeState{Action: ActionNoBet, ActivePolicy: NoBetPolicy}))
	got, err := b.LoadRuntime(ctx)
	require.NoError(t, err)
	assert.Equal(t, ActionNoBet, got.Action)
}
