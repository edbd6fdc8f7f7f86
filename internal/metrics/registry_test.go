package metrics

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageTimer(t *testing.T) {
	r := New()
	r.StartStage("walk_forward").StopErr(nil)
	r.StartStage("confidence").StopErr(errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.StageRuns.WithLabelValues("walk_forward", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StageRuns.WithLabelValues("confidence", ResultError)))
	assert.Equal(t, 2, testutil.CollectAndCount(r.StageDuration))
}

func TestRecordGovernance(t *testing.T) {
	r := New()
	r.RecordGovernance(StatusAttention, []string{"dataset_integrity_issues=3", "walk_forward_roi_mean_below_threshold"}, -0.01, 12)

	assert.Equal(t, 0.0, testutil.ToFloat64(r.GovernanceStatus))
	assert.Equal(t, -0.01, testutil.ToFloat64(r.WalkForwardROIMean))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.ConfidenceABBets))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.GateFailures.WithLabelValues("dataset_integrity_issues")))

	snap, err := r.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap["edgerun_gate_failures_total{gate=walk_forward_roi_mean_below_threshold}"])
	assert.Equal(t, 12.0, snap["edgerun_confidence_ab_bets"])
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.RecordRuntime("fallback")
	path := filepath.Join(t.TempDir(), "edgerun.prom")

	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `edgerun_runtime_decisions_total{action="fallback"} 1`)
}

func TestHandler(t *testing.T) {
	r := New()
	r.RecordGovernance(StatusHealthy, nil, 0.04, 30)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "edgerun_governance_status 1"))
}
