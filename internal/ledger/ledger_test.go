package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres"), 5*time.Second), mock
}

func TestMigrate(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS governance_runs").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordGovernance(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	recorded := created.Add(time.Second)
	roi := 0.031

	run := &GovernanceRun{
		RunID:              "governance_20250701T120000Z",
		RunUUID:            "7f1c0e4e-3a4b-4a7e-9a55-0a1f3c2d4e5f",
		CreatedAt:          created,
		Status:             "attention",
		Decision:           "hold_provisional_policy",
		Alerts:             []string{"confidence_ab_bets_below_threshold"},
		WalkForwardROIMean: &roi,
		ConfidenceABBets:   12,
		ReportPath:         "reports/governance_20250701T120000Z.json",
	}

	mock.ExpectQuery("INSERT INTO governance_runs").
		WithArgs(run.RunID, run.RunUUID, created, "attention", "hold_provisional_policy",
			[]byte(`["confidence_ab_bets_below_threshold"]`), &roi, nil, 12, run.ReportPath).
		WillReturnRows(sqlmock.NewRows([]string{"recorded_at"}).AddRow(recorded))

	require.NoError(t, repo.RecordGovernance(context.Background(), run))
	assert.Equal(t, recorded, run.RecordedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordGovernanceError(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO governance_runs").WillReturnError(errors.New("connection reset"))

	err := repo.RecordGovernance(context.Background(), &GovernanceRun{RunID: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record governance run")
}

func TestLatestGovernance(t *testing.T) {
	repo, mock := newMock(t)
	created := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	cols := []string{"run_id", "run_uuid", "created_at", "status", "decision", "alerts",
		"walk_forward_roi_mean", "confidence_ab_roi", "confidence_ab_bets", "report_path", "recorded_at"}
	mock.ExpectQuery("FROM governance_runs").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"governance_1", "7f1c0e4e-3a4b-4a7e-9a55-0a1f3c2d4e5f", created, "healthy", "keep_provisional_policy",
			[]byte(`[]`), 0.02, 0.05, 40, "r.json", created))

	run, err := repo.LatestGovernance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, "healthy", run.Status)
	assert.Empty(t, run.Alerts)
	require.NotNil(t, run.WalkForwardROIMean)
	assert.Equal(t, 0.02, *run.WalkForwardROIMean)
	assert.Equal(t, 40, run.ConfidenceABBets)
}

func TestLatestGovernanceEmpty(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM governance_runs").WillReturnRows(sqlmock.NewRows([]string{"run_id"}))

	run, err := repo.LatestGovernance(context.Background())
	require.NoError(t, err)
	assert.Nil(t, run)
}

func TestRuntimeDecisions(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)

	d := &RuntimeDecision{
		CreatedAt:       now,
		Action:          "fallback",
		ActivePolicy:    "A_only",
		Reasons:         []string{"governance_not_healthy"},
		GovernanceRunID: "governance_1",
	}
	mock.ExpectQuery("INSERT INTO runtime_decisions").
		WithArgs(now, "fallback", "A_only", []byte(`["governance_not_healthy"]`), "governance_1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	require.NoError(t, repo.RecordRuntime(context.Background(), d))
	assert.Equal(t, int64(7), d.ID)

	mock.ExpectQuery("FROM runtime_decisions").
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "action", "active_policy", "reasons", "governance_run_id"}).
			AddRow(int64(7), now, "fallback", "A_only", []byte(`["governance_not_healthy"]`), "governance_1").
			AddRow(int64(6), now.Add(-time.Hour), "keep", "A_B", []byte(`[]`), nil))

	got, err := repo.RecentRuntime(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"governance_not_healthy"}, got[0].Reasons)
	assert.Equal(t, "", got[1].GovernanceRunID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
