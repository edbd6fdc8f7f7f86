package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/dataset/datasettest"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/governance"
	atomicio "github.com/sawpanic/edgerun/internal/io"
	"github.com/sawpanic/edgerun/internal/policy"
)

type workspace struct {
	dir    string
	config string
}

// newWorkspace writes a configuration rooted in a temp directory with
// small model and seed counts
func newWorkspace(t *testing.T) workspace {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
log_level: error
paths:
  input: %[1]s/features.csv
  reports_dir: %[1]s/reports
  provisional_state: %[1]s/state/provisional.json
  runtime_state: %[1]s/state/runtime.json
walk_forward:
  model: {iters: 300, lr: 0.05}
  coin_seeds: 10
  bootstrap_samples: 50
confidence:
  model: {iters: 300, lr: 0.05}
monte_carlo:
  model: {iters: 300, lr: 0.05}
  seeds: 10
paper:
  model: {iters: 300, lr: 0.05}
governance:
  out_dir: %[1]s/governance
  walk_forward:
    model: {iters: 300, lr: 0.05}
    coin_seeds: 10
    bootstrap_samples: 50
  confidence:
    model: {iters: 300, lr: 0.05}
  monte_carlo:
    model: {iters: 300, lr: 0.05}
    seeds: 10
`, dir)
	path := filepath.Join(dir, "edgerun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return workspace{dir: dir, config: path}
}

func (w workspace) path(parts ...string) string {
	return filepath.Join(append([]string{w.dir}, parts...)...)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(args)
	cmd.SetErr(io.Discard)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIntegrityCommand(t *testing.T) {
	ws := newWorkspace(t)
	records := datasettest.Events("e", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 1)
	datasettest.WriteCSV(t, ws.dir, records)

	out, err := execute(t, "--config", ws.config, "integrity", "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, "issues=0")
	assert.FileExists(t, ws.path("reports", "dataset_integrity_report.json"))

	datasettest.WriteCSV(t, ws.dir, records[:len(records)-1])
	_, err = execute(t, "--config", ws.config, "integrity")
	require.NoError(t, err)

	_, err = execute(t, "--config", ws.config, "integrity", "--strict")
	assert.Equal(t, errs.ExitDataIntegrity, errs.ExitCode(err))
}

func TestPaperCommand(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2021, 4, 40, 5))

	out, err := execute(t, "--config", ws.config, "paper", "--selection-mode", "top_pick")
	require.NoError(t, err)
	assert.Contains(t, out, "paper: bets=40")
	assert.FileExists(t, ws.path("reports", "paper_backtest_report.json"))
	assert.FileExists(t, ws.path("reports", "paper_backtest_predictions.csv"))
}

func TestPaperCommandRejectsOverlappingWindow(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2021, 4, 40, 5))

	_, err := execute(t, "--config", ws.config, "paper", "--train-end", "2024-12-01")
	assert.Equal(t, errs.ExitLeakage, errs.ExitCode(err))
}

func TestMonteCarloCommand(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2021, 4, 40, 5))

	out, err := execute(t, "--config", ws.config, "montecarlo", "--seeds", "5", "--out", ws.path("mc.json"))
	require.NoError(t, err)
	assert.Contains(t, out, "runs=5")
	assert.FileExists(t, ws.path("mc.json"))
}

func TestUnknownTrack(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2021, 4, 40, 5))

	_, err := execute(t, "--config", ws.config, "confidence", "--track", "z")
	assert.Equal(t, errs.ExitValidation, errs.ExitCode(err))
}

func TestConfigRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bogus: 1\n"), 0644))

	_, err := execute(t, "--config", path, "integrity")
	assert.Equal(t, errs.ExitValidation, errs.ExitCode(err))
}

func TestGovernanceCommand(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2020, 5, 40, 3))
	textfile := ws.path("metrics", "edgerun.prom")

	out, err := execute(t, "--config", ws.config, "governance", "--metrics-textfile", textfile)
	require.NoError(t, err)
	assert.Contains(t, out, "governance: run=governance_")

	path, err := governance.LatestReportPath(ws.path("governance"))
	require.NoError(t, err)
	assert.NotEmpty(t, path)
	assert.FileExists(t, textfile)
}

func TestGovernanceCommandFailure(t *testing.T) {
	ws := newWorkspace(t)
	datasettest.WriteCSV(t, ws.dir, datasettest.Seasons(2024, 1, 20, 1))

	_, err := execute(t, "--config", ws.config, "governance")
	assert.Equal(t, errs.ExitPipelineFailure, errs.ExitCode(err))
}

// seedGovernance writes a healthy governance report with its confidence artifact
func seedGovernance(t *testing.T, ws workspace, abBets int) {
	t.Helper()
	dir := ws.path("governance")
	runID := "governance_2025-07-01T12-00-00-000Z"
	confPath := filepath.Join(dir, runID+"_confidence.json")
	require.NoError(t, atomicio.WriteJSONAtomic(confPath, map[string]any{
		"active_thresholds": confidence.ActiveThresholds{Mode: confidence.ModeHybrid, BucketA: 70, BucketB: 55},
		"policy_results": []confidence.PolicyResult{
			{Policy: confidence.PolicyAOnly, NBets: 12, ROIOnStaked: 0.05},
			{Policy: confidence.PolicyAB, NBets: abBets, ROIOnStaked: 0.03},
		},
	}))
	ab := confidence.PolicyResult{Policy: confidence.PolicyAB, NBets: abBets, ROIOnStaked: 0.03}
	report := &governance.Report{
		RunID:     runID,
		Status:    governance.StatusHealthy,
		Alerts:    []string{},
		Artifacts: governance.Artifacts{Confidence: confPath, Governance: filepath.Join(dir, runID+".json")},
		Metrics:   &governance.Metrics{Confidence: governance.ConfidenceMetrics{ABPolicy: &ab}},
	}
	require.NoError(t, atomicio.WriteJSONAtomic(report.Artifacts.Governance, report))
}

func TestPolicyPublishAndEnforce(t *testing.T) {
	ws := newWorkspace(t)
	seedGovernance(t, ws, 30)

	out, err := execute(t, "--config", ws.config, "policy", "publish", "--valid-days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "policy=A_B bucket_a=70 bucket_b=55")

	var prov policy.ProvisionalState
	require.NoError(t, atomicio.ReadJSON(ws.path("state", "provisional.json"), &prov))
	assert.Equal(t, policy.StatusProvisionalActive, prov.Status)
	assert.Equal(t, 7*24*time.Hour, prov.ValidUntil.Sub(prov.CreatedAt))

	out, err = execute(t, "--config", ws.config, "policy", "enforce")
	require.NoError(t, err)
	assert.Contains(t, out, "action=keep active_policy=A_B")

	out, err = execute(t, "--config", ws.config, "policy", "enforce", "--min-ab-bets", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "action=fallback active_policy=A_only")

	var state policy.RuntimeState
	require.NoError(t, atomicio.ReadJSON(ws.path("state", "runtime.json"), &state))
	assert.Equal(t, policy.ActionFallback, state.Action)
	assert.Equal(t, []string{"ab_bets_below_min:30<50"}, state.Reasons)
}

func TestPolicyEnforceLedgerUnavailable(t *testing.T) {
	ws := newWorkspace(t)
	seedGovernance(t, ws, 30)

	_, err := execute(t, "--config", ws.config, "policy", "publish")
	require.NoError(t, err)

	f, err := os.OpenFile(ws.config, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`
ledger:
  enabled: true
  dsn: postgres://edgerun@127.0.0.1:1/edgerun?sslmode=disable&connect_timeout=1
  query_timeout: 2s
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = execute(t, "--config", ws.config, "policy", "enforce")
	require.Error(t, err)
	assert.NoFileExists(t, ws.path("state", "runtime.json"))
}

func TestPolicyPublishWithoutGovernance(t *testing.T) {
	ws := newWorkspace(t)
	_, err := execute(t, "--config", ws.config, "policy", "publish")
	assert.Equal(t, errs.ExitInsufficientData, errs.ExitCode(err))
}
