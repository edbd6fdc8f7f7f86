// Package governance runs the validation sub-pipelines in sequence, hashes
// their artifacts, applies health gates and drift checks, and writes the
// governance report that policy publishing reads.
package governance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/dataset"
	"github.com/sawpanic/edgerun/internal/errs"
	atomicio "github.com/sawpanic/edgerun/internal/io"
	"github.com/sawpanic/edgerun/internal/ledger"
	"github.com/sawpanic/edgerun/internal/metrics"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/walkforward"
)

// LedgerWriter records governance summaries outside the artifact tree
type LedgerWriter interface {
	RecordGovernance(ctx context.Context, run *ledger.GovernanceRun) error
}

// Orchestrator executes governance runs
type Orchestrator struct {
	cfg     Config
	metrics *metrics.Registry
	ledger  LedgerWriter
	now     func() time.Time
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records stage timings and gate results in reg
func WithMetrics(reg *metrics.Registry) Option {
	return func(o *Orchestrator) { o.metrics = reg }
}

// WithLedger records each completed run in l
func WithLedger(l LedgerWriter) Option {
	return func(o *Orchestrator) { o.ledger = l }
}

// WithClock overrides the wall clock
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator for cfg
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg, metrics: metrics.New(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Metrics returns the registry the orchestrator records into
func (o *Orchestrator) Metrics() *metrics.Registry { return o.metrics }

// Run executes every stage against input. When any stage fails the failed
// report is still written and a PipelineFailure listing every stage outcome
// is returned alongside it.
func (o *Orchestrator) Run(ctx context.Context, input string) (*Report, error) {
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(input); err != nil {
		return nil, errs.Invalid("input", "input not found: %s", input)
	}
	if err := os.MkdirAll(o.cfg.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create governance directory: %w", err)
	}

	createdAt := o.now().UTC()
	runID := o.runID(createdAt)
	report := &Report{
		RunID:     runID,
		RunUUID:   uuid.New().String(),
		CreatedAt: createdAt,
		Input:     input,
		Alerts:    []string{},
		Artifacts: Artifacts{
			Integrity:   o.artifactPath(runID, StageIntegrity),
			WalkForward: o.artifactPath(runID, StageWalkForward),
			Confidence:  o.artifactPath(runID, StageConfidence),
			CoinMC:      o.artifactPath(runID, StageMonteCarlo),
			Governance:  filepath.Join(o.cfg.OutDir, runID+".json"),
		},
	}

	log.Info().Str("run_id", runID).Str("input", input).Msg("Starting governance run")

	// The previous report must be located before this run writes its own.
	previous, err := DriftBaselinePath(o.cfg.OutDir)
	if err != nil {
		return nil, err
	}

	stageFns := map[string]func(context.Context, string, string) error{
		StageIntegrity:   o.runIntegrity,
		StageWalkForward: o.runWalkForward,
		StageConfidence:  o.runConfidence,
		StageMonteCarlo:  o.runMonteCarlo,
	}
	stagePaths := map[string]string{
		StageIntegrity:   report.Artifacts.Integrity,
		StageWalkForward: report.Artifacts.WalkForward,
		StageConfidence:  report.Artifacts.Confidence,
		StageMonteCarlo:  report.Artifacts.CoinMC,
	}

	outcomes := make([]errs.StageOutcome, 0, len(Stages))
	var firstErr error
	var firstStage string
	for _, stage := range Stages {
		timer := o.metrics.StartStage(stage)
		err := stageFns[stage](ctx, input, stagePaths[stage])
		d := timer.StopErr(err)
		outcomes = append(outcomes, errs.Outcome(stage, err))
		if err != nil {
			log.Error().Err(err).Str("stage", stage).Dur("duration", d).Msg("Governance stage failed")
			if firstErr == nil {
				firstErr, firstStage = err, stage
			}
			continue
		}
		log.Info().Str("stage", stage).Dur("duration", d).Msg("Governance stage complete")
	}

	if firstErr != nil {
		return o.fail(report, outcomes, firstStage, firstErr)
	}

	m, err := readMetrics(report.Artifacts)
	if err != nil {
		return o.fail(report, outcomes, "collect", err)
	}
	report.Metrics = m
	thresholds := o.cfg.Thresholds
	report.Thresholds = &thresholds

	report.ArtifactHashes, err = hashArtifacts(input, report.Artifacts)
	if err != nil {
		return o.fail(report, outcomes, "hash", err)
	}

	report.Alerts = thresholds.Gates(m)
	if previous != "" {
		report.Drift = CompareDrift(previous, m.WalkForward.Summary.ModelROIMean)
		if d := report.Drift; d != nil && d.DeltaROIMean != nil && *d.DeltaROIMean < -thresholds.MaxROIDriftDown {
			report.Alerts = append(report.Alerts, DriftAlert(thresholds.MaxROIDriftDown))
		}
	}

	report.Status, report.Decision = StatusHealthy, DecisionKeep
	if len(report.Alerts) > 0 {
		report.Status, report.Decision = StatusAttention, DecisionHold
	}

	if err := atomicio.WriteJSONAtomic(report.Artifacts.Governance, report); err != nil {
		return nil, fmt.Errorf("failed to write governance report: %w", err)
	}
	o.record(ctx, report)

	log.Info().
		Str("run_id", runID).
		Str("status", report.Status).
		Str("decision", report.Decision).
		Strs("alerts", report.Alerts).
		Str("report", report.Artifacts.Governance).
		Msg("Governance run complete")

	return report, nil
}

func (o *Orchestrator) fail(report *Report, outcomes []errs.StageOutcome, stage string, cause error) (*Report, error) {
	report.Status = StatusFailed
	report.Failures = outcomes
	if err := atomicio.WriteJSONAtomic(report.Artifacts.Governance, report); err != nil {
		log.Error().Err(err).Str("run_id", report.RunID).Msg("Failed to write failed governance report")
	}
	o.metrics.RecordGovernance(metrics.StatusFailed, nil, 0, 0)
	return report, errs.PipelineFailure{RunID: report.RunID, Stage: stage, Outcomes: outcomes, Cause: cause}
}

func (o *Orchestrator) record(ctx context.Context, report *Report) {
	status := metrics.StatusAttention
	if report.Healthy() {
		status = metrics.StatusHealthy
	}
	abBets := 0
	var abROI *float64
	if ab := report.ABPolicy(); ab != nil {
		abBets = ab.NBets
		roi := ab.ROIOnStaked
		abROI = &roi
	}
	roiMean := report.Metrics.WalkForward.Summary.ModelROIMean
	o.metrics.RecordGovernance(status, report.Alerts, roiMean, abBets)

	if o.ledger == nil {
		return
	}
	run := &ledger.GovernanceRun{
		RunID:              report.RunID,
		RunUUID:            report.RunUUID,
		CreatedAt:          report.CreatedAt,
		Status:             report.Status,
		Decision:           report.Decision,
		Alerts:             report.Alerts,
		WalkForwardROIMean: &roiMean,
		ConfidenceABROI:    abROI,
		ConfidenceABBets:   abBets,
		ReportPath:         report.Artifacts.Governance,
	}
	if err := o.ledger.RecordGovernance(ctx, run); err != nil {
		log.Warn().Err(err).Str("run_id", report.RunID).Msg("Failed to record governance run in ledger")
	}
}

// runID formats the creation time so filenames sort chronologically, and
// steps forward a millisecond while a report with that id already exists.
func (o *Orchestrator) runID(ts time.Time) string {
	for {
		id := RunIDPrefix + strings.ReplaceAll(ts.Format("2006-01-02T15-04-05.000Z"), ".", "-")
		if _, err := os.Stat(filepath.Join(o.cfg.OutDir, id+".json")); errors.Is(err, os.ErrNotExist) {
			return id
		}
		ts = ts.Add(time.Millisecond)
	}
}

func (o *Orchestrator) artifactPath(runID, stage string) string {
	return filepath.Join(o.cfg.OutDir, runID+"_"+stage+".json")
}

func (o *Orchestrator) runIntegrity(_ context.Context, input, out string) error {
	table, err := dataset.ReadTable(input)
	if err != nil {
		return err
	}
	report := dataset.CheckIntegrity(table, o.now().UTC())
	return atomicio.WriteJSONAtomic(out, report)
}

func (o *Orchestrator) runWalkForward(ctx context.Context, input, out string) error {
	records, _, err := dataset.LoadRecords(input)
	if err != nil {
		return err
	}
	report, err := walkforward.Run(ctx, records, o.cfg.WalkForward)
	if err != nil {
		return err
	}
	report.Input = input
	return walkforward.NewWriter(out).Write(report)
}

func (o *Orchestrator) runConfidence(ctx context.Context, input, out string) error {
	records, _, err := dataset.LoadRecords(input)
	if err != nil {
		return err
	}
	report, err := confidence.Run(ctx, records, o.cfg.Confidence)
	if err != nil {
		return err
	}
	report.Input = input
	return atomicio.WriteJSONAtomic(out, report)
}

func (o *Orchestrator) runMonteCarlo(ctx context.Context, input, out string) error {
	records, _, err := dataset.LoadRecords(input)
	if err != nil {
		return err
	}
	report, err := montecarlo.Run(ctx, records, o.cfg.MonteCarlo)
	if err != nil {
		return err
	}
	report.Input = input
	return atomicio.WriteJSONAtomic(out, report)
}

// readMetrics reads the stage artifacts back from disk
func readMetrics(a Artifacts) (*Metrics, error) {
	var integrity IntegrityMetrics
	if err := atomicio.ReadJSON(a.Integrity, &integrity); err != nil {
		return nil, err
	}

	var wf WalkForwardMetrics
	if err := atomicio.ReadJSON(a.WalkForward, &wf); err != nil {
		return nil, err
	}

	var conf struct {
		Active        confidence.ActiveThresholds `json:"active_thresholds"`
		PolicyResults []confidence.PolicyResult   `json:"policy_results"`
	}
	if err := atomicio.ReadJSON(a.Confidence, &conf); err != nil {
		return nil, err
	}
	cm := ConfidenceMetrics{ThresholdsActive: &conf.Active}
	for i := range conf.PolicyResults {
		if conf.PolicyResults[i].Policy == confidence.PolicyAB {
			cm.ABPolicy = &conf.PolicyResults[i]
			break
		}
	}

	var mc struct {
		Summary montecarlo.Summary `json:"monte_carlo_summary"`
	}
	if err := atomicio.ReadJSON(a.CoinMC, &mc); err != nil {
		return nil, err
	}

	return &Metrics{
		Integrity:   integrity,
		WalkForward: wf,
		Confidence:  cm,
		MonteCarlo:  &mc.Summary,
	}, nil
}

func hashArtifacts(input string, a Artifacts) (map[string]ArtifactHash, error) {
	files := map[string]string{
		"input":               input,
		"integrity_report":    a.Integrity,
		"walk_forward_report": a.WalkForward,
		"confidence_report":   a.Confidence,
		"monte_carlo_report":  a.CoinMC,
	}
	out := make(map[string]ArtifactHash, len(files))
	for key, path := range files {
		sum, err := atomicio.SHA256File(path)
		if err != nil {
			return nil, err
		}
		out[key] = ArtifactHash{File: path, SHA256: sum}
	}
	return out, nil
}
