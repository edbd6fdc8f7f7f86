package governance

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
	atomicio "github.com/sawpanic/edgerun/internal/io"
	"github.com/sawpanic/edgerun/internal/montecarlo"
	"github.com/sawpanic/edgerun/internal/walkforward"
)

// Run statuses
const (
	StatusHealthy   = "healthy"
	StatusAttention = "attention"
	StatusFailed    = "failed"
)

// Decisions on the provisional policy
const (
	DecisionKeep = "keep_provisional_policy"
	DecisionHold = "hold_provisional_policy"
)

// Stage names, also the artifact suffixes
const (
	StageIntegrity   = "integrity"
	StageWalkForward = "walk_forward"
	StageConfidence  = "confidence"
	StageMonteCarlo  = "coin_mc"
)

// Stages lists the sub-pipelines in execution order
var Stages = []string{StageIntegrity, StageWalkForward, StageConfidence, StageMonteCarlo}

// Alerts raised by the health gates
const (
	AlertWalkForwardROI      = "walk_forward_roi_mean_below_threshold"
	AlertWalkForwardBeatCoin = "walk_forward_beat_coin_mean_below_threshold"
	AlertConfidenceABROI     = "confidence_ab_roi_below_threshold"
	AlertConfidenceABBets    = "confidence_ab_bets_below_threshold"
)

// RunIDPrefix starts every governance run id and report filename
const RunIDPrefix = "governance_"

// ArtifactHash pins an input or artifact by content
type ArtifactHash struct {
	File   string `json:"file"`
	SHA256 string `json:"sha256"`
}

// Artifacts are the files a governance run produced
type Artifacts struct {
	Integrity   string `json:"integrity,omitempty"`
	WalkForward string `json:"walk_forward,omitempty"`
	Confidence  string `json:"confidence,omitempty"`
	CoinMC      string `json:"coin_mc,omitempty"`
	Governance  string `json:"governance"`
}

// IntegrityMetrics summarizes the dataset integrity artifact
type IntegrityMetrics struct {
	TotalIssueCount int            `json:"total_issue_count"`
	IssueCounts     map[string]int `json:"issue_counts"`
}

// WalkForwardMetrics carries the walk-forward summary
type WalkForwardMetrics struct {
	Summary walkforward.Summary `json:"summary"`
}

// ConfidenceMetrics carries the active thresholds and the A_B policy result
type ConfidenceMetrics struct {
	ThresholdsActive *confidence.ActiveThresholds `json:"thresholds_active"`
	ABPolicy         *confidence.PolicyResult     `json:"a_b_policy"`
}

// Metrics groups the per-stage numbers the gates read
type Metrics struct {
	Integrity   IntegrityMetrics    `json:"integrity"`
	WalkForward WalkForwardMetrics  `json:"walk_forward"`
	Confidence  ConfidenceMetrics   `json:"confidence_policy"`
	MonteCarlo  *montecarlo.Summary `json:"model_vs_coin_monte_carlo"`
}

// Drift compares walk-forward ROI with the previous governance report
type Drift struct {
	PreviousReport  string   `json:"previous_report"`
	PreviousROIMean *float64 `json:"previous_roi_mean,omitempty"`
	CurrentROIMean  *float64 `json:"current_roi_mean,omitempty"`
	DeltaROIMean    *float64 `json:"delta_roi_mean,omitempty"`
	Note            string   `json:"note,omitempty"`
}

// Report is the governance artifact. Failed runs carry only identity,
// status, artifacts and failures.
type Report struct {
	RunID          string                  `json:"run_id"`
	RunUUID        string                  `json:"run_uuid"`
	CreatedAt      time.Time               `json:"created_at"`
	Input          string                  `json:"input"`
	Status         string                  `json:"status"`
	Decision       string                  `json:"decision,omitempty"`
	Thresholds     *Thresholds             `json:"thresholds,omitempty"`
	ArtifactHashes map[string]ArtifactHash `json:"artifact_hashes,omitempty"`
	Metrics        *Metrics                `json:"metrics,omitempty"`
	Alerts         []string                `json:"alerts"`
	Drift          *Drift                  `json:"drift"`
	Artifacts      Artifacts               `json:"artifacts"`
	Failures       []errs.StageOutcome     `json:"failures,omitempty"`
}

// Healthy reports whether the run passed every gate
func (r *Report) Healthy() bool { return r.Status == StatusHealthy }

// ABPolicy returns the A_B policy snapshot, if the run produced one
func (r *Report) ABPolicy() *confidence.PolicyResult {
	if r.Metrics == nil {
		return nil
	}
	return r.Metrics.Confidence.ABPolicy
}

// Gates evaluates the health thresholds and returns the alerts in a fixed
// order. A missing beat-coin rate counts as 0 and a missing A_B policy fails
// both confidence gates.
func (t Thresholds) Gates(m *Metrics) []string {
	alerts := []string{}
	if m.Integrity.TotalIssueCount > 0 {
		alerts = append(alerts, fmt.Sprintf("dataset_integrity_issues=%d", m.Integrity.TotalIssueCount))
	}
	if m.WalkForward.Summary.ModelROIMean <= t.MinWalkForwardROIMean {
		alerts = append(alerts, AlertWalkForwardROI)
	}
	beat := 0.0
	if m.WalkForward.Summary.ModelBeatsCoinRateMean != nil {
		beat = *m.WalkForward.Summary.ModelBeatsCoinRateMean
	}
	if beat < t.MinWalkForwardBeatCoinMean {
		alerts = append(alerts, AlertWalkForwardBeatCoin)
	}
	ab := m.Confidence.ABPolicy
	if ab == nil || ab.ROIOnStaked <= t.MinConfidenceABROI {
		alerts = append(alerts, AlertConfidenceABROI)
	}
	if ab == nil || ab.NBets < t.MinConfidenceABBets {
		alerts = append(alerts, AlertConfidenceABBets)
	}
	return alerts
}

// DriftAlert names the drift alert for a threshold, e.g. roi_mean_drift_down_gt_0.02
func DriftAlert(maxDown float64) string {
	return fmt.Sprintf("roi_mean_drift_down_gt_%g", maxDown)
}

// CompareDrift measures current walk-forward ROI against a previous report.
// It returns nil when either ROI is unavailable.
func CompareDrift(previousPath string, current float64) *Drift {
	var prev struct {
		Metrics *struct {
			WalkForward struct {
				Summary struct {
					ModelROIMean *float64 `json:"model_roi_mean"`
				} `json:"summary"`
			} `json:"walk_forward"`
		} `json:"metrics"`
	}
	if err := atomicio.ReadJSON(previousPath, &prev); err != nil {
		return &Drift{PreviousReport: previousPath, Note: "unable_to_parse_previous_report"}
	}
	if prev.Metrics == nil || prev.Metrics.WalkForward.Summary.ModelROIMean == nil {
		return nil
	}
	prevROI := *prev.Metrics.WalkForward.Summary.ModelROIMean
	delta := current - prevROI
	return &Drift{
		PreviousReport:  previousPath,
		PreviousROIMean: &prevROI,
		CurrentROIMean:  &current,
		DeltaROIMean:    &delta,
	}
}

// IsReportFile reports whether name is a top-level governance report rather
// than one of a run's stage artifacts
func IsReportFile(name string) bool {
	if !strings.HasPrefix(name, RunIDPrefix) || !strings.HasSuffix(name, ".json") {
		return false
	}
	base := strings.TrimSuffix(name, ".json")
	for _, stage := range Stages {
		if strings.HasSuffix(base, "_"+stage) {
			return false
		}
	}
	return true
}

// LatestReportPath returns the newest governance report in dir by filename,
// or "" when there is none
func LatestReportPath(dir string) (string, error) {
	paths, err := reportPaths(dir)
	if err != nil || len(paths) == 0 {
		return "", err
	}
	return paths[len(paths)-1], nil
}

// DriftBaselinePath returns the newest report in dir that did not fail, or ""
// when there is none. Failed runs carry no metrics to compare against.
// Unreadable reports are still returned so drift can note them.
func DriftBaselinePath(dir string) (string, error) {
	paths, err := reportPaths(dir)
	if err != nil {
		return "", err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		var head struct {
			Status string `json:"status"`
		}
		if err := atomicio.ReadJSON(paths[i], &head); err == nil && head.Status == StatusFailed {
			continue
		}
		return paths[i], nil
	}
	return "", nil
}

// reportPaths lists the governance reports in dir, oldest first
func reportPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list governance reports: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsReportFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	paths := make([]string, len(names))
	for i, name := range names {
		paths[i] = filepath.Join(dir, name)
	}
	return paths, nil
}

// Load reads a governance report
func Load(path string) (*Report, error) {
	var r Report
	if err := atomicio.ReadJSON(path, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// LoadLatest reads the newest governance report in dir
func LoadLatest(dir string) (*Report, string, error) {
	path, err := LatestReportPath(dir)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return nil, "", errs.InsufficientDataError{
			Reason:  errs.ReasonNoGovernanceReport,
			Message: fmt.Sprintf("no governance report found in %s", dir),
		}
	}
	r, err := Load(path)
	if err != nil {
		return nil, "", err
	}
	return r, path, nil
}
