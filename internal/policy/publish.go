package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/errs"
	"github.com/sawpanic/edgerun/internal/governance"
	atomicio "github.com/sawpanic/edgerun/internal/io"
)

// StatusProvisionalActive marks a freshly published provisional policy
const StatusProvisionalActive = "provisional_active"

// PublishConfig selects the policy to promote and how long it stays valid
type PublishConfig struct {
	Policy    confidence.PolicyName `json:"policy" yaml:"policy" validate:"oneof=A_only A_B all"`
	ValidDays int                   `json:"valid_days" yaml:"valid_days" validate:"gt=0"`
}

// DefaultPublishConfig promotes A_B for 30 days
func DefaultPublishConfig() PublishConfig {
	return PublishConfig{Policy: confidence.PolicyAB, ValidDays: 30}
}

// ModelPolicy is the snapshot of the promoted staking policy
type ModelPolicy struct {
	Policy              confidence.PolicyName    `json:"policy"`
	ThresholdMode       confidence.ThresholdMode `json:"threshold_mode"`
	BucketA             float64                  `json:"bucket_a_active"`
	BucketB             float64                  `json:"bucket_b_active"`
	PerformanceSnapshot confidence.PolicyResult  `json:"performance_snapshot"`
}

// Controls are the conditions runtime enforcement must honor
type Controls struct {
	RevalidateAfterValidUntil bool `json:"revalidate_before_use_if_after_valid_until"`
	RequireHealthyGovernance  bool `json:"require_healthy_governance"`
}

// ProvisionalState is a published policy awaiting runtime enforcement
type ProvisionalState struct {
	CreatedAt        time.Time            `json:"created_at"`
	ValidUntil       time.Time            `json:"valid_until"`
	Status           string               `json:"status"`
	GovernanceReport string               `json:"governance_report"`
	GovernanceRunID  string               `json:"governance_run_id"`
	SourceArtifacts  governance.Artifacts `json:"source_artifacts"`
	ModelPolicy      ModelPolicy          `json:"model_policy"`
	Controls         Controls             `json:"controls"`
}

// Expired reports whether the policy is past its validity at now. A missing
// expiry counts as expired.
func (s *ProvisionalState) Expired(now time.Time) bool {
	if s.ValidUntil.IsZero() {
		return true
	}
	return now.After(s.ValidUntil)
}

// Publish snapshots the chosen policy from a healthy governance report's
// confidence artifact.
func Publish(gov *governance.Report, govPath string, cfg PublishConfig, now time.Time) (*ProvisionalState, error) {
	if cfg.ValidDays <= 0 {
		return nil, errs.Invalid("valid_days", "must be > 0, got %d", cfg.ValidDays)
	}
	if !gov.Healthy() {
		return nil, errs.ValidationError{
			Reason:  errs.ReasonGovernanceUnhealthy,
			Field:   "status",
			Message: fmt.Sprintf("cannot publish policy from non-healthy governance status: %s", gov.Status),
		}
	}

	confPath := gov.Artifacts.Confidence
	if confPath == "" {
		return nil, errs.ValidationError{Reason: errs.ReasonPolicyMissing, Field: "artifacts.confidence", Message: "confidence artifact missing from governance report"}
	}
	if _, err := os.Stat(confPath); err != nil {
		return nil, errs.ValidationError{Reason: errs.ReasonPolicyMissing, Field: "artifacts.confidence", Message: fmt.Sprintf("confidence artifact not found: %s", confPath)}
	}

	var conf struct {
		Active        *confidence.ActiveThresholds `json:"active_thresholds"`
		PolicyResults []confidence.PolicyResult    `json:"policy_results"`
	}
	if err := atomicio.ReadJSON(confPath, &conf); err != nil {
		return nil, err
	}
	if conf.Active == nil {
		return nil, errs.ValidationError{Reason: errs.ReasonPolicyMissing, Field: "active_thresholds", Message: "missing confidence thresholds in confidence artifact"}
	}
	var snapshot *confidence.PolicyResult
	for i := range conf.PolicyResults {
		if conf.PolicyResults[i].Policy == cfg.Policy {
			snapshot = &conf.PolicyResults[i]
			break
		}
	}
	if snapshot == nil {
		return nil, errs.ValidationError{Reason: errs.ReasonPolicyMissing, Field: "policy", Message: fmt.Sprintf("policy %s not found in confidence report", cfg.Policy)}
	}

	now = now.UTC()
	state := &ProvisionalState{
		CreatedAt:        now,
		ValidUntil:       now.Add(time.Duration(cfg.ValidDays) * 24 * time.Hour),
		Status:           StatusProvisionalActive,
		GovernanceReport: govPath,
		GovernanceRunID:  gov.RunID,
		SourceArtifacts:  gov.Artifacts,
		ModelPolicy: ModelPolicy{
			Policy:              cfg.Policy,
			ThresholdMode:       conf.Active.Mode,
			BucketA:             conf.Active.BucketA,
			BucketB:             conf.Active.BucketB,
			PerformanceSnapshot: *snapshot,
		},
		Controls: Controls{RevalidateAfterValidUntil: true, RequireHealthyGovernance: true},
	}

	log.Info().
		Str("policy", string(cfg.Policy)).
		Float64("bucket_a", state.ModelPolicy.BucketA).
		Float64("bucket_b", state.ModelPolicy.BucketB).
		Time("valid_until", state.ValidUntil).
		Msg("Provisional policy published")

	return state, nil
}
