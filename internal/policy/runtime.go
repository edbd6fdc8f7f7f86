package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/edgerun/internal/confidence"
	"github.com/sawpanic/edgerun/internal/governance"
)

// Action is the runtime decision for the published policy
type Action string

const (
	ActionKeep     Action = "keep"
	ActionFallback Action = "fallback"
	ActionNoBet    Action = "no_bet"
)

// NoBetPolicy is the active policy when betting is suspended
const NoBetPolicy = "NO_BET"

// Runtime reasons
const (
	ReasonExpired    = "provisional_policy_expired"
	ReasonNotHealthy = "governance_not_healthy"
)

// RuntimeConfig controls fallback behavior
type RuntimeConfig struct {
	FallbackPolicy      confidence.PolicyName `json:"fallback_policy" yaml:"fallback_policy" validate:"oneof=A_only A_B all"`
	MinConfidenceABBets int                   `json:"min_confidence_ab_bets" yaml:"min_confidence_ab_bets" validate:"gte=0"`
}

// DefaultRuntimeConfig falls back to A_only and requires 20 A_B bets
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{FallbackPolicy: confidence.PolicyAOnly, MinConfidenceABBets: 20}
}

// Source names the inputs of a runtime decision
type Source struct {
	ProvisionalState string `json:"provisional_state"`
	GovernanceReport string `json:"governance_report"`
}

// Thresholds are the bucket cutoffs carried into runtime
type Thresholds struct {
	BucketA float64 `json:"bucket_a_active"`
	BucketB float64 `json:"bucket_b_active"`
}

// RuntimeState is the enforced policy decision
type RuntimeState struct {
	CreatedAt    time.Time   `json:"created_at"`
	Action       Action      `json:"action"`
	ActivePolicy string      `json:"active_policy"`
	Reasons      []string    `json:"reasons"`
	Source       Source      `json:"source"`
	Thresholds   *Thresholds `json:"thresholds"`
}

// Evaluate decides the runtime action from the provisional state and the
// latest governance report. Expiry wins over every other condition and
// suspends betting. Otherwise an unhealthy report, any alert or too few A_B
// bets falls back to the configured policy. Every triggered reason is
// recorded whichever action wins.
func Evaluate(prov *ProvisionalState, gov *governance.Report, now time.Time, cfg RuntimeConfig) *RuntimeState {
	expired := prov.Expired(now)
	unhealthy := !gov.Healthy()
	abBets := 0
	if ab := gov.ABPolicy(); ab != nil {
		abBets = ab.NBets
	}
	lowSample := abBets < cfg.MinConfidenceABBets

	reasons := []string{}
	if expired {
		reasons = append(reasons, ReasonExpired)
	}
	if unhealthy {
		reasons = append(reasons, ReasonNotHealthy)
	}
	if len(gov.Alerts) > 0 {
		reasons = append(reasons, "governance_alerts:"+strings.Join(gov.Alerts, "|"))
	}
	if lowSample {
		reasons = append(reasons, fmt.Sprintf("ab_bets_below_min:%d<%d", abBets, cfg.MinConfidenceABBets))
	}

	active := string(prov.ModelPolicy.Policy)
	if active == "" {
		active = string(confidence.PolicyAB)
	}
	action := ActionKeep
	switch {
	case expired:
		action, active = ActionNoBet, NoBetPolicy
	case unhealthy || len(gov.Alerts) > 0 || lowSample:
		action, active = ActionFallback, string(cfg.FallbackPolicy)
	}

	state := &RuntimeState{
		CreatedAt:    now.UTC(),
		Action:       action,
		ActivePolicy: active,
		Reasons:      reasons,
		Thresholds:   &Thresholds{BucketA: prov.ModelPolicy.BucketA, BucketB: prov.ModelPolicy.BucketB},
	}

	log.Debug().
		Str("action", string(action)).
		Str("active_policy", active).
		Strs("reasons", reasons).
		Msg("Runtime policy evaluated")

	return state
}
