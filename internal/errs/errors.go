package errs

import (
	"errors"
	"fmt"
)

// ReasonCode identifies the rule that rejected a run
type ReasonCode string

const (
	ReasonInvalidArgument     ReasonCode = "INVALID_ARGUMENT"
	ReasonInvalidThresholds   ReasonCode = "INVALID_THRESHOLDS"
	ReasonSchema              ReasonCode = "SCHEMA"
	ReasonIntegrityIssues     ReasonCode = "INTEGRITY_ISSUES"
	ReasonTemporalOverlap     ReasonCode = "TEMPORAL_OVERLAP"
	ReasonSharedEvents        ReasonCode = "SHARED_EVENTS"
	ReasonEmptyPartition      ReasonCode = "EMPTY_PARTITION"
	ReasonNotEnoughSeasons    ReasonCode = "NOT_ENOUGH_SEASONS"
	ReasonNotEnoughCalib      ReasonCode = "NOT_ENOUGH_CALIBRATION_EVENTS"
	ReasonStageFailed         ReasonCode = "STAGE_FAILED"
	ReasonGovernanceUnhealthy ReasonCode = "GOVERNANCE_UNHEALTHY"
	ReasonNoGovernanceReport  ReasonCode = "NO_GOVERNANCE_REPORT"
	ReasonPolicyMissing       ReasonCode = "POLICY_MISSING"
)

// Process exit codes per error kind
const (
	ExitOK               = 0
	ExitGeneric          = 1
	ExitDataIntegrity    = 2
	ExitLeakage          = 3
	ExitInsufficientData = 4
	ExitValidation       = 5
	ExitPipelineFailure  = 6
)

// ValidationError reports bad configuration or arguments
type ValidationError struct {
	Reason  ReasonCode
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
	}
	return fmt.Sprintf("[%s] %s (field=%s)", e.Reason, e.Message, e.Field)
}

// DataIntegrityError reports a feature table that breaks the two-rows-per-event contract
type DataIntegrityError struct {
	Reason     ReasonCode
	Message    string
	IssueCount int
	Details    map[string]interface{}
}

func (e DataIntegrityError) Error() string {
	return fmt.Sprintf("[%s] %s (issues=%d)", e.Reason, e.Message, e.IssueCount)
}

// LeakageError reports train/test partitions that overlap in time or events
type LeakageError struct {
	Reason       ReasonCode
	Message      string
	SharedEvents []string
}

func (e LeakageError) Error() string {
	if len(e.SharedEvents) > 0 {
		return fmt.Sprintf("[%s] %s (shared_events=%d)", e.Reason, e.Message, len(e.SharedEvents))
	}
	return fmt.Sprintf("[%s] %s", e.Reason, e.Message)
}

// InsufficientDataError reports partitions too small to evaluate
type InsufficientDataError struct {
	Reason   ReasonCode
	Message  string
	Have     int
	Required int
}

func (e InsufficientDataError) Error() string {
	return fmt.Sprintf("[%s] %s (have=%d, required=%d)", e.Reason, e.Message, e.Have, e.Required)
}

// StageOutcome is the structured result of one governance sub-pipeline
type StageOutcome struct {
	Stage     string `json:"stage"`
	OK        bool   `json:"ok"`
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	ExitCode  int    `json:"exit_code"`
}

// PipelineFailure reports a governance run aborted by a failed stage
type PipelineFailure struct {
	RunID    string
	Stage    string
	Outcomes []StageOutcome
	Cause    error
}

func (e PipelineFailure) Error() string {
	return fmt.Sprintf("[%s] governance run %s failed at stage %s: %v", ReasonStageFailed, e.RunID, e.Stage, e.Cause)
}

func (e PipelineFailure) Unwrap() error { return e.Cause }

// Kind returns a stable name for the error's category
func Kind(err error) string {
	var (
		ve ValidationError
		de DataIntegrityError
		le LeakageError
		ie InsufficientDataError
		pf PipelineFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &pf):
		return "PipelineFailure"
	case errors.As(err, &le):
		return "LeakageError"
	case errors.As(err, &de):
		return "DataIntegrityError"
	case errors.As(err, &ie):
		return "InsufficientDataError"
	case errors.As(err, &ve):
		return "ValidationError"
	default:
		return "Error"
	}
}

// ExitCode maps an error to the process exit status
func ExitCode(err error) int {
	switch Kind(err) {
	case "":
		return ExitOK
	case "PipelineFailure":
		return ExitPipelineFailure
	case "LeakageError":
		return ExitLeakage
	case "DataIntegrityError":
		return ExitDataIntegrity
	case "InsufficientDataError":
		return ExitInsufficientData
	case "ValidationError":
		return ExitValidation
	default:
		return ExitGeneric
	}
}

// Outcome builds the stage outcome recorded in governance reports
func Outcome(stage string, err error) StageOutcome {
	if err == nil {
		return StageOutcome{Stage: stage, OK: true}
	}
	return StageOutcome{
		Stage:     stage,
		OK:        false,
		ErrorKind: Kind(err),
		Message:   err.Error(),
		ExitCode:  ExitCode(err),
	}
}

// Invalid is shorthand for an argument ValidationError
func Invalid(field, format string, args ...interface{}) error {
	return ValidationError{Reason: ReasonInvalidArgument, Field: field, Message: fmt.Sprintf(format, args...)}
}
