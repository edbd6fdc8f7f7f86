package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"generic", errors.New("boom"), ExitGeneric},
		{"validation", Invalid("seeds", "must be > 0"), ExitValidation},
		{"integrity", DataIntegrityError{Reason: ReasonIntegrityIssues, IssueCount: 3}, ExitDataIntegrity},
		{"leakage", LeakageError{Reason: ReasonTemporalOverlap}, ExitLeakage},
		{"insufficient", InsufficientDataError{Reason: ReasonNotEnoughSeasons, Have: 2, Required: 3}, ExitInsufficientData},
		{"wrapped_leakage", fmt.Errorf("split: %w", LeakageError{Reason: ReasonSharedEvents}), ExitLeakage},
		{"pipeline", PipelineFailure{RunID: "r", Stage: "walk_forward", Cause: InsufficientDataError{}}, ExitPipelineFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestPipelineFailureUnwrap(t *testing.T) {
	cause := LeakageError{Reason: ReasonTemporalOverlap, Message: "train ends after test starts"}
	err := error(PipelineFailure{RunID: "governance_x", Stage: "coin_mc", Cause: cause})

	var le LeakageError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, ReasonTemporalOverlap, le.Reason)
	assert.Contains(t, err.Error(), "coin_mc")
}

func TestOutcome(t *testing.T) {
	ok := Outcome("integrity", nil)
	assert.True(t, ok.OK)
	assert.Empty(t, ok.ErrorKind)

	failed := Outcome("walk_forward", InsufficientDataError{Reason: ReasonNotEnoughSeasons, Message: "need more seasons", Have: 1, Required: 3})
	assert.False(t, failed.OK)
	assert.Equal(t, "InsufficientDataError", failed.ErrorKind)
	assert.Equal(t, ExitInsufficientData, failed.ExitCode)
	assert.Contains(t, failed.Message, "need more seasons")
}
