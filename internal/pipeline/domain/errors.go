package domain

import "errors"

// Validation errors. They are local and prevent any write.
var (
	ErrInvalidStatusForChannel = errors.New("status is not valid for the contact's channel")
	ErrNoChannelSelected       = errors.New("no channel selected")
	ErrPrerequisiteNotSet      = errors.New("status must be set before lead stage")
	ErrInvalidChannel          = errors.New("unknown channel")
	ErrInvalidStatus           = errors.New("unknown status")
	ErrInvalidLeadStage        = errors.New("unknown lead stage")
	ErrInvalidCadence          = errors.New("custom cadence days must not be negative")
	ErrNoCanonicalNext         = errors.New("status has no conventional next step")
)

// Store-facing outcomes.
var (
	// ErrPersistenceFailure means the backing store rejected a primary write.
	// The contact must be treated as unchanged.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrRecomputeWarning means the primary write succeeded but the derived
	// schedule could not be computed or persisted.
	ErrRecomputeWarning = errors.New("next action recompute failed")
	// ErrOutcomeUnknown means a bulk operation was cancelled or timed out
	// after its primary write; per-contact outcomes are unknown.
	ErrOutcomeUnknown = errors.New("operation outcome unknown")
)

// IsValidation reports whether err is one of the validation errors above.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidStatusForChannel,
		ErrNoChannelSelected,
		ErrPrerequisiteNotSet,
		ErrInvalidChannel,
		ErrInvalidStatus,
		ErrInvalidLeadStage,
		ErrInvalidCadence,
		ErrNoCanonicalNext,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
