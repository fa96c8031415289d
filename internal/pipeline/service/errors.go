package service

import (
	"errors"

	"outreach_crm_backend/internal/pipeline/domain"
	"outreach_crm_backend/internal/pipeline/repository"
	"outreach_crm_backend/platform/apperr"
)

const (
	CodePersistenceFailure = "persistence_failure"
	CodeOutcomeUnknown     = "outcome_unknown"
)

var validationCodes = map[error]string{
	domain.ErrInvalidStatusForChannel: "invalid_status_for_channel",
	domain.ErrNoChannelSelected:       "no_channel_selected",
	domain.ErrPrerequisiteNotSet:      "prerequisite_not_set",
	domain.ErrInvalidChannel:          "invalid_channel",
	domain.ErrInvalidStatus:           "invalid_status",
	domain.ErrInvalidLeadStage:        "invalid_lead_stage",
	domain.ErrInvalidCadence:          "invalid_cadence",
	domain.ErrNoCanonicalNext:         "no_canonical_next",
}

// MapError translates domain and store errors into typed application errors.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, "contact not found", err).WithOp(op).WithCode("contact_not_found")
	case domain.IsValidation(err):
		return apperr.Wrap(apperr.KindValidation, err.Error(), err).WithOp(op).WithCode(validationCode(err))
	case errors.Is(err, domain.ErrOutcomeUnknown):
		return apperr.Wrap(apperr.KindInternal, "operation outcome unknown", err).
			WithOp(op).
			WithCode(CodeOutcomeUnknown).
			WithDetails(map[string]bool{"outcomeUnknown": true})
	default:
		return apperr.Wrap(apperr.KindInternal, "failed to persist pipeline change", persistenceFailure(err)).
			WithOp(op).
			WithCode(CodePersistenceFailure)
	}
}

func validationCode(err error) string {
	for sentinel, code := range validationCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "validation_failed"
}

func persistenceFailure(err error) error {
	if errors.Is(err, domain.ErrPersistenceFailure) {
		return err
	}
	return errors.Join(domain.ErrPersistenceFailure, err)
}
