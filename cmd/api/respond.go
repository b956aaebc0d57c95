package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"quoteflow/agent"
	"quoteflow/appeal"
	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/contentpolicy"
	"quoteflow/quote"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    string         `json:"code"`
	Error   string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, errorResponse{Code: code, Error: message, Details: details})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

const discussionLocation = "discussion"

// respondError maps domain errors onto the API's status codes. A policy
// refusal on a chat message tells the client to drop the draft; forms keep
// theirs so the user can edit the offending field.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var violation *compliance.ViolationError
	switch {
	case errors.As(err, &violation):
		details := map[string]any{
			"categories": categoryNames(violation.Categories()),
			"clearDraft": violation.Location == discussionLocation,
		}
		if violation.Outcome != nil {
			details["violationCount"] = violation.Outcome.ViolationCountAfter
			details["suspended"] = violation.Outcome.SuspendedNow
		}
		writeError(w, http.StatusUnprocessableEntity, "POLICY_VIOLATION", violation.Message(), details)
	case errors.Is(err, compliance.ErrSuspended):
		writeError(w, http.StatusForbidden, "SUSPENDED", compliance.SuspendedMessage, nil)
	case errors.Is(err, quote.ErrNotAvailable):
		writeError(w, http.StatusConflict, "NOT_AVAILABLE", "this request is no longer available", nil)
	case errors.Is(err, quote.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil)
	case errors.Is(err, appeal.ErrBadStatus), errors.Is(err, appeal.ErrAlreadyOpen):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "DUPLICATE_EMAIL", "email already registered", nil)
	case errors.Is(err, quote.ErrForbidden),
		errors.Is(err, compliance.ErrForbidden), errors.Is(err, appeal.ErrForbidden),
		errors.Is(err, auth.ErrRoleNotAllowed):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "forbidden", nil)
	case errors.Is(err, appeal.ErrNotSuspended), errors.Is(err, compliance.ErrNotSuspended):
		writeError(w, http.StatusConflict, "NOT_SUSPENDED", "account is not suspended", nil)
	case errors.Is(err, quote.ErrNotFound), errors.Is(err, agent.ErrNotFound),
		errors.Is(err, appeal.ErrNotFound), errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid email or password", nil)
	case errors.Is(err, quote.ErrInvalidInput),
		errors.Is(err, appeal.ErrInvalidInput), errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "VALIDATION", err.Error(), nil)
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "internal error", nil)
	}
}

func categoryNames(cats []contentpolicy.Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
