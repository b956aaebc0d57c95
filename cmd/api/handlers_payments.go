package main

import (
	"crypto/subtle"
	"net/http"

	"quoteflow/auth"
	"quoteflow/quote"
)

const webhookSecretHeader = "X-Webhook-Secret"

type paymentOutcomeRequest struct {
	RequestID      string `json:"requestId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Status         string `json:"status"`
	Reference      string `json:"reference"`
}

// handlePaymentOutcome receives the payment processor's verdict. Deliveries
// are authenticated by a shared secret and deduplicated by idempotency key.
func (s *Server) handlePaymentOutcome(w http.ResponseWriter, r *http.Request) {
	if s.webhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "payment webhook is not configured", nil)
		return
	}
	given := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(s.webhookSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid webhook secret", nil)
		return
	}

	var req paymentOutcomeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	var paid bool
	switch req.Status {
	case "paid", "succeeded":
		paid = true
	case "failed":
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION", "status must be paid or failed", nil)
		return
	}

	res, err := s.quoteService.HandlePaymentOutcome(r.Context(), quote.PaymentOutcome{
		RequestID:      req.RequestID,
		IdempotencyKey: req.IdempotencyKey,
		Paid:           paid,
		Reference:      req.Reference,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResult(res, auth.RoleAdmin))
}
