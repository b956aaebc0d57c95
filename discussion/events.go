package discussion

import (
	"context"
	"fmt"

	"quoteflow/outbox"
	"quoteflow/quote"
)

// EventHandler writes the system audit comment when a customer withdraws a
// request, carrying their reason.
type EventHandler struct {
	svc *Service
}

func NewEventHandler(svc *Service) *EventHandler {
	return &EventHandler{svc: svc}
}

// Topics lists the outbox topics the handler consumes.
func (h *EventHandler) Topics() []string {
	return []string{quote.TopicDismissedByCustomer}
}

func (h *EventHandler) Handle(ctx context.Context, msg outbox.Message) error {
	if msg.Topic != quote.TopicDismissedByCustomer {
		return nil
	}
	fields, err := msg.Fields()
	if err != nil {
		return err
	}
	requestID := outbox.String(fields, "request_id")
	if requestID == "" {
		return fmt.Errorf("discussion: %s event without request_id", msg.Topic)
	}

	body := "The customer withdrew this request."
	if reason := outbox.String(fields, "reason"); reason != "" {
		body = fmt.Sprintf("The customer withdrew this request. Reason: %s", reason)
	}
	// Keyed on the outbox row so redelivery does not duplicate the comment.
	_, _, err = h.svc.PostSystem(ctx, requestID, body, "sys-"+msg.ID)
	return err
}
