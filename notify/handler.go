package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/discussion"
	"quoteflow/outbox"
	"quoteflow/quote"
)

// Directory resolves user ids to contact details.
type Directory interface {
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

// EventHandler turns outbox events into notifications.
type EventHandler struct {
	notifier     Notifier
	users        Directory
	baseURL      string
	supportEmail string
	logger       zerolog.Logger
}

func NewEventHandler(notifier Notifier, users Directory, baseURL string) *EventHandler {
	return &EventHandler{
		notifier: notifier,
		users:    users,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   zerolog.Nop(),
	}
}

func (h *EventHandler) WithLogger(l zerolog.Logger) *EventHandler {
	h.logger = l
	return h
}

func (h *EventHandler) WithSupportEmail(email string) *EventHandler {
	h.supportEmail = email
	return h
}

// Topics lists the outbox topics that produce notifications.
// quote.dismissed_by_agent is deliberately absent: the customer is not told.
func (h *EventHandler) Topics() []string {
	return []string{
		quote.TopicCreated,
		quote.TopicOfferProposed,
		quote.TopicCountered,
		quote.TopicOfferRejected,
		quote.TopicAccepted,
		quote.TopicRejected,
		quote.TopicDismissedByCustomer,
		quote.TopicPaid,
		quote.TopicPaymentFailed,
		discussion.TopicMessagePosted,
		compliance.TopicUserSuspended,
		compliance.TopicUserUnsuspended,
	}
}

// delivery is a notification before the recipient is resolved.
type delivery struct {
	to   string
	from string
	text string
	link string
}

// Handle never returns a delivery error, so the dispatcher does not retry and
// double-send.
func (h *EventHandler) Handle(ctx context.Context, msg outbox.Message) error {
	fields, err := msg.Fields()
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("undecodable event skipped")
		return nil
	}
	for _, d := range h.plan(msg.Topic, fields) {
		if err := h.deliver(ctx, d); err != nil {
			h.logger.Warn().Err(err).
				Str("topic", msg.Topic).
				Str("recipient_id", d.to).
				Msg("notification not delivered")
		}
	}
	return nil
}

func (h *EventHandler) plan(topic string, f map[string]any) []delivery {
	requestID := outbox.String(f, "request_id")
	customerID := outbox.String(f, "customer_id")
	agentID := outbox.String(f, "agent_id")
	title := outbox.String(f, "title")
	link := h.link("/quotes/" + requestID)

	switch topic {
	case quote.TopicCreated:
		return []delivery{{to: agentID, from: customerID,
			text: fmt.Sprintf("You have a new quote request: %q.", title), link: link}}
	case quote.TopicOfferProposed:
		return []delivery{{to: customerID, from: agentID,
			text: fmt.Sprintf("You have a quote of %s for %q.", outbox.String(f, "offer_amount"), title), link: link}}
	case quote.TopicCountered:
		return []delivery{{to: agentID, from: customerID,
			text: fmt.Sprintf("The customer countered with %s for %q.", outbox.String(f, "offer_amount"), title), link: link}}
	case quote.TopicOfferRejected:
		return []delivery{{to: agentID, from: customerID,
			text: fmt.Sprintf("Your quote for %q was declined. The request is still open.", title), link: link}}
	case quote.TopicAccepted:
		price := outbox.String(f, "final_price")
		return []delivery{
			{to: customerID, from: agentID,
				text: fmt.Sprintf("Your quote for %q is agreed at %s. Complete payment to confirm the job.", title, price),
				link: h.link("/quotes/" + requestID + "/pay")},
			{to: agentID, from: customerID,
				text: fmt.Sprintf("%q is agreed at %s. We will let you know when payment is received.", title, price), link: link},
		}
	case quote.TopicRejected:
		return []delivery{{to: customerID, from: agentID,
			text: fmt.Sprintf("Unfortunately this tradesperson can't take on %q. You may want to request a quote from someone else.", title),
			link: h.link("/agents")}}
	case quote.TopicDismissedByCustomer:
		text := fmt.Sprintf("The customer withdrew %q.", title)
		if reason := outbox.String(f, "reason"); reason != "" {
			text += " Reason: " + reason
		}
		return []delivery{{to: agentID, from: customerID, text: text, link: link}}
	case quote.TopicPaid:
		return []delivery{
			{to: agentID, from: customerID, text: fmt.Sprintf("Payment received for %q. The job is confirmed.", title), link: link},
			{to: customerID, from: agentID, text: fmt.Sprintf("Thanks, your payment for %q went through.", title), link: link},
		}
	case quote.TopicPaymentFailed:
		return []delivery{{to: customerID, from: agentID,
			text: fmt.Sprintf("Your payment for %q did not go through. The request is open again.", title), link: link}}
	case discussion.TopicMessagePosted:
		author := outbox.String(f, "author_id")
		switch author {
		case customerID:
			return []delivery{{to: agentID, from: customerID, text: fmt.Sprintf("New message on %q.", title), link: link}}
		case agentID:
			return []delivery{{to: customerID, from: agentID, text: fmt.Sprintf("New message on %q.", title), link: link}}
		}
		return nil
	case compliance.TopicUserSuspended:
		text := compliance.SuspendedMessage
		if h.supportEmail != "" {
			text += " Support: " + h.supportEmail
		}
		return []delivery{{to: outbox.String(f, "user_id"), text: text, link: h.link("/appeals")}}
	case compliance.TopicUserUnsuspended:
		return []delivery{{to: outbox.String(f, "user_id"), text: "Your account has been reinstated.", link: h.link("/")}}
	}
	return nil
}

func (h *EventHandler) deliver(ctx context.Context, d delivery) error {
	if d.to == "" {
		return nil
	}
	recipient, err := h.users.GetUserByID(ctx, d.to)
	if err != nil {
		return fmt.Errorf("notify: look up recipient: %w", err)
	}
	n := Notification{
		RecipientEmail: recipient.Email,
		RecipientName:  recipient.DisplayName,
		Text:           d.text,
		ActionLink:     d.link,
	}
	if d.from != "" {
		if sender, err := h.users.GetUserByID(ctx, d.from); err == nil {
			n.SenderName = sender.DisplayName
		}
	}
	return h.notifier.Notify(ctx, n)
}

func (h *EventHandler) link(path string) string {
	return h.baseURL + path
}
