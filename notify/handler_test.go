package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"quoteflow/auth"
	"quoteflow/outbox"
	"quoteflow/quote"
)

type recorder struct {
	sent []Notification
	err  error
}

func (r *recorder) Notify(ctx context.Context, n Notification) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

type directory map[string]*auth.User

func (d directory) GetUserByID(ctx context.Context, id string) (*auth.User, error) {
	u, ok := d[id]
	if !ok {
		return nil, auth.ErrUserNotFound
	}
	return u, nil
}

var users = directory{
	"cust-1":  {ID: "cust-1", Email: "cara@example.com", DisplayName: "Cara"},
	"agent-1": {ID: "agent-1", Email: "pat@example.com", DisplayName: "Pat Plumbing"},
}

func event(t *testing.T, topic string, fields map[string]any) outbox.Message {
	t.Helper()
	base := map[string]any{
		"request_id":  "req-1",
		"customer_id": "cust-1",
		"agent_id":    "agent-1",
		"title":       "Fix leaking tap",
	}
	for k, v := range fields {
		base[k] = v
	}
	payload, err := json.Marshal(base)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return outbox.Message{ID: "evt-1", Topic: topic, Payload: payload}
}

func TestAcceptedCarriesPriceAndPaymentLink(t *testing.T) {
	rec := &recorder{}
	h := NewEventHandler(rec, users, "https://quoteflow.test/")

	if err := h.Handle(context.Background(), event(t, quote.TopicAccepted, map[string]any{"final_price": "£200 fixed"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.sent) != 2 {
		t.Fatalf("expected two notifications, got %d", len(rec.sent))
	}
	toCustomer := rec.sent[0]
	if toCustomer.RecipientEmail != "cara@example.com" || toCustomer.SenderName != "Pat Plumbing" {
		t.Fatalf("unexpected customer notification %+v", toCustomer)
	}
	if !strings.Contains(toCustomer.Text, "£200 fixed") || toCustomer.ActionLink != "https://quoteflow.test/quotes/req-1/pay" {
		t.Fatalf("customer notification missing price or payment link: %+v", toCustomer)
	}
}

func TestAgentDismissNotifiesNobody(t *testing.T) {
	rec := &recorder{}
	h := NewEventHandler(rec, users, "")
	if err := h.Handle(context.Background(), event(t, quote.TopicDismissedByAgent, nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.sent) != 0 {
		t.Fatalf("expected no notifications, got %+v", rec.sent)
	}
}

func TestRejectedTellsCustomerToLookElsewhere(t *testing.T) {
	rec := &recorder{}
	h := NewEventHandler(rec, users, "")
	if err := h.Handle(context.Background(), event(t, quote.TopicRejected, nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.sent) != 1 || rec.sent[0].RecipientEmail != "cara@example.com" {
		t.Fatalf("expected customer notification, got %+v", rec.sent)
	}
	if !strings.Contains(rec.sent[0].Text, "someone else") {
		t.Fatalf("unexpected text %q", rec.sent[0].Text)
	}
}

func TestDeliveryFailureIsSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("smtp down")}
	h := NewEventHandler(rec, users, "")
	if err := h.Handle(context.Background(), event(t, quote.TopicOfferProposed, map[string]any{"offer_amount": "£200"})); err != nil {
		t.Fatalf("delivery failure must not surface, got %v", err)
	}
}

func TestMessageNotifiesCounterparty(t *testing.T) {
	rec := &recorder{}
	h := NewEventHandler(rec, users, "")
	if err := h.Handle(context.Background(), event(t, "discussion.message_posted", map[string]any{"author_id": "agent-1"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(rec.sent) != 1 || rec.sent[0].RecipientEmail != "cara@example.com" {
		t.Fatalf("expected customer notified, got %+v", rec.sent)
	}
}

func TestSMTPNotifierComposesPlainText(t *testing.T) {
	n := NewSMTPNotifier(SMTPConfig{Host: "mail.test", Port: "25", From: "noreply@quoteflow.test", FromName: "Quoteflow"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := n.Notify(context.Background(), Notification{
		RecipientEmail: "cara@example.com",
		RecipientName:  "Cara",
		SenderName:     "Pat Plumbing",
		Text:           "You have a quote of £200.",
		ActionLink:     "https://quoteflow.test/quotes/req-1",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if gotAddr != "mail.test:25" || len(gotTo) != 1 || gotTo[0] != "cara@example.com" {
		t.Fatalf("unexpected envelope %s %v", gotAddr, gotTo)
	}
	for _, want := range []string{"From: Quoteflow <noreply@quoteflow.test>", "Subject: Update from Pat Plumbing", "Hi Cara,", "https://quoteflow.test/quotes/req-1"} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}
}
