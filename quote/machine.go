package quote

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"quoteflow/auth"
)

var (
	// ErrForbidden is returned when the actor is not the party a transition
	// belongs to.
	ErrForbidden = errors.New("quote: forbidden")
	// ErrInvalidTransition is returned when the request is live but not in a
	// state that allows the operation.
	ErrInvalidTransition = errors.New("quote: invalid transition")
	// ErrNotAvailable is returned when the request has left the negotiation
	// for good (rejected, dismissed, archived) or was hidden by the actor.
	ErrNotAvailable = errors.New("quote: no longer available")
	// ErrInvalidInput wraps validation failures.
	ErrInvalidInput = errors.New("quote: invalid input")
)

// The functions below are the state machine. They take the current record
// and return the next one; replay is true when the operation had already
// been applied and nothing should be written.

func propose(r Request, actor Actor, amount string, now time.Time) (Request, bool, error) {
	if actor.ID != r.AgentID {
		return r, false, ErrForbidden
	}
	if r.AgentDismissed {
		return r, false, ErrNotAvailable
	}
	if !r.Status.Negotiable() {
		return r, false, unavailable(r.Status)
	}
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return r, false, fmt.Errorf("%w: offer amount required", ErrInvalidInput)
	}

	r.Offer = Offer{Kind: OfferAgent, Amount: amount, ProposedBy: actor.ID, ProposedAt: &now}
	r.Status = StatusNegotiating
	return r, false, nil
}

func counter(r Request, actor Actor, amount, reasoning string, now time.Time) (Request, bool, error) {
	if actor.ID != r.CustomerID {
		return r, false, ErrForbidden
	}
	if r.Status != StatusNegotiating {
		if r.Status == StatusPending {
			return r, false, fmt.Errorf("%w: nothing to counter yet", ErrInvalidTransition)
		}
		return r, false, unavailable(r.Status)
	}
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return r, false, fmt.Errorf("%w: offer amount required", ErrInvalidInput)
	}

	r.Offer = Offer{
		Kind:       OfferCustomer,
		Amount:     amount,
		Reasoning:  strings.TrimSpace(reasoning),
		ProposedBy: actor.ID,
		ProposedAt: &now,
	}
	return r, false, nil
}

// accept moves the request to payment_pending at the agreed price. A second
// accept, from either party, is a replay and leaves the price untouched.
func accept(r Request, actor Actor, now time.Time) (Request, bool, error) {
	if !r.IsParty(actor.ID) {
		return r, false, ErrForbidden
	}
	if r.Status == StatusPaymentPending || r.Status == StatusCompleted {
		return r, true, nil
	}
	if actor.ID == r.AgentID && r.AgentDismissed {
		return r, false, ErrNotAvailable
	}
	if !r.Status.Negotiable() {
		return r, false, unavailable(r.Status)
	}
	if r.Offer.Active() && r.Offer.ProposedBy == actor.ID {
		return r, false, fmt.Errorf("%w: cannot accept your own offer", ErrInvalidTransition)
	}

	r.FinalPrice = agreedPrice(r)
	r.Status = StatusPaymentPending
	r.AcceptedBy = &actor.ID
	r.AcceptedAt = &now
	return r, false, nil
}

// agreedPrice applies the priority customer offer > agent offer > standing
// rate > StandardRate. With a single offer slot the first two collapse into
// "whichever offer is active".
func agreedPrice(r Request) string {
	if o, ok := r.CustomerOffer(); ok {
		return o.Amount
	}
	if o, ok := r.AgentOffer(); ok {
		return o.Amount
	}
	if rate := strings.TrimSpace(r.BaseRate); rate != "" {
		return rate
	}
	return StandardRate
}

// rejectOffer clears the active offer and returns the request to pending,
// awaiting a fresh proposal.
func rejectOffer(r Request, actor Actor, now time.Time) (Request, bool, error) {
	if actor.ID != r.CustomerID {
		return r, false, ErrForbidden
	}
	if r.Status == StatusPending && !r.Offer.Active() {
		return r, true, nil
	}
	if r.Status != StatusNegotiating {
		return r, false, unavailable(r.Status)
	}

	r.Offer = Offer{Kind: OfferNone}
	r.Status = StatusPending
	return r, false, nil
}

func reject(r Request, actor Actor, now time.Time) (Request, bool, error) {
	if actor.ID != r.AgentID {
		return r, false, ErrForbidden
	}
	if r.Status == StatusRejected {
		return r, true, nil
	}
	if r.AgentDismissed {
		return r, false, ErrNotAvailable
	}
	if !r.Status.Negotiable() {
		return r, false, unavailable(r.Status)
	}

	r.Status = StatusRejected
	r.Offer = Offer{Kind: OfferNone}
	r.ClosedAt = &now
	return r, false, nil
}

// dismissByAgent hides the request from the agent only. The shared status is
// left alone so the customer keeps seeing it as it was.
func dismissByAgent(r Request, actor Actor, now time.Time) (Request, bool, error) {
	if actor.ID != r.AgentID {
		return r, false, ErrForbidden
	}
	if r.AgentDismissed {
		return r, true, nil
	}
	if !r.Status.Open() {
		return r, false, unavailable(r.Status)
	}

	r.AgentDismissed = true
	r.AgentDismissedAt = &now
	return r, false, nil
}

func dismissByCustomer(r Request, actor Actor, reason string, now time.Time) (Request, bool, error) {
	if actor.ID != r.CustomerID {
		return r, false, ErrForbidden
	}
	if r.Status == StatusDismissedByCustomer {
		return r, true, nil
	}
	if !r.Status.Open() {
		return r, false, unavailable(r.Status)
	}

	r.Status = StatusDismissedByCustomer
	r.DismissReason = strings.TrimSpace(reason)
	r.ClosedAt = &now
	return r, false, nil
}

// archive files away a finished request for both parties.
func archive(r Request, actor Actor, now time.Time) (Request, bool, error) {
	if !r.IsParty(actor.ID) {
		return r, false, ErrForbidden
	}
	switch r.Status {
	case StatusArchived:
		return r, true, nil
	case StatusCompleted, StatusRejected, StatusDismissedByCustomer:
	default:
		return r, false, fmt.Errorf("%w: cannot archive a %s request", ErrInvalidTransition, r.Status)
	}

	r.Status = StatusArchived
	if r.ClosedAt == nil {
		r.ClosedAt = &now
	}
	return r, false, nil
}

// expire archives a request still awaiting agreement past its expiry.
func expire(r Request, now time.Time) (Request, bool, error) {
	if r.Status == StatusArchived {
		return r, true, nil
	}
	if !r.Status.Negotiable() || r.ExpiresAt == nil || r.ExpiresAt.After(now) {
		return r, false, fmt.Errorf("%w: request %s has not expired", ErrInvalidTransition, r.ID)
	}

	r.Status = StatusArchived
	r.Offer = Offer{Kind: OfferNone}
	r.ClosedAt = &now
	return r, false, nil
}

// settlePayment applies the payment processor's verdict. A failed payment
// reopens negotiation with the last offer still on the table.
func settlePayment(r Request, paid bool, now time.Time) (Request, bool, error) {
	if paid && r.Status == StatusCompleted {
		return r, true, nil
	}
	if r.Status != StatusPaymentPending {
		return r, false, fmt.Errorf("%w: request %s is %s, not awaiting payment", ErrInvalidTransition, r.ID, r.Status)
	}

	if paid {
		r.Status = StatusCompleted
		r.PaidAt = &now
		return r, false, nil
	}

	r.FinalPrice = ""
	r.AcceptedBy = nil
	r.AcceptedAt = nil
	if r.Offer.Active() {
		r.Status = StatusNegotiating
	} else {
		r.Status = StatusPending
	}
	return r, false, nil
}

func unavailable(s Status) error {
	switch s {
	case StatusRejected, StatusDismissedByCustomer, StatusArchived:
		return ErrNotAvailable
	default:
		return fmt.Errorf("%w: request is %s", ErrInvalidTransition, s)
	}
}

// requireRole guards operations that only one side may perform.
func requireRole(actor Actor, role auth.Role) error {
	if actor.Role != role {
		return ErrForbidden
	}
	return nil
}
