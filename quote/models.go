package quote

import (
	"time"

	"quoteflow/auth"
)

// Status is the shared lifecycle state of a request. StatusDismissedByAgent
// is never stored; it is how an agent-dismissed request reads to that agent.
type Status string

const (
	StatusPending             Status = "pending"
	StatusNegotiating         Status = "negotiating"
	StatusPaymentPending      Status = "payment_pending"
	StatusCompleted           Status = "completed"
	StatusRejected            Status = "rejected"
	StatusDismissedByCustomer Status = "dismissed_by_customer"
	StatusDismissedByAgent    Status = "dismissed_by_agent"
	StatusArchived            Status = "archived"
)

// Negotiable reports whether offers can still be made or accepted.
func (s Status) Negotiable() bool {
	return s == StatusPending || s == StatusNegotiating
}

// Open reports whether the request has not reached a terminal state.
func (s Status) Open() bool {
	return s.Negotiable() || s == StatusPaymentPending
}

// OfferKind says which party, if any, holds the active offer.
type OfferKind string

const (
	OfferNone     OfferKind = "none"
	OfferAgent    OfferKind = "agent"
	OfferCustomer OfferKind = "customer"
)

// StandardRate is the agreed price when nobody has offered anything and the
// agent has no standing rate.
const StandardRate = "standard rate"

// Offer is the single active offer slot. A request holds at most one, so an
// agent quote and a customer counter can never both be live.
type Offer struct {
	Kind       OfferKind
	Amount     string
	Reasoning  string
	ProposedBy string
	ProposedAt *time.Time
}

func (o Offer) Active() bool {
	return o.Kind == OfferAgent || o.Kind == OfferCustomer
}

// Request is one customer's ask to one agent for one job.
type Request struct {
	ID         string
	CustomerID string
	AgentID    string

	Title       string
	Description string
	BudgetNote  string
	Notes       string
	Media       []string

	// BaseRate is the agent's standing rate captured at creation.
	BaseRate   string
	Offer      Offer
	FinalPrice string

	Status           Status
	AgentDismissed   bool
	AgentDismissedAt *time.Time
	DismissReason    string

	AcceptedBy *string
	AcceptedAt *time.Time
	ClosedAt   *time.Time
	PaidAt     *time.Time
	ExpiresAt  *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusFor is the status as seen by a viewer with the given role.
func (r Request) StatusFor(role auth.Role) Status {
	if role == auth.RoleAgent && r.AgentDismissed {
		return StatusDismissedByAgent
	}
	return r.Status
}

// AgentOffer returns the agent's active quote, if any.
func (r Request) AgentOffer() (Offer, bool) {
	return r.Offer, r.Offer.Kind == OfferAgent
}

// CustomerOffer returns the customer's active counter-offer, if any.
func (r Request) CustomerOffer() (Offer, bool) {
	return r.Offer, r.Offer.Kind == OfferCustomer
}

// IsParty reports whether userID is the customer or agent on the request.
func (r Request) IsParty(userID string) bool {
	return userID != "" && (userID == r.CustomerID || userID == r.AgentID)
}

// Actor is the authenticated party performing an operation.
type Actor struct {
	ID   string
	Role auth.Role
}

// Result is the record after an operation. Replayed is true when the call
// found the operation already applied and changed nothing.
type Result struct {
	Request  Request
	Replayed bool
}

// TimelineEvent is an append-only audit entry for a request.
type TimelineEvent struct {
	RequestID string
	Type      string
	ActorID   *string
	Payload   map[string]any
	CreatedAt time.Time
}

// Filter narrows List.
type Filter struct {
	Viewer        Actor
	Status        Status
	IncludeClosed bool
	Page          int
	PageSize      int
}

type ListResult struct {
	Items []Request
	Total int
}

// Outbox topics.
const (
	TopicCreated             = "quote.created"
	TopicOfferProposed       = "quote.offer_proposed"
	TopicCountered           = "quote.countered"
	TopicOfferRejected       = "quote.offer_rejected"
	TopicAccepted            = "quote.accepted"
	TopicRejected            = "quote.rejected"
	TopicDismissedByAgent    = "quote.dismissed_by_agent"
	TopicDismissedByCustomer = "quote.dismissed_by_customer"
	TopicPaid                = "quote.paid"
	TopicPaymentFailed       = "quote.payment_failed"
	TopicArchived            = "quote.archived"
)
