package main

import (
	"time"

	"quoteflow/agent"
	"quoteflow/appeal"
	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/discussion"
	"quoteflow/quote"
)

type userResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
	Suspended   bool   `json:"suspended"`
	CreatedAt   string `json:"createdAt"`
}

type offerResponse struct {
	Amount     string  `json:"amount"`
	Reasoning  string  `json:"reasoning,omitempty"`
	ProposedBy string  `json:"proposedBy"`
	ProposedAt *string `json:"proposedAt,omitempty"`
}

type quoteResponse struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customerId"`
	AgentID        string         `json:"agentId"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	BudgetNote     string         `json:"budgetNote,omitempty"`
	Notes          string         `json:"notes,omitempty"`
	Media          []string       `json:"media"`
	BaseRate       string         `json:"baseRate,omitempty"`
	Status         string         `json:"status"`
	AgentOffer     *offerResponse `json:"agentOffer,omitempty"`
	CustomerOffer  *offerResponse `json:"customerOffer,omitempty"`
	FinalPrice     string         `json:"finalPrice,omitempty"`
	DismissReason  string         `json:"dismissReason,omitempty"`
	AcceptedBy     *string        `json:"acceptedBy,omitempty"`
	AcceptedAt     *string        `json:"acceptedAt,omitempty"`
	PaidAt         *string        `json:"paidAt,omitempty"`
	ExpiresAt      *string        `json:"expiresAt,omitempty"`
	Version        int            `json:"version"`
	CreatedAt      string         `json:"createdAt"`
	UpdatedAt      string         `json:"updatedAt"`
	Replayed       bool           `json:"replayed,omitempty"`
	AgentDismissed bool           `json:"agentDismissed,omitempty"`
}

type quoteListResponse struct {
	Items []quoteResponse `json:"items"`
	Total int             `json:"total"`
}

type messageResponse struct {
	ID         string `json:"id"`
	RequestID  string `json:"requestId"`
	AuthorID   string `json:"authorId,omitempty"`
	AuthorRole string `json:"authorRole"`
	Body       string `json:"body"`
	CreatedAt  string `json:"createdAt"`
}

type agentResponse struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Trade       string `json:"trade"`
	BaseRate    string `json:"baseRate"`
	Bio         string `json:"bio"`
	Suspended   bool   `json:"suspended"`
	UpdatedAt   string `json:"updatedAt"`
}

type standingResponse struct {
	Suspended      bool   `json:"suspended"`
	ViolationCount int    `json:"violationCount"`
	Message        string `json:"message,omitempty"`
}

type violationResponse struct {
	ID         int64    `json:"id"`
	Location   string   `json:"location"`
	Categories []string `json:"categories"`
	Excerpt    string   `json:"excerpt"`
	CreatedAt  string   `json:"createdAt"`
}

type appealResponse struct {
	ID             string  `json:"id"`
	UserID         string  `json:"userId"`
	Message        string  `json:"message"`
	Status         string  `json:"status"`
	ResolvedBy     *string `json:"resolvedBy,omitempty"`
	ResolutionNote string  `json:"resolutionNote,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	ResolvedAt     *string `json:"resolvedAt,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        string(u.Role),
		Suspended:   u.Suspended,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

func newOfferResponse(o quote.Offer) *offerResponse {
	return &offerResponse{
		Amount:     o.Amount,
		Reasoning:  o.Reasoning,
		ProposedBy: o.ProposedBy,
		ProposedAt: formatTimePtr(o.ProposedAt),
	}
}

// newQuoteResponse renders a request as the viewer sees it. An agent who
// dismissed the request sees it as dismissed; the customer never learns.
func newQuoteResponse(r quote.Request, viewer auth.Role) quoteResponse {
	media := r.Media
	if media == nil {
		media = []string{}
	}
	resp := quoteResponse{
		ID:            r.ID,
		CustomerID:    r.CustomerID,
		AgentID:       r.AgentID,
		Title:         r.Title,
		Description:   r.Description,
		BudgetNote:    r.BudgetNote,
		Notes:         r.Notes,
		Media:         media,
		BaseRate:      r.BaseRate,
		Status:        string(r.StatusFor(viewer)),
		FinalPrice:    r.FinalPrice,
		DismissReason: r.DismissReason,
		AcceptedBy:    r.AcceptedBy,
		AcceptedAt:    formatTimePtr(r.AcceptedAt),
		PaidAt:        formatTimePtr(r.PaidAt),
		ExpiresAt:     formatTimePtr(r.ExpiresAt),
		Version:       r.Version,
		CreatedAt:     formatTime(r.CreatedAt),
		UpdatedAt:     formatTime(r.UpdatedAt),
	}
	if o, ok := r.AgentOffer(); ok {
		resp.AgentOffer = newOfferResponse(o)
	}
	if o, ok := r.CustomerOffer(); ok {
		resp.CustomerOffer = newOfferResponse(o)
	}
	if viewer != auth.RoleCustomer {
		resp.AgentDismissed = r.AgentDismissed
	}
	return resp
}

func newQuoteResult(res quote.Result, viewer auth.Role) quoteResponse {
	resp := newQuoteResponse(res.Request, viewer)
	resp.Replayed = res.Replayed
	return resp
}

func newMessageResponse(m discussion.Message) messageResponse {
	return messageResponse{
		ID:         m.ID,
		RequestID:  m.RequestID,
		AuthorID:   m.AuthorID,
		AuthorRole: string(m.AuthorRole),
		Body:       m.Body,
		CreatedAt:  formatTime(m.CreatedAt),
	}
}

func newAgentResponse(p agent.Profile) agentResponse {
	return agentResponse{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Trade:       p.Trade,
		BaseRate:    p.BaseRate,
		Bio:         p.Bio,
		Suspended:   p.Suspended,
		UpdatedAt:   formatTime(p.UpdatedAt),
	}
}

func newStandingResponse(st compliance.Standing) standingResponse {
	resp := standingResponse{Suspended: st.Suspended, ViolationCount: st.ViolationCount}
	if st.Suspended {
		resp.Message = compliance.SuspendedMessage
	}
	return resp
}

func newViolationResponse(v compliance.Violation) violationResponse {
	cats := v.Categories
	if cats == nil {
		cats = []string{}
	}
	return violationResponse{
		ID:         v.ID,
		Location:   v.Location,
		Categories: cats,
		Excerpt:    v.Excerpt,
		CreatedAt:  formatTime(v.CreatedAt),
	}
}

func newAppealResponse(a appeal.Record) appealResponse {
	return appealResponse{
		ID:             a.ID,
		UserID:         a.UserID,
		Message:        a.Message,
		Status:         string(a.Status),
		ResolvedBy:     a.ResolvedBy,
		ResolutionNote: a.ResolutionNote,
		CreatedAt:      formatTime(a.CreatedAt),
		ResolvedAt:     formatTimePtr(a.ResolvedAt),
	}
}
