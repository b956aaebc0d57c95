package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quoteflow/quote"
)

type createQuoteRequest struct {
	AgentID     string   `json:"agentId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	BudgetNote  string   `json:"budgetNote"`
	Notes       string   `json:"notes"`
	Media       []string `json:"media"`
}

type offerRequest struct {
	Amount    string `json:"amount"`
	Reasoning string `json:"reasoning"`
}

type dismissRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	actor := actorFromContext(r.Context())
	created, err := s.quoteService.Create(r.Context(), actor, quote.CreateParams{
		CustomerID:  actor.ID,
		AgentID:     req.AgentID,
		Title:       req.Title,
		Description: req.Description,
		BudgetNote:  req.BudgetNote,
		Notes:       req.Notes,
		Media:       req.Media,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newQuoteResponse(created, actor.Role))
}

func (s *Server) handleListQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := quote.Filter{
		Viewer: actorFromContext(r.Context()),
		Status: quote.Status(q.Get("status")),
	}
	if raw := q.Get("includeClosed"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "includeClosed must be a boolean", nil)
			return
		}
		filter.IncludeClosed = v
	}
	for name, dst := range map[string]*int{"page": &filter.Page, "pageSize": &filter.PageSize} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION", name+" must be a positive integer", nil)
			return
		}
		*dst = n
	}

	result, err := s.quoteService.List(r.Context(), filter)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := quoteListResponse{Items: make([]quoteResponse, 0, len(result.Items)), Total: result.Total}
	for _, item := range result.Items {
		resp.Items = append(resp.Items, newQuoteResponse(item, filter.Viewer.Role))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	req, err := s.quoteService.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResponse(req, actor.Role))
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Propose(r.Context(), actor, chi.URLParam(r, "id"), req.Amount)
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	var req offerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Counter(r.Context(), actor, chi.URLParam(r, "id"), req.Amount, req.Reasoning)
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Accept(r.Context(), actor, chi.URLParam(r, "id"))
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleRejectOffer(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.RejectOffer(r.Context(), actor, chi.URLParam(r, "id"))
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Reject(r.Context(), actor, chi.URLParam(r, "id"))
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
			return
		}
	}
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Dismiss(r.Context(), actor, chi.URLParam(r, "id"), req.Reason)
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	res, err := s.quoteService.Archive(r.Context(), actor, chi.URLParam(r, "id"))
	s.respondResult(w, r, actor, res, err)
}

func (s *Server) respondResult(w http.ResponseWriter, r *http.Request, actor quote.Actor, res quote.Result, err error) {
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newQuoteResult(res, actor.Role))
}
