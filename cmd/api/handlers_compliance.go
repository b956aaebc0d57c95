package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"quoteflow/appeal"
	"quoteflow/compliance"
)

type scanRequest struct {
	Text string `json:"text"`
}

type scanResponse struct {
	Matched    bool     `json:"matched"`
	Categories []string `json:"categories"`
	Message    string   `json:"message,omitempty"`
}

// handlePolicyScan lets clients warn while the user is still typing. It
// records nothing; the gate on the real submission is authoritative.
func (s *Server) handlePolicyScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	res := s.scanner.Scan(req.Text)
	writeJSON(w, http.StatusOK, scanResponse{
		Matched:    res.Matched,
		Categories: categoryNames(res.Categories()),
		Message:    res.Message(),
	})
}

func (s *Server) handleComplianceMe(w http.ResponseWriter, r *http.Request) {
	standing, err := s.complianceService.Status(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStandingResponse(standing))
}

type createAppealRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleCreateAppeal(w http.ResponseWriter, r *http.Request) {
	var req createAppealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	rec, err := s.appealService.Create(r.Context(), userIDFromContext(r.Context()), req.Message)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAppealResponse(rec))
}

func (s *Server) handleMyAppeals(w http.ResponseWriter, r *http.Request) {
	records, err := s.appealService.Mine(r.Context(), userIDFromContext(r.Context()))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeAppeals(w, records)
}

func (s *Server) handleListAppeals(w http.ResponseWriter, r *http.Request) {
	status := appeal.Status(r.URL.Query().Get("status"))
	records, err := s.appealService.List(r.Context(), roleFromContext(r.Context()), status)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeAppeals(w, records)
}

type resolveAppealRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note"`
}

func (s *Server) handleResolveAppeal(w http.ResponseWriter, r *http.Request) {
	var req resolveAppealRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	var grant bool
	switch strings.ToLower(strings.TrimSpace(req.Decision)) {
	case "grant":
		grant = true
	case "deny":
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION", "decision must be grant or deny", nil)
		return
	}
	rec, err := s.appealService.Resolve(r.Context(), userIDFromContext(r.Context()), roleFromContext(r.Context()),
		chi.URLParam(r, "id"), appeal.Resolution{Grant: grant, Note: req.Note})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAppealResponse(rec))
}

func writeAppeals(w http.ResponseWriter, records []appeal.Record) {
	out := make([]appealResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, newAppealResponse(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

type adminActionRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) adminParams(r *http.Request, reason string) compliance.AdminParams {
	return compliance.AdminParams{
		UserID:    chi.URLParam(r, "id"),
		ActorID:   userIDFromContext(r.Context()),
		ActorRole: roleFromContext(r.Context()),
		Reason:    strings.TrimSpace(reason),
	}
}

func (s *Server) handleUserViolations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	violations, err := s.complianceService.Violations(r.Context(), s.adminParams(r, ""), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]violationResponse, 0, len(violations))
	for _, v := range violations {
		out = append(out, newViolationResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUnsuspend(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.complianceService.Unsuspend)
}

func (s *Server) handleResetViolations(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.complianceService.ResetViolations)
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, p compliance.AdminParams) error) {
	var req adminActionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
			return
		}
	}
	p := s.adminParams(r, req.Reason)
	if err := op(r.Context(), p); err != nil {
		s.respondError(w, r, err)
		return
	}
	standing, err := s.complianceService.Status(r.Context(), p.UserID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newStandingResponse(standing))
}
