package main

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"quoteflow/agent"
	"quoteflow/auth"
)

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

type meResponse struct {
	User     userResponse     `json:"user"`
	Standing standingResponse `json:"standing"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newUserResponse(user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: result.Token, User: newUserResponse(&result.User)})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())
	user, err := s.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	standing, err := s.complianceService.Status(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := meResponse{User: newUserResponse(user), Standing: newStandingResponse(standing)}
	// The ledger is authoritative over the users-table mirror.
	resp.User.Suspended = standing.Suspended
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	profiles, err := s.agentService.List(r.Context(), agent.ListFilter{
		Trade: r.URL.Query().Get("trade"),
		Limit: limit,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]agentResponse, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, newAgentResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	profile, err := s.agentService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentResponse(profile))
}

type updateAgentRequest struct {
	Trade    string `json:"trade"`
	BaseRate string `json:"baseRate"`
	Bio      string `json:"bio"`
}

func (s *Server) handleUpdateAgentProfile(w http.ResponseWriter, r *http.Request) {
	if roleFromContext(r.Context()) != auth.RoleAgent {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "only agents have profiles", nil)
		return
	}
	var req updateAgentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	profile, err := s.agentService.Update(r.Context(), agent.UpdateParams{
		UserID:   userIDFromContext(r.Context()),
		Trade:    req.Trade,
		BaseRate: req.BaseRate,
		Bio:      req.Bio,
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAgentResponse(profile))
}
