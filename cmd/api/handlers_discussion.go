package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quoteflow/quote"
)

type postMessageRequest struct {
	Body string `json:"body"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.discussionService.List(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, newMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body", nil)
		return
	}
	msg, err := s.discussionService.Post(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.Body)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageResponse(msg))
}

const defaultHeartbeat = 25 * time.Second

// handleQuoteEvents streams the viewer's snapshot of one request as
// server-sent events. A snapshot goes out on connect and again whenever the
// request changes, so a client never has to merge deltas.
func (s *Server) handleQuoteEvents(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", "live updates are not configured", nil)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "streaming unsupported", nil)
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	actor := actorFromContext(ctx)
	id := chi.URLParam(r, "id")

	// Subscribe before the first read so a change committed in between still
	// produces an update. A refused read drops the subscription via cancel.
	updates, err := s.feed.Watch(ctx, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	current, err := s.quoteService.Get(ctx, actor, id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeSnapshot(w, "snapshot", current, actor); err != nil {
		return
	}
	flusher.Flush()

	heartbeat := s.heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			latest, err := s.quoteService.Get(ctx, actor, id)
			if err != nil {
				s.logger.Warn().Err(err).Str("request_id", id).Msg("re-read for live update failed")
				continue
			}
			if err := writeSnapshot(w, u.Topic, latest, actor); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSnapshot(w http.ResponseWriter, event string, req quote.Request, actor quote.Actor) error {
	body, err := json.Marshal(newQuoteResponse(req, actor.Role))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
	return err
}
