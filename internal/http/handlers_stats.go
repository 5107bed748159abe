package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"expensetracker/internal/core"
	applog "expensetracker/internal/log"
	"expensetracker/internal/session"
)

// defaultKeepAlive spaces SSE comments that keep idle proxies from closing
// the stream. Each tick also re-checks the caller's token.
const defaultKeepAlive = 25 * time.Second

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())
	st, err := s.deps.Stats.Stats(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleStatsStream pushes a "stats" event after every recompute until the
// client disconnects, the user logs out or the server shuts down. A logout is
// seen either as a transition or, if that was missed, as a token that no
// longer authenticates on the next keep-alive.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, fmt.Errorf("streaming unsupported"))
		return
	}
	id := identityFrom(r.Context())
	token := bearerToken(r)
	logger := applog.FromContext(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	transitions, unsubscribe := s.deps.Sessions.SubscribeUser(id.UserID, 4)
	defer unsubscribe()
	updates := s.deps.Stats.Watch(ctx, id.UserID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	logger.DebugContext(ctx, "Stats stream opened")
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case t, ok := <-transitions:
			if !ok {
				return
			}
			if t.Kind == session.TransitionLogout {
				s.endStream(w, flusher, id.UserID)
				logger.DebugContext(ctx, "Stats stream closed on logout")
				return
			}
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := writeStats(w, st); err != nil {
				logger.WarnContext(ctx, "Stats stream write failed", applog.FieldError, err)
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := s.deps.Sessions.Authenticate(ctx, token); err != nil {
				s.endStream(w, flusher, id.UserID)
				logger.DebugContext(ctx, "Stats stream closed on expired session", applog.FieldError, err)
				return
			}
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) endStream(w http.ResponseWriter, flusher http.Flusher, userID string) {
	_ = writeEvent(w, "logout", map[string]string{"userId": userID})
	flusher.Flush()
}

func writeStats(w http.ResponseWriter, st core.Stats) error {
	return writeEvent(w, "stats", st)
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
