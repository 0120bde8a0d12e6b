package agent

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/babylon/engine/internal/apperr"
)

// CronPath is where the external scheduler triggers a tick.
const CronPath = "/api/cron/agent-tick"

// CronHandler returns the tick trigger endpoint. Requests must carry
// "Authorization: Bearer <secret>"; an empty secret rejects everything.
func (c *Coordinator) CronHandler(secret string) http.HandlerFunc {
	want := []byte("Bearer " + secret)
	return func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		res, err := c.Tick(r.Context())
		if err != nil {
			c.logger.Error("agent tick failed", "err", err)
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// Routes mounts the agent activity endpoints on r.
func (c *Coordinator) Routes(r chi.Router) {
	r.Get("/agents/{agentID}/logs", c.HandleLogs)
	r.Get("/agents/{agentID}/posts", c.HandlePosts)
}

// HandleLogs returns an agent's most recent log entries.
func (c *Coordinator) HandleLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := c.store.ListAgentLogs(r.Context(), chi.URLParam(r, "agentID"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if logs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// HandlePosts returns an agent's most recent generated content.
func (c *Coordinator) HandlePosts(w http.ResponseWriter, r *http.Request) {
	posts, err := c.store.ListPosts(r.Context(), chi.URLParam(r, "agentID"), limitParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if posts == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func limitParam(r *http.Request) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	if err != nil || n <= 0 || n > 200 {
		return 50
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}
