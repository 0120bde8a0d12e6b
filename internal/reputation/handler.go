package reputation

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/babylon/engine/internal/apperr"
)

// FeedbackRequest is the JSON body for feedback submission. Exactly one of
// Score (0–100) or Rating (1–5 stars, scaled by 20) must be set.
type FeedbackRequest struct {
	Score  *float64 `json:"score,omitempty"`
	Rating *int     `json:"rating,omitempty"`
}

// GameRequest is the JSON body for recording a finished game.
type GameRequest struct {
	Score float64 `json:"score"`
	Won   bool    `json:"won"`
}

// Routes mounts the reputation endpoints on r.
func (s *Service) Routes(r chi.Router) {
	r.Get("/reputation/{userID}", s.HandleGet)
	r.Post("/reputation/{userID}/feedback", s.HandleFeedback)
	r.Post("/reputation/{userID}/games", s.HandleGame)
}

// HandleGet handles GET /api/v1/reputation/{userID}
func (s *Service) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	b, err := s.GetBreakdown(r.Context(), userID)
	if err != nil {
		writeNotFound(w, err, "reputation not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// HandleFeedback handles POST /api/v1/reputation/{userID}/feedback
func (s *Service) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body"))
		return
	}

	var score float64
	switch {
	case req.Score != nil && req.Rating != nil:
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "provide score or rating, not both"))
		return
	case req.Score != nil:
		if *req.Score < 0 || *req.Score > 100 {
			writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "score must be between 0 and 100"))
			return
		}
		score = *req.Score
	case req.Rating != nil:
		if *req.Rating < 1 || *req.Rating > 5 {
			writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "rating must be between 1 and 5"))
			return
		}
		score = float64(*req.Rating * 20)
	default:
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "score or rating is required"))
		return
	}

	if err := s.UpdateFeedbackMetrics(r.Context(), userID, score); err != nil {
		slog.Error("feedback update failed", "user", userID, "err", err)
		writeNotFound(w, err, "user not found")
		return
	}
	s.HandleGet(w, r)
}

// HandleGame handles POST /api/v1/reputation/{userID}/games
func (s *Service) HandleGame(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req GameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "invalid request body"))
		return
	}
	if req.Score < 0 || req.Score > 100 {
		writeError(w, apperr.New(apperr.ErrValidation, "VALIDATION", "score must be between 0 and 100"))
		return
	}

	if err := s.UpdateGameMetrics(r.Context(), userID, req.Score, req.Won); err != nil {
		slog.Error("game update failed", "user", userID, "err", err)
		writeNotFound(w, err, "user not found")
		return
	}
	s.HandleGet(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the status and code derived
// from the error kind.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.HTTPStatus(err), map[string]string{
		"error": err.Error(),
		"code":  apperr.Code(err),
	})
}

// writeNotFound is writeError with msg in place of a store not-found message.
func writeNotFound(w http.ResponseWriter, err error, msg string) {
	if apperr.HTTPStatus(err) != http.StatusNotFound {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": msg,
		"code":  apperr.Code(err),
	})
}
