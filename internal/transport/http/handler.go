// Package http exposes the client-facing surface: fetch, submit, and the
// read-only history/score/leaderboard/profile projections.
package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"crowdlabel-service/internal/app"
	"crowdlabel-service/internal/domain"
)

type Handler struct {
	service *app.AssignmentService
}

func NewHandler(service *app.AssignmentService) *Handler {
	return &Handler{service: service}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /tasks/next", h.fetchTask)
	mux.HandleFunc("POST /submissions", h.submitAnswer)
	mux.HandleFunc("GET /history/{userID}", h.history)
	mux.HandleFunc("GET /score/{userID}", h.score)
	mux.HandleFunc("GET /leaderboard", h.leaderboard)
	mux.HandleFunc("GET /profile/{userID}", h.profile)
}

type fetchTaskResponse struct {
	Task *domain.Task `json:"task"`
}

type submitRequest struct {
	UserID   string `json:"userId"`
	TaskID   string `json:"taskId"`
	TrackID  string `json:"trackId"`
	Solution string `json:"solution"`
	Question string `json:"question,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Partial bool   `json:"partial,omitempty"`
}

func (h *Handler) fetchTask(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	criteria := domain.Criteria{
		Language: query.Get("language"),
		Topic:    query.Get("topic"),
	}
	if raw := query.Get("complexity"); raw != "" {
		complexity, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, domain.ErrInvalidRequest)
			return
		}
		criteria.Complexity = complexity
	}

	task, err := h.service.FetchTask(r.Context(), query.Get("userId"), criteria)
	if errors.Is(err, domain.ErrNoTaskAvailable) {
		// Nothing to assign is a valid outcome, not an error.
		writeJSON(w, http.StatusOK, fetchTaskResponse{Task: nil})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fetchTaskResponse{Task: &task})
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ErrInvalidRequest)
		return
	}

	result, err := h.service.SubmitAnswer(r.Context(), app.SubmitRequest{
		UserID:   req.UserID,
		TaskID:   req.TaskID,
		TrackID:  req.TrackID,
		Solution: req.Solution,
		Question: req.Question,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.History(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []domain.SubmissionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) score(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	score, err := h.service.Score(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{userID: score})
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	lb, err := h.service.Leaderboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Profile(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var partial *domain.PartialCommitError
	if errors.As(err, &partial) {
		// Distinct shape: upstream has the answer, the caller must not resubmit.
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Partial: true})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnsupportedCriteria):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyCompleted):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrProfileNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrUpstreamUnavailable),
		errors.Is(err, domain.ErrUpstreamRejected),
		errors.Is(err, domain.ErrUpstreamMalformed):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
