package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/campaignd/internal/queue"
)

const defaultListLimit = 100

// TaskSummary is a summary of a queued task
type TaskSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	RunAt     time.Time `json:"run_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TasksResponse is the response for GET /api/v1/tasks
type TasksResponse struct {
	Stats *queue.Stats   `json:"stats"`
	Tasks []*TaskSummary `json:"tasks"`
}

// DLQResponse is the response for GET /api/v1/dlq
type DLQResponse struct {
	Stats *queue.DLQStats `json:"stats"`
	Tasks []*TaskSummary  `json:"tasks"`
}

// handleTasks handles GET /api/v1/tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Tasks.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get queue stats", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get queue stats")
		return
	}

	limit, offset := pagination(r)
	tasks, err := s.Tasks.List(r.Context(), queue.ListFilter{
		Status: queue.TaskStatus(r.URL.Query().Get("status")),
		Name:   r.URL.Query().Get("name"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("failed to list tasks", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}

	sendJSON(w, http.StatusOK, TasksResponse{Stats: stats, Tasks: summarize(tasks)})
}

// handleDLQ handles GET /api/v1/dlq
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Tasks.DLQStats(r.Context())
	if err != nil {
		s.logger.Error("failed to get DLQ stats", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get DLQ stats")
		return
	}

	limit, offset := pagination(r)
	tasks, err := s.Tasks.ListDLQ(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list DLQ tasks", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list DLQ tasks")
		return
	}

	sendJSON(w, http.StatusOK, DLQResponse{Stats: stats, Tasks: summarize(tasks)})
}

// handleDLQRetry handles POST /api/v1/dlq/{id}/retry
func (s *Server) handleDLQRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Tasks.RetryFromDLQ(r.Context(), id); err != nil {
		s.logger.Error("failed to retry DLQ task", "id", id, "error", err)
		sendError(w, http.StatusNotFound, "Task not found in DLQ")
		return
	}

	s.logger.Info("task retried from DLQ", "id", id)
	sendJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Task moved to pending queue",
	})
}

// handleDLQDelete handles DELETE /api/v1/dlq/{id}
func (s *Server) handleDLQDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Tasks.DeleteFromDLQ(r.Context(), id); err != nil {
		s.logger.Error("failed to delete DLQ task", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}

	s.logger.Info("task deleted from DLQ", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func summarize(tasks []*queue.Task) []*TaskSummary {
	out := make([]*TaskSummary, len(tasks))
	for i, t := range tasks {
		out[i] = &TaskSummary{
			ID:        t.ID,
			Name:      t.Name,
			Status:    string(t.Status),
			RunAt:     t.RunAt,
			Attempts:  t.Attempts,
			LastError: t.LastError,
			CreatedAt: t.CreatedAt,
		}
	}
	return out
}

// pagination reads limit and offset query parameters
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultListLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
