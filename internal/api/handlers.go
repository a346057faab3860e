package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/campaignd/internal/metrics"
	"github.com/foxzi/campaignd/internal/models"
	"github.com/foxzi/campaignd/internal/queue"
	"github.com/foxzi/campaignd/internal/signal"
	"github.com/foxzi/campaignd/internal/workflow"
)

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Uptime  string       `json:"uptime"`
	Queue   *queue.Stats `json:"queue,omitempty"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// TriggerRequest is the request body for POST /workflows/{id}/trigger
type TriggerRequest struct {
	CompanyID     string         `json:"company_id" validate:"required,max=64"`
	LeadID        string         `json:"lead_id,omitempty" validate:"max=64"`
	CustomerID    string         `json:"customer_id,omitempty" validate:"max=64"`
	PartialLeadID string         `json:"partial_lead_id,omitempty" validate:"max=64"`
	TriggerType   string         `json:"trigger_type,omitempty" validate:"omitempty,oneof=manual lead_created lead_status partial_lead"`
	ContactData   map[string]any `json:"contact_data,omitempty"`
}

// CancelRequest is the request body for POST /executions/{id}/cancel
type CancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=255"`
}

// LeadStatusRequest is the request body for POST /leads/{id}/status
type LeadStatusRequest struct {
	CompanyID string `json:"company_id" validate:"required,max=64"`
	Status    string `json:"status" validate:"required,max=64"`
}

// CampaignResponse is the response for GET /campaigns/{id}. EstimatedDays
// is the number of calendar days the pending contacts still need.
type CampaignResponse struct {
	*models.Campaign
	PendingContacts int `json:"pending_contacts"`
	EstimatedDays   int `json:"estimated_days"`
}

// SweepResponse is the response for POST /campaigns/sweep
type SweepResponse struct {
	Started int `json:"started"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.Tasks != nil {
		if stats, err := s.Tasks.Stats(r.Context()); err == nil {
			resp.Queue = stats
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleTrigger handles POST /api/v1/workflows/{id}/trigger
func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LeadID == "" && req.CustomerID == "" && req.PartialLeadID == "" && len(req.ContactData) == 0 {
		sendError(w, http.StatusBadRequest, "lead_id, customer_id, partial_lead_id or contact_data is required")
		return
	}

	exec, err := s.Engine.Trigger(r.Context(), workflow.TriggerRequest{
		WorkflowID:    chi.URLParam(r, "id"),
		CompanyID:     req.CompanyID,
		LeadID:        req.LeadID,
		CustomerID:    req.CustomerID,
		PartialLeadID: req.PartialLeadID,
		TriggerType:   models.TriggerType(req.TriggerType),
		ContactData:   req.ContactData,
	})
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		sendError(w, http.StatusNotFound, "Workflow not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to trigger workflow", "workflow_id", chi.URLParam(r, "id"), "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to trigger workflow")
		return
	}

	s.logger.Info("workflow triggered via API", "workflow_id", exec.WorkflowID, "execution_id", exec.ID)
	sendJSON(w, http.StatusAccepted, exec)
}

// handleExecution handles GET /api/v1/executions/{id}
func (s *Server) handleExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := s.Executions.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get execution", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get execution")
		return
	}
	if exec == nil {
		sendError(w, http.StatusNotFound, "Execution not found")
		return
	}
	sendJSON(w, http.StatusOK, exec)
}

// handleCancel handles POST /api/v1/executions/{id}/cancel
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CancelRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.Engine.RequestCancel(r.Context(), id, req.Reason)
	if err != nil {
		s.logger.Error("failed to cancel execution", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to cancel execution")
		return
	}
	if !ok {
		exec, err := s.Executions.Get(r.Context(), id)
		if err == nil && exec == nil {
			sendError(w, http.StatusNotFound, "Execution not found")
			return
		}
		sendError(w, http.StatusConflict, "Execution already finished")
		return
	}

	sendJSON(w, http.StatusAccepted, map[string]string{
		"status":  "ok",
		"message": "Cancellation requested",
	})
}

// handleCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.Campaigns.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	resp := CampaignResponse{Campaign: c}
	if s.Members != nil && s.Hours != nil {
		if err := s.estimate(r, &resp); err != nil {
			s.logger.Error("failed to estimate campaign duration", "id", id, "error", err)
			sendError(w, http.StatusInternalServerError, "Failed to get campaign")
			return
		}
	}
	sendJSON(w, http.StatusOK, resp)
}

func (s *Server) estimate(r *http.Request, resp *CampaignResponse) error {
	counts, err := s.Members.CountByStatus(r.Context(), resp.ID)
	if err != nil {
		return err
	}
	sched, err := s.Hours.For(r.Context(), resp.CompanyID)
	if err != nil {
		return err
	}
	resp.PendingContacts = counts[models.MemberPending]
	resp.EstimatedDays = sched.EstimateDays(resp.PendingContacts, resp.DailyLimit, resp.RespectBusinessHours)
	return nil
}

// handleSweep handles POST /api/v1/campaigns/sweep
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.Scheduler.Sweep(r.Context())
	if err != nil {
		s.logger.Error("campaign sweep failed", "error", err)
		sendError(w, http.StatusInternalServerError, "Campaign sweep failed")
		return
	}
	sendJSON(w, http.StatusOK, SweepResponse{Started: n})
}

// handleLeadStatus handles POST /api/v1/leads/{id}/status
func (s *Server) handleLeadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req LeadStatusRequest
	if err := decode(r, &req); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	ok, err := s.Leads.UpdateLeadStatus(r.Context(), req.CompanyID, id, req.Status)
	if err != nil {
		s.logger.Error("failed to update lead status", "lead_id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to update lead status")
		return
	}
	if !ok {
		sendError(w, http.StatusNotFound, "Lead not found")
		return
	}

	_, err = s.Bus.Emit(r.Context(), signal.LeadStatusChanged, signal.LeadStatusChangedPayload{
		LeadID:    id,
		CompanyID: req.CompanyID,
		Status:    req.Status,
	})
	if err != nil {
		s.logger.Error("failed to emit lead status change", "lead_id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to emit status change")
		return
	}

	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleCallEnded handles POST /api/v1/calls/{id}/ended
func (s *Server) handleCallEnded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	call, err := s.Calls.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get call", "call_id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get call")
		return
	}
	if call == nil {
		sendError(w, http.StatusNotFound, "Call not found")
		return
	}

	ok, err := s.Calls.MarkEnded(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to end call", "call_id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to end call")
		return
	}
	// The slot is released even when the call was already closed
	if err := s.Slots.TrackCallEnd(r.Context(), call.CompanyID, id); err != nil {
		s.logger.Error("failed to release call slot", "call_id", id, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to release call slot")
		return
	}
	if !ok {
		sendError(w, http.StatusConflict, "Call is not in progress")
		return
	}

	metrics.IncCall("ended")
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConcurrency handles GET /api/v1/concurrency/{companyID}
func (s *Server) handleConcurrency(w http.ResponseWriter, r *http.Request) {
	companyID := chi.URLParam(r, "companyID")
	stats, err := s.Slots.Stats(r.Context(), companyID)
	if err != nil {
		s.logger.Error("failed to get call stats", "company_id", companyID, "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to get call stats")
		return
	}
	sendJSON(w, http.StatusOK, stats)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}
