package api

import (
	"net/http"

	"github.com/foxzi/campaignd/internal/provider"
)

// SandboxResponse is the response for GET /api/v1/sandbox
type SandboxResponse struct {
	Captured []*provider.Captured `json:"captured"`
	Total    int                  `json:"total"`
}

// handleSandbox handles GET /api/v1/sandbox
func (s *Server) handleSandbox(w http.ResponseWriter, r *http.Request) {
	if s.Sandbox == nil {
		sendError(w, http.StatusNotFound, "Sandbox provider is not enabled")
		return
	}

	limit, offset := pagination(r)
	captured, err := s.Sandbox.List(r.Context(), provider.SandboxFilter{
		Channel:   r.URL.Query().Get("channel"),
		CompanyID: r.URL.Query().Get("company_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		s.logger.Error("failed to list sandbox sends", "error", err)
		sendError(w, http.StatusInternalServerError, "Failed to list sandbox sends")
		return
	}
	if captured == nil {
		captured = []*provider.Captured{}
	}

	sendJSON(w, http.StatusOK, SandboxResponse{Captured: captured, Total: len(captured)})
}
