package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/chainvault-custody/internal/console/service"
)

type DashboardHandler struct {
	service *service.AuditService
}

func NewDashboardHandler(s *service.AuditService) *DashboardHandler {
	return &DashboardHandler{service: s}
}

// GetStats — сводка для главного экрана консоли
// GET /api/v1/dashboard/stats
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboard(r.Context())
	if err != nil {
		http.Error(w, "Failed to build dashboard", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
