package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/chainvault-custody/internal/console/service"
	"github.com/xela07ax/chainvault-custody/internal/domain"
)

type AuditHandler struct {
	service *service.AuditService
}

func NewAuditHandler(s *service.AuditService) *AuditHandler {
	return &AuditHandler{service: s}
}

// GetEvents — decision trail с фильтрами ?wallet_id= и ?decision=
// GET /v1/audit
func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.GetEvents(r.Context(),
		r.URL.Query().Get("wallet_id"),
		r.URL.Query().Get("decision"))
	if err != nil {
		http.Error(w, "Failed to fetch audit events", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// ListRecords — журнал транзакций с фильтрами ?wallet_id= и ?status=
func (h *AuditHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.GetRecords(r.Context(),
		r.URL.Query().Get("wallet_id"),
		domain.RecordStatus(r.URL.Query().Get("status")))
	if err != nil {
		http.Error(w, "Failed to fetch records", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(records)
}

func (h *AuditHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := h.service.GetRecord(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if record == nil {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(record)
}
