package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/chainvault-custody/internal/console/service"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
)

type WalletHandler struct {
	service *service.WalletService
}

func NewWalletHandler(s *service.WalletService) *WalletHandler {
	return &WalletHandler{service: s}
}

// List возвращает кошельки: все либо по владельцу (?owner_id=)
func (h *WalletHandler) List(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.service.ListWallets(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		http.Error(w, "Failed to fetch wallets", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallets)
}

func (h *WalletHandler) Get(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.GetWallet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if wallet == nil {
		http.Error(w, "wallet not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wallet)
}

// Freeze — мгновенная остановка всех действий по кошельку (kill-switch)
func (h *WalletHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "wallets.freeze") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := h.service.Freeze(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WalletHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	if !auth.HasScope(r.Context(), "wallets.freeze") {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	if err := h.service.Unfreeze(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
