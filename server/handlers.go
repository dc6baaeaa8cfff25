// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/CissaMalheiros/CiclistaApp/internal/auth"
)

// Handlers serves the sync endpoints over a Store.
type Handlers struct {
	store  Store
	logger *slog.Logger
}

// NewHandlers creates the handler set. A nil logger falls back to
// slog.Default().
func NewHandlers(store Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// HandleCreateAccount handles POST /accounts.
func (h *Handlers) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var a Account
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if a.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email required")
		return
	}
	if a.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name required")
		return
	}

	id, err := h.store.CreateAccount(r.Context(), &a)
	if errors.Is(err, ErrDuplicateEmail) {
		writeError(w, http.StatusConflict, "duplicate_email", "email already registered")
		return
	}
	if err != nil {
		h.logger.Error("account creation failed", "email", a.Email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create account")
		return
	}

	recordAccountCreated()
	device, _ := auth.GetDeviceID(r.Context())
	h.logger.Info("account created", "id", id, "email", a.Email, "device", device)
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// HandleCreateRoute handles POST /routes.
func (h *Handlers) HandleCreateRoute(w http.ResponseWriter, r *http.Request) {
	var rt Route
	if err := json.NewDecoder(r.Body).Decode(&rt); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if rt.AccountID == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "account_id required")
		return
	}
	if len(rt.Track) > 0 && !json.Valid(rt.Track) {
		writeError(w, http.StatusBadRequest, "invalid_request", "track must be valid JSON")
		return
	}

	id, err := h.store.CreateRoute(r.Context(), &rt)
	if errors.Is(err, ErrUnknownAccount) {
		writeError(w, http.StatusBadRequest, "unknown_account", "account_id does not exist")
		return
	}
	if err != nil {
		h.logger.Error("route creation failed", "account_id", rt.AccountID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create route")
		return
	}

	recordRouteCreated()
	h.logger.Info("route created", "id", id, "account_id", rt.AccountID, "category", rt.Category)
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// HandleAccountByEmail handles GET /accounts/by-email/{email}.
func (h *Handlers) HandleAccountByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.PathValue("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email required")
		return
	}

	id, err := h.store.AccountIDByEmail(r.Context(), email)
	if errors.Is(err, ErrNotFound) {
		recordAccountLookup(false)
		writeError(w, http.StatusNotFound, "not_found", "no account for email")
		return
	}
	if err != nil {
		h.logger.Error("account lookup failed", "email", email, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "lookup failed")
		return
	}

	recordAccountLookup(true)
	writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

// HandleHealth provides a simple health check endpoint.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "ciclista-server"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
