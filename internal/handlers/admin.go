package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/covella/loginguard/internal/models"
	pkghttp "github.com/covella/loginguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the admin operations on the guard
type AdminServiceInterface interface {
	ListActiveLockouts(ctx context.Context) ([]models.Lockout, error)
	Unlock(ctx context.Context, identifier string) error
	RecentAttempts(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error)
}

// AdminHandler handles the admin surface: inspecting and clearing lockouts
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// LockoutListResponse wraps the active lockout listing
type LockoutListResponse struct {
	Lockouts []models.Lockout `json:"lockouts"`
	Count    int              `json:"count"`
}

// AttemptListResponse wraps an identifier's recent attempt history
type AttemptListResponse struct {
	Attempts []models.LoginAttempt `json:"attempts"`
	Count    int                   `json:"count"`
}

// ListLockouts handles GET /v1/admin/lockouts
func (h *AdminHandler) ListLockouts(w http.ResponseWriter, r *http.Request) {
	lockouts, err := h.service.ListActiveLockouts(r.Context())
	if err != nil {
		writeGuardError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, LockoutListResponse{
		Lockouts: lockouts,
		Count:    len(lockouts),
	})
}

// Unlock handles DELETE /v1/admin/lockouts/{identifier}
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	err := h.service.Unlock(r.Context(), identifier)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "No lockout for this identifier")
		case errors.Is(err, models.ErrInvalidInput):
			pkghttp.WriteBadRequest(w, "Invalid identifier")
		default:
			writeGuardError(w, err)
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAttempts handles GET /v1/admin/attempts/{identifier}
func (h *AdminHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			pkghttp.WriteBadRequest(w, "limit must be between 1 and 500")
			return
		}
		limit = parsed
	}

	attempts, err := h.service.RecentAttempts(r.Context(), identifier, limit)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidInput):
			pkghttp.WriteBadRequest(w, "Invalid identifier")
		default:
			writeGuardError(w, err)
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AttemptListResponse{
		Attempts: attempts,
		Count:    len(attempts),
	})
}
