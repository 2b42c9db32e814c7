package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/covella/loginguard/internal/models"
	pkghttp "github.com/covella/loginguard/pkg/http"
)

// GuardServiceInterface defines the interface for the brute-force guard
type GuardServiceInterface interface {
	CheckLoginAttempt(ctx context.Context, identifier, ipAddress, userAgent string, success bool) (*models.CheckResult, error)
	GetAccountStatus(ctx context.Context, identifier string) (*models.AccountStatus, error)
}

// GuardHandler handles the guard's HTTP boundary
type GuardHandler struct {
	service  GuardServiceInterface
	ipConfig *pkghttp.IPConfig
	actions  map[string]func(http.ResponseWriter, *http.Request, legacyRequest)
}

// NewGuardHandler creates a new GuardHandler
func NewGuardHandler(service GuardServiceInterface, ipConfig *pkghttp.IPConfig) *GuardHandler {
	h := &GuardHandler{
		service:  service,
		ipConfig: ipConfig,
	}
	// Routing table for the legacy single-endpoint protocol.
	h.actions = map[string]func(http.ResponseWriter, *http.Request, legacyRequest){
		"check":  h.legacyCheck,
		"status": h.legacyStatus,
	}
	return h
}

// CheckRequest represents the request body for a login attempt check
type CheckRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	IPAddress  string `json:"ip_address" validate:"omitempty,ip"`
	UserAgent  string `json:"user_agent" validate:"max=1024"`
	Success    bool   `json:"success"`
}

// StatusRequest represents the request body for an account status lookup
type StatusRequest struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
}

// legacyRequest mirrors the original storefront protocol: one endpoint,
// stringly-typed action, camelCase fields.
type legacyRequest struct {
	Action     string `json:"action"`
	Identifier string `json:"identifier"`
	IPAddress  string `json:"ipAddress"`
	UserAgent  string `json:"userAgent"`
	Success    bool   `json:"success"`
	Email      string `json:"email"`
}

// Check handles POST /v1/guard/check
func (h *GuardHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.check(w, r, req)
}

// Status handles POST /v1/guard/status
func (h *GuardHandler) Status(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	h.status(w, r, req.Identifier)
}

// Dispatch handles POST /v1/guard, the legacy action-dispatch endpoint kept
// for callers that predate the typed routes.
func (h *GuardHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req legacyRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	handler, ok := h.actions[req.Action]
	if !ok {
		pkghttp.WriteInvalidAction(w)
		return
	}

	handler(w, r, req)
}

func (h *GuardHandler) legacyCheck(w http.ResponseWriter, r *http.Request, req legacyRequest) {
	check := CheckRequest{
		Identifier: req.Identifier,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		Success:    req.Success,
	}
	if err := ValidateRequest(check); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}
	h.check(w, r, check)
}

func (h *GuardHandler) legacyStatus(w http.ResponseWriter, r *http.Request, req legacyRequest) {
	identifier := req.Email
	if identifier == "" {
		identifier = req.Identifier
	}
	if strings.TrimSpace(identifier) == "" {
		pkghttp.WriteBadRequest(w, "validation failed: Identifier: this field is required")
		return
	}
	h.status(w, r, identifier)
}

func (h *GuardHandler) check(w http.ResponseWriter, r *http.Request, req CheckRequest) {
	req.Identifier = strings.ToLower(strings.TrimSpace(req.Identifier))

	// Callers behind the storefront gateway report the end user's IP in
	// the body; direct callers fall back to the connection peer.
	ipAddress := req.IPAddress
	if ipAddress == "" {
		ipAddress = pkghttp.ExtractClientIP(r, h.ipConfig)
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.Header.Get("User-Agent")
	}

	result, err := h.service.CheckLoginAttempt(r.Context(), req.Identifier, ipAddress, userAgent, req.Success)
	if err != nil {
		writeGuardError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func (h *GuardHandler) status(w http.ResponseWriter, r *http.Request, identifier string) {
	status, err := h.service.GetAccountStatus(r.Context(), strings.ToLower(strings.TrimSpace(identifier)))
	if err != nil {
		writeGuardError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// writeGuardError maps service errors to HTTP responses without leaking
// internals to the login flow.
func writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		pkghttp.WriteBadRequest(w, "Invalid identifier or attempt payload")
	case errors.Is(err, models.ErrStorageUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Attempt storage unavailable. Please retry.")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
