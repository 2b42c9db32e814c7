package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/covella/loginguard/internal/handlers"
	"github.com/covella/loginguard/internal/models"
	"github.com/stretchr/testify/assert"
)

// mockAdminService implements handlers.AdminServiceInterface for testing
type mockAdminService struct {
	ListActiveLockoutsFunc func(ctx context.Context) ([]models.Lockout, error)
	UnlockFunc             func(ctx context.Context, identifier string) error
	RecentAttemptsFunc     func(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error)
}

func (m *mockAdminService) ListActiveLockouts(ctx context.Context) ([]models.Lockout, error) {
	if m.ListActiveLockoutsFunc == nil {
		return []models.Lockout{}, nil
	}
	return m.ListActiveLockoutsFunc(ctx)
}

func (m *mockAdminService) Unlock(ctx context.Context, identifier string) error {
	if m.UnlockFunc == nil {
		return nil
	}
	return m.UnlockFunc(ctx, identifier)
}

func (m *mockAdminService) RecentAttempts(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error) {
	if m.RecentAttemptsFunc == nil {
		return []models.LoginAttempt{}, nil
	}
	return m.RecentAttemptsFunc(ctx, identifier, limit)
}

// ── ListLockouts ──────────────────────────────────────────────────────────────

func TestListLockouts_Returns200(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mock := &mockAdminService{
		ListActiveLockoutsFunc: func(ctx context.Context) ([]models.Lockout, error) {
			return []models.Lockout{
				{Identifier: "buyer@example.com", LockedAt: now, LockedUntil: now.Add(15 * time.Minute), FailureCount: 5, LockoutCount: 1},
			}, nil
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("GET", "/v1/admin/lockouts", nil)
	w := httptest.NewRecorder()
	h.ListLockouts(w, req)

	var resp handlers.LockoutListResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "buyer@example.com", resp.Lockouts[0].Identifier)
}

func TestListLockouts_StorageError_Returns503(t *testing.T) {
	mock := &mockAdminService{
		ListActiveLockoutsFunc: func(ctx context.Context) ([]models.Lockout, error) {
			return nil, models.ErrStorageUnavailable
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("GET", "/v1/admin/lockouts", nil)
	w := httptest.NewRecorder()
	h.ListLockouts(w, req)

	handlers.AssertErrorResponse(t, w, 503, "storage_unavailable")
}

// ── Unlock ────────────────────────────────────────────────────────────────────

func TestUnlock_Returns204(t *testing.T) {
	var unlocked string
	mock := &mockAdminService{
		UnlockFunc: func(ctx context.Context, identifier string) error {
			unlocked = identifier
			return nil
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("DELETE", "/v1/admin/lockouts/buyer@example.com", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"identifier": "buyer@example.com"})
	w := httptest.NewRecorder()
	h.Unlock(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "buyer@example.com", unlocked)
}

func TestUnlock_NoLockout_Returns404(t *testing.T) {
	mock := &mockAdminService{
		UnlockFunc: func(ctx context.Context, identifier string) error {
			return models.ErrNotFound
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("DELETE", "/v1/admin/lockouts/ghost@example.com", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"identifier": "ghost@example.com"})
	w := httptest.NewRecorder()
	h.Unlock(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

// ── ListAttempts ──────────────────────────────────────────────────────────────

func TestListAttempts_DefaultLimit_Returns200(t *testing.T) {
	mock := &mockAdminService{
		RecentAttemptsFunc: func(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error) {
			assert.Equal(t, "buyer@example.com", identifier)
			assert.Equal(t, 50, limit)
			return []models.LoginAttempt{{ID: "a1", Identifier: identifier, Success: false}}, nil
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("GET", "/v1/admin/attempts/buyer@example.com", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"identifier": "buyer@example.com"})
	w := httptest.NewRecorder()
	h.ListAttempts(w, req)

	var resp handlers.AttemptListResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 1, resp.Count)
}

func TestListAttempts_CustomLimit_Passed(t *testing.T) {
	mock := &mockAdminService{
		RecentAttemptsFunc: func(ctx context.Context, identifier string, limit int) ([]models.LoginAttempt, error) {
			assert.Equal(t, 200, limit)
			return []models.LoginAttempt{}, nil
		},
	}
	h := handlers.NewAdminHandler(mock)

	req := httptest.NewRequest("GET", "/v1/admin/attempts/buyer@example.com?limit=200", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"identifier": "buyer@example.com"})
	w := httptest.NewRecorder()
	h.ListAttempts(w, req)

	assert.Equal(t, 200, w.Code)
}

func TestListAttempts_InvalidLimit_Returns400(t *testing.T) {
	h := handlers.NewAdminHandler(&mockAdminService{})

	for _, limit := range []string{"0", "-5", "501", "abc"} {
		req := httptest.NewRequest("GET", "/v1/admin/attempts/buyer@example.com?limit="+limit, nil)
		req = handlers.WithChiRouteContext(req, map[string]string{"identifier": "buyer@example.com"})
		w := httptest.NewRecorder()
		h.ListAttempts(w, req)

		handlers.AssertErrorResponse(t, w, 400, "bad_request")
	}
}
