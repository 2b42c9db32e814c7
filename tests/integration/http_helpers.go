package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/covella/loginguard/internal/auth"
	"github.com/covella/loginguard/internal/database"
	"github.com/covella/loginguard/internal/handlers"
	middlewareCustom "github.com/covella/loginguard/internal/middleware"
	"github.com/covella/loginguard/internal/routes"
	"github.com/covella/loginguard/internal/services"
	pkghttp "github.com/covella/loginguard/pkg/http"
	pkglogger "github.com/covella/loginguard/pkg/logger"
)

const testAdminSecret = "test-secret-32-characters-long-xx"

// TestServer wraps httptest.Server with database and all dependencies
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	Guard        *services.GuardService
	TokenManager *auth.TokenManager

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server against a real database
func NewTestServer(db *database.DB) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	attemptRepo, lockoutRepo := InitializeRepositories(db)

	guardConfig := services.GuardConfig{
		Policy: services.LockoutPolicy{
			FailureThreshold:       5,
			LockoutDuration:        15 * time.Minute,
			FailureWindow:          30 * time.Minute,
			ProgressiveMultiplier:  4.0,
			MaxLockoutDuration:     24 * time.Hour,
			ProgressiveResetPeriod: 7 * 24 * time.Hour,
		},
		MaxFailuresPerIP: 30,
		StorageTimeout:   2 * time.Second,
		RetryBackoff:     10 * time.Millisecond,
	}

	auditLogger := pkglogger.NewAuditLogger(logger)

	guardService, err := services.NewGuardService(attemptRepo, lockoutRepo, guardConfig, nil, logger, auditLogger)
	if err != nil {
		return nil, err
	}

	tokenManager := auth.NewTokenManager(testAdminSecret)

	ipConfig := &pkghttp.IPConfig{}
	guardHandler := handlers.NewGuardHandler(guardService, ipConfig)
	adminHandler := handlers.NewAdminHandler(guardService)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders("test"))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(15 * time.Second))

	routes.RegisterRoutes(r, guardHandler, adminHandler, tokenManager)

	return &TestServer{
		Server:       httptest.NewServer(r),
		DB:           db,
		Guard:        guardService,
		TokenManager: tokenManager,
		logger:       logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an admin HTTP request with a bearer token
func (ts *TestServer) RequestWithAuth(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}
