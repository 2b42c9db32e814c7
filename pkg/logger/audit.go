package logger

import (
	"context"
	"log/slog"
	"time"
)

// AttemptEvent describes one login attempt for the audit trail
type AttemptEvent struct {
	Identifier    string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
}

// AuditLogger emits structured security audit events
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogLoginAttempt logs the outcome of a single login attempt
func (al *AuditLogger) LogLoginAttempt(event AttemptEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "login_attempt"),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Identifier != "" {
		// High-volume event; the identifier is masked here and only
		// logged in full on lockout events.
		attrs = append(attrs, slog.String("identifier", SanitizedIdentifier(event.Identifier)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogLockoutOpened logs a new lockout window
func (al *AuditLogger) LogLockoutOpened(identifier, ipAddress string, failures int, until time.Time) {
	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit",
		slog.String("audit_type", "lockout_opened"),
		slog.String("identifier", identifier),
		slog.String("ip_address", ipAddress),
		slog.Int("failure_count", failures),
		slog.String("locked_until", until.UTC().Format(time.RFC3339)),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

// LogUnlock logs an administrative lockout clear
func (al *AuditLogger) LogUnlock(identifier string) {
	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("audit_type", "lockout_cleared"),
		slog.String("identifier", identifier),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}
