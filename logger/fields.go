package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across troupe.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldExecutionID = "execution_id"
	FieldPersonaID   = "persona_id"
	FieldProjectID   = "project_id"
	FieldWorkerID    = "worker_id"
	FieldEventID     = "event_id"
	FieldTriggerID   = "trigger_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldTopic     = "topic"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"
	FieldSize  = "size"

	// Status
	FieldStatus = "status"
	FieldState  = "state"

	// Network
	FieldAddress = "address"
	FieldPort    = "port"
)

type contextKey string

const requestIDKey contextKey = "logger_request_id"

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromContext returns a logger carrying any request ID found in the context.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		return Logger.With(FieldRequestID, requestID)
	}
	return Logger
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Dispatcher struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewDispatcher() *Dispatcher {
//	    return &Dispatcher{
//	        logger: logger.ComponentLogger("dispatch"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// ChildLogger creates a child logger with additional context fields.
//
// Example:
//
//	execLogger := logger.ChildLogger(baseLogger, logger.FieldExecutionID, exec.ID)
func ChildLogger(parent *zap.SugaredLogger, keysAndValues ...interface{}) *zap.SugaredLogger {
	return parent.With(keysAndValues...)
}
