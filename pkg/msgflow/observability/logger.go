// Package observability provides logging, metrics, and tracing for msgflow.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds dispatch context to a logger.
// Returns a new logger with message_id and dispatch_id fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, msgID, dispatchID)
//	enriched.Info("invoking consumers")
func EnrichLogger(logger *slog.Logger, messageID, dispatchID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("message_id", messageID),
		slog.String("dispatch_id", dispatchID),
	)
}

// LogBackpressure logs an enqueue rejected because the buffer is full.
func LogBackpressure(logger *slog.Logger, capacity int) {
	if logger == nil {
		return
	}
	logger.Debug("enqueue rejected: buffer full",
		slog.Int("capacity", capacity),
	)
}

// LogSubscribe logs a committed subscription.
func LogSubscribe(logger *slog.Logger, condition, consumer string, deps []string) {
	if logger == nil {
		return
	}
	logger.Debug("consumer subscribed",
		slog.String("condition", condition),
		slog.String("consumer", consumer),
		slog.Any("depends_on", deps),
	)
}

// LogSubscribeRejected logs a subscription that failed validation.
func LogSubscribeRejected(logger *slog.Logger, condition, consumer string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("subscription rejected",
		slog.String("condition", condition),
		slog.String("consumer", consumer),
		slog.String("error", err.Error()),
	)
}

// LogDispatchStart logs the start of a message dispatch.
func LogDispatchStart(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting")
}

// LogDispatchComplete logs a finished dispatch.
func LogDispatchComplete(logger *slog.Logger, durationMs float64, groups, invocations int) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.Float64("duration_ms", durationMs),
		slog.Int("groups_matched", groups),
		slog.Int("invocations", invocations),
	)
}

// LogInvocationFailed logs a single failed consumer attempt.
func LogInvocationFailed(logger *slog.Logger, consumer string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Debug("consumer attempt failed",
		slog.String("consumer", consumer),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogAbandoned logs a consumer invocation given up after its final attempt.
func LogAbandoned(logger *slog.Logger, condition, consumer string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("consumer invocation abandoned",
		slog.String("condition", condition),
		slog.String("consumer", consumer),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
