// Package observability provides logging, metrics, and tracing for the
// experience pipeline.
//
// Features:
//   - Structured logging via slog
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// Metrics and tracing are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger and does nothing.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds event context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "msg-123", "track")
//	enriched.Info("forwarding") // includes message_id, event_type
func EnrichLogger(logger *slog.Logger, messageID, eventType string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("message_id", messageID),
		slog.String("event_type", eventType),
	)
}

// LogDispatch logs a delivered event.
func LogDispatch(logger *slog.Logger, eventType, messageID string, plugins int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("event dispatched",
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.Int("plugins", plugins),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogBlocked logs an event the consent gate refused to forward.
func LogBlocked(logger *slog.Logger, eventType, messageID, reason, state string) {
	if logger == nil {
		return
	}
	logger.Info("event blocked by consent policy",
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.String("reason", reason),
		slog.String("consent", state),
	)
}

// LogRedacted logs fields removed from an event before forwarding.
func LogRedacted(logger *slog.Logger, eventType, messageID, field string, dropped []string) {
	if logger == nil || len(dropped) == 0 {
		return
	}
	logger.Warn("event fields redacted by consent policy",
		slog.String("event_type", eventType),
		slog.String("message_id", messageID),
		slog.String("field", field),
		slog.Any("dropped", dropped),
	)
}

// LogPluginError logs a failed or panicking plugin hook.
func LogPluginError(logger *slog.Logger, plugin, hook string, err error) {
	if logger == nil {
		return
	}
	logger.Error("plugin hook failed",
		slog.String("plugin", plugin),
		slog.String("hook", hook),
		slog.String("error", err.Error()),
	)
}

// LogEmitFailed logs a plugin-emitted event that could not be dispatched.
func LogEmitFailed(logger *slog.Logger, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("emitted event not dispatched",
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogPluginReady logs a plugin reaching the ready state.
func LogPluginReady(logger *slog.Logger, plugin string) {
	if logger == nil {
		return
	}
	logger.Debug("plugin ready", slog.String("plugin", plugin))
}

// LogProfileResolved logs a profile fetched from the profile store.
func LogProfileResolved(logger *slog.Logger, profileID, anonymousID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("profile resolved",
		slog.String("profile_id", profileID),
		slog.String("anonymous_id", anonymousID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogProfileError logs a profile store failure (cache left untouched).
func LogProfileError(logger *slog.Logger, op string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("profile store request failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
}

// LogConsentChanged logs a consent state transition.
func LogConsentChanged(logger *slog.Logger, from, to string) {
	if logger == nil {
		return
	}
	logger.Info("consent changed",
		slog.String("from", from),
		slog.String("to", to),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
