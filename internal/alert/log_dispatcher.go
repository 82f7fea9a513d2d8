package alert

import (
	"context"
	"log/slog"

	"vigil/internal/abuse/models"
)

// LogDispatcher writes alerts to the structured logger. It is the default
// channel and also the fallback recording layer when webhook delivery
// fails upstream.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher creates a logger-backed dispatcher.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, a Alert) error {
	level := slog.LevelInfo
	switch a.Severity {
	case models.SeverityWarning:
		level = slog.LevelWarn
	case models.SeverityCritical:
		level = slog.LevelError
	}
	d.logger.Log(ctx, level, "security alert",
		"alert_id", a.ID,
		"alert_type", a.Type,
		"severity", a.Severity,
		"subject", a.Subject,
		"timestamp", a.Timestamp,
		"log_type", "alert",
	)
	return nil
}
