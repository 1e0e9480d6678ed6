package notify

import (
	"context"
	"log/slog"

	"dealflow/internal/domain"
)

// LogObserver writes every notification to a structured logger.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) Observe(ctx context.Context, n domain.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	if n.Severity == domain.SeverityError {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, n.Message, "kind", n.Kind, "severity", string(n.Severity), "deal_id", n.DealID, "celebrate", n.Celebrate)
	return nil
}
