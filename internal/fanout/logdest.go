package fanout

import (
	"context"

	"go.uber.org/zap"
)

// LogDestination writes every event to the structured log. Always enabled; it
// doubles as the destination of last resort when no external sink is
// configured.
type LogDestination struct {
	logger *zap.Logger
}

// NewLogDestination constructs a LogDestination.
func NewLogDestination(logger *zap.Logger) *LogDestination {
	return &LogDestination{logger: logger.Named("events")}
}

func (l *LogDestination) Name() string                   { return "log" }
func (l *LogDestination) Enabled() bool                  { return true }
func (l *LogDestination) Init(context.Context) error     { return nil }
func (l *LogDestination) Close() error                   { return nil }

func (l *LogDestination) Track(_ context.Context, event string, props Properties) error {
	l.logger.Info("track", zap.String("event", event), zap.Any("properties", props))
	return nil
}

func (l *LogDestination) Page(_ context.Context, name string, props Properties) error {
	l.logger.Info("page", zap.String("name", name), zap.Any("properties", props))
	return nil
}

func (l *LogDestination) Identify(_ context.Context, userID string, traits Properties) error {
	l.logger.Info("identify", zap.String("user_id", userID), zap.Any("traits", traits))
	return nil
}

func (l *LogDestination) SetUserProperties(_ context.Context, props Properties) error {
	l.logger.Info("set_user_properties", zap.Any("properties", props))
	return nil
}

func (l *LogDestination) Reset(context.Context) error {
	l.logger.Info("reset")
	return nil
}

func (l *LogDestination) CaptureException(_ context.Context, err error, meta Properties) error {
	l.logger.Error("exception", zap.Error(err), zap.Any("meta", meta))
	return nil
}
