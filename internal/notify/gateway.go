package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogGateway satisfies Gateway by writing messages to the log. The real
// SMS/email collaborator is an external service; this is the wiring used
// until one is configured.
type LogGateway struct {
	logger *zap.SugaredLogger
}

func NewLogGateway(logger *zap.SugaredLogger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Deliver(_ context.Context, recipient, message string) error {
	g.logger.Infow("notification delivered", "recipient", recipient, "message", message)
	return nil
}
