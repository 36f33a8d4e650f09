package audit

import (
	"context"
	"log/slog"
)

// Publisher delivers committed outcome events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// LogPublisher writes events to a structured logger. It is the sink used when
// no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.InfoContext(ctx, "verification outcome",
		"event_id", e.ID.String(),
		"request_id", e.RequestID,
		"community_id", e.CommunityID,
		"subject_id", e.SubjectID,
		"outcome", e.Outcome,
		"risk_score", e.RiskScore,
		"client_browser", e.Client.Browser,
		"client_bot", e.Client.Bot,
	)
	return nil
}
