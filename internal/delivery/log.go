package delivery

import (
	"context"

	"recibod/pkg/logx"
)

// LogSender writes every would-be delivery to the log and counts all tokens
// as sent. Meant for development and for environments without a gateway.
type LogSender struct {
	log logx.Logger
}

func NewLogSender(log logx.Logger) *LogSender {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, tokens []string, p Payload) (int, int, error) {
	s.log.Info("delivery (log mode)",
		logx.Int("tokens", len(tokens)),
		logx.String("title", p.Title),
		logx.String("body", p.Body),
		logx.Any("data", p.Data),
	)
	return len(tokens), 0, nil
}
