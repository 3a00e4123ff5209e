package notify

import (
	"context"
	"sync"

	"keystone/internal/domain"

	"go.uber.org/zap"
)

// LogDispatcher hands notifications to the operational log. It stands in
// where no external notification service is wired up.
type LogDispatcher struct {
	Log *zap.Logger
}

func (d *LogDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	logger := d.Log
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Warn("user notification dispatched",
		zap.String("severity", string(n.Severity)),
		zap.String("reason", n.Reason),
		zap.String("kid", n.KeyID),
		zap.Int("affected_tokens", n.AffectedTokens),
		zap.Strings("actions", n.Actions),
		zap.String("message", n.Message),
	)
	return nil
}

// Memory records dispatched notifications for tests and local runs.
type Memory struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (m *Memory) Dispatch(ctx context.Context, n domain.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *Memory) Sent() []domain.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}
