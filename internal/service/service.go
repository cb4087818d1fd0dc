package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
)

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

func clockOrDefault(c Clock) Clock {
	if c == nil {
		return utcNow
	}
	return func() time.Time { return c().UTC() }
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// publisher stamps and publishes events. Delivery problems never reach the caller.
type publisher struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	now        Clock
}

func (p publisher) publish(ctx context.Context, event events.Event) {
	if p.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if err := p.dispatcher.Publish(ctx, event); err != nil {
		p.logger.Warn("publish event failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
}

func systemActor() events.Actor {
	return events.Actor{Kind: domain.AuthorSystem}
}

func customerActor(customerID string) events.Actor {
	return events.Actor{Kind: domain.AuthorCustomer, ID: &customerID}
}

func agentActor(agentID string) events.Actor {
	return events.Actor{Kind: domain.AuthorHuman, ID: &agentID}
}

func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
