package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
)

// TypeTicketNotify is the asynq task type carrying a Notification.
const TypeTicketNotify = "ticket:notify"

// Notification tells the support team that a ticket needs, or no longer
// needs, a human.
type Notification struct {
	EventID    string                 `json:"event_id"`
	Type       events.EventType       `json:"type"`
	TicketID   string                 `json:"ticket_id"`
	CustomerID string                 `json:"customer_id"`
	State      domain.TicketState     `json:"state"`
	Category   *domain.TicketCategory `json:"category,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Sender delivers a notification somewhere.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

// NotificationService forwards escalations and resolutions to a Sender.
// Delivery is best effort: failures are logged and never affect the ticket.
type NotificationService struct {
	dispatcher events.Dispatcher
	sender     Sender
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, sender Sender, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		sender:     sender,
		logger:     loggerOrNop(logger),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil || n.sender == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventTicketEscalated, n.handleStateChange)
	n.dispatcher.Subscribe(events.EventTicketResolved, n.handleStateChange)
	n.dispatcher.Subscribe(events.EventKeyCreated, n.handleKeyEvent)
	n.dispatcher.Subscribe(events.EventKeyRotated, n.handleKeyEvent)
	n.dispatcher.Subscribe(events.EventKeyRevoked, n.handleKeyEvent)
}

func (n *NotificationService) handleStateChange(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketStateChangedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload %T for %s", event.Payload, event.Type)
	}
	notification := Notification{
		EventID:    event.ID,
		Type:       event.Type,
		TicketID:   event.TicketID,
		CustomerID: event.CustomerID,
		State:      payload.NewState,
		Category:   payload.Category,
		Reason:     payload.Reason,
		OccurredAt: event.Timestamp,
	}
	if err := n.sender.Send(ctx, notification); err != nil {
		n.logger.Warn("notification delivery failed",
			zap.String("ticket_id", event.TicketID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
	}
	return nil
}

// handleKeyEvent keeps an audit line per key lifecycle change.
func (n *NotificationService) handleKeyEvent(_ context.Context, event events.Event) error {
	payload, _ := event.Payload.(events.KeyLifecyclePayload)
	n.logger.Info("key lifecycle",
		zap.String("event_type", string(event.Type)),
		zap.String("customer_id", event.CustomerID),
		zap.String("key_id", payload.KeyID),
		zap.String("status", string(payload.Status)))
	return nil
}

// LogSender writes notifications to the log.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: loggerOrNop(logger)}
}

func (s *LogSender) Send(_ context.Context, n Notification) error {
	s.logger.Info("ticket notification",
		zap.String("event_type", string(n.Type)),
		zap.String("ticket_id", n.TicketID),
		zap.String("customer_id", n.CustomerID),
		zap.String("state", string(n.State)),
		zap.String("reason", n.Reason))
	return nil
}

// WebhookSender POSTs notifications as JSON.
type WebhookSender struct {
	url     string
	timeout time.Duration
}

// NewWebhookSender builds a WebhookSender.
func NewWebhookSender(url string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSender{url: url, timeout: timeout}
}

func (s *WebhookSender) Send(_ context.Context, n Notification) error {
	agent := fiber.Post(s.url).
		JSON(n).
		Set("X-Event-ID", n.EventID).
		Timeout(s.timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("webhook post: %w", errors.Join(errs...))
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook returned %d: %s", code, stringPreview(string(body), 200))
	}
	return nil
}

// TaskEnqueuer is the part of *asynq.Client used by QueueSender.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSender hands notifications to an asynq queue for a worker to deliver.
type QueueSender struct {
	client TaskEnqueuer
	queue  string
}

// NewQueueSender builds a QueueSender.
func NewQueueSender(client TaskEnqueuer, queue string) *QueueSender {
	if queue == "" {
		queue = "default"
	}
	return &QueueSender{client: client, queue: queue}
}

func (s *QueueSender) Send(ctx context.Context, n Notification) error {
	task, err := NewTicketNotifyTask(n)
	if err != nil {
		return err
	}
	opts := []asynq.Option{asynq.Queue(s.queue), asynq.MaxRetry(5), asynq.Timeout(30 * time.Second)}
	if n.EventID != "" {
		opts = append(opts, asynq.TaskID(n.EventID))
	}
	if _, err := s.client.EnqueueContext(ctx, task, opts...); err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// NewTicketNotifyTask encodes n as an asynq task.
func NewTicketNotifyTask(n Notification) (*asynq.Task, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeTicketNotify, payload), nil
}

// DecodeTicketNotifyTask reverses NewTicketNotifyTask.
func DecodeTicketNotifyTask(task *asynq.Task) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(task.Payload(), &n); err != nil {
		return n, fmt.Errorf("decode %s payload: %w", TypeTicketNotify, err)
	}
	return n, nil
}
