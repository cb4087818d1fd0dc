package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/service"
)

// StartNotificationHandlers registers notification handlers on the dispatcher.
func StartNotificationHandlers(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// NotificationWorker consumes queued ticket notifications and delivers them
// through a Sender, usually the webhook sender.
type NotificationWorker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sender service.Sender
	logger *zap.Logger
}

// NewNotificationWorker builds an asynq server bound to queue.
func NewNotificationWorker(redis asynq.RedisClientOpt, queue string, concurrency int, sender service.Sender, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	w := &NotificationWorker{
		sender: sender,
		logger: logger,
		mux:    asynq.NewServeMux(),
	}
	w.server = asynq.NewServer(redis, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{queue: 1},
		RetryDelayFunc: asynq.DefaultRetryDelayFunc,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("notification task failed", zap.String("task_type", task.Type()), zap.Error(err))
		}),
	})
	w.mux.HandleFunc(service.TypeTicketNotify, w.HandleTicketNotify)
	return w
}

// HandleTicketNotify delivers one queued notification. Undecodable payloads
// are dropped without retry.
func (w *NotificationWorker) HandleTicketNotify(ctx context.Context, task *asynq.Task) error {
	n, err := service.DecodeTicketNotifyTask(task)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := w.sender.Send(ctx, n); err != nil {
		return err
	}
	w.logger.Debug("notification delivered", zap.String("ticket_id", n.TicketID), zap.String("event_type", string(n.Type)))
	return nil
}

// Start runs the server in the background.
func (w *NotificationWorker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown stops fetching tasks and waits for in-flight ones.
func (w *NotificationWorker) Shutdown() {
	w.server.Shutdown()
}
