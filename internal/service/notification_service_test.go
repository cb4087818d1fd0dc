package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (s *captureSender) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

type captureEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (c *captureEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	c.tasks = append(c.tasks, task)
	return &asynq.TaskInfo{}, c.err
}

func TestNotificationsFollowEscalationAndResolution(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sender := &captureSender{err: errors.New("pager down")}
	NewNotificationService(dispatcher, sender, nil).RegisterHandlers()

	f := newTicketFixture(t, nil)
	tickets := NewTicketService(TicketDependencies{
		TicketRepo:   f.store,
		ResponseRepo: f.store.Responses(),
		HistoryRepo:  f.store.History(),
		Dispatcher:   dispatcher,
		Clock:        f.clock.Now,
	})

	ctx := context.Background()
	detail, err := tickets.Create(ctx, "cust-1", "", "anything")
	require.NoError(t, err, "sender failures must not fail the transition")
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)

	_, err = tickets.Resolve(ctx, "agent-1", detail.Ticket.ID, "")
	require.NoError(t, err)

	require.Len(t, sender.sent, 2)
	require.Equal(t, events.EventTicketEscalated, sender.sent[0].Type)
	require.Equal(t, domain.TicketStateEscalated, sender.sent[0].State)
	require.Equal(t, domain.CategoryEscalatedTriageError, *sender.sent[0].Category)
	require.Equal(t, events.EventTicketResolved, sender.sent[1].Type)
	require.Equal(t, detail.Ticket.ID, sender.sent[1].TicketID)
}

func TestAutoAnsweredTicketDoesNotNotify(t *testing.T) {
	dispatcher := events.NewInMemoryDispatcher()
	sender := &captureSender{}
	NewNotificationService(dispatcher, sender, nil).RegisterHandlers()

	f := newTicketFixture(t, nil)
	tickets := NewTicketService(TicketDependencies{
		TicketRepo:   f.store,
		ResponseRepo: f.store.Responses(),
		HistoryRepo:  f.store.History(),
		Triage:       f.tickets.triage,
		Dispatcher:   dispatcher,
	})
	_, err := tickets.Create(context.Background(), "cust-1", "", "I got a 429 error")
	require.NoError(t, err)
	require.Empty(t, sender.sent)
}

func TestQueueSenderEnqueuesTask(t *testing.T) {
	enqueuer := &captureEnqueuer{}
	sender := NewQueueSender(enqueuer, "notifications")
	category := domain.CategoryEscalatedRefund
	n := Notification{EventID: "evt-1", Type: events.EventTicketEscalated, TicketID: "t-1", Category: &category}

	require.NoError(t, sender.Send(context.Background(), n))
	require.Len(t, enqueuer.tasks, 1)
	require.Equal(t, TypeTicketNotify, enqueuer.tasks[0].Type())

	decoded, err := DecodeTicketNotifyTask(enqueuer.tasks[0])
	require.NoError(t, err)
	require.Equal(t, "t-1", decoded.TicketID)
	require.Equal(t, category, *decoded.Category)

	enqueuer.err = asynq.ErrTaskIDConflict
	require.NoError(t, sender.Send(context.Background(), n))
	enqueuer.err = errors.New("redis down")
	require.Error(t, sender.Send(context.Background(), n))
}

func TestWebhookSenderPostsJSON(t *testing.T) {
	var got Notification
	var eventID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		eventID = r.Header.Get("X-Event-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.URL, time.Second)
	err := sender.Send(context.Background(), Notification{EventID: "evt-9", TicketID: "t-9", State: domain.TicketStateResolved})
	require.NoError(t, err)
	require.Equal(t, "t-9", got.TicketID)
	require.Equal(t, domain.TicketStateResolved, got.State)
	require.Equal(t, "evt-9", eventID)
}

func TestWebhookSenderReportsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	err := NewWebhookSender(server.URL, time.Second).Send(context.Background(), Notification{TicketID: "t-1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}
