package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/repository"
	"github.com/spec-kit/support-automation/internal/repository/memory"
	"github.com/spec-kit/support-automation/internal/triage"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

type ticketFixture struct {
	*keyFixture
	store   *memory.TicketStore
	tickets *TicketService
	events  *recordedEvents
}

func newTicketFixture(t *testing.T, triager Triager) *ticketFixture {
	t.Helper()
	return newTicketFixtureWith(t, triager, nil)
}

// newTicketFixtureWith lets a test swap repositories before the service is built.
func newTicketFixtureWith(t *testing.T, triager Triager, override func(*TicketDependencies)) *ticketFixture {
	t.Helper()
	kf := newKeyFixture(24 * time.Hour)
	store := memory.NewTicketStore()
	dispatcher := events.NewInMemoryDispatcher()
	rec := recordAll(dispatcher,
		events.EventTicketCreated,
		events.EventTicketAutoAnswered,
		events.EventTicketEscalated,
		events.EventTicketResolved,
	)
	if triager == nil {
		billing := NewBillingService(memory.NewInvoiceStore(domain.Invoice{
			InvoiceID: "inv_1", CustomerID: "cust-1", Amount: 49, Currency: "USD", Status: "PAID", IssuedAt: baseTime,
		}))
		triager = triage.New(triage.Sources{
			Usage:    kf.ledger,
			Keys:     kf.keys,
			Invoices: billing,
		}, triage.Options{GraceWindow: kf.keys.GraceWindow()})
	}
	deps := TicketDependencies{
		TicketRepo:   store,
		ResponseRepo: store.Responses(),
		HistoryRepo:  store.History(),
		Triage:       triager,
		Dispatcher:   dispatcher,
		Clock:        kf.clock.Now,
	}
	if override != nil {
		override(&deps)
	}
	svc := NewTicketService(deps)
	return &ticketFixture{keyFixture: kf, store: store, tickets: svc, events: rec}
}

type panickingTriager struct{}

func (panickingTriager) Decide(context.Context, string, string, string) triage.Decision {
	panic("rule table corrupted")
}

// strictHistory rejects reasons that are not valid UTF-8, the way a Postgres
// TEXT column does.
type strictHistory struct {
	repository.TicketHistoryRepository
	failResolved bool
}

func (h *strictHistory) Create(ctx context.Context, entry *domain.TicketHistory) error {
	if !utf8.ValidString(entry.Reason) {
		return errors.New("invalid byte sequence for encoding UTF8")
	}
	if h.failResolved && entry.ToState == domain.TicketStateResolved {
		return errors.New("connection reset")
	}
	return h.TicketHistoryRepository.Create(ctx, entry)
}

// answerlessTransitions fails every move into AUTO_ANSWERED.
type answerlessTransitions struct {
	*memory.TicketStore
}

func (s answerlessTransitions) Transition(ctx context.Context, ticket *domain.Ticket, expected domain.TicketState) error {
	if ticket.State == domain.TicketStateAutoAnswered {
		return errors.New("write timeout")
	}
	return s.TicketStore.Transition(ctx, ticket, expected)
}

func states(history []domain.TicketHistory) []domain.TicketState {
	out := make([]domain.TicketState, 0, len(history))
	for _, h := range history {
		out = append(out, h.ToState)
	}
	return out
}

func TestCreateKeyResetTicketAutoAnswers(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()
	_, err := f.keys.Create(ctx, "cust-1", "")
	require.NoError(t, err)

	detail, err := f.tickets.Create(ctx, "cust-1", "", "How do I reset my API key?")
	require.NoError(t, err)

	require.Equal(t, domain.TicketStateAutoAnswered, detail.Ticket.State)
	require.NotNil(t, detail.Ticket.Category)
	require.Equal(t, domain.CategoryKeyReset, *detail.Ticket.Category)
	require.Len(t, detail.Responses, 1)
	require.Equal(t, domain.AuthorSystem, detail.Responses[0].AuthorKind)
	require.Contains(t, detail.Responses[0].Body, "Rotate Key")
	require.Contains(t, detail.Responses[0].Body, "ACTIVE")
	require.Equal(t, []domain.TicketState{domain.TicketStateNew, domain.TicketStateAutoAnswered}, states(detail.History))
}

func TestCreateRateLimitTicket(t *testing.T) {
	f := newTicketFixture(t, nil)
	detail, err := f.tickets.Create(context.Background(), "cust-1", "", "I got a 429 error")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateAutoAnswered, detail.Ticket.State)
	require.Equal(t, domain.CategoryRateLimit, *detail.Ticket.Category)
	require.Contains(t, detail.Responses[0].Body, "Daily limit: 1000")
}

func TestCreateRefundTicketEscalates(t *testing.T) {
	f := newTicketFixture(t, nil)
	detail, err := f.tickets.Create(context.Background(), "cust-1", "Invoice", "I want a refund, this is a scam")
	require.NoError(t, err)

	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedRefund, *detail.Ticket.Category)
	require.Empty(t, detail.Responses)
	require.Contains(t, f.events.types(), events.EventTicketEscalated)
}

func TestCreateEmptyTicketEscalates(t *testing.T) {
	f := newTicketFixture(t, nil)
	detail, err := f.tickets.Create(context.Background(), "cust-1", "", "  ...  ")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedEmpty, *detail.Ticket.Category)
}

func TestTriagePanicStillCreatesTicket(t *testing.T) {
	f := newTicketFixture(t, panickingTriager{})
	detail, err := f.tickets.Create(context.Background(), "cust-1", "", "How do I reset my API key?")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedTriageError, *detail.Ticket.Category)
	require.Contains(t, detail.History[len(detail.History)-1].Reason, "rule table corrupted")
}

func TestUnsatisfiedReplyEscalatesAutoAnsweredTicket(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	created, err := f.tickets.Create(ctx, "cust-1", "", "How many requests did I make this month?")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateAutoAnswered, created.Ticket.State)

	detail, err := f.tickets.Reply(ctx, "cust-1", created.Ticket.ID, "That didn't help, I need a human")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedUnsatisfied, *detail.Ticket.Category)

	require.Len(t, detail.Responses, 2)
	require.Equal(t, domain.AuthorSystem, detail.Responses[0].AuthorKind)
	require.Equal(t, domain.AuthorCustomer, detail.Responses[1].AuthorKind)
	require.Less(t, detail.Responses[0].Seq, detail.Responses[1].Seq)
	require.Equal(t, []domain.TicketState{
		domain.TicketStateNew, domain.TicketStateAutoAnswered, domain.TicketStateEscalated,
	}, states(detail.History))
}

func TestAnswerableReplyStaysAutoAnswered(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	created, err := f.tickets.Create(ctx, "cust-1", "", "How do I reset my API key?")
	require.NoError(t, err)

	detail, err := f.tickets.Reply(ctx, "cust-1", created.Ticket.ID, "Also, where can I see my invoice?")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateAutoAnswered, detail.Ticket.State)
	require.Equal(t, domain.CategoryBillingInquiry, *detail.Ticket.Category)
	require.Len(t, detail.Responses, 3)
	require.Equal(t, domain.AuthorSystem, detail.Responses[2].AuthorKind)
	require.Contains(t, detail.Responses[2].Body, "inv_1")
	require.Len(t, detail.History, 2)
}

func TestEscalatedTicketNeverReturnsToAutoAnswered(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	created, err := f.tickets.Create(ctx, "cust-1", "", "I want a refund")
	require.NoError(t, err)

	detail, err := f.tickets.Reply(ctx, "cust-1", created.Ticket.ID, "Actually, how do I reset my API key?")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedRefund, *detail.Ticket.Category)
	require.Len(t, detail.Responses, 1)
	require.Equal(t, domain.AuthorCustomer, detail.Responses[0].AuthorKind)
}

func TestHumanWritePathsRequireEscalated(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	answered, err := f.tickets.Create(ctx, "cust-1", "", "I got a 429 error")
	require.NoError(t, err)
	_, err = f.tickets.AppendHumanResponse(ctx, "agent-1", answered.Ticket.ID, "hello")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	_, err = f.tickets.Resolve(ctx, "agent-1", answered.Ticket.ID, "")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	escalated, err := f.tickets.Create(ctx, "cust-1", "", "the dashboard crashes when I log in")
	require.NoError(t, err)
	require.Equal(t, domain.CategoryEscalatedBugReport, *escalated.Ticket.Category)

	resp, err := f.tickets.AppendHumanResponse(ctx, "agent-1", escalated.Ticket.ID, "Looking into it")
	require.NoError(t, err)
	require.Equal(t, domain.AuthorHuman, resp.AuthorKind)
	require.Equal(t, "agent-1", *resp.AuthorID)

	f.clock.Advance(time.Hour)
	resolved, err := f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, "Fixed in the latest release")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateResolved, resolved.State)
	require.NotNil(t, resolved.ClosedAt)
	require.Equal(t, baseTime.Add(time.Hour), *resolved.ClosedAt)

	_, err = f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, "")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
	_, err = f.tickets.Reply(ctx, "cust-1", escalated.Ticket.ID, "thanks")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))

	detail, err := f.tickets.GetForAgent(ctx, escalated.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, detail.Responses, 2)
	last := detail.History[len(detail.History)-1]
	require.Equal(t, domain.TicketStateEscalated, last.FromState)
	require.Equal(t, domain.TicketStateResolved, last.ToState)
	require.Equal(t, domain.AuthorHuman, last.ChangedByKind)

	require.Contains(t, f.events.types(), events.EventTicketResolved)
}

func TestTicketsAreScopedToCustomer(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	created, err := f.tickets.Create(ctx, "cust-1", "", "I got a 429 error")
	require.NoError(t, err)

	_, err = f.tickets.Get(ctx, "cust-2", created.Ticket.ID)
	require.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	_, err = f.tickets.Reply(ctx, "cust-2", created.Ticket.ID, "hi")
	require.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))

	mine, err := f.tickets.ListForCustomer(ctx, "cust-1", 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	theirs, err := f.tickets.ListForCustomer(ctx, "cust-2", 0, 0)
	require.NoError(t, err)
	require.Empty(t, theirs)
}

func TestListByStateForAgentQueue(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()

	_, err := f.tickets.Create(ctx, "cust-1", "", "I got a 429 error")
	require.NoError(t, err)
	_, err = f.tickets.Create(ctx, "cust-2", "", "refund please")
	require.NoError(t, err)

	escalated := domain.TicketStateEscalated
	queue, err := f.tickets.ListByState(ctx, &escalated, 10, 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, "cust-2", queue[0].CustomerID)

	bogus := domain.TicketState("OPEN")
	_, err = f.tickets.ListByState(ctx, &bogus, 10, 0)
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestResolveWithLongNonASCIINote(t *testing.T) {
	history := &strictHistory{}
	f := newTicketFixtureWith(t, nil, func(d *TicketDependencies) {
		history.TicketHistoryRepository = d.HistoryRepo
		d.HistoryRepo = history
	})
	ctx := context.Background()
	escalated, err := f.tickets.Create(ctx, "cust-1", "Invoice", "I want a refund, this is a scam")
	require.NoError(t, err)

	note := strings.Repeat("é", 200)
	resolved, err := f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, note)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateResolved, resolved.State)

	detail, err := f.tickets.GetForAgent(ctx, escalated.Ticket.ID)
	require.NoError(t, err)
	require.Len(t, detail.Responses, 1)
	require.Equal(t, note, detail.Responses[0].Body)

	last := detail.History[len(detail.History)-1]
	require.Equal(t, domain.TicketStateResolved, last.ToState)
	require.True(t, utf8.ValidString(last.Reason))
	require.Equal(t, 120, utf8.RuneCountInString(last.Reason))
	require.True(t, strings.HasSuffix(last.Reason, "é..."))
	require.Contains(t, f.events.types(), events.EventTicketResolved)
}

func TestResolvePublishesWhenHistoryWriteFails(t *testing.T) {
	history := &strictHistory{failResolved: true}
	f := newTicketFixtureWith(t, nil, func(d *TicketDependencies) {
		history.TicketHistoryRepository = d.HistoryRepo
		d.HistoryRepo = history
	})
	ctx := context.Background()
	escalated, err := f.tickets.Create(ctx, "cust-1", "Invoice", "I want a refund, this is a scam")
	require.NoError(t, err)

	resolved, err := f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, "done")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateResolved, resolved.State)
	require.Contains(t, f.events.types(), events.EventTicketResolved)

	_, err = f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, "")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidState))
}

func TestResolveRejectsOversizedNote(t *testing.T) {
	f := newTicketFixture(t, nil)
	ctx := context.Background()
	escalated, err := f.tickets.Create(ctx, "cust-1", "Invoice", "I want a refund, this is a scam")
	require.NoError(t, err)

	_, err = f.tickets.Resolve(ctx, "agent-1", escalated.Ticket.ID, strings.Repeat("x", maxBodyLength+1))
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	detail, err := f.tickets.GetForAgent(ctx, escalated.Ticket.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Empty(t, detail.Responses)
}

func TestFailedAutoAnswerTransitionRecordsStoredAnswer(t *testing.T) {
	f := newTicketFixtureWith(t, nil, func(d *TicketDependencies) {
		d.TicketRepo = answerlessTransitions{TicketStore: d.TicketRepo.(*memory.TicketStore)}
	})
	ctx := context.Background()

	detail, err := f.tickets.Create(ctx, "cust-1", "", "I got a 429 error")
	require.NoError(t, err)
	require.Equal(t, domain.TicketStateEscalated, detail.Ticket.State)
	require.Equal(t, domain.CategoryEscalatedTriageError, *detail.Ticket.Category)

	require.Len(t, detail.Responses, 1)
	require.Equal(t, domain.AuthorSystem, detail.Responses[0].AuthorKind)
	last := detail.History[len(detail.History)-1]
	require.Equal(t, domain.TicketStateEscalated, last.ToState)
	require.Contains(t, last.Reason, detail.Responses[0].ID)
	require.Contains(t, last.Reason, "was stored")
}
