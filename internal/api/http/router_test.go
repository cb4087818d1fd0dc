package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-automation/internal/api/http/handlers"
	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/observability"
	"github.com/spec-kit/support-automation/internal/repository/memory"
	"github.com/spec-kit/support-automation/internal/service"
	"github.com/spec-kit/support-automation/internal/triage"
)

type testServer struct {
	app    *fiber.App
	tokens *auth.TokenManager
	agents *service.AgentService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher()

	ledger, err := service.NewUsageLedger(service.UsageDependencies{
		Records: memory.NewUsageStore(),
		Config:  config.UsageConfig{DailyLimit: 1000, SnowflakeNode: 1},
		Logger:  logger,
	})
	require.NoError(t, err)
	keys := service.NewKeyService(service.KeyDependencies{
		Store:      memory.NewKeyStore(),
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Config:     config.KeysConfig{DigestPepper: "pepper", SecretPrefix: "sk_", GraceWindow: 24 * time.Hour},
		Logger:     logger,
	})
	billing := service.NewBillingService(memory.NewInvoiceStore(domain.Invoice{
		InvoiceID:  "inv_001",
		CustomerID: "cust-1",
		Amount:     49,
		Currency:   "USD",
		Status:     "paid",
		IssuedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}))
	engine := triage.New(triage.Sources{Usage: ledger, Keys: keys, Invoices: billing}, triage.Options{GraceWindow: keys.GraceWindow()})

	tickets := memory.NewTicketStore()
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   tickets,
		ResponseRepo: tickets.Responses(),
		HistoryRepo:  tickets.History(),
		Triage:       engine,
		Dispatcher:   dispatcher,
		Logger:       logger,
	})
	service.NewNotificationService(dispatcher, service.NewLogSender(logger), logger).RegisterHandlers()

	agentStore := memory.NewAgentStore()
	tokens := auth.NewTokenManager("test-secret", 60)
	agents := service.NewAgentService(config.AuthConfig{BcryptCost: 4}, agentStore, tokens, logger)

	app := fiber.New()
	RegisterMiddlewares(app, logger, observability.NewMetrics(), 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("support-automation", "test", handlers.HealthCheck{Name: "redis"}),
		Keys:           handlers.NewKeysHandler(keys),
		Usage:          handlers.NewUsageHandler(ledger, billing),
		Tickets:        handlers.NewTicketsHandler(ticketService),
		AgentTickets:   handlers.NewAgentTicketsHandler(ticketService),
		AgentAuth:      handlers.NewAgentAuthHandler(agents),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, agentStore),
	})
	return &testServer{app: app, tokens: tokens, agents: agents}
}

func (s *testServer) customerToken(t *testing.T, customerID string) string {
	t.Helper()
	token, _, err := s.tokens.GenerateToken(customerID, domain.SubjectTypeCustomer)
	require.NoError(t, err)
	return token
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers ...string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

type ticketView struct {
	ID        string  `json:"id"`
	State     string  `json:"state"`
	Category  *string `json:"category"`
	Responses []struct {
		AuthorKind string `json:"author_kind"`
		Body       string `json:"body"`
	} `json:"responses"`
}

func TestHealthReportsDisabledDependencies(t *testing.T) {
	srv := newTestServer(t)

	status, _ := srv.do(t, fiber.MethodGet, "/health/live", "", nil)
	require.Equal(t, fiber.StatusOK, status)

	status, _ = srv.do(t, fiber.MethodGet, "/health/ready", "", nil)
	require.Equal(t, fiber.StatusOK, status)
}

func TestKeyLifecycleAndMetering(t *testing.T) {
	srv := newTestServer(t)
	token := srv.customerToken(t, "cust-1")

	status, env := srv.do(t, fiber.MethodPost, "/v1/keys", token, map[string]string{"name": "prod"})
	require.Equal(t, fiber.StatusCreated, status)
	issued := decode[struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
		Status string `json:"status"`
	}](t, env)
	require.Equal(t, "ACTIVE", issued.Status)
	require.NotEmpty(t, issued.Secret)

	status, env = srv.do(t, fiber.MethodPost, "/v1/keys", token, nil)
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "CAPACITY_EXCEEDED", env.Error.Code)

	status, _ = srv.do(t, fiber.MethodPost, "/v1/meter", issued.Secret, map[string]any{"units": 3, "endpoint": "/v1/search"}, "X-Customer-ID", "cust-1")
	require.Equal(t, fiber.StatusAccepted, status)

	status, env = srv.do(t, fiber.MethodPost, "/v1/meter", "sk_wrong", nil, "X-Customer-ID", "cust-1")
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	status, env = srv.do(t, fiber.MethodGet, "/v1/usage", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	usage := decode[struct {
		Today          int64 `json:"today"`
		RemainingToday int64 `json:"remaining_today"`
	}](t, env)
	require.Equal(t, int64(3), usage.Today)
	require.Equal(t, int64(997), usage.RemainingToday)

	status, env = srv.do(t, fiber.MethodPost, "/v1/keys/rotate", token, nil)
	require.Equal(t, fiber.StatusCreated, status)
	rotated := decode[struct {
		Secret string `json:"secret"`
	}](t, env)

	// Both secrets authenticate during the grace window.
	for _, secret := range []string{issued.Secret, rotated.Secret} {
		status, _ = srv.do(t, fiber.MethodPost, "/v1/meter", secret, nil, "X-Customer-ID", "cust-1")
		require.Equal(t, fiber.StatusAccepted, status)
	}

	status, env = srv.do(t, fiber.MethodDelete, "/v1/keys/"+issued.ID, token, nil)
	require.Equal(t, fiber.StatusOK, status)
	status, _ = srv.do(t, fiber.MethodPost, "/v1/meter", issued.Secret, nil, "X-Customer-ID", "cust-1")
	require.Equal(t, fiber.StatusUnauthorized, status)

	status, env = srv.do(t, fiber.MethodGet, "/v1/keys", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	listed := decode[[]map[string]any](t, env)
	require.Len(t, listed, 2)
	for _, k := range listed {
		_, leaked := k["secret"]
		require.False(t, leaked)
	}

	status, env = srv.do(t, fiber.MethodDelete, "/v1/keys/"+issued.ID, srv.customerToken(t, "cust-2"), nil)
	require.Equal(t, fiber.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestTicketAutoAnswerAndEscalationFlow(t *testing.T) {
	srv := newTestServer(t)
	token := srv.customerToken(t, "cust-1")

	status, env := srv.do(t, fiber.MethodPost, "/v1/tickets", token, map[string]string{
		"subject": "Billing question",
		"body":    "Can I see my last invoice?",
	})
	require.Equal(t, fiber.StatusCreated, status)
	answered := decode[ticketView](t, env)
	require.Equal(t, "AUTO_ANSWERED", answered.State)
	require.Len(t, answered.Responses, 1)
	require.Equal(t, "SYSTEM", answered.Responses[0].AuthorKind)
	require.Contains(t, answered.Responses[0].Body, "inv_001")

	status, env = srv.do(t, fiber.MethodPost, "/v1/tickets", token, map[string]string{
		"subject": "Refund",
		"body":    "I want a refund for last month",
	})
	require.Equal(t, fiber.StatusCreated, status)
	escalated := decode[ticketView](t, env)
	require.Equal(t, "ESCALATED", escalated.State)
	require.Empty(t, escalated.Responses)

	status, env = srv.do(t, fiber.MethodGet, "/v1/tickets/"+escalated.ID, srv.customerToken(t, "cust-2"), nil)
	require.Equal(t, fiber.StatusNotFound, status)

	_, err := srv.agents.Register(context.Background(), "Ada", "ada@example.com", "correct-horse-battery")
	require.NoError(t, err)
	status, env = srv.do(t, fiber.MethodPost, "/auth/agents/login", "", map[string]string{
		"email":    "ada@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, fiber.StatusOK, status)
	login := decode[struct {
		Token string `json:"token"`
	}](t, env)

	status, env = srv.do(t, fiber.MethodGet, "/agent/tickets?state=escalated", login.Token, nil)
	require.Equal(t, fiber.StatusOK, status)
	queue := decode[[]ticketView](t, env)
	require.Len(t, queue, 1)
	require.Equal(t, escalated.ID, queue[0].ID)

	path := fmt.Sprintf("/agent/tickets/%s", escalated.ID)
	status, _ = srv.do(t, fiber.MethodPost, path+"/responses", login.Token, map[string]string{"body": "Refund issued."})
	require.Equal(t, fiber.StatusCreated, status)

	status, env = srv.do(t, fiber.MethodPost, path+"/resolve", login.Token, map[string]string{"note": "done"})
	require.Equal(t, fiber.StatusOK, status)
	require.Equal(t, "RESOLVED", decode[ticketView](t, env).State)

	status, env = srv.do(t, fiber.MethodPost, "/v1/tickets/"+escalated.ID+"/replies", token, map[string]string{"body": "thanks"})
	require.Equal(t, fiber.StatusConflict, status)
	require.Equal(t, "INVALID_STATE", env.Error.Code)

	status, env = srv.do(t, fiber.MethodGet, "/v1/tickets/"+escalated.ID, token, nil)
	require.Equal(t, fiber.StatusOK, status)
	final := decode[ticketView](t, env)
	require.Len(t, final.Responses, 2)
	require.Equal(t, "HUMAN", final.Responses[0].AuthorKind)
	require.Equal(t, "done", final.Responses[1].Body)
}

func TestAuthorizationErrors(t *testing.T) {
	srv := newTestServer(t)

	status, env := srv.do(t, fiber.MethodGet, "/v1/keys", "", nil)
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, env = srv.do(t, fiber.MethodGet, "/agent/tickets", srv.customerToken(t, "cust-1"), nil)
	require.Equal(t, fiber.StatusForbidden, status)
	require.Equal(t, "FORBIDDEN", env.Error.Code)

	status, env = srv.do(t, fiber.MethodPost, "/auth/agents/login", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "whatever-long",
	})
	require.Equal(t, fiber.StatusUnauthorized, status)
	require.Equal(t, "INVALID_CREDENTIALS", env.Error.Code)

	status, env = srv.do(t, fiber.MethodGet, "/nope", "", nil)
	require.Equal(t, fiber.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}
