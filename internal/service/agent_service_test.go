package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository/memory"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

func newAgentService() (*AgentService, *memory.AgentStore, *auth.TokenManager) {
	store := memory.NewAgentStore()
	tokens := auth.NewTokenManager("test-secret", 15)
	return NewAgentService(config.AuthConfig{BcryptCost: 4}, store, tokens, nil), store, tokens
}

func TestAgentRegisterAndLogin(t *testing.T) {
	svc, _, tokens := newAgentService()
	ctx := context.Background()

	agent, err := svc.Register(ctx, "Dana", " Dana@Example.com ", "long-enough-pass")
	require.NoError(t, err)
	require.Equal(t, "dana@example.com", agent.Email)
	require.NotEqual(t, "long-enough-pass", agent.PasswordHash)

	session, err := svc.Login(ctx, "DANA@example.com", "long-enough-pass")
	require.NoError(t, err)
	require.Equal(t, agent.ID, session.Agent.ID)

	claims, err := tokens.ParseToken(session.Token)
	require.NoError(t, err)
	require.Equal(t, domain.SubjectTypeAgent, claims.Kind)
	require.Equal(t, agent.ID, claims.Subject)

	_, err = svc.Register(ctx, "Dana Again", "dana@example.com", "long-enough-pass")
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestAgentLoginFailuresLookAlike(t *testing.T) {
	svc, store, _ := newAgentService()
	ctx := context.Background()

	agent, err := svc.Register(ctx, "Lee", "lee@example.com", "long-enough-pass")
	require.NoError(t, err)

	_, err = svc.Login(ctx, "lee@example.com", "wrong-password")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidCredentials))
	_, err = svc.Login(ctx, "nobody@example.com", "long-enough-pass")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidCredentials))

	inactive := *agent
	inactive.ID = "agent-off"
	inactive.Email = "off@example.com"
	inactive.Active = false
	require.NoError(t, store.Create(ctx, &inactive))
	_, err = svc.Login(ctx, "off@example.com", "long-enough-pass")
	require.True(t, apperrors.HasCode(err, apperrors.CodeInvalidCredentials))
}

func TestAgentRegisterValidation(t *testing.T) {
	svc, _, _ := newAgentService()
	ctx := context.Background()

	_, err := svc.Register(ctx, "", "x@example.com", "long-enough-pass")
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.Register(ctx, "X", "not-an-email", "long-enough-pass")
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
	_, err = svc.Register(ctx, "X", "x@example.com", "short")
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestIssueCustomerToken(t *testing.T) {
	svc, _, tokens := newAgentService()

	token, exp, err := svc.IssueCustomerToken("cust-42")
	require.NoError(t, err)
	require.True(t, exp.After(time.Now()))
	claims, err := tokens.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, domain.SubjectTypeCustomer, claims.Kind)
	require.Equal(t, "cust-42", claims.Subject)

	_, _, err = svc.IssueCustomerToken(" ")
	require.True(t, apperrors.HasCode(err, apperrors.CodeValidation))
}

func TestBillingHistoryNewestFirstCapped(t *testing.T) {
	store := memory.NewInvoiceStore()
	for i := 0; i < 15; i++ {
		store.Add(domain.Invoice{
			InvoiceID:  "inv",
			CustomerID: "cust-1",
			Amount:     float64(i),
			Currency:   "USD",
			Status:     "PAID",
			IssuedAt:   baseTime.AddDate(0, -i, 0),
		})
	}
	store.Add(domain.Invoice{InvoiceID: "other", CustomerID: "cust-2", IssuedAt: baseTime})

	history, err := NewBillingService(store).History(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Len(t, history, 12)
	require.Equal(t, baseTime, history[0].IssuedAt)
	require.Equal(t, "API Usage", history[0].Description)
	for i := 1; i < len(history); i++ {
		require.True(t, history[i-1].IssuedAt.After(history[i].IssuedAt))
	}
}
