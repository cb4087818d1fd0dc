package triage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
)

func (e *Engine) render(ctx context.Context, customerID string, category domain.TicketCategory) (string, error) {
	switch category {
	case domain.CategoryKeyReset:
		return e.keyResetAnswer(ctx, customerID)
	case domain.CategoryUsageInquiry:
		return e.usageAnswer(ctx, customerID)
	case domain.CategoryBillingInquiry:
		return e.billingAnswer(ctx, customerID)
	case domain.CategoryRateLimit:
		return e.rateLimitAnswer(ctx, customerID)
	default:
		return "", fmt.Errorf("no answer template for category %s", category)
	}
}

func (e *Engine) keyResetAnswer(ctx context.Context, customerID string) (string, error) {
	var b strings.Builder
	b.WriteString("To rotate your API key:\n")
	b.WriteString("1. Open the 'API Keys' tab\n")
	b.WriteString("2. Click 'Rotate Key' next to your current key\n")
	b.WriteString("3. Copy the new key immediately, it is shown only once\n\n")
	if e.graceWindow > 0 {
		fmt.Fprintf(&b, "Your previous key keeps working for %s after rotation so you can update your integrations, then it is revoked automatically.\n", humanDuration(e.graceWindow))
	} else {
		b.WriteString("Your previous key is revoked as soon as the new one is issued.\n")
	}

	if e.sources.Keys == nil {
		return b.String(), nil
	}
	keys, err := e.sources.Keys.List(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("list keys: %w", err)
	}
	var active, rotating *domain.APIKey
	for i := range keys {
		switch keys[i].Status {
		case domain.KeyStatusActive:
			active = &keys[i]
		case domain.KeyStatusRotating:
			rotating = &keys[i]
		}
	}
	b.WriteString("\n")
	switch {
	case active != nil:
		fmt.Fprintf(&b, "Current key: %s... (ACTIVE since %s)\n", active.Prefix, active.CreatedAt.UTC().Format(time.DateOnly))
	default:
		b.WriteString("You have no active key right now. Create one from the 'API Keys' tab.\n")
	}
	if rotating != nil && rotating.GraceEndsAt != nil {
		fmt.Fprintf(&b, "Previous key %s... stops working at %s.\n", rotating.Prefix, rotating.GraceEndsAt.UTC().Format(time.RFC3339))
	}
	return b.String(), nil
}

func (e *Engine) usageAnswer(ctx context.Context, customerID string) (string, error) {
	var b strings.Builder
	b.WriteString("You can view your usage statistics on the 'Usage' tab of the dashboard.\n")
	if e.sources.Usage == nil {
		return b.String(), nil
	}
	summary, err := e.sources.Usage.Summary(ctx, customerID)
	if err != nil {
		return "", fmt.Errorf("usage summary: %w", err)
	}
	b.WriteString("\nYour current figures:\n")
	fmt.Fprintf(&b, "- Today: %d requests\n", summary.Today)
	fmt.Fprintf(&b, "- This month: %d requests\n", summary.ThisMonth)
	fmt.Fprintf(&b, "- All time: %d requests\n", summary.AllTime)
	return b.String(), nil
}

func (e *Engine) billingAnswer(ctx context.Context, customerID string) (string, error) {
	var b strings.Builder
	b.WriteString("Your billing history is available in the 'Billing' tab, with invoices for the last 12 months and their payment status.\n")
	if e.sources.Invoices != nil {
		invoices, err := e.sources.Invoices.History(ctx, customerID)
		if err != nil {
			return "", fmt.Errorf("billing history: %w", err)
		}
		if len(invoices) > 0 {
			latest := invoices[0]
			fmt.Fprintf(&b, "\nLatest invoice %s: %.2f %s, %s, issued %s.\n",
				latest.InvoiceID, latest.Amount, latest.Currency, strings.ToLower(latest.Status),
				latest.IssuedAt.UTC().Format(time.DateOnly))
		}
	}
	b.WriteString("\nFor disputes, reply to this ticket and a member of the team will pick it up.\n")
	return b.String(), nil
}

func (e *Engine) rateLimitAnswer(ctx context.Context, customerID string) (string, error) {
	var b strings.Builder
	b.WriteString("A 429 response means you have hit your request limit.\n")
	if e.sources.Usage != nil {
		summary, err := e.sources.Usage.Summary(ctx, customerID)
		if err != nil {
			return "", fmt.Errorf("usage summary: %w", err)
		}
		fmt.Fprintf(&b, "\nDaily limit: %d requests\nRemaining today: %d\n", summary.DailyLimit, summary.RemainingToday)
		if summary.ResetAt != nil {
			fmt.Fprintf(&b, "Resets at: %s\n", summary.ResetAt.UTC().Format(time.RFC3339))
		}
	} else {
		b.WriteString("Limits reset at midnight UTC.\n")
	}
	b.WriteString("\nRetry with exponential backoff and honour the Retry-After header. To raise your limit, upgrade your plan or reply here for a custom limit.\n")
	return b.String(), nil
}

func humanDuration(d time.Duration) string {
	if d%time.Hour == 0 {
		hours := int(d / time.Hour)
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return d.String()
}
