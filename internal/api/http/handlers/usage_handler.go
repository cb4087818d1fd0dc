package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/dto"
	"github.com/spec-kit/support-automation/internal/service"
)

// UsageHandler serves usage and billing views.
type UsageHandler struct {
	ledger  *service.UsageLedger
	billing *service.BillingService
}

// NewUsageHandler constructs handler.
func NewUsageHandler(ledger *service.UsageLedger, billing *service.BillingService) *UsageHandler {
	return &UsageHandler{ledger: ledger, billing: billing}
}

// Summary GET /v1/usage.
func (h *UsageHandler) Summary(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	summary, err := h.ledger.Summary(c.UserContext(), customerID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.UsageResponse{
		Today:          summary.Today,
		ThisMonth:      summary.ThisMonth,
		AllTime:        summary.AllTime,
		DailyLimit:     summary.DailyLimit,
		RemainingToday: summary.RemainingToday,
		ResetAt:        summary.ResetAt,
	}})
}

// BillingHistory GET /v1/billing/history.
func (h *UsageHandler) BillingHistory(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	invoices, err := h.billing.History(c.UserContext(), customerID)
	if err != nil {
		return err
	}
	out := make([]dto.InvoiceResponse, 0, len(invoices))
	for _, inv := range invoices {
		out = append(out, dto.InvoiceResponse{
			InvoiceID:   inv.InvoiceID,
			Amount:      inv.Amount,
			Currency:    inv.Currency,
			Status:      inv.Status,
			Description: inv.Description,
			IssuedAt:    inv.IssuedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}
