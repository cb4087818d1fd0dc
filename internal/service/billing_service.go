package service

import (
	"context"
	"strings"

	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// billingHistoryLimit covers a year of monthly invoices.
const billingHistoryLimit = 12

// BillingService exposes read-only billing history.
type BillingService struct {
	invoices repository.InvoiceRepository
}

// NewBillingService constructs the service.
func NewBillingService(invoices repository.InvoiceRepository) *BillingService {
	return &BillingService{invoices: invoices}
}

// History returns the customer's most recent invoices, newest first.
func (s *BillingService) History(ctx context.Context, customerID string) ([]domain.Invoice, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.NewValidationError("customer id is required", nil)
	}
	invoices, err := s.invoices.ListByCustomer(ctx, customerID, billingHistoryLimit)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	for i := range invoices {
		if invoices[i].Description == "" {
			invoices[i].Description = "API Usage"
		}
	}
	return invoices, nil
}
