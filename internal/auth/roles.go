package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/domain"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// RequireCustomer ensures a customer token authenticated the request.
func RequireCustomer() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.Kind != domain.SubjectTypeCustomer || principal.CustomerID == "" {
			return apperrors.NewForbidden("customer required")
		}
		return c.Next()
	}
}

// RequireAgent ensures an active support agent authenticated the request.
func RequireAgent() fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok || principal.Kind != domain.SubjectTypeAgent || principal.Agent == nil {
			return apperrors.NewForbidden("support agent required")
		}
		return c.Next()
	}
}
