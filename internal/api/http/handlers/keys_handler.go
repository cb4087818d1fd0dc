package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/dto"
	"github.com/spec-kit/support-automation/internal/auth"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/service"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

const headerCustomerID = "X-Customer-ID"

// KeysHandler manages customer API keys and metering.
type KeysHandler struct {
	keys *service.KeyService
}

// NewKeysHandler constructs handler.
func NewKeysHandler(keys *service.KeyService) *KeysHandler {
	return &KeysHandler{keys: keys}
}

// CreateKey POST /v1/keys.
func (h *KeysHandler) CreateKey(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	var req dto.CreateKeyRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	issued, err := h.keys.Create(c.UserContext(), customerID, req.Name)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": issuedKeyResponse(issued)})
}

// RotateKey POST /v1/keys/rotate.
func (h *KeysHandler) RotateKey(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	issued, err := h.keys.Rotate(c.UserContext(), customerID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": issuedKeyResponse(issued)})
}

// ListKeys GET /v1/keys.
func (h *KeysHandler) ListKeys(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	keys, err := h.keys.List(c.UserContext(), customerID)
	if err != nil {
		return err
	}
	out := make([]dto.KeyResponse, 0, len(keys))
	for i := range keys {
		out = append(out, keyResponse(&keys[i]))
	}
	return c.JSON(fiber.Map{"data": out})
}

// RevokeKey DELETE /v1/keys/:id.
func (h *KeysHandler) RevokeKey(c *fiber.Ctx) error {
	customerID, err := customerPrincipal(c)
	if err != nil {
		return err
	}
	key, err := h.keys.Revoke(c.UserContext(), customerID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": keyResponse(key)})
}

// Meter POST /v1/meter. The caller authenticates with its API key.
func (h *KeysHandler) Meter(c *fiber.Ctx) error {
	customerID := strings.TrimSpace(c.Get(headerCustomerID))
	if customerID == "" {
		return apperrors.NewUnauthorized("missing " + headerCustomerID + " header")
	}
	secret, err := auth.BearerToken(c)
	if err != nil {
		return err
	}
	req := dto.MeterRequest{Units: 1}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.Endpoint == "" {
		req.Endpoint = c.Get("X-Endpoint")
	}
	record, err := h.keys.Meter(c.UserContext(), customerID, secret, req.Units, req.Endpoint)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"data": dto.UsageRecordResponse{
		ID:        record.ID,
		KeyID:     record.KeyID,
		Units:     record.Units,
		Endpoint:  record.Endpoint,
		Timestamp: record.Timestamp,
	}})
}

func keyResponse(k *domain.APIKey) dto.KeyResponse {
	return dto.KeyResponse{
		ID:            k.ID,
		Name:          k.Name,
		Prefix:        k.Prefix,
		Status:        k.Status,
		CreatedAt:     k.CreatedAt,
		RotatedAt:     k.RotatedAt,
		GraceEndsAt:   k.GraceEndsAt,
		RevokedAt:     k.RevokedAt,
		LastUsedAt:    k.LastUsedAt,
		PreviousKeyID: k.PreviousKeyID,
	}
}

func issuedKeyResponse(issued *service.IssuedKey) dto.IssuedKeyResponse {
	return dto.IssuedKeyResponse{
		KeyResponse: keyResponse(&issued.Key),
		Secret:      issued.Secret,
		Warning:     "Store this key now. It will not be shown again.",
	}
}
