package dto

import (
	"time"

	"github.com/spec-kit/support-automation/internal/domain"
)

// CreateKeyRequest payload.
type CreateKeyRequest struct {
	Name string `json:"name"`
}

// KeyResponse describes a key without secret material.
type KeyResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Prefix        string           `json:"prefix"`
	Status        domain.KeyStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
	RotatedAt     *time.Time       `json:"rotated_at,omitempty"`
	GraceEndsAt   *time.Time       `json:"grace_ends_at,omitempty"`
	RevokedAt     *time.Time       `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time       `json:"last_used_at,omitempty"`
	PreviousKeyID *string          `json:"previous_key_id,omitempty"`
}

// IssuedKeyResponse is returned once, when a key is created or rotated.
type IssuedKeyResponse struct {
	KeyResponse
	Secret  string `json:"secret"`
	Warning string `json:"warning"`
}

// MeterRequest records usage against the calling key.
type MeterRequest struct {
	Units    int64  `json:"units"`
	Endpoint string `json:"endpoint"`
}

// UsageRecordResponse acknowledges a metered call.
type UsageRecordResponse struct {
	ID        int64     `json:"id"`
	KeyID     string    `json:"key_id"`
	Units     int64     `json:"units"`
	Endpoint  string    `json:"endpoint,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
