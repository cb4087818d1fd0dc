package domain

import "time"

// KeyStatus enumerates lifecycle states for API keys.
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "ACTIVE"
	KeyStatusRotating KeyStatus = "ROTATING"
	KeyStatusRevoked  KeyStatus = "REVOKED"
)

// Live reports whether a key in this status may still authenticate.
func (s KeyStatus) Live() bool {
	return s == KeyStatusActive || s == KeyStatusRotating
}

// APIKey is the stored credential record. The raw secret is never part of it.
type APIKey struct {
	ID            string
	CustomerID    string
	Name          string
	Prefix        string
	SecretHash    string
	Status        KeyStatus
	CreatedAt     time.Time
	RotatedAt     *time.Time
	GraceEndsAt   *time.Time
	RevokedAt     *time.Time
	LastUsedAt    *time.Time
	PreviousKeyID *string
}

// GraceExpired reports whether a rotating key is past its grace window at now.
func (k *APIKey) GraceExpired(now time.Time) bool {
	if k.Status != KeyStatusRotating || k.GraceEndsAt == nil {
		return false
	}
	return !now.Before(*k.GraceEndsAt)
}

// VerificationOutcome is the result class of a key verification.
type VerificationOutcome string

const (
	VerificationValid   VerificationOutcome = "VALID"
	VerificationInvalid VerificationOutcome = "INVALID"
	VerificationExpired VerificationOutcome = "EXPIRED"
)

// VerificationResult carries the matched key id when the outcome is valid.
type VerificationResult struct {
	Outcome VerificationOutcome
	KeyID   string
}

// Valid reports whether the secret authenticated.
func (r VerificationResult) Valid() bool {
	return r.Outcome == VerificationValid
}
