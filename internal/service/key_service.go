package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/repository"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

const (
	secretBytes    = 32
	displayPrefix  = 8
	defaultKeyName = "Default Key"
	rotatedKeyName = "Rotated Key"
)

// KeyService manages the API key lifecycle: issue, rotate with a grace
// window, revoke and verify. Slot mutations are serialized per customer and
// every status change is a compare-and-swap on the store.
type KeyService struct {
	keys   repository.KeyStore
	ledger *UsageLedger
	locks  *keyedMutex
	pepper []byte
	prefix string
	grace  time.Duration
	events publisher
	logger *zap.Logger
	now    Clock
}

// KeyDependencies bundles collaborators for the key service.
type KeyDependencies struct {
	Store repository.KeyStore
	// Ledger receives metered usage; Meter fails without it.
	Ledger     *UsageLedger
	Dispatcher events.Dispatcher
	Config     config.KeysConfig
	Logger     *zap.Logger
	Clock      Clock
}

// IssuedKey is returned once from Create and Rotate. Secret is never stored.
type IssuedKey struct {
	Key    domain.APIKey
	Secret string
}

// NewKeyService constructs the service.
func NewKeyService(deps KeyDependencies) *KeyService {
	logger := loggerOrNop(deps.Logger)
	now := clockOrDefault(deps.Clock)
	prefix := deps.Config.SecretPrefix
	if prefix == "" {
		prefix = "sk_"
	}
	pepper := []byte(deps.Config.DigestPepper)
	if len(pepper) > blake2b.Size {
		sum := blake2b.Sum256(pepper)
		pepper = sum[:]
	}
	return &KeyService{
		keys:   deps.Store,
		ledger: deps.Ledger,
		locks:  newKeyedMutex(),
		pepper: pepper,
		prefix: prefix,
		grace:  deps.Config.GraceWindow,
		events: publisher{dispatcher: deps.Dispatcher, logger: logger, now: now},
		logger: logger,
		now:    now,
	}
}

// GraceWindow returns how long a rotated key keeps authenticating.
func (s *KeyService) GraceWindow() time.Duration {
	return s.grace
}

// Create issues the first key for a customer. A customer that already holds
// an active key must rotate instead.
func (s *KeyService) Create(ctx context.Context, customerID, name string) (*IssuedKey, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.NewValidationError("customer id is required", nil)
	}
	unlock := s.locks.Lock(customerID)
	defer unlock()

	_, err := s.keys.GetByCustomer(ctx, customerID)
	switch {
	case err == nil:
		return nil, apperrors.NewCapacityExceeded("customer already holds an active key; rotate it instead", nil)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.NewInternalError(err)
	}

	if strings.TrimSpace(name) == "" {
		name = defaultKeyName
	}
	issued, err := s.newKey(customerID, name, nil)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	if err := s.keys.Put(ctx, &issued.Key); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperrors.NewCapacityExceeded("customer already holds an active key; rotate it instead", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("api key created", zap.String("customer_id", customerID), zap.String("key_id", issued.Key.ID))
	s.publishKeyEvent(ctx, events.EventKeyCreated, &issued.Key)
	return issued, nil
}

// Rotate issues a new active key and demotes the current one to ROTATING for
// the grace window. A key still rotating from an earlier rotation is revoked
// immediately, so a customer never holds more than one of each.
func (s *KeyService) Rotate(ctx context.Context, customerID string) (*IssuedKey, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, apperrors.NewValidationError("customer id is required", nil)
	}
	unlock := s.locks.Lock(customerID)
	defer unlock()

	current, err := s.keys.GetByCustomer(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("active key", nil)
		}
		return nil, apperrors.NewInternalError(err)
	}

	if err := s.revokeRotating(ctx, customerID); err != nil {
		return nil, err
	}

	now := s.now()
	demoted := *current
	demoted.RotatedAt = &now
	if s.grace > 0 {
		graceEnds := now.Add(s.grace)
		demoted.Status = domain.KeyStatusRotating
		demoted.GraceEndsAt = &graceEnds
	} else {
		demoted.Status = domain.KeyStatusRevoked
		demoted.RevokedAt = &now
	}
	if err := s.keys.CompareAndSwap(ctx, &demoted, domain.KeyStatusActive); err != nil {
		return nil, s.casError(err, "key changed during rotation")
	}

	previousID := current.ID
	issued, err := s.newKey(customerID, rotatedKeyName, &previousID)
	if err == nil {
		err = s.keys.Put(ctx, &issued.Key)
	}
	if err != nil {
		s.restore(ctx, current, demoted.Status)
		return nil, apperrors.NewInternalError(err)
	}

	s.logger.Info("api key rotated",
		zap.String("customer_id", customerID),
		zap.String("key_id", issued.Key.ID),
		zap.String("previous_key_id", previousID))
	s.publishKeyEvent(ctx, events.EventKeyRotated, &issued.Key, withGrace(demoted.GraceEndsAt))
	return issued, nil
}

// Revoke makes a key unusable at once. Revoking an already revoked key
// succeeds. Keys of other customers are reported as not found.
func (s *KeyService) Revoke(ctx context.Context, customerID, keyID string) (*domain.APIKey, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	key, err := s.ownedKey(ctx, customerID, keyID)
	if err != nil {
		return nil, err
	}
	if key.Status == domain.KeyStatusRevoked {
		return redact(key), nil
	}

	revoked, err := s.revoke(ctx, key)
	if err != nil {
		return nil, err
	}
	s.logger.Info("api key revoked", zap.String("customer_id", customerID), zap.String("key_id", keyID))
	return redact(revoked), nil
}

// Verify checks rawSecret against the customer's live keys. Unknown
// customers, unknown secrets and revoked keys are all Invalid; a rotated key
// past its grace window is Expired and is revoked on the spot.
func (s *KeyService) Verify(ctx context.Context, customerID, rawSecret string) (domain.VerificationResult, error) {
	invalid := domain.VerificationResult{Outcome: domain.VerificationInvalid}
	if customerID == "" || !strings.HasPrefix(rawSecret, s.prefix) {
		return invalid, nil
	}
	digest := s.digest(rawSecret)

	live, err := s.keys.ListLiveByCustomer(ctx, customerID)
	if err != nil {
		return invalid, apperrors.NewInternalError(err)
	}
	var match *domain.APIKey
	for i := range live {
		if subtle.ConstantTimeCompare([]byte(live[i].SecretHash), []byte(digest)) == 1 {
			match = &live[i]
		}
	}
	if match == nil {
		return s.classifyMiss(ctx, customerID, digest)
	}

	now := s.now()
	if match.GraceExpired(now) {
		if _, err := s.revoke(ctx, match); err != nil && !apperrors.HasCode(err, apperrors.CodeInvalidState) {
			s.logger.Warn("lazy expiry of rotated key failed", zap.String("key_id", match.ID), zap.Error(err))
		}
		return domain.VerificationResult{Outcome: domain.VerificationExpired}, nil
	}

	if err := s.keys.TouchLastUsed(ctx, match.ID, now); err != nil {
		s.logger.Warn("recording key last use failed", zap.String("key_id", match.ID), zap.Error(err))
	}
	return domain.VerificationResult{Outcome: domain.VerificationValid, KeyID: match.ID}, nil
}

// Authenticate verifies rawSecret and returns the matched key id. Every
// failure maps to the same INVALID_CREDENTIALS error.
func (s *KeyService) Authenticate(ctx context.Context, customerID, rawSecret string) (string, error) {
	result, err := s.Verify(ctx, customerID, rawSecret)
	if err != nil {
		return "", err
	}
	if !result.Valid() {
		return "", apperrors.NewInvalidCredentials()
	}
	return result.KeyID, nil
}

// Meter authenticates the caller's key and records usage against it.
func (s *KeyService) Meter(ctx context.Context, customerID, rawSecret string, units int64, endpoint string) (*domain.UsageRecord, error) {
	if s.ledger == nil {
		return nil, apperrors.NewInternalError(errors.New("usage ledger not configured"))
	}
	keyID, err := s.Authenticate(ctx, customerID, rawSecret)
	if err != nil {
		return nil, err
	}
	return s.ledger.Record(ctx, customerID, keyID, units, time.Time{}, endpoint)
}

// List returns the customer's keys, newest first, without secret digests.
func (s *KeyService) List(ctx context.Context, customerID string) ([]domain.APIKey, error) {
	keys, err := s.keys.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperrors.NewInternalError(err)
	}
	for i := range keys {
		keys[i].SecretHash = ""
	}
	return keys, nil
}

// ExpireGraceKeys revokes every rotated key whose grace window has ended and
// returns how many were revoked.
func (s *KeyService) ExpireGraceKeys(ctx context.Context) (int, error) {
	expired, err := s.keys.ListExpiredRotating(ctx, s.now())
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	revoked := 0
	for i := range expired {
		if _, err := s.revoke(ctx, &expired[i]); err != nil {
			if apperrors.HasCode(err, apperrors.CodeInvalidState) {
				continue
			}
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

func (s *KeyService) newKey(customerID, name string, previousID *string) (*IssuedKey, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := s.prefix + base64.RawURLEncoding.EncodeToString(buf)
	return &IssuedKey{
		Secret: secret,
		Key: domain.APIKey{
			ID:            uuid.NewString(),
			CustomerID:    customerID,
			Name:          name,
			Prefix:        secret[:len(s.prefix)+displayPrefix],
			SecretHash:    s.digest(secret),
			Status:        domain.KeyStatusActive,
			CreatedAt:     s.now(),
			PreviousKeyID: previousID,
		},
	}, nil
}

// digest is a keyed BLAKE2b-256 of the secret, hex encoded.
func (s *KeyService) digest(secret string) string {
	h, err := blake2b.New256(s.pepper)
	if err != nil {
		panic(fmt.Sprintf("blake2b: %v", err))
	}
	h.Write([]byte(secret))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *KeyService) ownedKey(ctx context.Context, customerID, keyID string) (*domain.APIKey, error) {
	key, err := s.keys.GetByID(ctx, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("api key", map[string]any{"key_id": keyID})
		}
		return nil, apperrors.NewInternalError(err)
	}
	if key.CustomerID != customerID {
		return nil, apperrors.NewNotFound("api key", map[string]any{"key_id": keyID})
	}
	return key, nil
}

// revoke CAS-transitions a live key to REVOKED. Losing the race to another
// revocation counts as success.
func (s *KeyService) revoke(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error) {
	now := s.now()
	updated := *key
	updated.Status = domain.KeyStatusRevoked
	updated.RevokedAt = &now
	if err := s.keys.CompareAndSwap(ctx, &updated, key.Status); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			latest, getErr := s.keys.GetByID(ctx, key.ID)
			if getErr == nil && latest.Status == domain.KeyStatusRevoked {
				return latest, nil
			}
		}
		return nil, s.casError(err, "key changed during revocation")
	}
	s.publishKeyEvent(ctx, events.EventKeyRevoked, &updated)
	return &updated, nil
}

func (s *KeyService) revokeRotating(ctx context.Context, customerID string) error {
	live, err := s.keys.ListLiveByCustomer(ctx, customerID)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	for i := range live {
		if live[i].Status != domain.KeyStatusRotating {
			continue
		}
		if _, err := s.revoke(ctx, &live[i]); err != nil {
			return err
		}
	}
	return nil
}

// restore puts a demoted key back to ACTIVE after a failed rotation.
func (s *KeyService) restore(ctx context.Context, original *domain.APIKey, demotedTo domain.KeyStatus) {
	if err := s.keys.CompareAndSwap(ctx, original, demotedTo); err != nil {
		s.logger.Error("restoring key after failed rotation",
			zap.String("customer_id", original.CustomerID),
			zap.String("key_id", original.ID),
			zap.Error(err))
	}
}

// classifyMiss distinguishes a rotated key that aged out from any other
// failure. Both are rejected the same way by Authenticate.
func (s *KeyService) classifyMiss(ctx context.Context, customerID, digest string) (domain.VerificationResult, error) {
	key, err := s.keys.GetByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.VerificationResult{Outcome: domain.VerificationInvalid}, nil
		}
		return domain.VerificationResult{Outcome: domain.VerificationInvalid}, apperrors.NewInternalError(err)
	}
	if key.CustomerID == customerID && key.Status == domain.KeyStatusRevoked &&
		key.GraceEndsAt != nil && key.RevokedAt != nil && !key.RevokedAt.Before(*key.GraceEndsAt) {
		return domain.VerificationResult{Outcome: domain.VerificationExpired}, nil
	}
	return domain.VerificationResult{Outcome: domain.VerificationInvalid}, nil
}

func (s *KeyService) casError(err error, message string) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("api key", nil)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewInvalidState(message, nil)
	default:
		return apperrors.NewInternalError(err)
	}
}

type keyEventOption func(*events.KeyLifecyclePayload)

func withGrace(graceEndsAt *time.Time) keyEventOption {
	return func(p *events.KeyLifecyclePayload) { p.GraceEndsAt = graceEndsAt }
}

func (s *KeyService) publishKeyEvent(ctx context.Context, eventType events.EventType, key *domain.APIKey, opts ...keyEventOption) {
	payload := events.KeyLifecyclePayload{
		KeyID:         key.ID,
		Status:        key.Status,
		PreviousKeyID: key.PreviousKeyID,
	}
	for _, opt := range opts {
		opt(&payload)
	}
	s.events.publish(ctx, events.Event{
		Type:       eventType,
		CustomerID: key.CustomerID,
		Actor:      customerActor(key.CustomerID),
		Payload:    payload,
	})
}

func redact(key *domain.APIKey) *domain.APIKey {
	cp := *key
	cp.SecretHash = ""
	return &cp
}
