package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// GraceExpirer revokes rotated keys whose grace window has ended.
type GraceExpirer interface {
	ExpireGraceKeys(ctx context.Context) (int, error)
}

// KeySweeper periodically revokes expired rotating keys. Verification
// enforces expiry on its own; the sweep keeps stored statuses current.
type KeySweeper struct {
	keys     GraceExpirer
	interval time.Duration
	logger   *zap.Logger
}

// NewKeySweeper builds a sweeper.
func NewKeySweeper(keys GraceExpirer, interval time.Duration, logger *zap.Logger) *KeySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeySweeper{keys: keys, interval: interval, logger: logger}
}

// Run sweeps until ctx is cancelled.
func (s *KeySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns the number of revoked keys.
func (s *KeySweeper) SweepOnce(ctx context.Context) int {
	n, err := s.keys.ExpireGraceKeys(ctx)
	if err != nil {
		s.logger.Warn("key sweep failed", zap.Error(err))
	}
	if n > 0 {
		s.logger.Info("revoked expired rotating keys", zap.Int("count", n))
	}
	return n
}
