package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/domain"
	"github.com/spec-kit/support-automation/internal/repository"
	apperrors "github.com/spec-kit/support-automation/pkg/util/errorutil"
)

// UsageLedger appends metering records and answers windowed totals. The log
// is authoritative; the optional counter only caches bucket totals derived
// from it.
type UsageLedger struct {
	records    repository.UsageRepository
	counter    repository.UsageCounter
	ids        *snowflake.Node
	rebuilds   singleflight.Group
	dailyLimit int64
	logger     *zap.Logger
	now        Clock
}

// UsageDependencies bundles collaborators for the ledger.
type UsageDependencies struct {
	Records repository.UsageRepository
	// Counter is optional.
	Counter repository.UsageCounter
	Config  config.UsageConfig
	Logger  *zap.Logger
	Clock   Clock
}

// NewUsageLedger constructs the ledger.
func NewUsageLedger(deps UsageDependencies) (*UsageLedger, error) {
	node, err := snowflake.NewNode(deps.Config.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("usage id generator: %w", err)
	}
	return &UsageLedger{
		records:    deps.Records,
		counter:    deps.Counter,
		ids:        node,
		dailyLimit: deps.Config.DailyLimit,
		logger:     loggerOrNop(deps.Logger),
		now:        clockOrDefault(deps.Clock),
	}, nil
}

// Record appends one metering event. A zero at means now; timestamps in the
// past or future are accepted as given.
func (l *UsageLedger) Record(ctx context.Context, customerID, keyID string, units int64, at time.Time, endpoint string) (*domain.UsageRecord, error) {
	if strings.TrimSpace(customerID) == "" || strings.TrimSpace(keyID) == "" {
		return nil, apperrors.NewValidationError("customer and key are required", nil)
	}
	if units <= 0 {
		return nil, apperrors.NewValidationError("units must be positive", map[string]any{"units": units})
	}
	if at.IsZero() {
		at = l.now()
	}
	record := &domain.UsageRecord{
		ID:         l.ids.Generate().Int64(),
		CustomerID: customerID,
		KeyID:      keyID,
		Timestamp:  at.UTC(),
		Units:      units,
		Endpoint:   strings.TrimSpace(endpoint),
	}
	marked := l.beginWrite(ctx, customerID)
	if err := l.records.Append(ctx, record); err != nil {
		if marked {
			l.commitWrite(ctx, customerID, nil, 0)
		}
		return nil, apperrors.NewInternalError(err)
	}
	if l.counter != nil {
		keys := bucketKeys(customerID, record.Timestamp)
		if !marked || !l.commitWrite(ctx, customerID, keys, units) {
			if err := l.counter.Delete(ctx, keys...); err != nil {
				l.logger.Error("usage counter invalidation failed", zap.String("customer_id", customerID), zap.Error(err))
			}
		}
	}
	return record, nil
}

// beginWrite reports whether the in-flight mark was set.
func (l *UsageLedger) beginWrite(ctx context.Context, customerID string) bool {
	if l.counter == nil {
		return false
	}
	if err := l.counter.Begin(ctx, customerID); err != nil {
		l.logger.Warn("usage counter begin failed", zap.String("customer_id", customerID), zap.Error(err))
		return false
	}
	return true
}

func (l *UsageLedger) commitWrite(ctx context.Context, customerID string, keys []string, units int64) bool {
	if err := l.counter.Commit(ctx, customerID, keys, units); err != nil {
		l.logger.Warn("usage counter commit failed, dropping cached buckets",
			zap.String("customer_id", customerID), zap.Error(err))
		return false
	}
	return true
}

// Aggregate sums units for the customer inside window, evaluated at now.
func (l *UsageLedger) Aggregate(ctx context.Context, customerID string, window domain.UsageWindow) (int64, error) {
	now := l.now()
	rng, key, err := windowRange(customerID, window, now)
	if err != nil {
		return 0, err
	}
	if l.counter == nil {
		return l.sum(ctx, customerID, rng)
	}

	cached, ok, err := l.counter.Get(ctx, key)
	if err != nil {
		l.logger.Warn("usage counter read failed, summing log", zap.String("key", key), zap.Error(err))
		return l.sum(ctx, customerID, rng)
	}
	if ok {
		return cached, nil
	}

	v, err, _ := l.rebuilds.Do(key, func() (interface{}, error) {
		version, verr := l.counter.Version(ctx, customerID)
		total, err := l.sum(ctx, customerID, rng)
		if err != nil {
			return int64(0), err
		}
		if verr != nil {
			l.logger.Warn("usage counter version read failed, not caching", zap.String("key", key), zap.Error(verr))
			return total, nil
		}
		if _, err := l.counter.Prime(ctx, customerID, key, total, version); err != nil {
			l.logger.Warn("usage counter prime failed", zap.String("key", key), zap.Error(err))
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Summary returns the customer-facing usage view including the daily allowance.
func (l *UsageLedger) Summary(ctx context.Context, customerID string) (*domain.UsageSummary, error) {
	today, err := l.Aggregate(ctx, customerID, domain.WindowToday)
	if err != nil {
		return nil, err
	}
	month, err := l.Aggregate(ctx, customerID, domain.WindowMonth)
	if err != nil {
		return nil, err
	}
	allTime, err := l.Aggregate(ctx, customerID, domain.WindowAllTime)
	if err != nil {
		return nil, err
	}

	summary := &domain.UsageSummary{
		Today:      today,
		ThisMonth:  month,
		AllTime:    allTime,
		DailyLimit: l.dailyLimit,
	}
	if remaining := l.dailyLimit - today; remaining > 0 {
		summary.RemainingToday = remaining
	}
	if today > 0 {
		reset := dayStart(l.now()).AddDate(0, 0, 1)
		summary.ResetAt = &reset
	}
	return summary, nil
}

// Cached reports whether a counter cache sits in front of the log.
func (l *UsageLedger) Cached() bool {
	return l.counter != nil
}

// Rebuild drops the cached buckets for the current period so the next read
// re-derives them from the log.
func (l *UsageLedger) Rebuild(ctx context.Context, customerID string) error {
	if strings.TrimSpace(customerID) == "" {
		return apperrors.NewValidationError("customer id is required", nil)
	}
	if l.counter == nil {
		return nil
	}
	if err := l.counter.Delete(ctx, bucketKeys(customerID, l.now())...); err != nil {
		return apperrors.NewInternalError(err)
	}
	return nil
}

func (l *UsageLedger) sum(ctx context.Context, customerID string, rng repository.UsageRange) (int64, error) {
	total, err := l.records.Sum(ctx, customerID, rng)
	if err != nil {
		return 0, apperrors.NewInternalError(err)
	}
	return total, nil
}

func windowRange(customerID string, window domain.UsageWindow, now time.Time) (repository.UsageRange, string, error) {
	switch window {
	case domain.WindowToday:
		from := dayStart(now)
		to := from.AddDate(0, 0, 1)
		return repository.UsageRange{From: &from, To: &to}, dayKey(customerID, now), nil
	case domain.WindowMonth:
		from := monthStart(now)
		to := from.AddDate(0, 1, 0)
		return repository.UsageRange{From: &from, To: &to}, monthKey(customerID, now), nil
	case domain.WindowAllTime:
		return repository.UsageRange{}, allTimeKey(customerID), nil
	default:
		return repository.UsageRange{}, "", apperrors.NewValidationError("unknown usage window", map[string]any{"window": window})
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func dayKey(customerID string, t time.Time) string {
	return "usage:" + customerID + ":day:" + t.UTC().Format(time.DateOnly)
}

func monthKey(customerID string, t time.Time) string {
	return "usage:" + customerID + ":month:" + t.UTC().Format("2006-01")
}

func allTimeKey(customerID string) string {
	return "usage:" + customerID + ":all"
}

func bucketKeys(customerID string, at time.Time) []string {
	return []string{dayKey(customerID, at), monthKey(customerID, at), allTimeKey(customerID)}
}
