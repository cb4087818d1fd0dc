package service

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/events"
	"github.com/spec-kit/support-automation/internal/repository/memory"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordedEvents) handler(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordedEvents) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func recordAll(d events.Dispatcher, types ...events.EventType) *recordedEvents {
	rec := &recordedEvents{}
	for _, t := range types {
		d.Subscribe(t, rec.handler)
	}
	return rec
}

type keyFixture struct {
	clock  *testClock
	store  *memory.KeyStore
	usage  *memory.UsageStore
	ledger *UsageLedger
	keys   *KeyService
	events *recordedEvents
}

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newKeyFixture(grace time.Duration) *keyFixture {
	clock := newTestClock(baseTime)
	store := memory.NewKeyStore()
	usage := memory.NewUsageStore()
	dispatcher := events.NewInMemoryDispatcher()
	rec := recordAll(dispatcher, events.EventKeyCreated, events.EventKeyRotated, events.EventKeyRevoked)

	ledger, err := NewUsageLedger(UsageDependencies{
		Records: usage,
		Config:  config.UsageConfig{DailyLimit: 1000, SnowflakeNode: 1},
		Clock:   clock.Now,
	})
	if err != nil {
		panic(err)
	}
	keys := NewKeyService(KeyDependencies{
		Store:      store,
		Ledger:     ledger,
		Dispatcher: dispatcher,
		Config:     config.KeysConfig{DigestPepper: "test-pepper", SecretPrefix: "sk_", GraceWindow: grace},
		Clock:      clock.Now,
	})
	return &keyFixture{clock: clock, store: store, usage: usage, ledger: ledger, keys: keys, events: rec}
}
