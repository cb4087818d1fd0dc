package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// EventHandler handles a published event.
type EventHandler func(context.Context, Event) error

// Dispatcher interface allows event publication/subscription.
type Dispatcher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(eventType EventType, handler EventHandler)
}

// inMemoryDispatcher fans events out to in-process handlers.
type inMemoryDispatcher struct {
	mu        sync.RWMutex
	listeners map[EventType][]EventHandler
	async     bool
	logger    *zap.Logger
	wg        sync.WaitGroup
}

// NewInMemoryDispatcher creates a dispatcher that runs handlers inline.
func NewInMemoryDispatcher() Dispatcher {
	return &inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		logger:    zap.NewNop(),
	}
}

// AsyncDispatcher runs every handler on its own goroutine so publishers never
// wait on delivery. Wait blocks until in-flight handlers finish.
type AsyncDispatcher struct {
	*inMemoryDispatcher
}

// NewAsyncDispatcher creates a fire-and-forget dispatcher.
func NewAsyncDispatcher(logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AsyncDispatcher{&inMemoryDispatcher{
		listeners: make(map[EventType][]EventHandler),
		async:     true,
		logger:    logger,
	}}
}

// Wait blocks until all handlers started so far have returned.
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// Publish invokes handlers for the given event. Handler errors are logged and
// never returned to the publisher.
func (d *inMemoryDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler{}, d.listeners[event.Type]...)
	d.mu.RUnlock()

	for _, handler := range handlers {
		if !d.async {
			d.run(ctx, handler, event)
			continue
		}
		d.wg.Add(1)
		go func(h EventHandler) {
			defer d.wg.Done()
			d.run(context.WithoutCancel(ctx), h, event)
		}(handler)
	}
	return nil
}

func (d *inMemoryDispatcher) run(ctx context.Context, handler EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("event handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := handler(ctx, event); err != nil {
		d.logger.Warn("event handler failed",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// Subscribe registers a handler for the given event type.
func (d *inMemoryDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], handler)
}
