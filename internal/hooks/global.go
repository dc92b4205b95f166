package hooks

import (
	"context"
	"log/slog"
	"sync"
)

var (
	globalBus  *Bus
	globalOnce sync.Once
)

// Global returns the process-wide hook bus.
func Global() *Bus {
	globalOnce.Do(func() {
		globalBus = NewBus(nil, nil)
	})
	return globalBus
}

// SetGlobal replaces the global bus. Tests only.
func SetGlobal(b *Bus) {
	globalOnce.Do(func() {})
	globalBus = b
}

// Register adds a handler to the global bus.
func Register(pattern string, handler Handler, opts ...RegisterOption) string {
	return Global().Registry().Register(pattern, handler, opts...)
}

// Unregister removes a handler from the global bus.
func Unregister(id string) bool {
	return Global().Registry().Unregister(id)
}

// Emit delivers an event through the global bus.
func Emit(ctx context.Context, event *Event) error {
	return Global().Emit(ctx, event)
}

// SetGlobalLogger is a convenience for wiring the global bus logger at
// startup.
func SetGlobalLogger(logger *slog.Logger) {
	SetGlobal(NewBus(Global().Registry(), logger))
}
