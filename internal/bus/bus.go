// Package bus connects the hub's services without import cycles.
//
// Asks are request/response calls with exactly one answerer. Pipes are
// ordered before-hooks that may veto an operation. Events are after-hooks
// delivered through the go-nuts event emitter.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	nuts "github.com/vaudience/go-nuts"
)

// Asks and events used across the hub
const (
	AskDeviceModelMeasures = "device-model:measures"
	AskMeasureType         = "measure-type:get"

	PipeBeforeLink   = "device:beforeLink"
	PipeBeforeAttach = "device:beforeAttach"

	EventPayloadRecorded   = "payload.recorded"
	EventDeviceProvisioned = "device.provisioned"
	EventDeviceAttached    = "device.attached"
	EventDeviceDetached    = "device.detached"
	EventDeviceLinked      = "device.linked"
	EventDeviceUnlinked    = "device.unlinked"
	EventMeasuresIngested  = "measures.ingested"
	EventAssetDeleted      = "asset.deleted"
)

// AskHandler answers an ask
type AskHandler func(ctx context.Context, payload any) (any, error)

// PipeHandler inspects or vetoes an operation before it runs
type PipeHandler func(ctx context.Context, payload any) error

type Bus struct {
	mu     sync.RWMutex
	asks   map[string]AskHandler
	pipes  map[string][]PipeHandler
	events *nuts.EventEmitter
}

func New() *Bus {
	return &Bus{
		asks:   map[string]AskHandler{},
		pipes:  map[string][]PipeHandler{},
		events: nuts.NewEventEmitter(),
	}
}

// OnAsk registers the answerer of event. There can only be one.
func (b *Bus) OnAsk(event string, handler AskHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.asks[event]; exists {
		return errors.NewConflictError(fmt.Sprintf("ask %q already has a handler", event), nil)
	}
	b.asks[event] = handler
	nuts.L.Debugf("[Bus] Registered answerer for %s", event)
	return nil
}

func (b *Bus) Ask(ctx context.Context, event string, payload any) (any, error) {
	b.mu.RLock()
	handler, ok := b.asks[event]
	b.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError(fmt.Sprintf("no handler for ask %q", event), nil)
	}
	return handler(ctx, payload)
}

// AskAs asks and asserts the answer's type
func AskAs[T any](ctx context.Context, b *Bus, event string, payload any) (T, error) {
	var zero T
	res, err := b.Ask(ctx, event, payload)
	if err != nil {
		return zero, err
	}
	typed, ok := res.(T)
	if !ok {
		return zero, errors.NewInternalError(fmt.Sprintf("ask %q answered with %T, expected %T", event, res, zero), nil)
	}
	return typed, nil
}

// OnPipe appends a before-hook for event
func (b *Bus) OnPipe(event string, handler PipeHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pipes[event] = append(b.pipes[event], handler)
}

// Pipe runs the hooks of event in registration order. The first error aborts.
func (b *Bus) Pipe(ctx context.Context, event string, payload any) error {
	b.mu.RLock()
	handlers := append([]PipeHandler(nil), b.pipes[event]...)
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := h(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}

// On subscribes listenerID to event
func (b *Bus) On(event, listenerID string, fn func(args ...interface{})) {
	b.events.On(event, listenerID, fn)
}

func (b *Bus) Emit(event string, args ...interface{}) {
	b.events.Emit(event, args...)
}
