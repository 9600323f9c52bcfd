package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// AnyRole subscribes a handler to notifications for every recipient role
const AnyRole = "*"

// Dispatcher routes events to registered handlers. Type handlers react to
// an event once; role handlers receive the notification addressed to a role.
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// SubscribeRole registers a named handler for notifications addressed to a role
	SubscribeRole(role string, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch sends event to all type handlers synchronously
	// Returns first error encountered (handlers run in order)
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync sends event to type handlers asynchronously
	// Does not wait for handlers to complete
	DispatchAsync(ctx context.Context, evt *event.Event)

	// DispatchTo delivers the event to the handlers of one recipient role
	DispatchTo(ctx context.Context, evt *event.Event, role string) error

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// ListRoleHandlers returns the handlers registered for a recipient role
	ListRoleHandlers(role string) []HandlerInfo

	// Close shuts down the dispatcher and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// eventDispatcher is the concrete implementation of Dispatcher
type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	roles    map[string][]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a new event dispatcher
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers: make(map[event.Type][]HandlerInfo),
		roles:    make(map[string][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers a handler for an event type with an auto-generated name
func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

// SubscribeNamed registers a handler with a specific name for debugging
func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:    name,
		Route:   Route{EventType: eventType},
		Handler: handler,
	})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Handler registered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

// SubscribeRole registers a handler for notifications addressed to a role.
// Use AnyRole to receive every notification.
func (d *eventDispatcher) SubscribeRole(role string, name string, handler Handler) {
	d.mu.Lock()
	d.roles[role] = append(d.roles[role], HandlerInfo{
		Name:    name,
		Route:   Route{Role: role},
		Handler: handler,
	})
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Role handler registered",
			"role", role,
			"handler_name", name,
		)
	}
}

// Unsubscribe removes a handler by name
func (d *eventDispatcher) Unsubscribe(eventType event.Type, name string) {
	d.mu.Lock()
	handlers := d.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	d.handlers[eventType] = filtered
	d.mu.Unlock()

	if d.logger != nil {
		d.logger.Info("Handler unregistered",
			"event_type", eventType,
			"handler_name", name,
		)
	}
}

// Dispatch sends event to all type handlers synchronously
func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	return d.runAll(ctx, evt, handlers)
}

// DispatchAsync sends event to type handlers asynchronously
func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	if d.closed.Load() {
		if d.logger != nil {
			d.logger.Error("Cannot dispatch async event, dispatcher is closed",
				"event_type", evt.Type,
				"event_id", evt.ID,
			)
		}
		return
	}

	d.mu.RLock()
	handlers := d.handlers[evt.Type]
	d.mu.RUnlock()

	for _, info := range handlers {
		d.wg.Add(1)
		go func(h HandlerInfo) {
			defer d.wg.Done()

			if err := d.execute(ctx, evt, h); err != nil && d.logger != nil {
				d.logger.Error("Async handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", h.Name,
					"error", err,
				)
			}
		}(info)
	}
}

// DispatchTo delivers the event to the role's handlers, then the AnyRole ones
func (d *eventDispatcher) DispatchTo(ctx context.Context, evt *event.Event, role string) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	d.mu.RLock()
	handlers := make([]HandlerInfo, 0, len(d.roles[role])+len(d.roles[AnyRole]))
	handlers = append(handlers, d.roles[role]...)
	if role != AnyRole {
		handlers = append(handlers, d.roles[AnyRole]...)
	}
	d.mu.RUnlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no handler for role %s", role)
	}

	return d.runAll(ctx, evt, handlers)
}

// ListHandlers returns registered handlers for an event type
func (d *eventDispatcher) ListHandlers(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return describe(d.handlers[eventType])
}

// ListRoleHandlers returns the handlers registered for a recipient role
func (d *eventDispatcher) ListRoleHandlers(role string) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return describe(d.roles[role])
}

// Close shuts down the dispatcher and waits for async handlers to complete
func (d *eventDispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already closed")
	}

	if d.logger != nil {
		d.logger.Info("Closing dispatcher, waiting for async handlers")
	}

	d.wg.Wait()

	return nil
}

func (d *eventDispatcher) runAll(ctx context.Context, evt *event.Event, handlers []HandlerInfo) error {
	for _, info := range handlers {
		if err := d.execute(ctx, evt, info); err != nil {
			if d.logger != nil {
				d.logger.Error("Handler error",
					"event_type", evt.Type,
					"event_id", evt.ID,
					"handler_name", info.Name,
					"error", err,
				)
			}
			return fmt.Errorf("handler %s failed: %w", info.Name, err)
		}
	}
	return nil
}

// execute runs one handler and logs a recovered panic
func (d *eventDispatcher) execute(ctx context.Context, evt *event.Event, info HandlerInfo) error {
	err := info.call(ctx, evt)

	var panicErr *PanicError
	if errors.As(err, &panicErr) && d.logger != nil {
		d.logger.Error("Handler panic recovered",
			"event_type", evt.Type,
			"event_id", evt.ID,
			"handler_name", info.Name,
			"route", info.Route.String(),
			"panic", panicErr.Value,
		)
	}
	return err
}
