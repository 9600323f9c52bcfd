package dispatcher

import (
	"context"
	"fmt"

	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// Route is how a handler is reached: by event type for in-process reactions,
// or by recipient role for notifications relayed from the outbox.
type Route struct {
	EventType event.Type
	Role      string
}

// String renders the route as "type:<event>" or "role:<role>"
func (r Route) String() string {
	if r.Role != "" {
		return "role:" + r.Role
	}
	return "type:" + string(r.EventType)
}

// HandlerInfo describes a registered handler. Copies handed out by the
// List methods carry a nil Handler.
type HandlerInfo struct {
	Name    string
	Route   Route
	Handler Handler
}

// PanicError is returned when a handler panics instead of returning
type PanicError struct {
	Handler string
	Route   Route
	Value   interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s (%s) panicked: %v", e.Handler, e.Route, e.Value)
}

// call runs the handler and converts a panic into a *PanicError
func (h HandlerInfo) call(ctx context.Context, evt *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Handler: h.Name, Route: h.Route, Value: r}
		}
	}()
	return h.Handler(ctx, evt)
}

func (h HandlerInfo) withoutFunc() HandlerInfo {
	h.Handler = nil
	return h
}

func describe(handlers []HandlerInfo) []HandlerInfo {
	out := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		out[i] = h.withoutFunc()
	}
	return out
}
