package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// mockLogger implements Logger for testing
type mockLogger struct {
	mu     sync.Mutex
	infos  []string
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func (m *mockLogger) ErrorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func (m *mockLogger) HasInfo(msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, info := range m.infos {
		if info == msg {
			return true
		}
	}
	return false
}

func newEvent() *event.Event {
	return event.NewEvent(event.TypeDossierStatusChanged, 1, map[string]interface{}{
		event.KeyNewStatus: "termine",
	})
}

func noop(ctx context.Context, evt *event.Event) error { return nil }

func TestSubscribe(t *testing.T) {
	t.Run("runs handlers in registration order", func(t *testing.T) {
		d := NewDispatcher()
		var order []int

		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 1)
			return nil
		})
		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			order = append(order, 2)
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent()))
		assert.Equal(t, []int{1, 2}, order)
	})

	t.Run("logs named registration", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.SubscribeNamed(event.TypeDossierCreated, "audit", noop)

		assert.True(t, logger.HasInfo("Handler registered"))
		handlers := d.ListHandlers(event.TypeDossierCreated)
		require.Len(t, handlers, 1)
		assert.Equal(t, "audit", handlers[0].Name)
		assert.Equal(t, "type:dossier.created", handlers[0].Route.String())
		assert.Nil(t, handlers[0].Handler, "handler funcs must not leak")
	})

	t.Run("unsubscribe removes only the named handler", func(t *testing.T) {
		d := NewDispatcher()
		called1, called2 := false, false

		d.SubscribeNamed(event.TypeDossierStatusChanged, "h1", func(ctx context.Context, evt *event.Event) error {
			called1 = true
			return nil
		})
		d.SubscribeNamed(event.TypeDossierStatusChanged, "h2", func(ctx context.Context, evt *event.Event) error {
			called2 = true
			return nil
		})
		d.Unsubscribe(event.TypeDossierStatusChanged, "h1")

		require.NoError(t, d.Dispatch(context.Background(), newEvent()))
		assert.False(t, called1)
		assert.True(t, called2)
	})
}

func TestDispatch(t *testing.T) {
	t.Run("stops at first error", func(t *testing.T) {
		d := NewDispatcher()
		expectedErr := errors.New("handler error")
		called := false

		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			return expectedErr
		})
		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent())
		assert.ErrorIs(t, err, expectedErr)
		assert.False(t, called)
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))

		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			panic("test panic")
		})

		err := d.Dispatch(context.Background(), newEvent())
		var panicErr *PanicError
		require.ErrorAs(t, err, &panicErr)
		assert.Equal(t, "test panic", panicErr.Value)
		assert.Equal(t, event.TypeDossierStatusChanged, panicErr.Route.EventType)
		assert.Greater(t, logger.ErrorCount(), 0)
	})

	t.Run("ignores other event types", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe(event.TypeDossierDeleted, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent()))
		assert.False(t, called)
	})

	t.Run("refuses after close", func(t *testing.T) {
		d := NewDispatcher()
		require.NoError(t, d.Close())
		assert.Error(t, d.Dispatch(context.Background(), newEvent()))
		assert.Error(t, d.Close(), "double close")
	})
}

func TestDispatchTo(t *testing.T) {
	t.Run("routes by recipient role", func(t *testing.T) {
		d := NewDispatcher()
		var got []string
		var mu sync.Mutex
		record := func(tag string) Handler {
			return func(ctx context.Context, evt *event.Event) error {
				mu.Lock()
				got = append(got, tag)
				mu.Unlock()
				return nil
			}
		}

		d.SubscribeRole("livreur", "livreur-inbox", record("livreur"))
		d.SubscribeRole("admin", "admin-inbox", record("admin"))
		d.SubscribeRole(AnyRole, "audit", record("any"))

		require.NoError(t, d.DispatchTo(context.Background(), newEvent(), "livreur"))
		assert.Equal(t, []string{"livreur", "any"}, got)

		listed := d.ListRoleHandlers("livreur")
		require.Len(t, listed, 1)
		assert.Equal(t, "livreur-inbox", listed[0].Name)
		assert.Equal(t, Route{Role: "livreur"}, listed[0].Route)
		assert.Nil(t, listed[0].Handler)
	})

	t.Run("wildcard alone is enough", func(t *testing.T) {
		d := NewDispatcher()
		d.SubscribeRole(AnyRole, "audit", noop)
		assert.NoError(t, d.DispatchTo(context.Background(), newEvent(), "imprimeur_xerox"))
	})

	t.Run("fails without a handler so the row is retried", func(t *testing.T) {
		d := NewDispatcher()
		assert.Error(t, d.DispatchTo(context.Background(), newEvent(), "preparateur"))
	})

	t.Run("does not run type handlers", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})
		d.SubscribeRole("admin", "admin-inbox", noop)

		require.NoError(t, d.DispatchTo(context.Background(), newEvent(), "admin"))
		assert.False(t, called)
	})

	t.Run("propagates handler error", func(t *testing.T) {
		d := NewDispatcher()
		d.SubscribeRole("admin", "broken", func(ctx context.Context, evt *event.Event) error {
			return errors.New("socket gone")
		})
		err := d.DispatchTo(context.Background(), newEvent(), "admin")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broken")
	})
}

func TestDispatchAsync(t *testing.T) {
	t.Run("close waits for handlers", func(t *testing.T) {
		d := NewDispatcher()
		var called atomic.Int32

		for i := 0; i < 2; i++ {
			d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
				time.Sleep(10 * time.Millisecond)
				called.Add(1)
				return nil
			})
		}

		d.DispatchAsync(context.Background(), newEvent())
		require.NoError(t, d.Close())
		assert.Equal(t, int32(2), called.Load())
	})

	t.Run("logs handler errors", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			return errors.New("handler error")
		})

		d.DispatchAsync(context.Background(), newEvent())
		require.NoError(t, d.Close())
		assert.Greater(t, logger.ErrorCount(), 0)
	})

	t.Run("drops events after close", func(t *testing.T) {
		logger := &mockLogger{}
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32
		d.Subscribe(event.TypeDossierStatusChanged, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		require.NoError(t, d.Close())

		d.DispatchAsync(context.Background(), newEvent())
		time.Sleep(20 * time.Millisecond)

		assert.Equal(t, int32(0), called.Load())
		assert.Greater(t, logger.ErrorCount(), 0)
	})
}

func TestConcurrentSubscribeAndDispatch(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			d.SubscribeRole("livreur", fmt.Sprintf("inbox-%d", id), func(ctx context.Context, evt *event.Event) error {
				called.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.DispatchTo(context.Background(), newEvent(), "livreur")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(100), called.Load())
}
