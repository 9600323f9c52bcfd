package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/dispatcher"
	"github.com/garyjia/printshop-workflow/internal/application/port"
	"github.com/garyjia/printshop-workflow/internal/domain/entity"
	"github.com/garyjia/printshop-workflow/internal/domain/event"
)

// RelayConfig holds configuration for the notification relay
type RelayConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxAttempts     int
	DeliveryTimeout time.Duration
}

// DefaultRelayConfig returns default configuration
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PollInterval:    2 * time.Second,
		BatchSize:       50,
		MaxAttempts:     5,
		DeliveryTimeout: 10 * time.Second,
	}
}

// RelayObserver is told about every delivery attempt
type RelayObserver interface {
	NotificationRelayed(role string, delivered bool)
}

// NotificationRelay drains the notification outbox and hands each row to the
// dispatcher's handlers for its recipient role
type NotificationRelay struct {
	config        RelayConfig
	notifications port.NotificationRepository
	dispatcher    dispatcher.Dispatcher
	observer      RelayObserver
	logger        *zap.Logger

	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	processed int
	failed    int
	lastError error
}

// NewNotificationRelay creates a new relay worker
func NewNotificationRelay(
	config RelayConfig,
	notifications port.NotificationRepository,
	d dispatcher.Dispatcher,
	observer RelayObserver,
	logger *zap.Logger,
) *NotificationRelay {
	defaults := DefaultRelayConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.DeliveryTimeout <= 0 {
		config.DeliveryTimeout = defaults.DeliveryTimeout
	}

	return &NotificationRelay{
		config:        config,
		notifications: notifications,
		dispatcher:    d,
		observer:      observer,
		logger:        logger,
	}
}

// Name returns the worker name for identification
func (w *NotificationRelay) Name() string {
	return "NotificationRelay"
}

// Start begins the polling loop
func (w *NotificationRelay) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("notification relay already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("NotificationRelay started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("max_attempts", w.config.MaxAttempts))

	go w.pollLoop(runCtx, w.done)
	return nil
}

// Stop cancels the loop and waits for the batch in progress
func (w *NotificationRelay) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	status := w.Status()
	w.logger.Info("NotificationRelay stopped",
		zap.Int("processed_count", status.Processed),
		zap.Int("failed_count", status.Failed))
	return nil
}

// Status reports the relay counters
func (w *NotificationRelay) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := Status{
		Name:      w.Name(),
		Running:   w.isRunning,
		Processed: w.processed,
		Failed:    w.failed,
	}
	if w.lastError != nil {
		s.LastError = w.lastError.Error()
	}
	return s
}

func (w *NotificationRelay) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.RelayPending(ctx); err != nil && ctx.Err() == nil {
			w.mu.Lock()
			w.lastError = err
			w.mu.Unlock()
			w.logger.Error("Failed to relay notifications", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayPending delivers one batch of PENDING rows and returns how many were
// delivered
func (w *NotificationRelay) RelayPending(ctx context.Context) (int, error) {
	records, err := w.notifications.ListPending(ctx, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending notifications: %w", err)
	}

	delivered := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}
		if w.deliver(ctx, rec) {
			delivered++
		}
	}
	return delivered, nil
}

func (w *NotificationRelay) deliver(ctx context.Context, rec *entity.NotificationRecord) bool {
	var evt event.Event
	if err := json.Unmarshal([]byte(rec.Payload), &evt); err != nil {
		// a payload that cannot be decoded never will be
		w.fail(ctx, rec, fmt.Sprintf("invalid payload: %v", err), 1)
		return false
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, w.config.DeliveryTimeout)
	defer cancel()

	if err := w.dispatcher.DispatchTo(deliveryCtx, &evt, rec.RecipientRole); err != nil {
		w.fail(ctx, rec, err.Error(), w.config.MaxAttempts)
		return false
	}

	if err := w.notifications.MarkSent(ctx, rec.ID); err != nil {
		w.logger.Error("Failed to mark notification as sent",
			zap.Int64("notification_id", rec.ID),
			zap.Error(err))
		return false
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()
	if w.observer != nil {
		w.observer.NotificationRelayed(rec.RecipientRole, true)
	}

	w.logger.Debug("Notification relayed",
		zap.Int64("notification_id", rec.ID),
		zap.Int64("dossier_id", rec.DossierID),
		zap.String("event_type", rec.EventType),
		zap.String("recipient_role", rec.RecipientRole))
	return true
}

func (w *NotificationRelay) fail(ctx context.Context, rec *entity.NotificationRecord, msg string, maxAttempts int) {
	w.logger.Warn("Notification delivery failed",
		zap.Int64("notification_id", rec.ID),
		zap.String("recipient_role", rec.RecipientRole),
		zap.Int("attempt", rec.Attempts+1),
		zap.String("error", msg))

	if err := w.notifications.MarkFailed(ctx, rec.ID, msg, maxAttempts); err != nil {
		w.logger.Error("Failed to record delivery failure",
			zap.Int64("notification_id", rec.ID),
			zap.Error(err))
	}

	w.mu.Lock()
	w.failed++
	w.mu.Unlock()
	if w.observer != nil {
		w.observer.NotificationRelayed(rec.RecipientRole, false)
	}
}

// Verify interface compliance
var (
	_ Worker         = (*NotificationRelay)(nil)
	_ StatusReporter = (*NotificationRelay)(nil)
)
