package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker defines the interface for background workers
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// Status is a point-in-time snapshot of a worker's counters
type Status struct {
	Name      string `json:"name"`
	Running   bool   `json:"running"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	LastError string `json:"last_error,omitempty"`
}

// StatusReporter is implemented by workers that expose counters
type StatusReporter interface {
	Status() Status
}

// WorkerManager starts workers in registration order and stops them in
// reverse order
type WorkerManager struct {
	workers []Worker
	logger  *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	started   []Worker
	cancel    context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{
		workers: make([]Worker, 0),
		logger:  logger,
	}
}

// Register adds a worker to be managed
func (m *WorkerManager) Register(worker Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers = append(m.workers, worker)
	m.logger.Info("Worker registered",
		zap.String("worker_name", worker.Name()),
		zap.Int("total_workers", len(m.workers)))
}

// StartAll starts every registered worker. A worker that fails to start is
// skipped; the failures are returned together once the others are running.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.isRunning = true
	m.started = m.started[:0]

	m.logger.Info("Starting all workers", zap.Int("count", len(m.workers)))

	var errs []error
	for _, worker := range m.workers {
		if err := worker.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", worker.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", worker.Name(), err))
			continue
		}
		m.started = append(m.started, worker)
		m.logger.Info("Worker started", zap.String("worker_name", worker.Name()))
	}

	return errors.Join(errs...)
}

// StopAll cancels the shared context and stops started workers in reverse order
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	started := m.started
	m.started = nil
	cancel := m.cancel
	m.mu.Unlock()

	m.logger.Info("Stopping all workers", zap.Int("count", len(started)))

	if cancel != nil {
		cancel()
	}

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		worker := started[i]
		if err := worker.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", worker.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", worker.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", worker.Name()))
	}

	return errors.Join(errs...)
}

// Statuses reports the counters of every worker that exposes them
func (m *WorkerManager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.workers))
	for _, w := range m.workers {
		if r, ok := w.(StatusReporter); ok {
			out = append(out, r.Status())
		}
	}
	return out
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// IsRunning returns whether workers are running
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
