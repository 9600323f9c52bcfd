package estimation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// Delivery kinds reported to the observer
const (
	KindComplete = "complete"
	KindPartial  = "partial"
	KindError    = "error"
	KindTimeout  = "timeout"
)

// DefaultDebounce is the quiet period before a computation is issued
const DefaultDebounce = 300 * time.Millisecond

// Delivery is what the pipeline hands to its consumer. Err is set for genuine
// failures; Result then holds the zero estimate to display.
type Delivery struct {
	RequestID uint64           `json:"request_id"`
	Result    EstimationResult `json:"result"`
	Err       error            `json:"-"`
}

// Kind classifies the delivery
func (d Delivery) Kind() string {
	switch {
	case errors.Is(d.Err, ErrEstimateTimeout):
		return KindTimeout
	case d.Err != nil:
		return KindError
	case d.Result.IsPartial:
		return KindPartial
	default:
		return KindComplete
	}
}

// ResultFunc receives deliveries. It is called from the pipeline's own
// goroutines, one delivery at a time, and must not call Close.
type ResultFunc func(Delivery)

// Observer is notified of the pipeline's request lifecycle
type Observer interface {
	EstimateIssued(machine domainwf.MachineType)
	EstimateSuperseded(machine domainwf.MachineType)
	EstimateDelivered(machine domainwf.MachineType, kind string, latency time.Duration)
}

type nopObserver struct{}

func (nopObserver) EstimateIssued(domainwf.MachineType) {}

func (nopObserver) EstimateSuperseded(domainwf.MachineType) {}

func (nopObserver) EstimateDelivered(domainwf.MachineType, string, time.Duration) {}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithDebounce sets the quiet period
func WithDebounce(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.debounce = d
	}
}

// WithTimeout bounds each computation; zero means no bound
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		p.timeout = d
	}
}

// WithObserver sets the lifecycle observer
func WithObserver(o Observer) PipelineOption {
	return func(p *Pipeline) {
		if o != nil {
			p.observer = o
		}
	}
}

type input struct {
	snapshot FormSnapshot
	machine  domainwf.MachineType
}

// Pipeline debounces the edits of one form and keeps at most one
// computation in flight. Only the most recently issued request that was not
// superseded is ever delivered.
type Pipeline struct {
	estimator Estimator
	onResult  ResultFunc
	debounce  time.Duration
	timeout   time.Duration
	observer  Observer

	mu       sync.Mutex
	epoch    uint64 // bumped on every edit; stale timer fires compare against it
	lastID   uint64 // last requestId issued
	wanted   uint64 // requestId whose result may still be delivered, 0 if none
	pending  *input
	timer    *time.Timer
	cancel   context.CancelFunc
	inflight domainwf.MachineType
	closed   bool
	lastGood *EstimationResult

	deliverMu sync.Mutex
	wg        sync.WaitGroup
}

// NewPipeline creates a pipeline for one logical input stream
func NewPipeline(estimator Estimator, onResult ResultFunc, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		estimator: estimator,
		onResult:  onResult,
		debounce:  DefaultDebounce,
		observer:  nopObserver{},
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OnInputChange records the latest form state. Any pending timer is reset and
// any in-flight computation is aborted; its result will never be delivered.
func (p *Pipeline) OnInputChange(snapshot FormSnapshot, machine domainwf.MachineType) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.supersedeLocked()
	p.pending = &input{snapshot: snapshot.Clone(), machine: machine}
	p.epoch++

	epoch := p.epoch
	p.timer = time.AfterFunc(p.debounce, func() { p.fire(epoch) })
}

// Flush issues the pending input now instead of waiting for the quiet period
func (p *Pipeline) Flush() {
	p.mu.Lock()
	if p.closed || p.pending == nil {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.epoch++
	launch := p.issueLocked()
	p.mu.Unlock()

	launch()
}

// LastGood returns the most recent successful estimate, if any
func (p *Pipeline) LastGood() (EstimationResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastGood == nil {
		return EstimationResult{}, false
	}
	return *p.lastGood, true
}

// Close drops pending input, aborts the in-flight computation and waits for
// the pipeline's goroutines to exit. Nothing is delivered afterwards.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.pending = nil
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.wanted = 0
	p.mu.Unlock()

	p.wg.Wait()
}

// supersedeLocked stops the timer and aborts the in-flight request
func (p *Pipeline) supersedeLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.observer.EstimateSuperseded(p.inflight)
	}
	p.wanted = 0
}

func (p *Pipeline) fire(epoch uint64) {
	p.mu.Lock()
	if p.closed || epoch != p.epoch || p.pending == nil {
		p.mu.Unlock()
		return
	}
	p.timer = nil
	launch := p.issueLocked()
	p.mu.Unlock()

	launch()
}

// issueLocked assigns a fresh requestId to the pending input and returns the
// function that starts the computation outside the lock
func (p *Pipeline) issueLocked() func() {
	in := p.pending
	p.pending = nil

	p.lastID++
	id := p.lastID
	p.wanted = id
	p.inflight = in.machine

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), p.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	p.cancel = cancel

	p.wg.Add(1)
	req := EstimationRequest{Snapshot: in.snapshot, Machine: in.machine, RequestID: id}
	return func() {
		p.observer.EstimateIssued(req.Machine)
		go p.run(ctx, cancel, req)
	}
}

func (p *Pipeline) run(ctx context.Context, cancel context.CancelFunc, req EstimationRequest) {
	defer p.wg.Done()
	defer cancel()

	start := time.Now()
	res, err := p.estimator.Estimate(ctx, req)

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	if !timedOut && (errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled)) {
		// aborted by a newer edit or by Close
		return
	}

	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	if p.closed || p.wanted != req.RequestID {
		p.mu.Unlock()
		return
	}
	p.wanted = 0
	p.cancel = nil

	d := Delivery{RequestID: req.RequestID}
	switch {
	case timedOut:
		d.Err = fmt.Errorf("%w after %s", ErrEstimateTimeout, p.timeout)
		d.Result = EstimationResult{Warnings: []string{}, ComputedAtMs: time.Now().UnixMilli()}
	case err != nil:
		d.Err = err
		d.Result = EstimationResult{Warnings: []string{}, ComputedAtMs: time.Now().UnixMilli()}
	default:
		d.Result = res
		good := res
		p.lastGood = &good
	}
	p.mu.Unlock()

	p.observer.EstimateDelivered(req.Machine, d.Kind(), time.Since(start))
	if p.onResult != nil {
		p.onResult(d)
	}
}
