package workflow

import (
	"time"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithClock sets the clock used to stamp updated_at
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// NewEngine creates a workflow engine enforcing the given policy. A nil
// policy means the built-in one.
func NewEngine(policy *domainwf.Policy, opts ...EngineOption) Engine {
	if policy == nil {
		policy = domainwf.DefaultPolicy()
	}

	e := &engineImpl{
		policy: policy,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}
