package estimation

import (
	"context"
	"errors"

	domainwf "github.com/garyjia/printshop-workflow/internal/domain/workflow"
)

var (
	// ErrUnknownMachine is returned for a machine type no calculator handles
	ErrUnknownMachine = errors.New("unknown machine type")

	// ErrInvalidInput is returned when a present field cannot be priced
	ErrInvalidInput = errors.New("invalid estimation input")

	// ErrEstimateTimeout is reported when the current request ran out of time
	ErrEstimateTimeout = errors.New("estimate timed out")
)

// FormSnapshot is the raw form state at the time of the change. Values come
// straight from the UI: numbers may arrive as strings and empty strings mean
// "not entered yet".
type FormSnapshot map[string]interface{}

// Clone returns a shallow copy so later edits by the caller do not leak in
func (s FormSnapshot) Clone() FormSnapshot {
	out := make(FormSnapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// EstimationRequest is one computation issued by the pipeline
type EstimationRequest struct {
	Snapshot  FormSnapshot         `json:"snapshot"`
	Machine   domainwf.MachineType `json:"machine_type"`
	RequestID uint64               `json:"request_id"`
}

// EstimationResult is a computed price. IsPartial marks an incomplete but
// valid form and is not an error.
type EstimationResult struct {
	Value        float64  `json:"value"`
	IsPartial    bool     `json:"is_partial"`
	Warnings     []string `json:"warnings"`
	ComputedAtMs int64    `json:"computed_at_ms"`
	FromCache    bool     `json:"from_cache"`
}

// Estimator computes a price for one request
type Estimator interface {
	Estimate(ctx context.Context, req EstimationRequest) (EstimationResult, error)
}

// EstimatorFunc adapts a function to Estimator
type EstimatorFunc func(ctx context.Context, req EstimationRequest) (EstimationResult, error)

// Estimate calls f
func (f EstimatorFunc) Estimate(ctx context.Context, req EstimationRequest) (EstimationResult, error) {
	return f(ctx, req)
}
