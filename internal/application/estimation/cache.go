package estimation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEstimator memoises successful estimates of identical snapshots.
// Entries are evicted least-recently-used first and expire after ttl.
type CachedEstimator struct {
	next    Estimator
	results *expirable.LRU[uint64, EstimationResult]
}

// NewCachedEstimator wraps next with a cache of at most size entries
func NewCachedEstimator(next Estimator, size int, ttl time.Duration) *CachedEstimator {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEstimator{
		next:    next,
		results: expirable.NewLRU[uint64, EstimationResult](size, nil, ttl),
	}
}

// Estimate returns a cached result when the same snapshot was priced recently
func (c *CachedEstimator) Estimate(ctx context.Context, req EstimationRequest) (EstimationResult, error) {
	key, ok := cacheKey(req)
	if ok {
		if res, hit := c.results.Get(key); hit {
			res.Warnings = append([]string(nil), res.Warnings...)
			res.FromCache = true
			return res, nil
		}
	}

	res, err := c.next.Estimate(ctx, req)
	if err != nil {
		return res, err
	}
	if ok && ctx.Err() == nil {
		stored := res
		stored.Warnings = append([]string(nil), res.Warnings...)
		c.results.Add(key, stored)
	}
	return res, nil
}

// Len returns the number of cached entries, expired ones included until
// the background sweep removes them
func (c *CachedEstimator) Len() int {
	return c.results.Len()
}

// cacheKey hashes the machine and the snapshot. encoding/json sorts map
// keys, so equal snapshots hash equally.
func cacheKey(req EstimationRequest) (uint64, bool) {
	data, err := json.Marshal(req.Snapshot)
	if err != nil {
		return 0, false
	}
	d := xxhash.New()
	_, _ = d.WriteString(string(req.Machine))
	_, _ = d.Write([]byte{0})
	_, _ = d.Write(data)
	return d.Sum64(), true
}
