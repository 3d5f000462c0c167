package instance

import (
	"context"
	"time"

	"github.com/talkincode/wafleet/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Waiter paces the gap between consecutive teardown items.
type Waiter interface {
	Wait(ctx context.Context) error
}

// TeardownResult totals one bulk teardown run. Success plus Fail always
// equals the number of requested instances.
type TeardownResult struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// TeardownProgress is invoked after each item with the running position.
type TeardownProgress func(current, total int)

// TeardownCoordinator deletes sets of instances sequentially. A fixed delay
// between items keeps bulk operations from hammering the remote gateway, and
// a failed item never aborts the remaining ones.
type TeardownCoordinator struct {
	registry *Registry
	waiter   Waiter
}

// NewTeardownCoordinator builds a coordinator pacing items with delay
// between consecutive deletions.
func NewTeardownCoordinator(registry *Registry, delay time.Duration) *TeardownCoordinator {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(delay), 1)
	// the bucket starts full; drain it or the first inter-item wait
	// returns immediately and items 1 and 2 run back-to-back
	limiter.Allow()
	return &TeardownCoordinator{
		registry: registry,
		waiter:   limiter,
	}
}

// NewTeardownCoordinatorWithWaiter builds a coordinator with a caller
// supplied pacer.
func NewTeardownCoordinatorWithWaiter(registry *Registry, waiter Waiter) *TeardownCoordinator {
	return &TeardownCoordinator{registry: registry, waiter: waiter}
}

// TeardownAll deletes the given instances one at a time. Each item is a
// two-phase delete: the remote side best-effort, the local record
// authoritative. Returns early only when ctx is canceled; the partial result
// reflects the items processed so far.
func (t *TeardownCoordinator) TeardownAll(ctx context.Context, ids []int64, progress TeardownProgress) (*TeardownResult, error) {
	result := &TeardownResult{}
	total := len(ids)
	for i, id := range ids {
		if i > 0 {
			if err := t.waiter.Wait(ctx); err != nil {
				result.Fail += total - i
				return result, err
			}
		}
		if err := t.registry.Delete(ctx, id); err != nil {
			result.Fail++
			metrics.IncrCounter(metrics.TeardownFailed, 1)
			zap.L().Warn("teardown item failed",
				zap.Int64("id", id), zap.Error(err))
		} else {
			result.Success++
			metrics.IncrCounter(metrics.TeardownSuccess, 1)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	zap.L().Info("bulk teardown finished",
		zap.Int("success", result.Success), zap.Int("fail", result.Fail))
	return result, nil
}

// TeardownExpired removes every instance past the retention window. The
// reference time is the disconnect timestamp, falling back to creation time
// for instances that never connected.
func (t *TeardownCoordinator) TeardownExpired(ctx context.Context, retentionDays int) (*TeardownResult, error) {
	expired, err := t.registry.RetentionEligible(ctx, retentionDays)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return &TeardownResult{}, nil
	}
	ids := make([]int64, 0, len(expired))
	for i := range expired {
		ids = append(ids, expired[i].ID)
	}
	zap.L().Info("retention cleanup starting",
		zap.Int("expired", len(ids)), zap.Int("retention_days", retentionDays))
	return t.TeardownAll(ctx, ids, nil)
}
