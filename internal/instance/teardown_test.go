package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
)

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.calls++
	return w.err
}

func setupTeardown(t *testing.T, n int) (*TeardownCoordinator, *Registry, *fakeGateway, []int64, *countingWaiter) {
	t.Helper()
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	waiter := &countingWaiter{}
	coord := NewTeardownCoordinatorWithWaiter(reg, waiter)

	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		inst, _, err := reg.Create(context.Background(), string(rune('a'+i))+"_team", "", "")
		require.NoError(t, err)
		ids = append(ids, inst.ID)
	}
	return coord, reg, gw, ids, waiter
}

func TestTeardownPacesEveryGap(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)

	ids := make([]int64, 0, 3)
	for _, name := range []string{"pace_a", "pace_b", "pace_c"} {
		inst, _, err := reg.Create(context.Background(), name, "", "")
		require.NoError(t, err)
		ids = append(ids, inst.ID)
	}

	var mu sync.Mutex
	var stamps []time.Time
	gw.deleteFn = func(name string) error {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		return nil
	}

	const delay = 60 * time.Millisecond
	coord := NewTeardownCoordinator(reg, delay)
	result, err := coord.TeardownAll(context.Background(), ids, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Success)

	// every gap must honor the delay, the first one included
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), delay-10*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), delay-10*time.Millisecond)
}

func TestTeardownAllAccountsForEveryItem(t *testing.T) {
	coord, reg, _, ids, waiter := setupTeardown(t, 4)

	var progress []int
	result, err := coord.TeardownAll(context.Background(), ids, func(current, total int) {
		assert.Equal(t, 4, total)
		progress = append(progress, current)
	})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Success)
	assert.Zero(t, result.Fail)
	assert.Equal(t, len(ids), result.Success+result.Fail)
	assert.Equal(t, []int{1, 2, 3, 4}, progress)
	// the delay runs between items, not before the first
	assert.Equal(t, 3, waiter.calls)

	remaining, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestTeardownItemFailureDoesNotAbort(t *testing.T) {
	coord, reg, _, ids, _ := setupTeardown(t, 3)

	// one id does not exist locally
	ids[1] = 999999

	result, err := coord.TeardownAll(context.Background(), ids, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)
	assert.Equal(t, 1, result.Fail)
	assert.Equal(t, len(ids), result.Success+result.Fail)

	remaining, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining, "surviving items before and after the failure are deleted")
}

func TestTeardownRemoteFailureStillDeletesLocally(t *testing.T) {
	coord, reg, gw, ids, _ := setupTeardown(t, 2)
	gw.deleteFn = func(name string) error {
		return &gateway.Error{Action: "delete-instance", StatusCode: 500}
	}

	result, err := coord.TeardownAll(context.Background(), ids, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Success)

	remaining, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestTeardownCanceledContext(t *testing.T) {
	coord, _, _, ids, waiter := setupTeardown(t, 3)
	waiter.err = context.Canceled

	result, err := coord.TeardownAll(context.Background(), ids, nil)
	assert.ErrorIs(t, err, context.Canceled)
	// the first item ran before the first wait
	assert.Equal(t, 1, result.Success)
	assert.Equal(t, 2, result.Fail)
	assert.Equal(t, len(ids), result.Success+result.Fail)
}

func TestTeardownExpired(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	coord := NewTeardownCoordinatorWithWaiter(reg, &countingWaiter{})
	ctx := context.Background()

	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, reg.db.Create(&domain.Instance{
		ID: 1, Name: "old_one", Status: domain.InstanceDisconnected,
		DisconnectedAt: &old, StatusChangedAt: old, CreatedAt: old,
	}).Error)
	inst, _, err := reg.Create(ctx, "fresh_one", "", "")
	require.NoError(t, err)

	result, err := coord.TeardownExpired(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Success)

	_, err = reg.Get(ctx, inst.ID)
	assert.NoError(t, err, "instances inside the window survive")
}

func TestTeardownExpiredEmptyWindow(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	coord := NewTeardownCoordinatorWithWaiter(reg, &countingWaiter{})

	result, err := coord.TeardownExpired(context.Background(), 7)
	require.NoError(t, err)
	assert.Zero(t, result.Success)
	assert.Zero(t, result.Fail)
}
