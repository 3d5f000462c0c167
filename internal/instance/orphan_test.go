package instance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wafleet/internal/gateway"
)

func TestOrphanScanDeletesRemoteOnly(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 10)
	ctx := context.Background()

	_, _, err := reg.Create(ctx, "known_01", "", "")
	require.NoError(t, err)

	gw.listFn = func() ([]gateway.RemoteInstance, error) {
		return []gateway.RemoteInstance{
			{Name: "known_01"},
			{Name: "ghost_01"},
			{Name: "ghost_02"},
		}, nil
	}

	report, err := scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphanedFound)
	assert.Equal(t, 2, report.Deleted)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Started)
	assert.ElementsMatch(t, []string{"ghost_01", "ghost_02"}, gw.deleted())
}

func TestOrphanScanEmptyRemoteIsNotAnError(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 10)

	report, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.OrphanedFound)
	assert.Empty(t, gw.deleted())
}

func TestOrphanScanNoOrphans(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 10)
	ctx := context.Background()

	_, _, err := reg.Create(ctx, "known_01", "", "")
	require.NoError(t, err)
	gw.listFn = func() ([]gateway.RemoteInstance, error) {
		return []gateway.RemoteInstance{{Name: "known_01"}}, nil
	}

	report, err := scanner.Scan(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.OrphanedFound)
	assert.Zero(t, report.Deleted)
}

func TestOrphanScanCountsFailures(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 10)

	gw.listFn = func() ([]gateway.RemoteInstance, error) {
		return []gateway.RemoteInstance{{Name: "ghost_01"}, {Name: "ghost_02"}}, nil
	}
	gw.deleteFn = func(name string) error {
		if name == "ghost_02" {
			return &gateway.Error{Action: "delete-instance", StatusCode: 500}
		}
		return nil
	}

	report, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.OrphanedFound)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Failed)
}

func TestOrphanScanLargeSetGoesAsync(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 3)

	gw.listFn = func() ([]gateway.RemoteInstance, error) {
		remote := make([]gateway.RemoteInstance, 0, 5)
		for i := 0; i < 5; i++ {
			remote = append(remote, gateway.RemoteInstance{Name: fmt.Sprintf("ghost_%02d", i)})
		}
		return remote, nil
	}

	report, err := scanner.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.OrphanedFound)
	assert.True(t, report.Started)
	assert.Zero(t, report.Deleted, "async runs report zero synchronous deletions")

	// the background drain still removes everything
	assert.Eventually(t, func() bool {
		return len(gw.deleted()) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrphanScanRemoteListFailure(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	scanner := NewOrphanScanner(reg, gw, 10)

	gw.listFn = func() ([]gateway.RemoteInstance, error) {
		return nil, &gateway.Error{Action: "list-instances", StatusCode: 502}
	}

	_, err := scanner.Scan(context.Background())
	assert.Error(t, err)
	assert.Empty(t, gw.deleted())
}
