package instance

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(domain.Tables...))
	return db
}

func testRegistry(t *testing.T) (*Registry, *fakeGateway) {
	t.Helper()
	gw := newFakeGateway()
	return NewRegistry(testDB(t), gw), gw
}

func TestCreateStartsConnectingWithPairing(t *testing.T) {
	reg, _ := testRegistry(t)

	inst, pairing, err := reg.Create(context.Background(), "billing_01", "billing line", "")
	require.NoError(t, err)
	require.NotNil(t, pairing)
	assert.NotZero(t, inst.ID)
	assert.Equal(t, domain.InstanceConnecting, inst.Status)
	assert.NotEmpty(t, pairing.Base64)
}

func TestCreateRejectsBadNames(t *testing.T) {
	reg, _ := testRegistry(t)

	for _, name := range []string{"", "Billing", "has space", "has-dash", "emoji🙂"} {
		_, _, err := reg.Create(context.Background(), name, "", "")
		assert.True(t, errors.Is(err, ErrInvalidName), "expected %q rejected", name)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	reg, _ := testRegistry(t)

	_, _, err := reg.Create(context.Background(), "dup_01", "", "")
	require.NoError(t, err)
	_, _, err = reg.Create(context.Background(), "dup_01", "", "")
	assert.Error(t, err)
}

func TestCreateRejectsBadProxyBeforeRemoteCall(t *testing.T) {
	reg, gw := testRegistry(t)
	called := false
	gw.createFn = func(req gateway.CreateRequest) (*gateway.CreateResult, error) {
		called = true
		return &gateway.CreateResult{Name: req.Name}, nil
	}

	_, _, err := reg.Create(context.Background(), "proxy_01", "", "http://bad:proxy@x:80")
	assert.Error(t, err)
	assert.False(t, called, "remote create must not run for a bad proxy")
}

func TestCreateAlreadyConnectedPayload(t *testing.T) {
	reg, gw := testRegistry(t)
	gw.createFn = func(req gateway.CreateRequest) (*gateway.CreateResult, error) {
		return &gateway.CreateResult{
			Name:    req.Name,
			Pairing: &gateway.PairingPayload{Connected: true},
		}, nil
	}

	inst, _, err := reg.Create(context.Background(), "open_01", "", "")
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceDisconnected, inst.Status)
}

func TestLogoutAppliesLocalStateOnRemoteFailure(t *testing.T) {
	reg, gw := testRegistry(t)
	inst, _, err := reg.Create(context.Background(), "flaky_01", "", "")
	require.NoError(t, err)

	gw.logoutFn = func(name string) error {
		return &gateway.Error{Action: "logout-instance", StatusCode: 500}
	}

	require.NoError(t, reg.Logout(context.Background(), inst.ID))

	got, err := reg.Get(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceDisconnected, got.Status)
	assert.NotNil(t, got.DisconnectedAt)
	assert.Greater(t, got.ActionSeq, inst.ActionSeq)
}

func TestDeleteIsTwoPhase(t *testing.T) {
	reg, gw := testRegistry(t)
	inst, _, err := reg.Create(context.Background(), "gone_01", "", "")
	require.NoError(t, err)

	// remote delete fails, local record must go anyway
	gw.deleteFn = func(name string) error {
		return &gateway.Error{Action: "delete-instance", StatusCode: 500}
	}
	require.NoError(t, reg.Delete(context.Background(), inst.ID))
	assert.Equal(t, []string{"gone_01"}, gw.deleted())

	_, err = reg.Get(context.Background(), inst.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestApplyPollResultDiscardsStaleSeq(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()
	inst, _, err := reg.Create(ctx, "race_01", "", "")
	require.NoError(t, err)

	observedSeq := inst.ActionSeq

	// an explicit action lands while the poll is in flight
	require.NoError(t, reg.Logout(ctx, inst.ID))

	applied, err := reg.ApplyPollResult(ctx, inst.ID, observedSeq,
		domain.InstanceConnected, "628123", nil)
	require.NoError(t, err)
	assert.False(t, applied, "stale poll result must be discarded")

	got, err := reg.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceDisconnected, got.Status)
	assert.Empty(t, got.PhoneNumber)
}

func TestApplyPollResultConnects(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()
	inst, _, err := reg.Create(ctx, "good_01", "", "")
	require.NoError(t, err)

	seen := time.Now().Add(-time.Minute).Truncate(time.Second)
	applied, err := reg.ApplyPollResult(ctx, inst.ID, inst.ActionSeq,
		domain.InstanceConnected, "628123456789", &seen)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := reg.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InstanceConnected, got.Status)
	assert.Equal(t, "628123456789", got.PhoneNumber)
	require.NotNil(t, got.LastSeen)
}

func TestApplyPollResultDeletedInstance(t *testing.T) {
	reg, _ := testRegistry(t)
	applied, err := reg.ApplyPollResult(context.Background(), 424242, 0,
		domain.InstanceConnected, "", nil)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpdateProxyValidatesFirst(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()
	inst, _, err := reg.Create(ctx, "px_01", "", "")
	require.NoError(t, err)

	assert.Error(t, reg.UpdateProxy(ctx, inst.ID, "not-a-proxy"))
	assert.NoError(t, reg.UpdateProxy(ctx, inst.ID, "socks5://u:p@egress.example.com:1080"))
	// clearing the proxy is allowed
	assert.NoError(t, reg.UpdateProxy(ctx, inst.ID, ""))
}

func TestRetentionEligibleFallsBackToCreatedAt(t *testing.T) {
	reg, _ := testRegistry(t)
	ctx := context.Background()
	db := reg.db

	old := time.Now().AddDate(0, 0, -30)
	recent := time.Now().Add(-time.Hour)

	// never connected, old: eligible via created_at
	require.NoError(t, db.Create(&domain.Instance{
		ID: 1, Name: "stale_never", Status: domain.InstanceDisconnected,
		StatusChangedAt: old, CreatedAt: old,
	}).Error)
	// disconnected recently but created long ago: not eligible
	require.NoError(t, db.Create(&domain.Instance{
		ID: 2, Name: "fresh_disc", Status: domain.InstanceDisconnected,
		DisconnectedAt: &recent, StatusChangedAt: recent, CreatedAt: old,
	}).Error)
	// disconnected long ago: eligible
	require.NoError(t, db.Create(&domain.Instance{
		ID: 3, Name: "stale_disc", Status: domain.InstanceDisconnected,
		DisconnectedAt: &old, StatusChangedAt: old, CreatedAt: old,
	}).Error)
	// connected instances are never eligible
	require.NoError(t, db.Create(&domain.Instance{
		ID: 4, Name: "live_one", Status: domain.InstanceConnected,
		StatusChangedAt: old, CreatedAt: old,
	}).Error)

	eligible, err := reg.RetentionEligible(ctx, 7)
	require.NoError(t, err)

	names := make([]string, 0, len(eligible))
	for _, e := range eligible {
		names = append(names, e.Name)
	}
	assert.ElementsMatch(t, []string{"stale_never", "stale_disc"}, names)
}
