package instance

import (
	"context"
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkincode/wafleet/internal/gateway"
)

func TestEnforceAllPushesToConnectedOnly(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	ctx := context.Background()

	a, _, err := reg.Create(ctx, "hook_a", "", "")
	require.NoError(t, err)
	b, _, err := reg.Create(ctx, "hook_b", "", "")
	require.NoError(t, err)
	_, _, err = reg.Create(ctx, "hook_c", "", "")
	require.NoError(t, err)

	_, err = reg.ApplyPollResult(ctx, a.ID, a.ActionSeq, "connected", "", nil)
	require.NoError(t, err)
	_, err = reg.ApplyPollResult(ctx, b.ID, b.ActionSeq, "connected", "", nil)
	require.NoError(t, err)

	expected := gateway.WebhookConfig{URL: "https://hooks.example.com/wa", Enabled: true}
	enforcer := NewWebhookEnforcer(reg, gw, evbus.New(), expected, time.Millisecond)

	require.NoError(t, enforcer.EnforceAll(ctx))
	assert.ElementsMatch(t, []string{"hook_a", "hook_b"}, gw.webhooked())
}

func TestEnforceAllPushFailureDoesNotStopSweep(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	ctx := context.Background()

	for _, name := range []string{"hook_a", "hook_b"} {
		inst, _, err := reg.Create(ctx, name, "", "")
		require.NoError(t, err)
		_, err = reg.ApplyPollResult(ctx, inst.ID, inst.ActionSeq, "connected", "", nil)
		require.NoError(t, err)
	}

	gw.webhookFn = func(name string, cfg gateway.WebhookConfig) error {
		if name == "hook_a" {
			return &gateway.Error{Action: "configure-webhook", StatusCode: 500}
		}
		return nil
	}

	enforcer := NewWebhookEnforcer(reg, gw, evbus.New(), gateway.WebhookConfig{URL: "x"}, time.Millisecond)
	require.NoError(t, enforcer.EnforceAll(ctx))
	assert.Len(t, gw.webhooked(), 2, "both instances are attempted")
}

func TestEnforcerRunsStaggeredAfterReconcile(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	ctx := context.Background()

	inst, _, err := reg.Create(ctx, "hook_a", "", "")
	require.NoError(t, err)
	_, err = reg.ApplyPollResult(ctx, inst.ID, inst.ActionSeq, "connected", "", nil)
	require.NoError(t, err)

	bus := evbus.New()
	enforcer := NewWebhookEnforcer(reg, gw, bus, gateway.WebhookConfig{URL: "x"}, 20*time.Millisecond)
	require.NoError(t, enforcer.Start())
	defer enforcer.Stop()

	bus.Publish(TopicReconcileCompleted, 1)
	// nothing runs before the stagger delay
	assert.Empty(t, gw.webhooked())

	assert.Eventually(t, func() bool {
		return len(gw.webhooked()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEnforcerCoalescesOverlappingTriggers(t *testing.T) {
	gw := newFakeGateway()
	reg := NewRegistry(testDB(t), gw)
	ctx := context.Background()

	inst, _, err := reg.Create(ctx, "hook_a", "", "")
	require.NoError(t, err)
	_, err = reg.ApplyPollResult(ctx, inst.ID, inst.ActionSeq, "connected", "", nil)
	require.NoError(t, err)

	bus := evbus.New()
	enforcer := NewWebhookEnforcer(reg, gw, bus, gateway.WebhookConfig{URL: "x"}, 30*time.Millisecond)
	require.NoError(t, enforcer.Start())
	defer enforcer.Stop()

	for i := 0; i < 5; i++ {
		bus.Publish(TopicReconcileCompleted, 1)
	}

	assert.Eventually(t, func() bool {
		return len(gw.webhooked()) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, gw.webhooked(), 1, "overlapping triggers coalesce into one sweep")
}
