package instance

import (
	"context"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/pkg/metrics"
	"go.uber.org/zap"
)

// WebhookEnforcer keeps every connected instance configured with the
// expected webhook target. Remote webhook settings are known to drift, so
// the push is unconditional: the expected config is written on every sweep
// rather than diffed against whatever the remote currently reports.
type WebhookEnforcer struct {
	registry *Registry
	gw       gateway.API
	bus      evbus.Bus
	expected gateway.WebhookConfig
	stagger  time.Duration

	pending int32
}

// NewWebhookEnforcer builds an enforcer for the expected webhook config.
// Call Start to begin listening for reconcile completions.
func NewWebhookEnforcer(registry *Registry, gw gateway.API, bus evbus.Bus,
	expected gateway.WebhookConfig, stagger time.Duration) *WebhookEnforcer {
	if stagger <= 0 {
		stagger = 2 * time.Second
	}
	return &WebhookEnforcer{
		registry: registry,
		gw:       gw,
		bus:      bus,
		expected: expected,
		stagger:  stagger,
	}
}

// Start subscribes to reconcile completions. The sweep itself runs staggered
// behind the pass that triggered it so webhook writes never race a poll
// burst, and overlapping triggers coalesce into a single pending sweep.
func (w *WebhookEnforcer) Start() error {
	return w.bus.Subscribe(TopicReconcileCompleted, w.onReconcileCompleted)
}

// Stop detaches the enforcer from the event bus.
func (w *WebhookEnforcer) Stop() {
	_ = w.bus.Unsubscribe(TopicReconcileCompleted, w.onReconcileCompleted)
}

func (w *WebhookEnforcer) onReconcileCompleted(connected int) {
	if !atomic.CompareAndSwapInt32(&w.pending, 0, 1) {
		return
	}
	time.AfterFunc(w.stagger, func() {
		defer atomic.StoreInt32(&w.pending, 0)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := w.EnforceAll(ctx); err != nil {
			zap.L().Error("webhook sweep failed", zap.Error(err))
		}
	})
}

// EnforceAll pushes the expected webhook configuration to every connected
// instance. A failure on one instance is logged and does not stop the sweep.
func (w *WebhookEnforcer) EnforceAll(ctx context.Context) error {
	connected, err := w.registry.ListByStatus(ctx, domain.InstanceConnected)
	if err != nil {
		return err
	}
	for i := range connected {
		inst := &connected[i]
		if err := w.gw.ConfigureWebhook(ctx, inst.Name, w.expected); err != nil {
			zap.L().Warn("webhook push failed",
				zap.String("instance", inst.Name), zap.Error(err))
			continue
		}
		metrics.IncrCounter(metrics.WebhookHeals, 1)
		zap.L().Debug("webhook enforced", zap.String("instance", inst.Name))
	}
	return nil
}
