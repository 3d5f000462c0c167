package instance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/pkg/metrics"
	"go.uber.org/zap"
)

// TopicReconcileCompleted is published after a reconciliation pass that
// observed at least one connected instance. The webhook health enforcer
// subscribes to it and runs staggered, never concurrent with polling.
const TopicReconcileCompleted = "reconcile.completed"

// ReconcilerConfig tunes the polling control loop.
type ReconcilerConfig struct {
	Interval       time.Duration // time between passes, ~4s
	PollTimeout    time.Duration // per-instance check-status timeout
	PairingTimeout time.Duration // max time an instance may stay connecting
	MaxWorkers     int           // concurrent poll upper bound
}

func (c *ReconcilerConfig) normalize() {
	if c.Interval <= 0 {
		c.Interval = 4 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 8 * time.Second
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = 5 * time.Minute
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 16
	}
}

// Reconciler is the status polling control loop. It runs only while at least
// one instance is connecting: Kick starts it, and it stops itself when the
// connecting set drains. Each instance is polled as an independent unit of
// work with its own timeout so one unresponsive instance cannot stall the
// others.
type Reconciler struct {
	registry *Registry
	gw       gateway.API
	bus      evbus.Bus
	cfg      ReconcilerConfig
	pool     *ants.Pool

	mu     sync.Mutex
	cancel context.CancelFunc
	kicks  uint64
}

func NewReconciler(registry *Registry, gw gateway.API, bus evbus.Bus, cfg ReconcilerConfig) (*Reconciler, error) {
	cfg.normalize()
	pool, err := ants.NewPool(cfg.MaxWorkers)
	if err != nil {
		return nil, err
	}
	return &Reconciler{
		registry: registry,
		gw:       gw,
		bus:      bus,
		cfg:      cfg,
		pool:     pool,
	}, nil
}

// Kick ensures the polling loop is running. Safe to call on every create,
// restart or pairing request; a no-op while a loop is already active.
func (r *Reconciler) Kick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	// recorded even when the loop is already running: an active loop about
	// to stop on an empty pass must see this kick and run another pass
	r.kicks++
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
	zap.L().Info("status reconciler started", zap.Duration("interval", r.cfg.Interval))
}

// Stop cancels the polling loop without leaking the ticker.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Close stops the loop and releases the worker pool.
func (r *Reconciler) Close() {
	r.Stop()
	r.pool.Release()
}

// Running reports whether the polling loop is active.
func (r *Reconciler) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

func (r *Reconciler) loop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.mu.Lock()
		gen := r.kicks
		r.mu.Unlock()

		if n := r.runPass(ctx); n == 0 {
			if r.stopIfIdle(gen) {
				return
			}
			// a kick landed while the pass ran; poll again next tick
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// stopIfIdle shuts the loop down only when no Kick arrived since the pass
// started. An instance entering connecting between the pass's list read and
// this call would otherwise never be polled again.
func (r *Reconciler) stopIfIdle(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.kicks != gen {
		return false
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	zap.L().Info("status reconciler idle, stopping loop")
	return true
}

// runPass polls every connecting instance concurrently and returns how many
// were found. Publishing happens strictly after the pass completes.
func (r *Reconciler) runPass(ctx context.Context) int {
	connecting, err := r.registry.ListByStatus(ctx, domain.InstanceConnecting)
	if err != nil {
		zap.L().Error("reconciler failed to list connecting instances", zap.Error(err))
		return 1 // keep the loop alive, the store may recover
	}
	if len(connecting) == 0 {
		return 0
	}

	var (
		wg             sync.WaitGroup
		connectedCount int64
	)
	for i := range connecting {
		inst := connecting[i]
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					zap.S().Error("reconciler poll panic: ", p)
				}
			}()
			if r.pollOne(ctx, &inst) {
				atomic.AddInt64(&connectedCount, 1)
			}
		}
		if err := r.pool.Submit(task); err != nil {
			wg.Done()
			zap.L().Warn("reconciler pool submit failed", zap.Error(err))
		}
	}
	wg.Wait()

	if atomic.LoadInt64(&connectedCount) > 0 && r.bus != nil {
		r.bus.Publish(TopicReconcileCompleted, int(connectedCount))
	}
	return len(connecting)
}

// pollOne checks one instance against the remote and applies the result.
// Reports whether the instance transitioned to connected.
func (r *Reconciler) pollOne(ctx context.Context, inst *domain.Instance) bool {
	observedSeq := inst.ActionSeq

	pctx, cancel := context.WithTimeout(ctx, r.cfg.PollTimeout)
	defer cancel()

	start := time.Now()
	desc, err := r.gw.CheckStatus(pctx, inst.Name)
	metrics.SetGauge(metrics.ReconcilePollMs, time.Since(start).Milliseconds())

	if err != nil {
		// transient failures are retried on the next interval, never fatal
		zap.L().Debug("check-status failed",
			zap.String("instance", inst.Name), zap.Error(err))
		r.expirePairing(ctx, inst, observedSeq)
		return false
	}

	switch desc.State {
	case gateway.StateConnected:
		applied, err := r.registry.ApplyPollResult(ctx, inst.ID, observedSeq,
			domain.InstanceConnected, desc.PhoneNumber, desc.LastSeen)
		if err != nil {
			zap.L().Error("failed to apply poll result",
				zap.String("instance", inst.Name), zap.Error(err))
			return false
		}
		if applied {
			metrics.IncrCounter(metrics.InstancesConnected, 1)
			zap.L().Info("instance connected",
				zap.String("instance", inst.Name),
				zap.String("phone", desc.PhoneNumber))
		}
		return applied
	case gateway.StateConnecting:
		// still pairing; leave every other field untouched
		r.expirePairing(ctx, inst, observedSeq)
	default:
		// ambiguous response: no transition. Only explicit logout/restart/
		// delete may move an instance away from connected.
		r.expirePairing(ctx, inst, observedSeq)
	}
	return false
}

// expirePairing moves an instance that has been connecting for longer than
// the pairing timeout back to disconnected.
func (r *Reconciler) expirePairing(ctx context.Context, inst *domain.Instance, observedSeq int64) bool {
	if time.Since(inst.StatusChangedAt) < r.cfg.PairingTimeout {
		return false
	}
	applied, err := r.registry.ApplyPollResult(ctx, inst.ID, observedSeq,
		domain.InstanceDisconnected, "", nil)
	if err != nil {
		zap.L().Error("failed to expire pairing",
			zap.String("instance", inst.Name), zap.Error(err))
		return false
	}
	if applied {
		metrics.IncrCounter(metrics.PairingTimeouts, 1)
		zap.L().Warn("pairing timed out",
			zap.String("instance", inst.Name),
			zap.Time("connecting_since", inst.StatusChangedAt))
	}
	return applied
}
