package instance

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/pkg/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested instance does not exist locally.
	ErrNotFound = errors.New("instance not found")
	// ErrInvalidName is returned for names outside [a-z0-9_]+.
	ErrInvalidName = errors.New("invalid instance name")
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Registry owns the durable record of instances. The local row is the single
// source of truth for user-visible state; remote teardown is best-effort and
// never a precondition for local deletion.
type Registry struct {
	db *gorm.DB
	gw gateway.API

	// per-instance write locks so a poll result and an explicit user action
	// on the same instance cannot interleave
	locks sync.Map // int64 -> *sync.Mutex
}

func NewRegistry(db *gorm.DB, gw gateway.API) *Registry {
	return &Registry{db: db, gw: gw}
}

func (r *Registry) lockFor(id int64) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Create validates inputs, registers the instance with the remote gateway and
// inserts the local record. Status starts disconnected unless the gateway
// returned a pairing payload synchronously, in which case pairing is already
// underway and the instance starts connecting.
func (r *Registry) Create(ctx context.Context, name, label, proxyString string) (*domain.Instance, *gateway.PairingPayload, error) {
	if !namePattern.MatchString(name) {
		return nil, nil, errors.Wrapf(ErrInvalidName, "%q", name)
	}
	var proxy *domain.ProxyDescriptor
	if proxyString != "" {
		var err error
		proxy, err = domain.ParseProxy(proxyString)
		if err != nil {
			return nil, nil, err
		}
	}

	var count int64
	r.db.WithContext(ctx).Model(&domain.Instance{}).Where("name = ?", name).Count(&count)
	if count > 0 {
		return nil, nil, fmt.Errorf("instance %s already exists", name)
	}

	res, err := r.gw.CreateInstance(ctx, gateway.CreateRequest{
		Name:   name,
		Proxy:  proxy,
		QRCode: true,
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "remote create")
	}

	now := time.Now()
	inst := &domain.Instance{
		ID:              common.UUIDint64(),
		Name:            name,
		Label:           label,
		Status:          domain.InstanceDisconnected,
		ProxyString:     proxyString,
		StatusChangedAt: now,
	}
	if res.Pairing != nil && !res.Pairing.Connected {
		inst.Status = domain.InstanceConnecting
	}
	if err := r.db.WithContext(ctx).Create(inst).Error; err != nil {
		return nil, nil, err
	}
	zap.L().Info("instance created",
		zap.String("name", name),
		zap.String("status", inst.Status),
		zap.Bool("pairing", res.Pairing != nil))
	return inst, res.Pairing, nil
}

func (r *Registry) Get(ctx context.Context, id int64) (*domain.Instance, error) {
	var inst domain.Instance
	err := r.db.WithContext(ctx).First(&inst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *Registry) GetByName(ctx context.Context, name string) (*domain.Instance, error) {
	var inst domain.Instance
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (r *Registry) List(ctx context.Context) ([]domain.Instance, error) {
	var instances []domain.Instance
	err := r.db.WithContext(ctx).Order("id DESC").Find(&instances).Error
	return instances, err
}

func (r *Registry) ListByStatus(ctx context.Context, status string) ([]domain.Instance, error) {
	var instances []domain.Instance
	err := r.db.WithContext(ctx).Where("status = ?", status).Find(&instances).Error
	return instances, err
}

// applyExplicitStatus records a user-triggered transition. Explicit actions
// bump the action sequence so any in-flight poll result is discarded.
func (r *Registry) applyExplicitStatus(ctx context.Context, id int64, status string) error {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()
	updates := map[string]interface{}{
		"status":            status,
		"status_changed_at": now,
		"action_seq":        gorm.Expr("action_seq + 1"),
	}
	if status == domain.InstanceDisconnected {
		updates["disconnected_at"] = now
	}
	tx := r.db.WithContext(ctx).Model(&domain.Instance{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Logout tears the remote session down and marks the instance disconnected.
// Remote failures are advisory: the local transition always happens.
func (r *Registry) Logout(ctx context.Context, id int64) error {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.gw.Logout(ctx, inst.Name); err != nil {
		zap.L().Warn("remote logout failed, applying local state anyway",
			zap.String("name", inst.Name), zap.Error(err))
	}
	return r.applyExplicitStatus(ctx, id, domain.InstanceDisconnected)
}

// Restart asks the gateway to restart the session and re-enters connecting.
func (r *Registry) Restart(ctx context.Context, id int64) error {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.gw.Restart(ctx, inst.Name); err != nil {
		zap.L().Warn("remote restart failed, re-entering connecting anyway",
			zap.String("name", inst.Name), zap.Error(err))
	}
	return r.applyExplicitStatus(ctx, id, domain.InstanceConnecting)
}

// Delete is two-phase: best-effort remote teardown, then unconditional local
// removal. A failed remote delete is logged and swallowed so the instance can
// never get stuck in the local fleet view; the orphan scanner corrects the
// resulting remote drift later.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	inst, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := r.gw.DeleteInstance(ctx, inst.Name); err != nil {
		zap.L().Warn("remote teardown failed, deleting local record anyway",
			zap.String("name", inst.Name), zap.Error(err))
	}
	return r.DeleteLocal(ctx, id)
}

// DeleteLocal removes only the local record. Callers that already handled the
// remote side (bulk teardown) use this directly.
func (r *Registry) DeleteLocal(ctx context.Context, id int64) error {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	tx := r.db.WithContext(ctx).Delete(&domain.Instance{}, id)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	r.locks.Delete(id)
	return nil
}

// ApplyPollResult applies a reconciler-derived update. observedSeq is the
// instance's action sequence snapshotted before the poll started: if an
// explicit action (logout/restart/delete) landed in between, the poll result
// is stale and discarded. Returns whether the update was applied.
func (r *Registry) ApplyPollResult(ctx context.Context, id, observedSeq int64, status, phone string, lastSeen *time.Time) (bool, error) {
	mu := r.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	var inst domain.Instance
	err := r.db.WithContext(ctx).First(&inst, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// deleted mid-poll, nothing to do
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if inst.ActionSeq != observedSeq {
		zap.L().Debug("discarding stale poll result",
			zap.String("name", inst.Name),
			zap.Int64("observed_seq", observedSeq),
			zap.Int64("current_seq", inst.ActionSeq))
		return false, nil
	}

	now := time.Now()
	updates := map[string]interface{}{}
	if status != "" && status != inst.Status {
		updates["status"] = status
		updates["status_changed_at"] = now
		if status == domain.InstanceDisconnected {
			updates["disconnected_at"] = now
		}
	}
	if phone != "" && phone != inst.PhoneNumber {
		updates["phone_number"] = phone
	}
	if lastSeen != nil {
		updates["last_seen"] = lastSeen
	}
	if len(updates) == 0 {
		return false, nil
	}

	tx := r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ? AND action_seq = ?", id, observedSeq).
		Updates(updates)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *Registry) UpdatePhoneNumber(ctx context.Context, id int64, phone string) error {
	return r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).Update("phone_number", phone).Error
}

func (r *Registry) UpdateLabel(ctx context.Context, id int64, label string) error {
	return r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).Update("label", label).Error
}

// UpdateProxy validates before touching the row; malformed descriptors are
// rejected without any remote call.
func (r *Registry) UpdateProxy(ctx context.Context, id int64, proxyString string) error {
	if proxyString != "" {
		if _, err := domain.ParseProxy(proxyString); err != nil {
			return err
		}
	}
	return r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("id = ?", id).Update("proxy_string", proxyString).Error
}

// RetentionEligible lists instances disconnected for longer than days,
// computed from disconnectedAt when set and createdAt otherwise.
func (r *Registry) RetentionEligible(ctx context.Context, days int) ([]domain.Instance, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	var instances []domain.Instance
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.InstanceDisconnected).
		Where("(disconnected_at IS NOT NULL AND disconnected_at < ?) OR (disconnected_at IS NULL AND created_at < ?)", cutoff, cutoff).
		Find(&instances).Error
	return instances, err
}
