package app

import (
	"context"
	"time"

	"github.com/talkincode/wafleet/internal/domain"
	"go.uber.org/zap"
)

// StartSchedulerService runs enabled schedulers periodically
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulers(ctx)
			}
		}
	}()
}

// Start scheduler job runner
func (a *Application) StartBackgroundJobs(ctx context.Context) {
	a.StartSchedulerService(ctx)
}

// runSchedulers executes enabled schedulers whose next run time has passed
func (a *Application) runSchedulers(ctx context.Context) {
	var schedulers []domain.SysScheduler
	a.gormDB.Where("status = ?", "enabled").Find(&schedulers)
	now := time.Now()
	for _, sched := range schedulers {
		if sched.NextRunAt.IsZero() || now.After(sched.NextRunAt) || now.Equal(sched.NextRunAt) {
			a.dispatchScheduler(ctx, &sched)
			a.gormDB.Model(&domain.SysScheduler{}).Where("id = ?", sched.ID).
				Update("next_run_at", now.Add(time.Duration(sched.Interval)*time.Second))
		}
	}
}

func (a *Application) dispatchScheduler(ctx context.Context, sched *domain.SysScheduler) {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Errorf("scheduler %s panic: %v", sched.TaskType, err)
		}
	}()

	switch sched.TaskType {
	case "retention_cleanup":
		a.runRetentionCleanup(ctx, sched)
	case "orphan_scan":
		a.runOrphanScan(ctx, sched)
	case "webhook_heal":
		a.runWebhookHeal(ctx, sched)
	case "phone_sync":
		a.runPhoneSync(ctx, sched)
	default:
		// unsupported task type
	}
}

// RunSchedulerNow triggers a scheduler execution immediately by ID
func (a *Application) RunSchedulerNow(id int64) error {
	var sched domain.SysScheduler
	if err := a.gormDB.First(&sched, id).Error; err != nil {
		return err
	}

	a.dispatchScheduler(context.Background(), &sched)

	now := time.Now()
	a.gormDB.Model(&domain.SysScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at": now,
		"next_run_at": now.Add(time.Duration(sched.Interval) * time.Second),
	})
	return nil
}

func (a *Application) markSchedulerRun(sched *domain.SysScheduler, result, message string) {
	a.gormDB.Model(&domain.SysScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at":  time.Now(),
		"last_result":  result,
		"last_message": message,
	})
}

// runRetentionCleanup removes instances past the retention window
func (a *Application) runRetentionCleanup(ctx context.Context, sched *domain.SysScheduler) {
	days := int(a.GetSettingsInt64Value("gateway", "RetentionDays"))
	if days <= 0 {
		days = a.appConfig.Gateway.RetentionDays
	}
	result, err := a.teardown.TeardownExpired(ctx, days)
	if err != nil {
		zap.L().Error("retention cleanup failed", zap.Error(err))
		a.markSchedulerRun(sched, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched, "success",
		time.Now().Format(time.RFC3339))
	zap.L().Info("retention cleanup done",
		zap.Int("success", result.Success), zap.Int("fail", result.Fail))
}

// runOrphanScan deletes remote instances with no local record
func (a *Application) runOrphanScan(ctx context.Context, sched *domain.SysScheduler) {
	report, err := a.orphan.Scan(ctx)
	if err != nil {
		zap.L().Error("orphan scan failed", zap.Error(err))
		a.markSchedulerRun(sched, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched, "success", "orphan scan completed")
	zap.L().Info("orphan scan done",
		zap.Int("found", report.OrphanedFound),
		zap.Int("deleted", report.Deleted),
		zap.Int("failed", report.Failed),
		zap.Bool("started", report.Started))
}

// runWebhookHeal sweeps the expected webhook config over connected instances
func (a *Application) runWebhookHeal(ctx context.Context, sched *domain.SysScheduler) {
	if err := a.enforcer.EnforceAll(ctx); err != nil {
		zap.L().Error("webhook heal failed", zap.Error(err))
		a.markSchedulerRun(sched, "failed", err.Error())
		return
	}
	a.markSchedulerRun(sched, "success", "webhook sweep completed")
}

// runPhoneSync backfills phone numbers from the remote gateway
func (a *Application) runPhoneSync(ctx context.Context, sched *domain.SysScheduler) {
	phones, err := a.gatewayAPI.SyncPhoneNumbers(ctx)
	if err != nil {
		zap.L().Error("phone sync failed", zap.Error(err))
		a.markSchedulerRun(sched, "failed", err.Error())
		return
	}

	updated := 0
	for name, phone := range phones {
		if phone == "" {
			continue
		}
		inst, err := a.registry.GetByName(ctx, name)
		if err != nil || inst.PhoneNumber == phone {
			continue
		}
		if err := a.registry.UpdatePhoneNumber(ctx, inst.ID, phone); err != nil {
			zap.L().Warn("phone sync update failed",
				zap.String("instance", name), zap.Error(err))
			continue
		}
		updated++
	}
	a.markSchedulerRun(sched, "success", "phone numbers synced")
	zap.L().Info("phone sync done",
		zap.Int("remote", len(phones)), zap.Int("updated", updated))
}
