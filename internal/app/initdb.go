package app

import (
	"time"

	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/pkg/common"
	"go.uber.org/zap"
)

type defaultSetting struct {
	Category    string
	Name        string
	Value       string
	Description string
}

var defaultSettings = []defaultSetting{
	{"system", "SystemTitle", "wafleet", "System title"},
	{"gateway", "PairingTimeoutSeconds", "300", "Max seconds an instance may stay connecting"},
	{"gateway", "RetentionDays", "7", "Days a disconnected instance is kept before cleanup"},
	{"gateway", "OrphanAsyncThreshold", "10", "Orphan sets larger than this are drained asynchronously"},
	{"scheduler", "max_workers", "50", "Max concurrent scheduler workers"},
}

// checkSettings initializes missing configuration rows with defaults.
func (a *Application) checkSettings() {
	for sortid, s := range defaultSettings {
		var count int64
		a.gormDB.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", s.Category, s.Name).
			Count(&count)

		if count == 0 {
			a.gormDB.Create(&domain.SysConfig{
				ID:     common.UUIDint64(),
				Sort:   sortid,
				Type:   s.Category,
				Name:   s.Name,
				Value:  s.Value,
				Remark: s.Description,
			})
			zap.L().Info("initialized config",
				zap.String("key", s.Category+"."+s.Name),
				zap.String("default", s.Value))
		}
	}
}

// checkSchedulers initializes default scheduled tasks
func (a *Application) checkSchedulers() {
	defaultSchedulers := []domain.SysScheduler{
		{
			Name:     "Retention Cleanup",
			TaskType: "retention_cleanup",
			Interval: 86400, // daily
			Status:   "enabled",
			Remark:   "Removes instances disconnected longer than the retention window",
		},
		{
			Name:     "Orphan Scan",
			TaskType: "orphan_scan",
			Interval: 3600, // 1 hour
			Status:   "enabled",
			Remark:   "Deletes remote gateway instances with no local record",
		},
		{
			Name:     "Webhook Heal",
			TaskType: "webhook_heal",
			Interval: 1800, // 30 minutes
			Status:   "enabled",
			Remark:   "Pushes the expected webhook config to every connected instance",
		},
		{
			Name:     "Phone Sync",
			TaskType: "phone_sync",
			Interval: 3600, // 1 hour
			Status:   "enabled",
			Remark:   "Backfills phone numbers from the remote gateway",
		},
	}

	for _, sched := range defaultSchedulers {
		var count int64
		a.gormDB.Model(&domain.SysScheduler{}).
			Where("task_type = ?", sched.TaskType).
			Count(&count)

		if count == 0 {
			sched.ID = common.UUIDint64()
			sched.NextRunAt = time.Now().Add(time.Duration(sched.Interval) * time.Second)
			if err := a.gormDB.Create(&sched).Error; err != nil {
				zap.L().Error("failed to create default scheduler",
					zap.String("name", sched.Name),
					zap.Error(err))
			} else {
				zap.L().Info("initialized default scheduler",
					zap.String("name", sched.Name),
					zap.String("task_type", sched.TaskType))
			}
		}
	}
}
