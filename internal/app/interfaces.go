package app

import (
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wafleet/config"
	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/internal/instance"
	"gorm.io/gorm"
)

// DBProvider provides database access
type DBProvider interface {
	DB() *gorm.DB
}

// ConfigProvider provides application configuration
type ConfigProvider interface {
	Config() *config.AppConfig
}

// SettingsProvider provides system settings access
type SettingsProvider interface {
	GetSettingsStringValue(category, key string) string
	GetSettingsInt64Value(category, key string) int64
	GetSettingsBoolValue(category, key string) bool
	SaveSettings(settings map[string]interface{}) error
}

// SchedulerProvider provides task scheduling capability
type SchedulerProvider interface {
	Scheduler() *cron.Cron
}

// ConfigManagerProvider provides configuration manager access
type ConfigManagerProvider interface {
	ConfigMgr() *ConfigManager
}

// GatewayProvider provides the remote messaging-gateway client
type GatewayProvider interface {
	Gateway() gateway.API
}

// FleetProvider provides the instance lifecycle services
type FleetProvider interface {
	Registry() *instance.Registry
	Pairing() *instance.PairingService
	Reconciler() *instance.Reconciler
	Teardown() *instance.TeardownCoordinator
	OrphanScanner() *instance.OrphanScanner
	ProxyValidator() *instance.ProxyValidator
	WebhookEnforcer() *instance.WebhookEnforcer
}

// AppContext combines all provider interfaces for full application context
// Services should depend on specific providers or this combined interface
type AppContext interface {
	DBProvider
	ConfigProvider
	SettingsProvider
	SchedulerProvider
	ConfigManagerProvider
	GatewayProvider
	FleetProvider

	// Application lifecycle methods
	MigrateDB(track bool) error
	InitDb()
	DropAll()
	// RunSchedulerNow triggers a scheduler execution immediately by ID
	RunSchedulerNow(id int64) error
}
