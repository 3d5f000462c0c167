package app

import (
	"os"
	"runtime/debug"
	"time"
	_ "time/tzdata"

	evbus "github.com/asaskevich/EventBus"
	"github.com/robfig/cron/v3"
	"github.com/talkincode/wafleet/config"
	"github.com/talkincode/wafleet/internal/domain"
	"github.com/talkincode/wafleet/internal/gateway"
	"github.com/talkincode/wafleet/internal/instance"
	"github.com/talkincode/wafleet/pkg/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm"
)

type Application struct {
	appConfig     *config.AppConfig
	gormDB        *gorm.DB
	sched         *cron.Cron
	configManager *ConfigManager
	bus           evbus.Bus

	gatewayAPI gateway.API
	registry   *instance.Registry
	pairing    *instance.PairingService
	reconciler *instance.Reconciler
	enforcer   *instance.WebhookEnforcer
	teardown   *instance.TeardownCoordinator
	orphan     *instance.OrphanScanner
	validator  *instance.ProxyValidator
}

// Ensure Application implements all interfaces
var (
	_ DBProvider            = (*Application)(nil)
	_ ConfigProvider        = (*Application)(nil)
	_ SettingsProvider      = (*Application)(nil)
	_ SchedulerProvider     = (*Application)(nil)
	_ ConfigManagerProvider = (*Application)(nil)
	_ GatewayProvider       = (*Application)(nil)
	_ FleetProvider         = (*Application)(nil)
	_ AppContext            = (*Application)(nil)
)

func NewApplication(appConfig *config.AppConfig) *Application {
	return &Application{appConfig: appConfig}
}

func (a *Application) Config() *config.AppConfig {
	return a.appConfig
}

func (a *Application) DB() *gorm.DB {
	return a.gormDB
}

// OverrideDB replaces the application's database handle (used in tests).
func (a *Application) OverrideDB(db *gorm.DB) {
	a.gormDB = db
}

// OverrideGateway replaces the remote gateway client (used in tests).
func (a *Application) OverrideGateway(gw gateway.API) {
	a.gatewayAPI = gw
}

func (a *Application) Init(cfg *config.AppConfig) {
	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		zap.S().Error("timezone config error")
	} else {
		time.Local = loc
	}

	// Initialize zap logger
	var zapConfig zap.Config
	if cfg.Logger.Mode == "production" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	// Configure output paths
	zapConfig.OutputPaths = []string{"stdout"}
	if cfg.Logger.FileEnable {
		zapConfig.OutputPaths = append(zapConfig.OutputPaths, cfg.Logger.Filename)
	}

	// Build logger with file rotation if enabled
	var logger *zap.Logger
	if cfg.Logger.FileEnable {
		lumberJackLogger := &lumberjack.Logger{
			Filename:   cfg.Logger.Filename,
			MaxSize:    64,
			MaxBackups: 7,
			MaxAge:     7,
			Compress:   false,
		}

		core := zapcore.NewTee(
			zapcore.NewCore(
				zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
				zapcore.AddSync(lumberJackLogger),
				zapConfig.Level,
			),
			zapcore.NewCore(
				zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
				zapcore.AddSync(os.Stdout),
				zapConfig.Level,
			),
		)
		logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	} else {
		logger, err = zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
		if err != nil {
			panic(err)
		}
	}

	zap.ReplaceGlobals(logger)

	// Initialize metrics with workdir convention
	err = metrics.InitMetrics(cfg.System.Workdir)
	if err != nil {
		zap.S().Warn("Failed to initialize metrics:", err)
	}

	// Initialize database connection
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	a.gormDB = getDatabase(cfg.Database, cfg.System.Workdir)
	zap.S().Infof("Database connection successful, type: %s", cfg.Database.Type)

	// Ensure database schema is migrated before loading configs
	if err := a.MigrateDB(false); err != nil {
		zap.S().Errorf("database migration failed: %v", err)
	}

	// wait for database initialization to complete
	go func() {
		time.Sleep(3 * time.Second)
		a.checkSettings()
		a.checkSchedulers()
	}()

	// Initialize the configuration manager
	a.configManager = NewConfigManager(a)

	a.initInstanceServices()
	a.initJob()
}

// initInstanceServices wires the gateway client and the lifecycle services
// around it. The event bus connects the reconciler to the webhook enforcer.
func (a *Application) initInstanceServices() {
	cfg := a.appConfig.Gateway

	if a.gatewayAPI == nil {
		a.gatewayAPI = gateway.NewClient(cfg)
	}
	a.bus = evbus.New()
	a.registry = instance.NewRegistry(a.gormDB, a.gatewayAPI)
	a.pairing = instance.NewPairingService(a.gatewayAPI)
	a.validator = instance.NewProxyValidator(a.gatewayAPI)
	a.teardown = instance.NewTeardownCoordinator(a.registry,
		time.Duration(cfg.TeardownDelayMs)*time.Millisecond)
	a.orphan = instance.NewOrphanScanner(a.registry, a.gatewayAPI, cfg.OrphanAsyncThreshold)

	reconciler, err := instance.NewReconciler(a.registry, a.gatewayAPI, a.bus,
		instance.ReconcilerConfig{
			Interval:       time.Duration(cfg.PollInterval) * time.Second,
			PairingTimeout: time.Duration(cfg.PairingTimeout) * time.Second,
		})
	if err != nil {
		zap.S().Errorf("failed to init reconciler: %v", err)
		return
	}
	a.reconciler = reconciler

	a.enforcer = instance.NewWebhookEnforcer(a.registry, a.gatewayAPI, a.bus,
		gateway.WebhookConfig{
			URL:     cfg.WebhookURL,
			Events:  cfg.WebhookEvents,
			Enabled: cfg.WebhookURL != "",
		}, 0)
	if err := a.enforcer.Start(); err != nil {
		zap.S().Errorf("failed to start webhook enforcer: %v", err)
	}

	// resume polling for instances that were connecting before a restart
	a.reconciler.Kick()
}

func (a *Application) MigrateDB(track bool) (err error) {
	defer func() {
		if err1 := recover(); err1 != nil {
			if os.Getenv("GO_DEGUB_TRACE") != "" {
				debug.PrintStack()
			}
			err2, ok := err1.(error)
			if ok {
				err = err2
				zap.S().Error(err2.Error())
			}
		}
	}()
	if track {
		if err := a.gormDB.Debug().Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	} else {
		if err := a.gormDB.Migrator().AutoMigrate(domain.Tables...); err != nil {
			zap.S().Error(err)
		}
	}
	return nil
}

func (a *Application) DropAll() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
}

func (a *Application) InitDb() {
	_ = a.gormDB.Migrator().DropTable(domain.Tables...)
	err := a.gormDB.Migrator().AutoMigrate(domain.Tables...)
	if err != nil {
		zap.S().Error(err)
	}
}

// ConfigMgr returns the configuration manager
func (a *Application) ConfigMgr() *ConfigManager {
	return a.configManager
}

// Scheduler returns the cron scheduler
func (a *Application) Scheduler() *cron.Cron {
	return a.sched
}

// Gateway returns the remote gateway client
func (a *Application) Gateway() gateway.API {
	return a.gatewayAPI
}

// Registry returns the instance registry
func (a *Application) Registry() *instance.Registry {
	return a.registry
}

// Pairing returns the pairing session service
func (a *Application) Pairing() *instance.PairingService {
	return a.pairing
}

// Reconciler returns the status reconciler
func (a *Application) Reconciler() *instance.Reconciler {
	return a.reconciler
}

// Teardown returns the bulk teardown coordinator
func (a *Application) Teardown() *instance.TeardownCoordinator {
	return a.teardown
}

// OrphanScanner returns the orphan scanner
func (a *Application) OrphanScanner() *instance.OrphanScanner {
	return a.orphan
}

// ProxyValidator returns the proxy validator
func (a *Application) ProxyValidator() *instance.ProxyValidator {
	return a.validator
}

// WebhookEnforcer returns the webhook health enforcer
func (a *Application) WebhookEnforcer() *instance.WebhookEnforcer {
	return a.enforcer
}

// GetSettingsStringValue retrieves a string configuration value
func (a *Application) GetSettingsStringValue(category, key string) string {
	return a.configManager.GetString(category, key)
}

// GetSettingsInt64Value retrieves an int64 configuration value
func (a *Application) GetSettingsInt64Value(category, key string) int64 {
	return a.configManager.GetInt64(category, key)
}

// GetSettingsBoolValue retrieves a boolean configuration value
func (a *Application) GetSettingsBoolValue(category, key string) bool {
	return a.configManager.GetBool(category, key)
}

// SaveSettings persists configuration settings
func (a *Application) SaveSettings(settings map[string]interface{}) error {
	return a.configManager.Save(settings)
}

// Release releases application resources
func (a *Application) Release() {
	if a.sched != nil {
		a.sched.Stop()
	}

	if a.enforcer != nil {
		a.enforcer.Stop()
	}

	if a.reconciler != nil {
		a.reconciler.Close()
	}

	_ = metrics.Close()
	_ = zap.L().Sync()
}
