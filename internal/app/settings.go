package app

import (
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"
	"github.com/talkincode/wafleet/internal/domain"
	"go.uber.org/zap"
)

// ConfigManager caches sys_config rows and hands out typed values. Values
// are grouped by category (the row's type column) and name.
type ConfigManager struct {
	app *Application

	mu      sync.RWMutex
	cache   map[string]string
	expires time.Time
	ttl     time.Duration
}

func NewConfigManager(app *Application) *ConfigManager {
	return &ConfigManager{
		app:   app,
		cache: make(map[string]string),
		ttl:   time.Minute,
	}
}

func settingKey(category, name string) string {
	return category + "." + name
}

func (m *ConfigManager) load() {
	var rows []domain.SysConfig
	if err := m.app.DB().Find(&rows).Error; err != nil {
		zap.L().Error("failed to load settings", zap.Error(err))
		return
	}
	next := make(map[string]string, len(rows))
	for i := range rows {
		next[settingKey(rows[i].Type, rows[i].Name)] = rows[i].Value
	}
	m.cache = next
	m.expires = time.Now().Add(m.ttl)
}

func (m *ConfigManager) value(category, name string) string {
	m.mu.RLock()
	if time.Now().Before(m.expires) {
		v := m.cache[settingKey(category, name)]
		m.mu.RUnlock()
		return v
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Now().After(m.expires) {
		m.load()
	}
	return m.cache[settingKey(category, name)]
}

func (m *ConfigManager) GetString(category, name string) string {
	return m.value(category, name)
}

func (m *ConfigManager) GetInt(category, name string) int {
	return cast.ToInt(m.value(category, name))
}

func (m *ConfigManager) GetInt64(category, name string) int64 {
	return cast.ToInt64(m.value(category, name))
}

func (m *ConfigManager) GetBool(category, name string) bool {
	return cast.ToBool(m.value(category, name))
}

// Save writes settings back to the database. Keys are "category.name";
// values are coerced to string. Unknown keys create new rows.
func (m *ConfigManager) Save(settings map[string]interface{}) error {
	db := m.app.DB()
	for key, raw := range settings {
		parts := strings.SplitN(key, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			zap.L().Warn("invalid setting key format", zap.String("key", key))
			continue
		}
		category, name := parts[0], parts[1]
		value := cast.ToString(raw)

		var count int64
		db.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Count(&count)
		if count == 0 {
			if err := db.Create(&domain.SysConfig{
				Type:  category,
				Name:  name,
				Value: value,
			}).Error; err != nil {
				return err
			}
			continue
		}
		if err := db.Model(&domain.SysConfig{}).
			Where("type = ? and name = ?", category, name).
			Update("value", value).Error; err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.expires = time.Time{} // force reload on next read
	m.mu.Unlock()
	return nil
}
