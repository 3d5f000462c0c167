package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// SysConfig system runtime settings
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// WebConfig admin API listener settings
type WebConfig struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	JwtSecret string `yaml:"jwt_secret" json:"jwt_secret"`
	ApiUser   string `yaml:"api_user" json:"api_user"`
	ApiPasswd string `yaml:"api_passwd" json:"api_passwd"`
}

// DBConfig database settings
type DBConfig struct {
	Type   string `yaml:"type" json:"type"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Name   string `yaml:"name" json:"name"`
	User   string `yaml:"user" json:"user"`
	Passwd string `yaml:"passwd" json:"passwd"`
	Debug  bool   `yaml:"debug" json:"debug"`
}

// GatewayConfig remote messaging-gateway settings
type GatewayConfig struct {
	// BaseURL is the root of the remote gateway API, e.g. https://gw.example.com
	BaseURL string `yaml:"base_url" json:"base_url"`
	ApiKey  string `yaml:"api_key" json:"api_key"`
	// Timeout is the per-request timeout in seconds
	Timeout int `yaml:"timeout" json:"timeout"`
	// WebhookURL is pushed to every connected instance by the health enforcer
	WebhookURL    string   `yaml:"webhook_url" json:"webhook_url"`
	WebhookEvents []string `yaml:"webhook_events" json:"webhook_events"`
	// PollInterval is the status reconciliation interval in seconds
	PollInterval int `yaml:"poll_interval" json:"poll_interval"`
	// PairingTimeout is how long an instance may stay connecting, in seconds
	PairingTimeout int `yaml:"pairing_timeout" json:"pairing_timeout"`
	// TeardownDelayMs is the inter-item delay for bulk deletions
	TeardownDelayMs int `yaml:"teardown_delay_ms" json:"teardown_delay_ms"`
	// RetentionDays is the disconnected-age threshold for retention cleanup
	RetentionDays int `yaml:"retention_days" json:"retention_days"`
	// OrphanAsyncThreshold: orphan sets larger than this are drained async
	OrphanAsyncThreshold int `yaml:"orphan_async_threshold" json:"orphan_async_threshold"`
}

// LogConfig logger settings
type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

type AppConfig struct {
	System   SysConfig     `yaml:"system" json:"system"`
	Web      WebConfig     `yaml:"web" json:"web"`
	Database DBConfig      `yaml:"database" json:"database"`
	Gateway  GatewayConfig `yaml:"gateway" json:"gateway"`
	Logger   LogConfig     `yaml:"logger" json:"logger"`
}

func (c *AppConfig) GetLogDir() string {
	return filepath.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return filepath.Join(c.System.Workdir, "data")
}

func (c *AppConfig) GatewayTimeout() time.Duration {
	if c.Gateway.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Gateway.Timeout) * time.Second
}

func (c *AppConfig) initDirs() {
	_ = os.MkdirAll(c.System.Workdir, 0755)
	_ = os.MkdirAll(c.GetLogDir(), 0755)
	_ = os.MkdirAll(c.GetDataDir(), 0755)
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "wafleet",
		Location: "Asia/Jakarta",
		Workdir:  "/var/wafleet",
		Debug:    true,
	},
	Web: WebConfig{
		Host:      "0.0.0.0",
		Port:      1827,
		JwtSecret: "9b6de5cc-wafleet-0000-0000-secret",
		ApiUser:   "admin",
		ApiPasswd: "wafleet",
	},
	Database: DBConfig{
		Type:   "postgres",
		Host:   "127.0.0.1",
		Port:   5432,
		Name:   "wafleet_v1",
		User:   "postgres",
		Passwd: "",
		Debug:  false,
	},
	Gateway: GatewayConfig{
		BaseURL:              "http://127.0.0.1:8080",
		ApiKey:               "",
		Timeout:              10,
		WebhookURL:           "",
		WebhookEvents:        []string{"messages.upsert", "connection.update", "qrcode.updated"},
		PollInterval:         4,
		PairingTimeout:       300,
		TeardownDelayMs:      500,
		RetentionDays:        7,
		OrphanAsyncThreshold: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/wafleet/wafleet.log",
	},
}

func setEnvValue(name string, f func(v string)) {
	var evalue = os.Getenv(name)
	if evalue != "" {
		f(evalue)
	}
}

// LoadConfig loads the YAML configuration from cfile, falling back to
// /etc/wafleet.yml and finally to built-in defaults. Secrets may be
// overridden from the environment.
func LoadConfig(cfile string) *AppConfig {
	cfg := DefaultAppConfig
	if cfile != "" && fileExists(cfile) {
		data, err := os.ReadFile(cfile)
		if err != nil {
			panic(err)
		}
		cfg = new(AppConfig)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			panic(fmt.Errorf("parse config %s: %w", cfile, err))
		}
	} else if fileExists("/etc/wafleet.yml") {
		data, err := os.ReadFile("/etc/wafleet.yml")
		if err != nil {
			panic(err)
		}
		cfg = new(AppConfig)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			panic(fmt.Errorf("parse config /etc/wafleet.yml: %w", err))
		}
	}
	cfg.initDirs()

	setEnvValue("WAFLEET_SYSTEM_WORKDIR", func(v string) { cfg.System.Workdir = v })
	setEnvValue("WAFLEET_DB_HOST", func(v string) { cfg.Database.Host = v })
	setEnvValue("WAFLEET_DB_NAME", func(v string) { cfg.Database.Name = v })
	setEnvValue("WAFLEET_DB_USER", func(v string) { cfg.Database.User = v })
	setEnvValue("WAFLEET_DB_PWD", func(v string) { cfg.Database.Passwd = v })
	setEnvValue("WAFLEET_GATEWAY_URL", func(v string) { cfg.Gateway.BaseURL = v })
	setEnvValue("WAFLEET_GATEWAY_APIKEY", func(v string) { cfg.Gateway.ApiKey = v })
	setEnvValue("WAFLEET_WEB_JWT_SECRET", func(v string) { cfg.Web.JwtSecret = v })

	return cfg
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
