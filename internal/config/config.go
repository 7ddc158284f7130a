// Package config provides YAML-based configuration loading for nexbot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level nexbot configuration, loaded from nexbot.yaml.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Admin     AdminConfig     `yaml:"admin"`
	Modes     ModesConfig     `yaml:"modes"`
	Promotion PromotionConfig `yaml:"promotion"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Panel     PanelConfig     `yaml:"panel"`
	AI        AIConfig        `yaml:"ai"`
	Storage   StorageConfig   `yaml:"storage"`
	Session   SessionConfig   `yaml:"session"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// AdminConfig identifies the operator and the prefixes that mark a command.
type AdminConfig struct {
	Identity string   `yaml:"identity"`
	Prefixes []string `yaml:"prefixes"`
}

// ModesConfig holds the startup values of the process-wide mode flags.
type ModesConfig struct {
	Vacation        bool   `yaml:"vacation"`
	VacationMessage string `yaml:"vacation_message"`
	Promotion       bool   `yaml:"promotion"`
}

// PromotionConfig describes the task participants must complete and the
// defaults used by the promo admin commands.
type PromotionConfig struct {
	TaskType       string `yaml:"task_type"`
	TaskDetails    string `yaml:"task_details"`
	DefaultDays    int    `yaml:"default_days"`
	DefaultWinners int    `yaml:"default_winners"`
}

// CatalogOption is one selectable entry of an order menu.
type CatalogOption struct {
	Key   string `yaml:"key"`
	Name  string `yaml:"name"`
	Days  int    `yaml:"days,omitempty"`
	Price int    `yaml:"price,omitempty"`
}

// CatalogConfig lists the package options offered by the order workflow.
type CatalogConfig struct {
	Currency  string          `yaml:"currency"`
	Durations []CatalogOption `yaml:"durations"`
	Devices   []CatalogOption `yaml:"devices"`
	Usages    []CatalogOption `yaml:"usages"`
}

// PanelConfig holds the subscription panel endpoint and credentials.
type PanelConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// AIConfig configures the generative completion service.
type AIConfig struct {
	APIKey          string  `yaml:"api_key"`
	Model           string  `yaml:"model"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	Temperature     float32 `yaml:"temperature"`
	TimeoutSec      int     `yaml:"timeout_sec"`
}

// StorageConfig selects the database backing the persistence store and
// where backup snapshots are written.
type StorageConfig struct {
	Driver     string      `yaml:"driver"` // sqlite or mysql
	Path       string      `yaml:"path"`
	MySQL      MySQLConfig `yaml:"mysql"`
	BackupDir  string      `yaml:"backup_dir"`
	BackupKeep int         `yaml:"backup_keep"`
}

// MySQLConfig holds connection settings when Storage.Driver is mysql.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// SessionConfig bounds per-user state.
type SessionConfig struct {
	MaxChatHistory  int `yaml:"max_chat_history"`
	MaxLogEntries   int `yaml:"max_log_entries"`
	IdleResetHours  int `yaml:"idle_reset_hours"`
	ReconnectDelayS int `yaml:"reconnect_delay_sec"`
}

// ScheduleConfig holds 5-field cron expressions for the periodic jobs.
// An empty expression disables the job.
type ScheduleConfig struct {
	DailyReport string `yaml:"daily_report"`
	ExpiryCheck string `yaml:"expiry_check"`
	Reauth      string `yaml:"reauth"`
	Backup      string `yaml:"backup"`
	Cleanup     string `yaml:"cleanup"`
}

// BroadcastConfig paces admin broadcasts.
type BroadcastConfig struct {
	DelayMS int `yaml:"delay_ms"`
	Workers int `yaml:"workers"`
}

// GatewayConfig selects the chat platform.
type GatewayConfig struct {
	Platform string        `yaml:"platform"` // discord, slack or console
	Discord  DiscordConfig `yaml:"discord"`
	Slack    SlackConfig   `yaml:"slack"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DashboardConfig controls the HTTP status surface.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file from path and returns a validated Config.
// Secrets missing from the file are taken from NEXBOT_* environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return parse(data, os.Getenv)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	return parse(data, func(string) string { return "" })
}

func parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment values on fields the file left empty.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if *dst != "" {
			return
		}
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.LogLevel, "NEXBOT_LOG_LEVEL")
	set(&c.Admin.Identity, "NEXBOT_ADMIN_IDENTITY")
	set(&c.Panel.URL, "NEXBOT_PANEL_URL")
	set(&c.Panel.Username, "NEXBOT_PANEL_USERNAME")
	set(&c.Panel.Password, "NEXBOT_PANEL_PASSWORD")
	set(&c.AI.APIKey, "NEXBOT_AI_API_KEY")
	set(&c.Gateway.Discord.BotToken, "NEXBOT_DISCORD_TOKEN")
	set(&c.Gateway.Slack.BotToken, "NEXBOT_SLACK_BOT_TOKEN")
	set(&c.Gateway.Slack.AppToken, "NEXBOT_SLACK_APP_TOKEN")
	set(&c.Storage.MySQL.Password, "NEXBOT_MYSQL_PASSWORD")

	if v := getenv("NEXBOT_VACATION_MODE"); v != "" {
		c.Modes.Vacation = v == "true"
	}
	if v := getenv("NEXBOT_PROMOTION_MODE"); v != "" {
		c.Modes.Promotion = v == "true"
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if len(c.Admin.Prefixes) == 0 {
		c.Admin.Prefixes = []string{"!", "/"}
	}
	if c.Modes.VacationMessage == "" {
		c.Modes.VacationMessage = DefaultVacationMessage
	}
	if c.Promotion.TaskType == "" {
		c.Promotion.TaskType = "facebook_follow"
	}
	if c.Promotion.TaskDetails == "" {
		c.Promotion.TaskDetails = "Follow our Facebook page and send a screenshot as proof"
	}
	if c.Promotion.DefaultDays <= 0 {
		c.Promotion.DefaultDays = 7
	}
	if c.Promotion.DefaultWinners <= 0 {
		c.Promotion.DefaultWinners = 3
	}
	c.Catalog.applyDefaults()
	if c.Panel.TimeoutSec <= 0 {
		c.Panel.TimeoutSec = 30
	}
	if c.AI.Model == "" {
		c.AI.Model = "gemini-2.0-flash"
	}
	if c.AI.MaxOutputTokens <= 0 {
		c.AI.MaxOutputTokens = 800
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = 0.7
	}
	if c.AI.TimeoutSec <= 0 {
		c.AI.TimeoutSec = 30
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "nexbot.db"
	}
	if c.Storage.MySQL.Host == "" {
		c.Storage.MySQL.Host = "127.0.0.1"
	}
	if c.Storage.MySQL.Port == 0 {
		c.Storage.MySQL.Port = 3306
	}
	if c.Storage.MySQL.User == "" {
		c.Storage.MySQL.User = "root"
	}
	if c.Storage.MySQL.Database == "" {
		c.Storage.MySQL.Database = "nexbot"
	}
	if c.Storage.BackupDir == "" {
		c.Storage.BackupDir = "backups"
	}
	if c.Storage.BackupKeep <= 0 {
		c.Storage.BackupKeep = 4
	}
	if c.Session.MaxChatHistory <= 0 {
		c.Session.MaxChatHistory = 5
	}
	if c.Session.MaxLogEntries <= 0 {
		c.Session.MaxLogEntries = 50
	}
	if c.Session.IdleResetHours <= 0 {
		c.Session.IdleResetHours = 24
	}
	if c.Session.ReconnectDelayS <= 0 {
		c.Session.ReconnectDelayS = 5
	}
	if c.Schedule == (ScheduleConfig{}) {
		c.Schedule = ScheduleConfig{
			DailyReport: "0 0 * * *",
			ExpiryCheck: "0 9 * * *",
			Reauth:      "0 */12 * * *",
			Backup:      "0 0 * * 0",
			Cleanup:     "0 * * * *",
		}
	}
	if c.Broadcast.DelayMS <= 0 {
		c.Broadcast.DelayMS = 1000
	}
	if c.Broadcast.Workers <= 0 {
		c.Broadcast.Workers = 1
	}
	if c.Gateway.Platform == "" {
		c.Gateway.Platform = "console"
	}
	if c.Dashboard.Port <= 0 {
		c.Dashboard.Port = 8080
	}
}

func (cc *CatalogConfig) applyDefaults() {
	if cc.Currency == "" {
		cc.Currency = "Rs."
	}
	if len(cc.Durations) == 0 {
		cc.Durations = []CatalogOption{
			{Key: "1", Name: "1 Month", Days: 30},
			{Key: "2", Name: "2 Months", Days: 60},
			{Key: "3", Name: "6 Months", Days: 180},
			{Key: "4", Name: "1 Year", Days: 365},
		}
	}
	if len(cc.Devices) == 0 {
		cc.Devices = []CatalogOption{
			{Key: "1", Name: "Dialog Router"},
			{Key: "2", Name: "SLT Router"},
			{Key: "3", Name: "SLT Fiber"},
			{Key: "4", Name: "Hutch"},
			{Key: "5", Name: "Airtel"},
		}
	}
	if len(cc.Usages) == 0 {
		cc.Usages = []CatalogOption{
			{Key: "1", Name: "Unlimited Usage", Price: 800},
			{Key: "2", Name: "200GB", Price: 500},
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Admin.Identity == "" {
		errs = append(errs, "admin.identity is required")
	}
	switch c.Storage.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported (sqlite, mysql)", c.Storage.Driver))
	}
	switch c.Gateway.Platform {
	case "console":
	case "discord":
		if c.Gateway.Discord.BotToken == "" {
			errs = append(errs, "gateway.discord.bot_token is required")
		}
	case "slack":
		if c.Gateway.Slack.BotToken == "" {
			errs = append(errs, "gateway.slack.bot_token is required")
		}
		if c.Gateway.Slack.AppToken == "" {
			errs = append(errs, "gateway.slack.app_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateway.platform %q is not supported (discord, slack, console)", c.Gateway.Platform))
	}
	errs = append(errs, checkOptions("catalog.durations", c.Catalog.Durations)...)
	errs = append(errs, checkOptions("catalog.devices", c.Catalog.Devices)...)
	errs = append(errs, checkOptions("catalog.usages", c.Catalog.Usages)...)
	for i, d := range c.Catalog.Durations {
		if d.Days <= 0 {
			errs = append(errs, fmt.Sprintf("catalog.durations[%d].days must be positive", i))
		}
	}
	for _, p := range c.Admin.Prefixes {
		if p == "" {
			errs = append(errs, "admin.prefixes must not contain empty strings")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func checkOptions(field string, opts []CatalogOption) []string {
	var errs []string
	seen := make(map[string]bool, len(opts))
	for i, o := range opts {
		if o.Key == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].key is required", field, i))
		}
		if o.Name == "" {
			errs = append(errs, fmt.Sprintf("%s[%d].name is required", field, i))
		}
		if seen[o.Key] {
			errs = append(errs, fmt.Sprintf("%s[%d].key %q is duplicated", field, i, o.Key))
		}
		seen[o.Key] = true
	}
	return errs
}

// DefaultVacationMessage is the auto-reply sent while vacation mode is on.
const DefaultVacationMessage = "*AUTOMATED RESPONSE*\n\n" +
	"I'm currently on holiday and have limited internet access. " +
	"Your message has been logged and I'll review it when I return. " +
	"For urgent matters, please reply with 'URGENT' followed by your message."
