package config

import (
	"github.com/robfig/cron/v3"

	"propbot/internal/chain"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Telegram  TelegramConfig  `json:"telegram"`
	Storage   StorageConfig   `json:"storage"`
	Warpcast  WarpcastConfig  `json:"warpcast"`
	Chains    ChainsConfig    `json:"chains"`
	EAS       EASConfig       `json:"eas"`
	IPFS      IPFSConfig      `json:"ipfs"`
	Identity  IdentityConfig  `json:"identity"`
	Processor ProcessorConfig `json:"processor"`
	Queue     QueueConfig     `json:"queue"`
	Daemon    DaemonConfig    `json:"daemon"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "console" (default) or "json".
	Format   string          `json:"format,omitempty"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warn+ records to the ops chat in telegram.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// TelegramConfig is the ops alert channel. It is optional.
type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	APIURL   string `json:"api_url,omitempty"`
}

// StorageConfig selects the durable store for cache and queue.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./propbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type WarpcastConfig struct {
	BaseURL   string `json:"base_url"`
	AuthToken string `json:"auth_token"` // do not log
	APIKey    string `json:"api_key"`    // do not log
	Timeout   string `json:"timeout,omitempty"`
	// Sender is "warpcast" (default) or "log" for dry runs.
	Sender     string  `json:"sender,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// ChainsConfig lists the Builder subgraph endpoints.
type ChainsConfig struct {
	// Timeout bounds each endpoint query. "0s" or empty means none.
	Timeout string           `json:"timeout,omitempty"`
	Builder []chain.Endpoint `json:"builder"`
}

type EASConfig struct {
	SchemaID string `json:"schema_id,omitempty"`
	// Endpoints defaults to the public easscan indexers when empty.
	Endpoints []chain.Endpoint `json:"endpoints,omitempty"`
}

type IPFSConfig struct {
	Gateways []string `json:"gateways,omitempty"`
	Timeout  string   `json:"timeout,omitempty"`
}

type IdentityConfig struct {
	// MaxAge bounds cached self, follower, address and membership lookups.
	MaxAge string `json:"max_age,omitempty"`
}

type ProcessorConfig struct {
	// Lookback maps a category to the window used before its first poll.
	Lookback map[string]string `json:"lookback,omitempty"`
	Invites  InvitesConfig     `json:"invites"`
}

type InvitesConfig struct {
	MaxOwners int `json:"max_owners,omitempty"`
	PageSize  int `json:"page_size,omitempty"`
}

type QueueConfig struct {
	// ConsumeLimit is the default for "queue consume" (0 = all).
	ConsumeLimit int `json:"consume_limit,omitempty"`
}

// DaemonConfig drives "propbot daemon". Schedules are cron specs keyed by
// job name (a category or "consume"); "-" turns a job off.
type DaemonConfig struct {
	Timezone  string            `json:"timezone,omitempty"`
	Schedules map[string]string `json:"schedules,omitempty"`
}

type MetricsConfig struct {
	// Textfile is written after each batch job for node_exporter.
	Textfile string `json:"textfile,omitempty"`
}

// CronParser accepts 5-field specs, an optional leading seconds field and
// descriptors like @hourly.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DefaultSchedules is used for any daemon job without a schedule.
var DefaultSchedules = map[string]string{
	"proposals": "*/5 * * * *",
	"voting":    "*/5 * * * *",
	"ending":    "0 * * * *",
	"updates":   "*/10 * * * *",
	"invites":   "0 12 * * 1",
	"consume":   "* * * * *",
}
