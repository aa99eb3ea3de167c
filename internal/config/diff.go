package config

import (
	"reflect"
	"sort"
	"strings"

	logx "propbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// attrs for logging them. Secrets are reported only as set/unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Telegram.ChatID != newCfg.Telegram.ChatID ||
		oldCfg.Telegram.ThreadID != newCfg.Telegram.ThreadID ||
		oldCfg.Telegram.APIURL != newCfg.Telegram.APIURL ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
		)
	}

	if oldCfg.Warpcast.BaseURL != newCfg.Warpcast.BaseURL ||
		oldCfg.Warpcast.Timeout != newCfg.Warpcast.Timeout ||
		oldCfg.Warpcast.Sender != newCfg.Warpcast.Sender ||
		oldCfg.Warpcast.RatePerSec != newCfg.Warpcast.RatePerSec ||
		oldCfg.Warpcast.AuthToken != newCfg.Warpcast.AuthToken ||
		oldCfg.Warpcast.APIKey != newCfg.Warpcast.APIKey {
		changed = append(changed, "warpcast")
		attrs = append(attrs,
			logx.String("warpcast.sender", newCfg.Warpcast.Sender),
			logx.Bool("warpcast.auth_token_set", strings.TrimSpace(newCfg.Warpcast.AuthToken) != ""),
			logx.Bool("warpcast.api_key_set", strings.TrimSpace(newCfg.Warpcast.APIKey) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	plain := []struct {
		name     string
		old, new any
	}{
		{"chains", oldCfg.Chains, newCfg.Chains},
		{"eas", oldCfg.EAS, newCfg.EAS},
		{"ipfs", oldCfg.IPFS, newCfg.IPFS},
		{"identity", oldCfg.Identity, newCfg.Identity},
		{"processor", oldCfg.Processor, newCfg.Processor},
		{"queue", oldCfg.Queue, newCfg.Queue},
		{"daemon", oldCfg.Daemon, newCfg.Daemon},
		{"metrics", oldCfg.Metrics, newCfg.Metrics},
	}
	for _, s := range plain {
		if !reflect.DeepEqual(s.old, s.new) {
			changed = append(changed, s.name)
		}
	}

	sort.Strings(changed)
	return changed, attrs
}

// HotReloadable reports whether every changed section can be applied
// without a restart. Only logging can.
func HotReloadable(changed []string) bool {
	for _, s := range changed {
		if s != "logging" {
			return false
		}
	}
	return true
}
