package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "PROPBOT_"

// envKeys are the settings that may come from the environment. Secrets
// belong here rather than in the file.
var envKeys = map[string]func(c *Config, k *koanf.Koanf, key string) error{
	"warpcast.auth_token": func(c *Config, k *koanf.Koanf, key string) error { c.Warpcast.AuthToken = k.String(key); return nil },
	"warpcast.api_key":    func(c *Config, k *koanf.Koanf, key string) error { c.Warpcast.APIKey = k.String(key); return nil },
	"warpcast.base_url":   func(c *Config, k *koanf.Koanf, key string) error { c.Warpcast.BaseURL = k.String(key); return nil },
	"warpcast.sender":     func(c *Config, k *koanf.Koanf, key string) error { c.Warpcast.Sender = k.String(key); return nil },
	"telegram.token":      func(c *Config, k *koanf.Koanf, key string) error { c.Telegram.Token = k.String(key); return nil },
	"telegram.chat_id": func(c *Config, k *koanf.Koanf, key string) error {
		var id int64
		if _, err := fmt.Sscan(k.String(key), &id); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		c.Telegram.ChatID = id
		return nil
	},
	"storage.driver": func(c *Config, k *koanf.Koanf, key string) error { c.Storage.Driver = k.String(key); return nil },
	"storage.path":   func(c *Config, k *koanf.Koanf, key string) error { c.Storage.Path = k.String(key); return nil },
	"logging.level":  func(c *Config, k *koanf.Koanf, key string) error { c.Logging.Level = k.String(key); return nil },
	"eas.schema_id":  func(c *Config, k *koanf.Koanf, key string) error { c.EAS.SchemaID = k.String(key); return nil },
}

// envKey maps PROPBOT_WARPCAST_AUTH_TOKEN to warpcast.auth_token. The first
// underscore separates the section.
func envKey(name string) string {
	s := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// ApplyEnv overlays PROPBOT_* variables onto cfg. Unknown PROPBOT_*
// variables are ignored.
func ApplyEnv(cfg *Config) error {
	k := koanf.New(".")
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("load environment: %w", err)
	}
	for key, set := range envKeys {
		if !k.Exists(key) {
			continue
		}
		if err := set(cfg, k, key); err != nil {
			return err
		}
	}
	return nil
}
