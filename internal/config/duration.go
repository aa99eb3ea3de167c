package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// mustDuration is for values Validate has already accepted.
func mustDuration(raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault("", raw, def)
	if err != nil {
		return def
	}
	return d
}

func (c *Config) ChainsTimeout() time.Duration   { return mustDuration(c.Chains.Timeout, 0) }
func (c *Config) IPFSTimeout() time.Duration     { return mustDuration(c.IPFS.Timeout, 10*time.Second) }
func (c *Config) WarpcastTimeout() time.Duration { return mustDuration(c.Warpcast.Timeout, 15*time.Second) }
func (c *Config) IdentityMaxAge() time.Duration  { return mustDuration(c.Identity.MaxAge, 24*time.Hour) }
func (c *Config) BusyTimeout() time.Duration     { return mustDuration(c.Storage.BusyTimeout, 0) }

// Lookbacks returns the configured per-category lookback overrides.
func (c *Config) Lookbacks() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Processor.Lookback))
	for k, v := range c.Processor.Lookback {
		if d := mustDuration(v, 0); d > 0 {
			out[k] = d
		}
	}
	return out
}

// Schedule returns the cron spec for a daemon job, "" if the job is off.
func (c *Config) Schedule(job string) string {
	if s, ok := c.Daemon.Schedules[job]; ok {
		if strings.TrimSpace(s) == "-" {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return DefaultSchedules[job]
}
