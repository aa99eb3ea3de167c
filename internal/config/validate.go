package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"propbot/internal/storage"
)

var lookbackCategories = map[string]struct{}{"proposals": {}, "voting": {}, "ending": {}, "updates": {}}

// ValidationError lists every problem found in a config.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Problems, "; ")
}

type problems []string

func (p *problems) addf(format string, args ...any) { *p = append(*p, fmt.Sprintf(format, args...)) }

func (p *problems) url(path, raw string, required bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			p.addf("%s is required", path)
		}
		return
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		p.addf("%s: %q is not an http(s) URL", path, raw)
	}
}

func (p *problems) duration(path, raw string) {
	if _, err := ParseDurationField(path, raw); err != nil {
		p.addf("%v", err)
	}
}

// Validate checks cfg without touching the network.
func Validate(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Problems: []string{"config is nil"}}
	}
	var p problems

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		p.addf("logging.format: unknown format %q", cfg.Logging.Format)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "badger":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			p.addf("storage.path is required")
		}
	case "memory":
	default:
		p.addf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	p.duration("storage.busy_timeout", cfg.Storage.BusyTimeout)

	switch strings.ToLower(strings.TrimSpace(cfg.Warpcast.Sender)) {
	case "", "warpcast":
		if strings.TrimSpace(cfg.Warpcast.AuthToken) == "" {
			p.addf("warpcast.auth_token is required")
		}
		if strings.TrimSpace(cfg.Warpcast.APIKey) == "" {
			p.addf("warpcast.api_key is required")
		}
	case "log":
	default:
		p.addf("warpcast.sender: unknown sender %q", cfg.Warpcast.Sender)
	}
	p.url("warpcast.base_url", cfg.Warpcast.BaseURL, false)
	p.duration("warpcast.timeout", cfg.Warpcast.Timeout)
	if cfg.Warpcast.RatePerSec < 0 {
		p.addf("warpcast.rate_per_sec must be >= 0")
	}

	if len(cfg.Chains.Builder) == 0 {
		p.addf("chains.builder needs at least one endpoint")
	}
	for i, ep := range cfg.Chains.Builder {
		path := fmt.Sprintf("chains.builder[%d]", i)
		if ep.ChainID <= 0 {
			p.addf("%s.chain_id is required", path)
		}
		p.url(path+".url", ep.URL, true)
	}
	p.duration("chains.timeout", cfg.Chains.Timeout)

	for i, ep := range cfg.EAS.Endpoints {
		path := fmt.Sprintf("eas.endpoints[%d]", i)
		if ep.ChainID <= 0 {
			p.addf("%s.chain_id is required", path)
		}
		p.url(path+".url", ep.URL, true)
	}
	for i, gw := range cfg.IPFS.Gateways {
		p.url(fmt.Sprintf("ipfs.gateways[%d]", i), gw, true)
	}
	p.duration("ipfs.timeout", cfg.IPFS.Timeout)
	p.duration("identity.max_age", cfg.Identity.MaxAge)

	for cat, raw := range cfg.Processor.Lookback {
		if _, ok := lookbackCategories[cat]; !ok {
			p.addf("processor.lookback: unknown category %q", cat)
		}
		p.duration("processor.lookback."+cat, raw)
	}
	if cfg.Processor.Invites.MaxOwners < 0 || cfg.Processor.Invites.PageSize < 0 {
		p.addf("processor.invites values must be >= 0")
	}
	if cfg.Queue.ConsumeLimit < 0 {
		p.addf("queue.consume_limit must be >= 0")
	}
	for job, spec := range cfg.Daemon.Schedules {
		if _, ok := DefaultSchedules[job]; !ok {
			p.addf("daemon.schedules: unknown job %q", job)
			continue
		}
		if spec = strings.TrimSpace(spec); spec != "-" {
			if _, err := CronParser.Parse(spec); err != nil {
				p.addf("daemon.schedules.%s: %v", job, err)
			}
		}
	}
	if tz := strings.TrimSpace(cfg.Daemon.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			p.addf("daemon.timezone: %v", err)
		}
	}

	if cfg.Logging.Telegram.Enabled && (strings.TrimSpace(cfg.Telegram.Token) == "" || cfg.Telegram.ChatID == 0) {
		p.addf("logging.telegram needs telegram.token and telegram.chat_id")
	}
	p.url("telegram.api_url", cfg.Telegram.APIURL, false)

	if len(p) > 0 {
		return &ValidationError{Problems: p}
	}
	return nil
}

// StoreConfig converts the storage section for storage.Open.
func (c *Config) StoreConfig() storage.Config {
	return storage.Config{Driver: c.Storage.Driver, Path: c.Storage.Path, BusyTimeout: c.BusyTimeout()}
}
