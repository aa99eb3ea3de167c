package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"propbot/internal/config"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

// DefaultTokenTTL is how long a generated auth token stays valid.
const DefaultTokenTTL = 365 * 24 * time.Hour

// GenerateAuthToken mints a Warpcast read token from a base64 recovery key.
// Only the warpcast section of the config is read and nothing is
// validated: the token is what warpcast.auth_token needs. A missing config
// file means defaults.
func GenerateAuthToken(ctx context.Context, cfgPath, recoveryKey string, ttl time.Duration) (warpcast.AuthToken, error) {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = &config.Config{}
	case err != nil:
		return warpcast.AuthToken{}, fmt.Errorf("config: %w", err)
	}

	mnemonic, err := warpcast.DecodeRecoveryKey(recoveryKey)
	if err != nil {
		return warpcast.AuthToken{}, err
	}
	key, err := warpcast.KeyFromMnemonic(mnemonic)
	if err != nil {
		return warpcast.AuthToken{}, err
	}

	wc := warpcast.New(warpcast.Config{
		BaseURL: cfg.Warpcast.BaseURL,
		Timeout: cfg.WarpcastTimeout(),
	}, warpcast.WithLogger(logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "warpcast"))))
	return wc.GenerateAuthToken(ctx, key, time.Now().Add(ttl))
}
