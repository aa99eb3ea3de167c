// Package app wires config, storage, upstream clients, the event processor
// and the queue consumer into the jobs the CLI runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"propbot/internal/builder"
	"propbot/internal/cache"
	"propbot/internal/chain"
	"propbot/internal/config"
	"propbot/internal/content"
	"propbot/internal/eas"
	"propbot/internal/identity"
	"propbot/internal/metrics"
	"propbot/internal/processor"
	"propbot/internal/queue"
	"propbot/internal/storage"
	kit "propbot/internal/transport"
	"propbot/internal/transport/telegram"
	"propbot/internal/warpcast"
	logx "propbot/pkg/logx"
)

// CategoryAll runs every category in order.
const CategoryAll = "all"

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config

	log  logx.Logger
	logs *logx.Service

	store    storage.Store
	cache    *cache.Cache
	queue    *queue.Queue
	runner   *processor.Runner
	consumer *queue.Consumer
}

// New loads and validates the config at cfgPath and builds every component.
// Nothing touches the network until a job runs.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	var alerts kit.Alerter
	if strings.TrimSpace(cfg.Telegram.Token) != "" {
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, APIURL: cfg.Telegram.APIURL})
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		alerts = kit.Alerter{Sender: ad, Target: kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}}
	}
	logSvc, log := logx.New(LogConfig(cfg), alerts)
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(cfg.StoreConfig(), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{cfgm: cfgm, cfg: cfg, log: log, logs: logSvc, store: store}
	a.build()
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	return a, nil
}

// LogConfig maps the logging section onto logx.
func LogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func (a *App) build() {
	cfg := a.cfg
	comp := func(name string) logx.Logger { return a.log.With(logx.String("comp", name)) }

	a.cache = cache.New(a.store)
	a.queue = queue.New(a.store, queue.WithLogger(comp("queue")))

	wc := warpcast.New(warpcast.Config{
		BaseURL:   cfg.Warpcast.BaseURL,
		AuthToken: cfg.Warpcast.AuthToken,
		APIKey:    cfg.Warpcast.APIKey,
		Timeout:   cfg.WarpcastTimeout(),
	}, warpcast.WithLogger(comp("warpcast")))

	resolver := content.New(content.Config{Gateways: cfg.IPFS.Gateways, Timeout: cfg.IPFSTimeout()}, content.WithLogger(comp("content")))

	bopts := []builder.Option{builder.WithLogger(comp("builder")), builder.WithTimeout(cfg.ChainsTimeout())}
	if n := cfg.Processor.Invites.PageSize; n > 0 {
		bopts = append(bopts, builder.WithOwnersPageSize(n))
	}
	subgraphs := builder.New(namedEndpoints(cfg.Chains.Builder), bopts...)

	eopts := []eas.Option{eas.WithLogger(comp("eas")), eas.WithTimeout(cfg.ChainsTimeout())}
	if id := strings.TrimSpace(cfg.EAS.SchemaID); id != "" {
		eopts = append(eopts, eas.WithSchemaID(id))
	}
	attestations := eas.New(namedEndpoints(cfg.EAS.Endpoints), resolver, eopts...)

	ident := identity.NewResolver(a.cache, wc, subgraphs, cfg.IdentityMaxAge(), comp("identity"))

	lookback := map[processor.Category]time.Duration{}
	for k, v := range cfg.Lookbacks() {
		lookback[processor.Category(k)] = v
	}
	a.runner = processor.NewRunner(processor.Config{
		Lookback:        lookback,
		MaxInviteOwners: cfg.Processor.Invites.MaxOwners,
		UserMaxAge:      cfg.IdentityMaxAge(),
	}, processor.Deps{
		Cache:     a.cache,
		Identity:  ident,
		Proposals: subgraphs,
		Propdates: attestations,
		Users:     wc,
		Queue:     a.queue,
		Log:       comp("processor"),
	})

	var sender queue.Sender = wc
	if strings.EqualFold(strings.TrimSpace(cfg.Warpcast.Sender), "log") {
		sender = queue.LogSender{Log: comp("dry-run")}
	}
	a.consumer = queue.NewConsumer(a.queue, sender, cfg.Warpcast.RatePerSec, comp("consumer"))
}

// namedEndpoints fills in display names for endpoints configured by chain
// ID only. A nil slice stays nil so clients fall back to their defaults.
func namedEndpoints(eps []chain.Endpoint) []chain.Endpoint {
	if eps == nil {
		return nil
	}
	out := make([]chain.Endpoint, len(eps))
	for i, ep := range eps {
		if strings.TrimSpace(ep.Name) == "" {
			ep.Name = chain.NameOf(ep.ChainID)
		}
		out[i] = ep
	}
	return out
}

func (a *App) Logger() logx.Logger    { return a.log }
func (a *App) Config() *config.Config { return a.cfg }

// Process runs one category, or every category for "all". A failed poll is
// logged and does not stop the others; only an unknown category or a
// canceled context is returned.
func (a *App) Process(ctx context.Context, category string) error {
	cats := processor.Categories
	if !strings.EqualFold(strings.TrimSpace(category), CategoryAll) {
		c, err := processor.ParseCategory(category)
		if err != nil {
			return err
		}
		cats = []processor.Category{c}
	}
	defer a.writeMetrics()

	for _, c := range cats {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.runCategory(ctx, c)
	}
	return nil
}

func (a *App) runCategory(ctx context.Context, c processor.Category) {
	log := a.log.With(logx.String("category", string(c)))
	start := time.Now()
	res, err := a.runner.Run(ctx, c)
	if err != nil {
		var up *chain.UpstreamError
		if errors.As(err, &up) {
			log.Warn("poll aborted by upstream failure", logx.String("chain", up.Chain.Name), logx.Err(up.Err))
			return
		}
		log.Error("poll failed", logx.Err(err))
		return
	}
	log.Info("poll done",
		logx.Int("candidates", res.Candidates),
		logx.Int("followers", res.Followers),
		logx.Int("enqueued", res.Enqueued),
		logx.Duration("took", time.Since(start)),
	)
}

// Consume drains up to limit pending tasks; limit < 0 uses
// queue.consume_limit from the config.
func (a *App) Consume(ctx context.Context, limit int) (queue.Summary, error) {
	if limit < 0 {
		limit = a.cfg.Queue.ConsumeLimit
	}
	defer a.writeMetrics()
	sum, err := a.consumer.Consume(ctx, limit)
	if err != nil {
		a.log.Error("consume failed", logx.Err(err), logx.Int("processed", sum.Processed))
		return sum, err
	}
	if sum.Processed > 0 {
		a.log.Info("consume done",
			logx.Int("processed", sum.Processed),
			logx.Int("sent", sum.Sent),
			logx.Int("retried", sum.Retried),
			logx.Int("dropped", sum.Dropped),
		)
	}
	return sum, nil
}

func (a *App) Stats(ctx context.Context) (storage.TaskCounts, error) {
	return a.queue.Stats(ctx)
}

// CacheGet returns the raw JSON stored under key regardless of age.
func (a *App) CacheGet(ctx context.Context, key string) ([]byte, bool, error) {
	return a.cache.GetRaw(ctx, key, cache.Forever)
}

func (a *App) writeMetrics() {
	if _, err := a.queue.Stats(context.Background()); err != nil {
		a.log.Debug("queue stats unavailable", logx.Err(err))
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Warn("metrics textfile write failed", logx.String("path", a.cfg.Metrics.Textfile), logx.Err(err))
	}
}

func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	return errors.Join(errs...)
}
