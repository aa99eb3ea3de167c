package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"

	"propbot/internal/config"
	"propbot/internal/processor"
	logx "propbot/pkg/logx"
)

const consumeJob = "consume"

// Daemon runs the batch jobs on their cron schedules until ctx ends. Each
// job skips a tick while its previous run is still going; separate
// processes are not excluded from each other.
func (a *App) Daemon(ctx context.Context) error {
	loc := time.Local
	if tz := strings.TrimSpace(a.cfg.Daemon.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("daemon.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}

	clog := cronLogger{log: a.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(config.CronParser),
		cron.WithLocation(loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog)),
	)
	n, err := a.register(ctx, c)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("daemon: every job is disabled")
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go a.watchConfig(watchCtx)

	c.Start()
	a.log.Info("daemon started", logx.Int("jobs", n), logx.String("tz", loc.String()))
	a.notifySystemd(daemon.SdNotifyReady)

	<-ctx.Done()
	a.notifySystemd(daemon.SdNotifyStopping)
	a.log.Info("daemon stopping")
	// wait for running jobs; they see ctx canceled
	<-c.Stop().Done()
	return nil
}

func (a *App) register(ctx context.Context, c *cron.Cron) (int, error) {
	type job struct {
		name string
		run  func()
	}
	var jobs []job
	for _, cat := range processor.Categories {
		cat := cat
		jobs = append(jobs, job{string(cat), func() { _ = a.Process(ctx, string(cat)) }})
	}
	jobs = append(jobs, job{consumeJob, func() { _, _ = a.Consume(ctx, -1) }})

	n := 0
	for _, j := range jobs {
		spec := a.cfg.Schedule(j.name)
		if spec == "" {
			a.log.Info("job disabled", logx.String("job", j.name))
			continue
		}
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{log: a.log.With(logx.String("job", j.name))})).Then(cron.FuncJob(j.run))
		if _, err := c.AddJob(spec, wrapped); err != nil {
			return 0, fmt.Errorf("daemon.schedules.%s: %w", j.name, err)
		}
		a.log.Debug("job scheduled", logx.String("job", j.name), logx.String("spec", spec))
		n++
	}
	return n, nil
}

// watchConfig applies logging changes live. Anything else needs a restart
// and is only reported.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(ch)
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	prev := a.cfg
	for {
		select {
		case <-ctx.Done():
			return
		case next := <-ch:
			if next == nil {
				continue
			}
			changed, attrs := config.SummarizeConfigChange(prev, next)
			if len(changed) == 0 {
				continue
			}
			a.logs.Apply(LogConfig(next))
			prev = next
			if config.HotReloadable(changed) {
				a.log.Info("config change applied", append(attrs, logx.Strs("sections", changed))...)
				continue
			}
			a.log.Warn("config changed; restart to apply", append(attrs, logx.Strs("sections", changed))...)
		}
	}
}

func (a *App) notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// cronLogger adapts logx to cron.Logger. Cron's info chatter is demoted to
// debug.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
