package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"propbot/internal/config"
	"propbot/internal/warpcast"
)

func writeConfig(t *testing.T, builderURL, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
logging:
  level: error
storage:
  driver: memory
warpcast:
  sender: log
chains:
  builder:
    - chain_id: 8453
      name: Base
      url: %s
%s`, builderURL, extra)
	p := filepath.Join(t.TempDir(), "propbot.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func newTestApp(t *testing.T, builderURL, extra string) *App {
	t.Helper()
	a, err := New(writeConfig(t, builderURL, extra))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "propbot.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage:\n  driver: memory\n"), 0o600))

	_, err := New(p)
	var verr *config.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Contains(t, verr.Problems, "chains.builder needs at least one endpoint")
}

func TestEmptyQueueCommands(t *testing.T) {
	a := newTestApp(t, "https://example.com/base", "")
	ctx := context.Background()

	counts, err := a.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Pending)
	assert.Zero(t, counts.Completed)

	sum, err := a.Consume(ctx, -1)
	require.NoError(t, err)
	assert.Zero(t, sum.Processed)

	_, ok, err := a.CacheGet(ctx, "watermark_proposals")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessRejectsUnknownCategory(t *testing.T) {
	a := newTestApp(t, "https://example.com/base", "")
	require.Error(t, a.Process(context.Background(), "bogus"))
}

func TestProcessLogsUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newTestApp(t, srv.URL, "")
	ctx := context.Background()
	require.NoError(t, a.Process(ctx, "proposals"))

	_, ok, err := a.CacheGet(ctx, "watermark_proposals")
	require.NoError(t, err)
	assert.False(t, ok, "a failed poll must not advance the watermark")
}

func TestRegisterSkipsDisabledJobs(t *testing.T) {
	a := newTestApp(t, "https://example.com/base", `
daemon:
  schedules:
    proposals: "-"
    voting: "-"
    ending: "-"
    updates: "-"
    invites: "-"
    consume: "*/2 * * * *"
`)
	c := cron.New(cron.WithParser(config.CronParser))
	n, err := a.register(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, c.Entries(), 1)
}

func TestRegisterRejectsBadSchedule(t *testing.T) {
	a := newTestApp(t, "https://example.com/base", "")
	a.cfg.Daemon.Schedules = map[string]string{"consume": "not a cron spec"}

	_, err := a.register(context.Background(), cron.New(cron.WithParser(config.CronParser)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon.schedules.consume")
}

func TestDaemonNeedsAJob(t *testing.T) {
	a := newTestApp(t, "https://example.com/base", `
daemon:
  schedules:
    proposals: "-"
    voting: "-"
    ending: "-"
    updates: "-"
    invites: "-"
    consume: "-"
`)
	require.Error(t, a.Daemon(context.Background()))
}

func TestKVFields(t *testing.T) {
	assert.Len(t, kvFields([]interface{}{"a", 1, "b", "x", "dangling"}), 2)
	assert.Empty(t, kvFields(nil))
}

func TestGenerateAuthTokenSkipsValidation(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v2/auth", r.URL.Path)
		_, _ = w.Write([]byte(`{"result":{"token":{"secret":"MK-1","expiresAt":1900000000000}}}`))
	}))
	defer srv.Close()

	// No builder endpoints and no tokens: invalid for every other command.
	p := filepath.Join(t.TempDir(), "propbot.yaml")
	require.NoError(t, os.WriteFile(p, []byte("warpcast:\n  base_url: "+srv.URL+"\n"), 0o600))
	key := base64.StdEncoding.EncodeToString([]byte("test test test test test test test test test test test junk"))

	tok, err := GenerateAuthToken(context.Background(), p, key, 0)
	require.NoError(t, err)
	assert.Equal(t, "MK-1", tok.Secret)
	assert.Equal(t, 1, calls)

	_, err = GenerateAuthToken(context.Background(), p, "bm9wZQ==", 0)
	require.ErrorIs(t, err, warpcast.ErrInvalidRecoveryKey)
	assert.Equal(t, 1, calls)
}
