package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSender) SendAlert(_ context.Context, text string) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, text)
	r.mu.Unlock()
	return nil
}

func (r *recordingSender) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func TestServiceJSONOutputCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "debug", Format: "json"}, nil, &buf)
	defer svc.Close()

	log.With(String("category", "proposals")).Info("poll done", Int("tasks", 3))

	out := buf.String()
	for _, want := range []string{`"category":"proposals"`, `"tasks":3`, `"message":"poll done"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %s", out, want)
		}
	}
}

func TestServiceApplyChangesLevel(t *testing.T) {
	var buf bytes.Buffer
	svc, log := newService(Config{Level: "info", Format: "json"}, nil, &buf)
	defer svc.Close()

	log.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug written at info level: %q", buf.String())
	}

	svc.Apply(Config{Level: "debug", Format: "json"})
	log.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug not written after Apply: %q", buf.String())
	}
}

func TestAlertSinkForwardsWarnAndAbove(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{}
	svc, log := newService(Config{
		Level:  "debug",
		Format: "json",
		Alerts: AlertConfig{Enabled: true, MinLevel: "warn", RatePerSec: 10},
	}, sender, &buf)

	log.Info("routine")
	log.Error("send failed", String("task_id", "t-1"))

	deadline := time.Now().Add(2 * time.Second)
	for len(sender.snapshot()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	_ = svc.Close()

	msgs := sender.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("alerts=%d want 1: %v", len(msgs), msgs)
	}
	if !strings.HasPrefix(msgs[0], "[ERROR] send failed") || !strings.Contains(msgs[0], "- task_id=t-1") {
		t.Fatalf("unexpected alert text: %q", msgs[0])
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARNING ", LevelWarn},
		{"error", LevelError},
		{"bogus", LevelInfo},
		{"", LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, LevelInfo); got != tc.want {
			t.Fatalf("parseLevel(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero logger should report IsZero")
	}
	l.Info("nothing happens")
	Nop().With(String("a", "b")).Error("nothing either")
}
