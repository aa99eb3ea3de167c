package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	kit "propbot/internal/transport"
)

func TestSendTextPostsToBotAPI(t *testing.T) {
	var mu sync.Mutex
	var paths, bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`)
	}))
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: -100, ThreadID: 3}, "[WARN] upstream down", nil)
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if ref.MessageID != 7 || ref.ChatID != -100 || ref.ThreadID != 3 {
		t.Fatalf("unexpected ref: %+v", ref)
	}

	alerter := kit.Alerter{Sender: a, Target: kit.ChatTarget{ChatID: -100}}
	if err := alerter.SendAlert(context.Background(), "[ERROR] consume failed"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 2 || paths[0] != "/bot123:abc/sendMessage" {
		t.Fatalf("unexpected calls: %v", paths)
	}
	if !strings.Contains(bodies[0], "upstream down") || !strings.Contains(bodies[1], "consume failed") {
		t.Fatalf("bodies missing text: %v", bodies)
	}
}

func TestNewRejectsEmptyToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestAlerterWithoutTargetIsNoop(t *testing.T) {
	if err := (kit.Alerter{}).SendAlert(context.Background(), "x"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text split: %v", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("split on newline: %q", got)
	}

	got = splitText(strings.Repeat("c", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("hard split: %q", got)
	}
}
