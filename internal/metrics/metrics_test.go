package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordPoll(t *testing.T) {
	before := testutil.ToFloat64(PollsTotal.WithLabelValues("voting", "ok"))
	RecordPoll("voting", 1200*time.Millisecond, "ok")
	if got := testutil.ToFloat64(PollsTotal.WithLabelValues("voting", "ok")); got != before+1 {
		t.Fatalf("polls_total=%v want %v", got, before+1)
	}
	if testutil.ToFloat64(LastSuccess.WithLabelValues("process_voting")) == 0 {
		t.Fatalf("last success not stamped")
	}

	errBefore := testutil.ToFloat64(LastSuccess.WithLabelValues("process_ending"))
	RecordPoll("ending", time.Second, "error")
	if testutil.ToFloat64(LastSuccess.WithLabelValues("process_ending")) != errBefore {
		t.Fatalf("failed poll must not stamp last success")
	}
}

func TestRecordTask(t *testing.T) {
	before := testutil.ToFloat64(TasksProcessed.WithLabelValues("notification", "retried"))
	RecordTask("notification", "retried")
	if got := testutil.ToFloat64(TasksProcessed.WithLabelValues("notification", "retried")); got != before+1 {
		t.Fatalf("tasks_processed=%v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	TasksEnqueued.WithLabelValues("invitation").Inc()

	path := filepath.Join(t.TempDir(), "propbot.prom")
	if err := WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), `propbot_tasks_enqueued_total{type="invitation"}`) {
		t.Fatalf("textfile missing counter:\n%s", b)
	}
	if err := WriteTextfile(""); err != nil {
		t.Fatalf("empty path should be a no-op: %v", err)
	}
}
