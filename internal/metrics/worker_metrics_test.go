package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetrics(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())

	m.RecordPublish("sent")
	m.RecordPublish("sent")
	m.SetBacklog(3, -time.Second)

	if got := counterValue(t, m.publishAttempts.WithLabelValues("sent")); got != 2 {
		t.Fatalf("expected 2 sent attempts, got %v", got)
	}
	if got := counterValue(t, m.pendingRecords); got != 3 {
		t.Fatalf("expected pending=3, got %v", got)
	}
	if got := counterValue(t, m.oldestPending); got != 0 {
		t.Fatalf("negative age must clamp to 0, got %v", got)
	}
}

func TestCleanupMetrics(t *testing.T) {
	m := NewCleanupMetrics(prometheus.NewRegistry())

	m.AddDeleted(4)
	m.AddDeleted(0)
	m.RecordRun("ok", 4)
	m.RecordRun("error", 0)

	if got := counterValue(t, m.deleted); got != 4 {
		t.Fatalf("expected deleted=4, got %v", got)
	}
	if got := counterValue(t, m.lastDeleted); got != 4 {
		t.Fatalf("expected last deleted=4, got %v", got)
	}
	if got := counterValue(t, m.runs.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}

	var nilMetrics *CleanupMetrics
	nilMetrics.RecordRun("ok", 1)
}
