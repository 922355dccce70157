package runner

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/dhcgn/msg-to-eml/config"
	"github.com/dhcgn/msg-to-eml/state"
	"github.com/dhcgn/msg-to-eml/stats"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		InputPath: "in",
		OutDir:    "out",
		Workers:   1,
		Bundle:    "none",
		StateDir:  t.TempDir(),
		LogLevel:  "error",
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingSubscriber(n *atomic.Int64) func(context.Context, <-chan stats.Event) error {
	return func(ctx context.Context, events <-chan stats.Event) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-events:
				if !ok {
					return nil
				}
				n.Add(1)
			}
		}
	}
}

func TestEverySubscriberSeesEveryEvent(t *testing.T) {
	r, err := New(testConfig(t), testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	var first, second atomic.Int64
	r.SubscribeStats("first", countingSubscriber(&first))
	r.SubscribeStats("second", countingSubscriber(&second))

	const emitted = 100
	go func() {
		for i := 0; i < emitted; i++ {
			r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeScanned})
		}
		r.CloseSources()
	}()

	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if got := first.Load(); got != emitted {
		t.Errorf("first subscriber saw %d events, want %d", got, emitted)
	}
	if got := second.Load(); got != emitted {
		t.Errorf("second subscriber saw %d events, want %d", got, emitted)
	}
}

func TestStartPersistsTrackerState(t *testing.T) {
	cfg := testConfig(t)

	r, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	if err := r.Tracker().MarkConverted("hash-1", "a.msg"); err != nil {
		t.Fatalf("MarkConverted() error: %v", err)
	}

	r.CloseSources()
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	// A second run over the same state directory must see the record
	// without anyone having called Close on the first tracker directly.
	reopened, err := state.NewFileTracker(cfg.StateDir, false)
	if err != nil {
		t.Fatalf("NewFileTracker() error: %v", err)
	}
	defer reopened.Close()

	if !reopened.AlreadyConverted("hash-1") {
		t.Error("converted hash was not persisted across runs")
	}
}
