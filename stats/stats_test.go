package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

type stubStream struct {
	fn func(context.Context, <-chan Event) error
}

func (s *stubStream) SubscribeStats(name string, fn func(context.Context, <-chan Event) error) {
	s.fn = fn
}

func TestReporterSummary(t *testing.T) {
	stream := &stubStream{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := NewReporter(stream, logger)
	if stream.fn == nil {
		t.Fatal("NewReporter() did not subscribe to the stream")
	}

	events := make(chan Event, 8)
	events <- Event{Stage: StageWalk, Type: EventTypeScanned}
	events <- Event{Stage: StageWalk, Type: EventTypeScanned}
	events <- Event{Stage: StageWalk, Type: EventTypeEnqueued}
	events <- Event{Stage: StageConvert, Type: EventTypeConverted}
	events <- Event{Stage: StageWalk, Type: EventTypeDuplicate}
	events <- Event{Stage: StageConvert, Type: EventTypeError, Err: errors.New("boom")}
	close(events)

	if err := stream.fn(context.Background(), events); err != nil {
		t.Fatalf("consume error: %v", err)
	}

	summary := reporter.Summary()
	if summary.Scanned != 2 {
		t.Errorf("Scanned = %d, want 2", summary.Scanned)
	}
	if summary.Enqueued != 1 {
		t.Errorf("Enqueued = %d, want 1", summary.Enqueued)
	}
	if summary.Converted != 1 {
		t.Errorf("Converted = %d, want 1", summary.Converted)
	}
	if summary.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", summary.Duplicates)
	}
	if summary.Errors != 1 {
		t.Errorf("Errors = %d, want 1", summary.Errors)
	}
	if summary.LastError == nil || summary.LastError.Error() != "boom" {
		t.Errorf("LastError = %v, want boom", summary.LastError)
	}
}

func TestPrettyPrintTop(t *testing.T) {
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	os.Stdout = w

	PrettyPrintTop(map[string]int{"unicode": 5, "int32": 2, "binary": 9}, 2)

	w.Close()
	os.Stdout = old
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read pipe: %v", err)
	}

	text := string(out)
	if !strings.Contains(text, "1. binary (9)") {
		t.Errorf("output %q missing first entry", text)
	}
	if !strings.Contains(text, "2. unicode (5)") {
		t.Errorf("output %q missing second entry", text)
	}
	if strings.Contains(text, "int32") {
		t.Errorf("output %q lists entries beyond the limit", text)
	}
}
