package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/msg-to-eml/config"
	"github.com/dhcgn/msg-to-eml/model"
	"github.com/dhcgn/msg-to-eml/state"
	"github.com/dhcgn/msg-to-eml/stats"
)

var ErrSourceEmpty = errors.New("source file is empty")

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sources chan model.Envelope
	queue   chan model.Source
	events  chan stats.Event

	subsMu     sync.Mutex
	subs       []chan stats.Event
	subsClosed bool

	tracker state.Tracker

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeSourcesOnce sync.Once
	closeQueueOnce   sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(cfg config.Config, logger *slog.Logger) (*Runner, error) {
	ctx, cancel := context.WithCancel(context.Background())

	tracker, err := state.NewFileTracker(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("state tracker: %w", err)
	}

	r := &Runner{
		cfg:     cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		sources: make(chan model.Envelope, 32),
		queue:   make(chan model.Source, 32),
		events:  make(chan stats.Event, 128),
		tracker: tracker,
	}

	go r.dispatch()

	r.AddStage("bridge", r.bridge)
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) SourceWriter() chan<- model.Envelope {
	return r.sources
}

func (r *Runner) CloseSources() {
	r.closeSourcesOnce.Do(func() {
		close(r.sources)
	})
}

func (r *Runner) Queue() <-chan model.Source {
	return r.queue
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

// SubscribeStats registers an event consumer. Every subscriber gets its
// own channel carrying the full event stream, so the stats reporter and
// the progress bar never race each other for events.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	if r.subsClosed {
		close(ch)
	} else {
		r.subs = append(r.subs, ch)
	}
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// dispatch fans every emitted event out to all subscriber channels and
// closes them once the event stream ends.
func (r *Runner) dispatch() {
	for evt := range r.events {
		r.subsMu.Lock()
		subs := append([]chan stats.Event(nil), r.subs...)
		r.subsMu.Unlock()
		for _, ch := range subs {
			select {
			case <-r.ctx.Done():
			case ch <- evt:
			}
		}
	}

	r.subsMu.Lock()
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	r.subsClosed = true
	r.subsMu.Unlock()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	// All producers of tracker records have finished; close the tracker
	// so buffered state reaches disk before the run is reported done.
	if err := r.tracker.Close(); err != nil {
		r.fail(fmt.Errorf("state tracker: %w", err))
	}

	err := r.err
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("pipeline failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("pipeline completed", "duration", duration)
	return nil
}

// bridge forwards walked sources into the conversion queue. A source
// error is counted and reported but never stops the walk: the remaining
// files still get converted.
func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeQueue()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.sources:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeError, Path: envelope.Source.Path, Err: envelope.Err})
				continue
			}

			src := envelope.Source
			r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeScanned, Path: src.Path})

			if src.Size == 0 {
				r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeError, Path: src.Path, Err: ErrSourceEmpty})
				continue
			}

			if !r.cfg.Force && src.Hash != "" && r.tracker.AlreadyConverted(src.Hash) {
				r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeDuplicate, Path: src.Path})
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.queue <- src:
				r.EmitEvent(stats.Event{Stage: stats.StageWalk, Type: stats.EventTypeEnqueued, Path: src.Path})
			}
		}
	}
}

func (r *Runner) closeQueue() {
	r.closeQueueOnce.Do(func() {
		close(r.queue)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}
