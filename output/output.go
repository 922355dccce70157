// Package output converts queued sources and writes the results: one
// .eml file per source, or a single mbox or zip bundle.
package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/msg-to-eml/converter"
	"github.com/dhcgn/msg-to-eml/model"
	"github.com/dhcgn/msg-to-eml/runner"
	"github.com/dhcgn/msg-to-eml/state"
	"github.com/dhcgn/msg-to-eml/stats"
)

var ErrMissingHash = errors.New("source hash is empty")

type Options struct {
	Dir     string
	Bundle  Bundle
	Workers int
	DryRun  bool
}

type Sink struct {
	opts    Options
	runner  *runner.Runner
	tracker state.Tracker
	queue   <-chan model.Source
	logger  *slog.Logger

	destMu sync.Mutex
	dest   destination
}

func NewSink(opts Options, r *runner.Runner, logger *slog.Logger) (*Sink, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("output directory is empty")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	switch opts.Bundle {
	case BundleNone, BundleMbox, BundleZip:
	default:
		return nil, fmt.Errorf("unknown bundle format %q", opts.Bundle)
	}
	tracker := r.Tracker()
	if tracker == nil {
		return nil, fmt.Errorf("tracker must not be nil")
	}
	sink := &Sink{
		opts:    opts,
		runner:  r,
		tracker: tracker,
		queue:   r.Queue(),
		logger:  logger,
	}
	r.AddStage("convert", sink.run)
	return sink, nil
}

func (s *Sink) run(ctx context.Context) error {
	defer func() {
		s.destMu.Lock()
		defer s.destMu.Unlock()
		if s.dest != nil {
			if err := s.dest.close(); err != nil && s.logger != nil {
				s.logger.Warn("close output", "err", err)
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case src, ok := <-s.queue:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				s.handle(src)
				return nil
			})
		}
	}
}

// handle converts and writes one source. A failure is reported as an
// event and never propagated: one broken file must not stop the batch.
func (s *Sink) handle(src model.Source) {
	if src.Hash == "" {
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: src.Path, Err: ErrMissingHash})
		return
	}

	eml, err := converter.Convert(src.Raw)
	if err != nil {
		err = fmt.Errorf("convert %s: %w", src.Path, err)
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: src.Path, Err: err})
		return
	}

	if s.opts.DryRun {
		if err := s.tracker.MarkConverted(src.Hash, src.Path); err != nil {
			s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: src.Path, Err: err})
			return
		}
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeDryRunOutput, Path: src.Path})
		if s.logger != nil {
			s.logger.Debug("dry-run convert", "path", src.Path, "emlBytes", len(eml), "hash", src.Hash)
		}
		return
	}

	if err := s.write(src, eml); err != nil {
		err = fmt.Errorf("write %s: %w", src.Path, err)
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: src.Path, Err: err})
		return
	}

	if err := s.tracker.MarkConverted(src.Hash, src.Path); err != nil {
		s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeError, Path: src.Path, Err: err})
		return
	}

	s.runner.EmitEvent(stats.Event{Stage: stats.StageConvert, Type: stats.EventTypeConverted, Path: src.Path})
	if s.logger != nil {
		s.logger.Debug("converted", "path", src.Path, "emlBytes", len(eml), "hash", src.Hash)
	}
}

// write serializes destination access: the mbox and zip bundles are
// single writers, and the per-file destination shares a name table.
func (s *Sink) write(src model.Source, eml []byte) error {
	s.destMu.Lock()
	defer s.destMu.Unlock()

	if s.dest == nil {
		dest, err := newDestination(s.opts)
		if err != nil {
			return err
		}
		s.dest = dest
	}
	return s.dest.add(src, eml)
}
