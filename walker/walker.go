package walker

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhcgn/msg-to-eml/filter"
	"github.com/dhcgn/msg-to-eml/model"
	"github.com/dhcgn/msg-to-eml/runner"
)

type Options struct {
	Path      string
	Recursive bool
	Include   []string
	Exclude   []string
}

type Walker interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewWalker(opts Options, logger *slog.Logger) (Walker, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("input path is empty")
	}

	f, err := filter.New(filter.Options{Include: opts.Include, Exclude: opts.Exclude})
	if err != nil {
		return nil, err
	}

	return &fileWalker{
		path:      path,
		recursive: opts.Recursive,
		filter:    f,
		logger:    logger,
	}, nil
}

type fileWalker struct {
	path      string
	recursive bool
	filter    *filter.Filter
	logger    *slog.Logger
}

func (w *fileWalker) Stream(ctx context.Context, out chan<- model.Envelope) error {
	info, err := os.Stat(w.path)
	if err != nil {
		return fmt.Errorf("stat input: %w", err)
	}

	if !info.IsDir() {
		return w.emitFile(ctx, out, w.path)
	}

	paths, err := w.collect()
	if err != nil {
		return err
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.emitFile(ctx, out, path); err != nil {
			return err
		}
	}
	return nil
}

// collect gathers the candidate files up front so the stream order is
// deterministic regardless of directory iteration order.
func (w *fileWalker) collect() ([]string, error) {
	var paths []string

	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !w.recursive && path != w.path {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".msg") {
			return nil
		}
		if !w.filter.Allows(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	}

	if err := filepath.WalkDir(w.path, walkFn); err != nil {
		return nil, fmt.Errorf("walk %s: %w", w.path, err)
	}

	sort.Strings(paths)
	return paths, nil
}

func (w *fileWalker) emitFile(ctx context.Context, out chan<- model.Envelope, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return w.emitError(ctx, out, path, fmt.Errorf("stat %s: %w", path, err))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return w.emitError(ctx, out, path, fmt.Errorf("read %s: %w", path, err))
	}

	sum := sha256.Sum256(raw)

	src := model.Source{
		Path:    path,
		Hash:    base64.StdEncoding.EncodeToString(sum[:]),
		ModTime: info.ModTime(),
		Size:    int64(len(raw)),
		Raw:     raw,
	}
	return w.emitEnvelope(ctx, out, model.Envelope{Source: src})
}

func (w *fileWalker) emitError(ctx context.Context, out chan<- model.Envelope, path string, err error) error {
	if w.logger != nil {
		w.logger.Error("walk error", "path", path, "err", err)
	}
	return w.emitEnvelope(ctx, out, model.Envelope{Source: model.Source{Path: path}, Err: err})
}

func (w *fileWalker) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

type Producer struct {
	walker Walker
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	w, err := NewWalker(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{walker: w, runner: r}
	r.AddStage("walk", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseSources()
	return p.walker.Stream(ctx, p.runner.SourceWriter())
}

// CountSources counts the .msg files the walker would visit, for
// progress reporting before the pipeline starts.
func CountSources(opts Options) (int, error) {
	w, err := NewWalker(opts, nil)
	if err != nil {
		return 0, err
	}
	fw := w.(*fileWalker)

	info, err := os.Stat(fw.path)
	if err != nil {
		return 0, fmt.Errorf("stat input: %w", err)
	}
	if !info.IsDir() {
		return 1, nil
	}

	paths, err := fw.collect()
	if err != nil {
		return 0, err
	}
	return len(paths), nil
}
