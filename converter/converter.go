// Package converter ties the container reader, property decoder and MIME
// writer together into a byte-to-byte conversion.
package converter

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dhcgn/msg-to-eml/cfb"
	"github.com/dhcgn/msg-to-eml/eml"
	"github.com/dhcgn/msg-to-eml/msg"
)

// Convert transcodes a complete .msg file into a complete .eml document.
func Convert(src []byte) ([]byte, error) {
	container, err := cfb.Open(src)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}

	message, err := msg.Read(container)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}

	out, err := eml.Write(message)
	if err != nil {
		return nil, fmt.Errorf("write eml: %w", err)
	}
	return out, nil
}

// Result pairs one batch item's output with its error. Exactly one of
// EML and Err is set.
type Result struct {
	EML []byte
	Err error
}

// ConvertBatch converts sources concurrently with at most workers
// goroutines. Results line up with sources by index; a failed item
// never affects its neighbours.
func ConvertBatch(ctx context.Context, sources [][]byte, workers int) []Result {
	if workers < 1 {
		workers = 1
	}

	results := make([]Result, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, src := range sources {
		if ctx.Err() != nil {
			results[i] = Result{Err: ctx.Err()}
			continue
		}
		i, src := i, src
		g.Go(func() error {
			out, err := Convert(src)
			results[i] = Result{EML: out, Err: err}
			return nil
		})
	}
	// Workers never return errors; per-item failures stay in results.
	_ = g.Wait()

	return results
}
