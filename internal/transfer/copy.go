// Package transfer moves firmware bytes between streams in fixed chunks,
// reporting progress samples without blocking the copy.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/fuserr"
)

// ErrIncomplete is returned when a transfer ends before the advertised size.
var ErrIncomplete = errors.New("incomplete transfer")

// Sample is one progress report.
type Sample struct {
	Current        uint64
	Max            uint64
	BytesPerSecond uint64
}

// Options configure Copy.
type Options struct {
	Total  int64 // reported as Sample.Max
	Offset int64 // bytes already present in the destination

	// ChunkSize defaults to config.DefaultChunkSize.
	ChunkSize int

	// Transform rewrites each chunk before it is written.
	Transform func([]byte) ([]byte, error)

	// Progress receives one sample per chunk. Sends never block except for
	// the final sample.
	Progress chan<- Sample

	Clock func() time.Time
}

// Copy streams in to out chunk by chunk and returns the number of bytes read.
// Both streams are closed on return. A cancelled ctx ends the copy between
// chunks with fuserr.ErrCancelled.
func Copy(ctx context.Context, in io.ReadCloser, out io.WriteCloser, opts Options) (written int64, err error) {
	defer func() {
		in.Close()
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	size := opts.ChunkSize
	if size <= 0 {
		size = config.DefaultChunkSize
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	var (
		buf     = make([]byte, size)
		avg     Averager
		current = opts.Offset
		pending *Sample
	)
	defer func() {
		// The last sample is delivered even if the consumer fell behind.
		if pending != nil && opts.Progress != nil {
			select {
			case opts.Progress <- *pending:
			case <-ctx.Done():
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return written, fuserr.ErrCancelled
		}

		start := now()
		n, rerr := io.ReadFull(in, buf)
		if n > 0 {
			chunk := buf[:n]
			if opts.Transform != nil {
				if chunk, err = opts.Transform(chunk); err != nil {
					return written, err
				}
			}
			if _, err := out.Write(chunk); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
			current += int64(n)

			end := now()
			avg.Update(end.Sub(start), int64(n), end)
			s := Sample{Current: uint64(current), Max: uint64(opts.Total), BytesPerSecond: avg.BytesPerSecond()}
			pending = &s
			if opts.Progress != nil {
				select {
				case opts.Progress <- s:
					pending = nil
				default:
				}
			}
		}

		switch {
		case rerr == nil:
		case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
			if ctx.Err() != nil {
				return written, fuserr.ErrCancelled
			}
			return written, nil
		case ctx.Err() != nil:
			return written, fuserr.ErrCancelled
		default:
			return written, fmt.Errorf("read: %w", rerr)
		}
	}
}
