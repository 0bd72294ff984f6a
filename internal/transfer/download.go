package transfer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/storage"
)

// Source opens the binary stream of a firmware file. *fusclient.Client
// implements it.
type Source interface {
	OpenBinary(ctx context.Context, path string, offset int64) (*fusclient.Binary, error)
}

var _ Source = (*fusclient.Client)(nil)

// Result describes a finished Download.
type Result struct {
	Offset  int64  // bytes that were already on disk
	Written int64  // bytes transferred by this call
	Skipped bool   // the file was already complete
	MD5     string // Content-MD5 header of the transfer, if any
}

// Download fetches path into file, resuming from the file's current length.
// A file that already holds size bytes is left alone. A response whose length
// disagrees with the bytes still missing is rejected before file is touched.
func Download(ctx context.Context, src Source, path string, size int64, file storage.File, opts Options, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.Default()
	}
	offset, err := file.Length()
	if err != nil {
		return nil, err
	}
	if offset == size {
		log.Info("already downloaded", "file", file.Name())
		return &Result{Offset: offset, Skipped: true}, nil
	}
	if offset > size {
		log.Warn("local file is larger than the firmware, restarting", "file", file.Name(), "length", offset, "size", size)
		offset = 0
	}

	bin, err := src.OpenBinary(ctx, path, offset)
	if err != nil {
		return nil, err
	}
	if offset > 0 && !bin.Partial {
		log.Warn("server ignored the range request, restarting", "file", file.Name())
		offset = 0
	}
	if want := size - offset; bin.ContentLength >= 0 && bin.ContentLength != want {
		bin.Body.Close()
		return nil, &fuserr.ProtocolError{
			Reason: fmt.Sprintf("binary download offers %d bytes, want %d", bin.ContentLength, want),
		}
	}
	if offset > 0 {
		log.Info("resuming", "file", file.Name(), "offset", offset)
	} else {
		log.Info("downloading", "file", file.Name())
	}

	out, err := file.OpenWrite(offset > 0)
	if err != nil {
		bin.Body.Close()
		return nil, err
	}

	opts.Offset = offset
	opts.Total = size
	written, err := Copy(ctx, bin.Body, out, opts)
	res := &Result{Offset: offset, Written: written, MD5: bin.MD5}
	if err != nil {
		return res, err
	}
	if offset+written != size {
		return res, fmt.Errorf("%w: got %d of %d bytes", ErrIncomplete, offset+written, size)
	}
	return res, nil
}
