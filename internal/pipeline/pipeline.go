// Package pipeline runs whole download and decrypt jobs: resolve, transfer,
// verify and decrypt, with progress tagged by stage.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/cryptutils"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/storage"
	"github.com/mattchengg/fusgo/internal/transfer"
)

// Stage names the pass a progress sample belongs to.
type Stage string

const (
	StageDownload Stage = "download"
	StageCRC32    Stage = "crc32"
	StageMD5      Stage = "md5"
	StageDecrypt  Stage = "decrypt"
)

// ProgressFunc receives samples off the copy goroutine.
type ProgressFunc func(Stage, transfer.Sample)

// Target holds the files of one job. KeyFile may be nil.
type Target struct {
	Encrypted storage.File
	Decrypted storage.File
	KeyFile   storage.File
}

// DirTargets places every file of a job in dir.
func DirTargets(dir storage.Dir) func(name string) Target {
	return func(name string) Target {
		return Target{
			Encrypted: dir.Child(name),
			Decrypted: dir.Child(cryptutils.DecryptedName(name)),
			KeyFile:   dir.Child("DecryptionKey_" + name + ".txt"),
		}
	}
}

// FullFileName appends the firmware and region to a server file name, so
// builds of one model do not collide on disk.
func FullFileName(name, fw, region string) string {
	return strings.Replace(name, ".zip", "_"+strings.ReplaceAll(fw, "/", "_")+"_"+region+".zip", 1)
}

// runner carries what both job kinds share.
type runner struct {
	Config   config.Config
	Log      *slog.Logger
	Progress ProgressFunc
}

func (r *runner) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// pass runs fn with progress for stage routed to r.Progress.
func (r *runner) pass(ctx context.Context, stage Stage, total int64, fn func(transfer.Options) error) error {
	opts := transfer.Options{Total: total, ChunkSize: r.Config.ChunkSize}
	if r.Progress == nil {
		return fn(opts)
	}
	samples, done := transfer.Report(ctx, func(s transfer.Sample) { r.Progress(stage, s) })
	opts.Progress = samples
	err := fn(opts)
	if derr := done(); err == nil {
		err = derr
	}
	return err
}

func (r *runner) decrypt(ctx context.Context, in, out storage.File, key cryptutils.Key, total int64) error {
	src, err := in.OpenRead()
	if err != nil {
		return err
	}
	dst, err := out.OpenWrite(false)
	if err != nil {
		src.Close()
		return err
	}
	r.log().Info("decrypting", "file", in.Name(), "output", out.Name())
	err = r.pass(ctx, StageDecrypt, total, func(opts transfer.Options) error {
		_, err := cryptutils.Decrypt(ctx, src, dst, key, opts)
		return err
	})
	if err != nil {
		// A partial output would be mistaken for a finished one.
		if derr := out.Delete(); derr != nil {
			r.log().Warn("removing partial output", "file", out.Name(), "error", derr)
		}
	}
	return err
}

func (r *runner) verifyCRC32(ctx context.Context, f storage.File, expected int32, total int64) error {
	in, err := f.OpenRead()
	if err != nil {
		return err
	}
	var ok bool
	err = r.pass(ctx, StageCRC32, total, func(opts transfer.Options) (err error) {
		ok, err = cryptutils.VerifyCRC32(ctx, in, expected, opts)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &fuserr.IntegrityError{Kind: fuserr.CRC32, File: f.Name()}
	}
	return nil
}

func (r *runner) verifyMD5(ctx context.Context, f storage.File, expected string, total int64) error {
	in, err := f.OpenRead()
	if err != nil {
		return err
	}
	var ok bool
	err = r.pass(ctx, StageMD5, total, func(opts transfer.Options) (err error) {
		ok, err = cryptutils.VerifyMD5(ctx, expected, in, opts)
		return err
	})
	if err != nil {
		return err
	}
	if !ok {
		return &fuserr.IntegrityError{Kind: fuserr.MD5, File: f.Name()}
	}
	return nil
}

func writeKey(f storage.File, raw string) error {
	w, err := f.OpenWrite(false)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, raw); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// finish maps a cancelled job to a cancelled outcome with no error.
func finish(out *Outcome, err error) (*Outcome, error) {
	if fuserr.IsCancelled(err) || errors.Is(err, context.Canceled) {
		out.Cancelled = true
		return out, nil
	}
	return out, err
}
