package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/cryptutils"
	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/transfer"
)

// Outcome of a job. Cancelled jobs return an Outcome with Cancelled set and
// a nil error.
type Outcome struct {
	Info      *request.BinaryFileInfo
	Target    Target
	Key       cryptutils.Key
	Transfer  *transfer.Result
	MD5       string // verified digest, empty when none was offered
	Skipped   bool   // the decrypted file already existed
	Cancelled bool
}

// Job describes one firmware download.
type Job struct {
	Query   request.Query
	Confirm request.Confirm

	// Targets maps the server file name to the files of the job.
	Targets func(name string) Target

	// SkipDecrypt leaves the verified encrypted file as the result.
	SkipDecrypt bool
}

// Downloader fetches, verifies and decrypts firmware over one FUS session.
type Downloader struct {
	runner
	Client   *fusclient.Client
	Resolver *request.Resolver
}

func NewDownloader(cfg config.Config, c *fusclient.Client, log *slog.Logger, progress ProgressFunc) *Downloader {
	r := request.NewResolver(c)
	r.Log = log
	return &Downloader{
		runner:   runner{Config: cfg, Log: log, Progress: progress},
		Client:   c,
		Resolver: r,
	}
}

// Run executes job. On an integrity failure the encrypted file stays on disk.
func (d *Downloader) Run(ctx context.Context, job Job) (*Outcome, error) {
	out := &Outcome{}
	err := d.run(ctx, job, out)
	return finish(out, err)
}

func (d *Downloader) run(ctx context.Context, job Job, out *Outcome) error {
	q := job.Query
	info, err := d.Resolver.ResolveConfirmed(ctx, q, job.Confirm)
	if err != nil {
		return err
	}
	out.Info = info
	d.log().Info("resolved firmware", "file", info.FileName, "size", info.Size, "path", info.Path)

	name := FullFileName(info.FileName, q.FW, q.Region)
	t := job.Targets(name)
	out.Target = t
	if !job.SkipDecrypt && t.Decrypted.Exists() {
		d.log().Info("already downloaded and decrypted", "file", t.Decrypted.Name())
		out.Skipped = true
		return nil
	}

	if info.IsV4() {
		if info.V4Key == nil {
			return fmt.Errorf("no v4 key for %s", info.FileName)
		}
		out.Key = cryptutils.Key{Key: info.V4Key.Key, Raw: info.V4Key.Raw}
	} else {
		out.Key = cryptutils.V2Key(q.FW, q.Model, q.Region)
	}
	if d.Config.SaveDecryptionKey && t.KeyFile != nil {
		if err := writeKey(t.KeyFile, out.Key.Raw); err != nil {
			return fmt.Errorf("save decryption key: %w", err)
		}
	}

	if err := d.Resolver.Init(ctx, info); err != nil {
		return err
	}

	size := int64(info.Size)
	err = d.pass(ctx, StageDownload, size, func(opts transfer.Options) error {
		res, err := transfer.Download(ctx, d.Client, info.Path+info.FileName, size, t.Encrypted, opts, d.Log)
		out.Transfer = res
		return err
	})
	if err != nil {
		return err
	}

	if info.CRC32 != nil {
		if err := d.verifyCRC32(ctx, t.Encrypted, *info.CRC32, size); err != nil {
			return err
		}
	}
	if out.Transfer.MD5 != "" {
		md5 := cryptutils.NormalizeMD5(out.Transfer.MD5)
		if md5 == "" {
			d.log().Warn("ignoring unreadable Content-MD5", "value", out.Transfer.MD5)
		} else {
			if err := d.verifyMD5(ctx, t.Encrypted, md5, size); err != nil {
				return err
			}
			out.MD5 = md5
		}
	}

	if job.SkipDecrypt {
		return nil
	}
	if err := d.decrypt(ctx, t.Encrypted, t.Decrypted, out.Key, size); err != nil {
		return err
	}
	if d.Config.AutoDeleteEncrypted {
		if err := t.Encrypted.Delete(); err != nil {
			d.log().Warn("removing encrypted file", "file", t.Encrypted.Name(), "error", err)
		}
	}
	return nil
}
