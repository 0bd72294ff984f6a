package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattchengg/fusgo/internal/config"
	"github.com/mattchengg/fusgo/internal/cryptutils"
	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/storage"
)

// DecryptJob decrypts a file that is already on disk.
type DecryptJob struct {
	Query  request.Query
	Input  storage.File
	Output storage.File

	// KeyString is a saved key derivation string. It takes precedence over
	// Scheme.
	KeyString string

	// Scheme forces key generation 2 or 4; 0 picks it from the input suffix.
	Scheme int
}

// Decrypter runs DecryptJobs. Client is only used for v4 keys.
type Decrypter struct {
	runner
	Client *fusclient.Client
}

func NewDecrypter(cfg config.Config, c *fusclient.Client, log *slog.Logger, progress ProgressFunc) *Decrypter {
	return &Decrypter{
		runner: runner{Config: cfg, Log: log, Progress: progress},
		Client: c,
	}
}

func (d *Decrypter) Run(ctx context.Context, job DecryptJob) (*Outcome, error) {
	out := &Outcome{Target: Target{Encrypted: job.Input, Decrypted: job.Output}}
	err := d.run(ctx, job, out)
	return finish(out, err)
}

func (d *Decrypter) run(ctx context.Context, job DecryptJob, out *Outcome) error {
	key, err := d.key(ctx, job)
	if err != nil {
		return err
	}
	out.Key = key

	if !job.Input.Exists() {
		return fmt.Errorf("%w: %s does not exist", fuserr.ErrInvalidArgument, job.Input.Name())
	}
	size, err := job.Input.Length()
	if err != nil {
		return err
	}
	return d.decrypt(ctx, job.Input, job.Output, key, size)
}

func (d *Decrypter) key(ctx context.Context, job DecryptJob) (cryptutils.Key, error) {
	if job.KeyString != "" {
		return cryptutils.KeyFromString(job.KeyString), nil
	}
	q := job.Query
	switch job.Scheme {
	case 2:
		return cryptutils.V2Key(q.FW, q.Model, q.Region), nil
	case 4:
		return cryptutils.V4Key(ctx, d.resolver(), q)
	case 0:
		return cryptutils.KeyForFile(ctx, job.Input.Name(), d.resolver(), q)
	default:
		return cryptutils.Key{}, fmt.Errorf("%w: unknown encryption version %d", fuserr.ErrInvalidArgument, job.Scheme)
	}
}

func (d *Decrypter) resolver() *request.Resolver {
	r := request.NewResolver(d.Client)
	r.Log = d.Log
	return r
}
