package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattchengg/fusgo/internal/fusclient"
	"github.com/mattchengg/fusgo/internal/fuserr"
)

// MaxKeyRetries bounds how often a missing v4 key forces a fresh nonce.
// The request is sent at most MaxKeyRetries+2 times.
const MaxKeyRetries = 4

// Query names the firmware to resolve. IMEISerial may hold several
// identifiers separated by newlines or semicolons.
type Query struct {
	FW         string
	Model      string
	Region     string
	IMEISerial string
}

// Validate reports whether q can be sent to the server.
func (q Query) Validate() error {
	if q.FW == "" || q.Model == "" || q.Region == "" {
		return fmt.Errorf("%w: firmware, model and region are required", fuserr.ErrInvalidArgument)
	}
	if len(q.FW) < 16 {
		return fmt.Errorf("%w: firmware %q is too short", fuserr.ErrInvalidArgument, q.FW)
	}
	return nil
}

// Identifiers returns the IMEIs or serials of q in order, or a single empty
// identifier when there are none.
func (q Query) Identifiers() []string {
	var ids []string
	for _, id := range strings.FieldsFunc(q.IMEISerial, func(r rune) bool { return r == '\n' || r == ';' }) {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []string{""}
	}
	return ids
}

// Confirm decides whether to accept firmware that differs from the request.
type Confirm func(ctx context.Context, mismatch *fuserr.VersionMismatchError) (bool, error)

// Resolver turns a Query into BinaryFileInfo over one session.
type Resolver struct {
	Client *fusclient.Client
	Log    *slog.Logger

	// Pause is inserted before every tenth identifier.
	Pause time.Duration
}

func NewResolver(c *fusclient.Client) *Resolver {
	r := &Resolver{Client: c, Pause: time.Second}
	if c != nil {
		r.Log = c.Log
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.Log != nil {
		return r.Log
	}
	return slog.Default()
}

// Resolve sends BINARY_INFORM for q and parses the answer. A .enc4 answer
// without key material is retried with a fresh nonce up to MaxKeyRetries
// times. When the server offers other firmware than q.FW, the info is
// returned together with a *fuserr.VersionMismatchError.
func (r *Resolver) Resolve(ctx context.Context, q Query) (*BinaryFileInfo, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	for tries := 0; ; tries++ {
		resp, err := r.inform(ctx, q)
		if err != nil {
			return nil, err
		}
		info, err := resp.BinaryInfo()
		if err != nil {
			return nil, err
		}

		if info.IsV4() && info.V4Key == nil {
			if tries > MaxKeyRetries {
				return nil, &fuserr.KeyDerivationError{
					Tries: tries + 1,
					Err:   &fuserr.ProtocolError{Status: resp.Status, Reason: "response carries no v4 key material", Raw: resp.Raw},
				}
			}
			r.log().Debug("v4 key missing, regenerating nonce", "try", tries+1)
			if err := r.Client.RegenerateNonce(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if served, ok := resp.ServedVersion(q.Model); !ok || served != q.FW {
			return info, &fuserr.VersionMismatchError{Requested: q.FW, Served: served, Info: info}
		}
		return info, nil
	}
}

// ResolveConfirmed is Resolve with version mismatches routed through
// confirm. A declined mismatch returns fuserr.ErrCancelled; a nil confirm
// declines.
func (r *Resolver) ResolveConfirmed(ctx context.Context, q Query, confirm Confirm) (*BinaryFileInfo, error) {
	info, err := r.Resolve(ctx, q)
	var mismatch *fuserr.VersionMismatchError
	if !errors.As(err, &mismatch) {
		return info, err
	}
	if confirm == nil {
		return nil, err
	}
	ok, cerr := confirm(ctx, mismatch)
	if cerr != nil {
		return nil, cerr
	}
	if !ok {
		return nil, fuserr.ErrCancelled
	}
	r.log().Info("using firmware offered by server", "requested", mismatch.Requested, "served", mismatch.Served)
	return info, nil
}

// Init sends BINARY_INIT for the resolved file. The server refuses the
// download without it.
func (r *Resolver) Init(ctx context.Context, info *BinaryFileInfo) error {
	nonce, err := r.Client.Nonce(ctx)
	if err != nil {
		return err
	}
	body, err := BuildBinaryInit(info.FileName, nonce)
	if err != nil {
		return err
	}
	text, err := r.Client.Send(ctx, fusclient.BinaryInit, body)
	if err != nil {
		return err
	}
	resp, err := ParseResponse(text)
	if err != nil {
		return err
	}
	return resp.CheckStatus()
}

// inform tries every identifier of q until the server stops answering 408.
func (r *Resolver) inform(ctx context.Context, q Query) (*Response, error) {
	var last *Response
	for i, id := range q.Identifiers() {
		if i > 0 && i%10 == 0 && r.Pause > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.Pause):
			}
		}

		nonce, err := r.Client.Nonce(ctx)
		if err != nil {
			return nil, err
		}
		body, err := BuildBinaryInform(q.FW, q.Model, q.Region, id, nonce)
		if err != nil {
			return nil, err
		}
		text, err := r.Client.Send(ctx, fusclient.BinaryInform, body)
		if err != nil {
			return nil, err
		}
		resp, err := ParseResponse(text)
		if err != nil {
			return nil, err
		}
		last = resp
		if resp.Status != "408" {
			return resp, nil
		}
		r.log().Debug("identifier rejected", "index", i)
	}
	return last, nil
}
