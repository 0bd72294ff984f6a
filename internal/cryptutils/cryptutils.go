// Package cryptutils derives firmware keys and runs the decrypt and checksum
// passes over firmware streams.
package cryptutils

import (
	"context"
	"crypto/aes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"strings"

	"github.com/cristalhq/base64"

	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/transfer"
)

// Key is an AES-128 firmware key with the string it was derived from.
type Key struct {
	Key [16]byte
	Raw string
}

// V2Key derives the key of a .enc2 file.
func V2Key(fw, model, region string) Key {
	raw := region + ":" + model + ":" + fw
	return Key{Key: md5.Sum([]byte(raw)), Raw: raw}
}

// KeyFromString turns a saved key string back into a Key.
func KeyFromString(raw string) Key {
	raw = strings.TrimSpace(raw)
	return Key{Key: md5.Sum([]byte(raw)), Raw: raw}
}

// V4Key asks the server for the key of a .enc4 file. A version mismatch does
// not matter here; the key of the offered firmware is used.
func V4Key(ctx context.Context, r *request.Resolver, q request.Query) (Key, error) {
	info, err := r.Resolve(ctx, q)
	var mismatch *fuserr.VersionMismatchError
	if errors.As(err, &mismatch) {
		err = nil
	}
	if err != nil {
		return Key{}, err
	}
	if info.V4Key == nil {
		return Key{}, &fuserr.KeyDerivationError{Tries: 1, Err: fmt.Errorf("%s is not a v4 file", info.FileName)}
	}
	return Key{Key: info.V4Key.Key, Raw: info.V4Key.Raw}, nil
}

// KeyForFile picks the key scheme from the file name suffix.
func KeyForFile(ctx context.Context, name string, r *request.Resolver, q request.Query) (Key, error) {
	switch {
	case strings.HasSuffix(name, ".enc2"):
		return V2Key(q.FW, q.Model, q.Region), nil
	case strings.HasSuffix(name, ".enc4"):
		return V4Key(ctx, r, q)
	default:
		return Key{}, fmt.Errorf("%w: %s is not an encrypted firmware file", fuserr.ErrInvalidArgument, name)
	}
}

// DecryptedName strips the encryption suffix from name.
func DecryptedName(name string) string {
	return strings.TrimSuffix(strings.TrimSuffix(name, ".enc4"), ".enc2")
}

// Decrypt writes the AES-ECB decryption of in to out. The chunk size must be
// a multiple of the block size; no padding is removed.
func Decrypt(ctx context.Context, in io.ReadCloser, out io.WriteCloser, key Key, opts transfer.Options) (int64, error) {
	if opts.ChunkSize%aes.BlockSize != 0 {
		in.Close()
		out.Close()
		return 0, fmt.Errorf("%w: chunk size %d is not a multiple of %d", fuserr.ErrInvalidArgument, opts.ChunkSize, aes.BlockSize)
	}
	block, err := aes.NewCipher(key.Key[:])
	if err != nil {
		in.Close()
		out.Close()
		return 0, err
	}
	opts.Transform = func(chunk []byte) ([]byte, error) {
		if len(chunk)%aes.BlockSize != 0 {
			return nil, fmt.Errorf("%w: encrypted data is not block aligned", fuserr.ErrInvalidArgument)
		}
		for i := 0; i < len(chunk); i += aes.BlockSize {
			block.Decrypt(chunk[i:i+aes.BlockSize], chunk[i:i+aes.BlockSize])
		}
		return chunk, nil
	}
	return transfer.Copy(ctx, in, out, opts)
}

// VerifyCRC32 streams in through CRC32 and compares the result, as a signed
// 32-bit value, to expected.
func VerifyCRC32(ctx context.Context, in io.ReadCloser, expected int32, opts transfer.Options) (bool, error) {
	h := crc32.NewIEEE()
	if err := digest(ctx, in, h, opts); err != nil {
		return false, err
	}
	return int32(h.Sum32()) == expected, nil
}

// VerifyMD5 streams in through MD5 and compares the hex digest to expected,
// ignoring case. A blank expectation never matches.
func VerifyMD5(ctx context.Context, expected string, in io.ReadCloser, opts transfer.Options) (bool, error) {
	if strings.TrimSpace(expected) == "" {
		in.Close()
		return false, nil
	}
	h := md5.New()
	if err := digest(ctx, in, h, opts); err != nil {
		return false, err
	}
	return strings.EqualFold(fmt.Sprintf("%032x", h.Sum(nil)), strings.TrimSpace(expected)), nil
}

func digest(ctx context.Context, in io.ReadCloser, h hash.Hash, opts transfer.Options) error {
	opts.Transform = func(chunk []byte) ([]byte, error) {
		h.Write(chunk)
		return nil, nil
	}
	_, err := transfer.Copy(ctx, in, nopWriteCloser{io.Discard}, opts)
	return err
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NormalizeMD5 turns a Content-MD5 header into lower-case hex. The header
// may be hex or base64. Anything else yields "".
func NormalizeMD5(header string) string {
	header = strings.TrimSpace(header)
	if len(header) == 32 {
		if _, err := hex.DecodeString(header); err == nil {
			return strings.ToLower(header)
		}
	}
	sum, err := base64.StdEncoding.DecodeString(header)
	if err != nil || len(sum) != md5.Size {
		return ""
	}
	return hex.EncodeToString(sum)
}
