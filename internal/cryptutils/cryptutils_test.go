package cryptutils_test

import (
	"bytes"
	"context"
	"crypto/aes"
	"encoding/hex"
	"errors"
	"hash/crc32"
	"io"
	"math/rand"
	"testing"

	"github.com/mattchengg/fusgo/internal/cryptutils"
	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/request"
	"github.com/mattchengg/fusgo/internal/transfer"
)

type buffer struct{ bytes.Buffer }

func (*buffer) Close() error { return nil }

func reader(b []byte) io.ReadCloser { return io.NopCloser(bytes.NewReader(b)) }

func randomBytes(n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(1)).Read(b)
	return b
}

func TestV2Key(t *testing.T) {
	key := cryptutils.V2Key("A/B/C", "SM-N986U1", "XAA")
	if got := hex.EncodeToString(key.Key[:]); got != "ec5a45c25d097223f2811080feb8c03f" {
		t.Fatalf("key = %s", got)
	}
	if key.Raw != "XAA:SM-N986U1:A/B/C" {
		t.Fatalf("raw = %q", key.Raw)
	}
	if cryptutils.KeyFromString(" XAA:SM-N986U1:A/B/C\n") != key {
		t.Fatal("KeyFromString does not reproduce the key")
	}
}

func TestKeyForFile_Unknown(t *testing.T) {
	_, err := cryptutils.KeyForFile(context.Background(), "fw.zip", nil, request.Query{FW: "A/B/C", Model: "M", Region: "R"})
	if !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

func TestDecrypt(t *testing.T) {
	key := cryptutils.V2Key("A/B/C", "SM-N986U1", "XAA")
	plain := randomBytes(4096 + 48)
	block, _ := aes.NewCipher(key.Key[:])
	enc := make([]byte, len(plain))
	for i := 0; i < len(plain); i += aes.BlockSize {
		block.Encrypt(enc[i:i+aes.BlockSize], plain[i:i+aes.BlockSize])
	}

	out := &buffer{}
	n, err := cryptutils.Decrypt(context.Background(), reader(enc), out, key, transfer.Options{Total: int64(len(enc)), ChunkSize: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(len(enc)) || !bytes.Equal(out.Bytes(), plain) {
		t.Fatal("decrypted data differs")
	}
}

func TestDecrypt_Unaligned(t *testing.T) {
	key := cryptutils.V2Key("A/B/C", "M", "R")
	_, err := cryptutils.Decrypt(context.Background(), reader(make([]byte, 32)), &buffer{}, key, transfer.Options{ChunkSize: 20})
	if !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("chunk size: err = %v", err)
	}
	_, err = cryptutils.Decrypt(context.Background(), reader(make([]byte, 40)), &buffer{}, key, transfer.Options{ChunkSize: 32})
	if !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("short tail: err = %v", err)
	}
}

func TestVerifyCRC32(t *testing.T) {
	data := randomBytes(200_000)
	want := int32(crc32.ChecksumIEEE(data))
	for _, chunk := range []int{1, 17, 65536} {
		ok, err := cryptutils.VerifyCRC32(context.Background(), reader(data), want, transfer.Options{ChunkSize: chunk})
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("chunk size %d: CRC mismatch", chunk)
		}
	}

	ok, err := cryptutils.VerifyCRC32(context.Background(), reader(data), want+1, transfer.Options{ChunkSize: 4096})
	if err != nil || ok {
		t.Fatalf("wrong CRC accepted: ok=%v err=%v", ok, err)
	}
}

func TestVerifyMD5(t *testing.T) {
	data := []byte("hello")
	for _, expected := range []string{
		"5d41402abc4b2a76b9719d911017c592",
		"5D41402ABC4B2A76B9719D911017C592",
	} {
		ok, err := cryptutils.VerifyMD5(context.Background(), expected, reader(data), transfer.Options{ChunkSize: 2})
		if err != nil || !ok {
			t.Fatalf("%s: ok=%v err=%v", expected, ok, err)
		}
	}
	if ok, _ := cryptutils.VerifyMD5(context.Background(), "", reader(data), transfer.Options{}); ok {
		t.Fatal("blank digest matched")
	}
	if ok, _ := cryptutils.VerifyMD5(context.Background(), "00000000000000000000000000000000", reader(data), transfer.Options{}); ok {
		t.Fatal("wrong digest matched")
	}
}

func TestNormalizeMD5(t *testing.T) {
	for in, want := range map[string]string{
		"XUFAKrxLKna5cZ2REBfFkg==":         "5d41402abc4b2a76b9719d911017c592",
		"5D41402ABC4B2A76B9719D911017C592": "5d41402abc4b2a76b9719d911017c592",
		"":                                 "",
		"not a digest":                     "",
	} {
		if got := cryptutils.NormalizeMD5(in); got != want {
			t.Errorf("NormalizeMD5(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecryptedName(t *testing.T) {
	for in, want := range map[string]string{
		"fw.zip.enc4": "fw.zip",
		"fw.zip.enc2": "fw.zip",
		"fw.zip":      "fw.zip",
	} {
		if got := cryptutils.DecryptedName(in); got != want {
			t.Errorf("DecryptedName(%q) = %q", in, got)
		}
	}
}
