// Package auth implements the nonce cryptography of the FUS protocol: the
// signature sent with every request, the decryption of server-issued nonces
// and the logic-check substitution cipher.
package auth

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"strings"

	"github.com/cristalhq/base64"

	"github.com/mattchengg/fusgo/internal/fuserr"
)

const (
	KEY_1 = "vicopx7dqu06emacgpnpy8j8zwhduwlh"
	KEY_2 = "9u7qab84rpc16gvk"
)

// Pad appends n bytes of value n, n = 16 - len%16. A block-aligned input
// therefore always gains a full block.
func Pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}

// Unpad drops the trailing padding. The last byte is reduced modulo the
// length of data, not the block size, which is what the server does.
func Unpad(data []byte) []byte {
	length := len(data)
	if length == 0 {
		return data
	}
	v := int(data[length-1])
	return data[:length-v%length]
}

// AESEncrypt pads input and encrypts it with AES-CBC, using the first 16
// bytes of key as IV.
func AESEncrypt(input, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := Pad(input)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, key[:aes.BlockSize]).CryptBlocks(out, padded)
	return out, nil
}

// AESDecrypt is the inverse of AESEncrypt.
func AESDecrypt(input, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(input)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a multiple of %d",
			fuserr.ErrInvalidArgument, len(input), aes.BlockSize)
	}
	out := make([]byte, len(input))
	cipher.NewCBCDecrypter(block, key[:aes.BlockSize]).CryptBlocks(out, input)
	return Unpad(out), nil
}

// DeriveFKey builds the signing key for a 16 byte seed.
func DeriveFKey(seed []byte) ([]byte, error) {
	if len(seed) < 16 {
		return nil, fmt.Errorf("%w: key seed needs 16 bytes, got %d", fuserr.ErrInvalidArgument, len(seed))
	}
	key := make([]byte, 0, 16+len(KEY_2))
	for i := 0; i < 16; i++ {
		key = append(key, KEY_1[int(seed[i])%len(KEY_1)])
	}
	return append(key, KEY_2...), nil
}

// SignNonce returns the request signature for a plaintext nonce.
func SignNonce(nonce string) (string, error) {
	seed := make([]byte, 0, len(nonce))
	for _, c := range nonce {
		seed = append(seed, byte(c%16))
	}
	fkey, err := DeriveFKey(seed)
	if err != nil {
		return "", err
	}
	sig, err := AESEncrypt([]byte(nonce), fkey)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// DecryptNonce recovers the plaintext nonce from the server's NONCE header.
func DecryptNonce(encNonce string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encNonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	plain, err := AESDecrypt(data, []byte(KEY_1))
	if err != nil {
		return "", fmt.Errorf("decrypt nonce: %w", err)
	}
	return string(plain), nil
}

// LogicCheck maps every character of nonce to input[c&0xf].
func LogicCheck(input, nonce string) (string, error) {
	if len(input) < 16 {
		return "", fmt.Errorf("%w: logic-check input %q is shorter than 16", fuserr.ErrInvalidArgument, input)
	}
	var out strings.Builder
	out.Grow(len(nonce))
	for _, c := range nonce {
		out.WriteByte(input[int(c)&0xf])
	}
	return out.String(), nil
}
