// Package fuserr defines the error kinds shared by the FUS client packages.
package fuserr

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks a job that was stopped on request. It is not a failure.
	ErrCancelled = errors.New("cancelled")

	ErrInvalidArgument = errors.New("invalid argument")
)

// NetworkError wraps a transport failure.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a FUS response that was not usable: a non-200 status,
// a missing node or a body that is not XML. Raw holds the response for
// diagnostics.
type ProtocolError struct {
	Status string
	Reason string
	Raw    string
}

func (e *ProtocolError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("fus protocol error (status %s): %s", e.Status, e.Reason)
	}
	return "fus protocol error: " + e.Reason
}

// VersionMismatchError is returned when the server resolves a different
// firmware than the one requested. Info carries the resolved metadata so the
// caller can proceed anyway.
type VersionMismatchError struct {
	Requested string
	Served    string
	Info      any
}

func (e *VersionMismatchError) Error() string {
	if e.Served == "" {
		return fmt.Sprintf("unable to verify served firmware for %s", e.Requested)
	}
	return fmt.Sprintf("firmware mismatch: requested %s, server offers %s", e.Requested, e.Served)
}

// KeyDerivationError reports a failure to obtain a decryption key.
type KeyDerivationError struct {
	Tries int
	Err   error
}

func (e *KeyDerivationError) Error() string {
	return fmt.Sprintf("decryption key unavailable after %d tries: %v", e.Tries, e.Err)
}

func (e *KeyDerivationError) Unwrap() error { return e.Err }

type IntegrityKind string

const (
	CRC32 IntegrityKind = "CRC32"
	MD5   IntegrityKind = "MD5"
)

// IntegrityError reports a checksum mismatch on a downloaded file.
type IntegrityError struct {
	Kind IntegrityKind
	File string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s check failed for %s", e.Kind, e.File)
}

// IsCancelled reports whether err ends a job without failing it.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
