// Package storage is the file port used by the download and decrypt jobs,
// with an implementation over the local file system.
package storage

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// File is a named byte stream that can be read, appended to and removed.
type File interface {
	Name() string
	OpenRead() (io.ReadCloser, error)
	// OpenWrite truncates the file unless appendMode is set.
	OpenWrite(appendMode bool) (io.WriteCloser, error)
	// Length is 0 for a file that does not exist.
	Length() (int64, error)
	Exists() bool
	Delete() error
}

// OSFile is a File on the local file system.
type OSFile struct {
	Path string
}

var _ File = OSFile{}

func (f OSFile) Name() string { return filepath.Base(f.Path) }

func (f OSFile) String() string { return f.Path }

func (f OSFile) OpenRead() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

func (f OSFile) OpenWrite(appendMode bool) (io.WriteCloser, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if appendMode {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(f.Path, flags, 0o644)
}

func (f OSFile) Length() (int64, error) {
	st, err := os.Stat(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

func (f OSFile) Exists() bool {
	_, err := os.Stat(f.Path)
	return err == nil
}

// Delete removes the file. A missing file is not an error.
func (f OSFile) Delete() error {
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Dir is a directory on the local file system.
type Dir string

// Child returns the file called name inside d.
func (d Dir) Child(name string) OSFile {
	return OSFile{Path: filepath.Join(string(d), name)}
}

// Ensure creates d and its parents.
func (d Dir) Ensure() error {
	return os.MkdirAll(string(d), 0o755)
}
