package storage

import (
	"io"
	"testing"
)

func write(t *testing.T, f File, appendTo bool, data string) {
	t.Helper()
	w, err := f.OpenWrite(appendTo)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.WriteString(w, data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOSFile(t *testing.T) {
	f := Dir(t.TempDir()).Child("fw.zip.enc4")
	if f.Name() != "fw.zip.enc4" {
		t.Fatalf("Name = %q", f.Name())
	}
	if n, err := f.Length(); err != nil || n != 0 || f.Exists() {
		t.Fatalf("missing file: length=%d err=%v exists=%v", n, err, f.Exists())
	}

	write(t, f, false, "abc")
	write(t, f, true, "def")
	if n, _ := f.Length(); n != 6 {
		t.Fatalf("Length after append = %d", n)
	}

	r, err := f.OpenRead()
	if err != nil {
		t.Fatal(err)
	}
	data, _ := io.ReadAll(r)
	r.Close()
	if string(data) != "abcdef" {
		t.Fatalf("content = %q", data)
	}

	write(t, f, false, "x")
	if n, _ := f.Length(); n != 1 {
		t.Fatalf("Length after truncate = %d", n)
	}

	if err := f.Delete(); err != nil {
		t.Fatal(err)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
}
