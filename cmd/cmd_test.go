package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattchengg/fusgo/internal/fuserr"
	"github.com/mattchengg/fusgo/internal/pipeline"
	"github.com/mattchengg/fusgo/internal/storage"
	"github.com/mattchengg/fusgo/internal/transfer"
)

func TestFormatSize(t *testing.T) {
	for _, tc := range []struct {
		in   int64
		want string
	}{
		{0, "0B"},
		{1023, "1023B"},
		{1024, "1.0KB"},
		{1536, "1.5KB"},
		{5 << 30, "5.0GB"},
	} {
		if got := formatSize(tc.in); got != tc.want {
			t.Errorf("formatSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	for d, want := range map[time.Duration]string{
		42 * time.Second:            "42s",
		3*time.Minute + time.Second: "3m1s",
		2*time.Hour + 5*time.Minute: "2h5m",
	} {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestProgressBar_Plain(t *testing.T) {
	var buf bytes.Buffer
	p := &progressBar{width: 10, out: &buf}
	for i := uint64(0); i <= 100; i += 5 {
		p.Update(pipeline.StageDownload, transfer.Sample{Current: i, Max: 100})
	}
	p.Update(pipeline.StageDecrypt, transfer.Sample{Current: 100, Max: 100})
	p.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 12 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if lines[10] != "Downloading: 100%" || lines[11] != "Decrypting: 100%" {
		t.Fatalf("unexpected tail %q", lines[10:])
	}
}

func TestProgressBar_Line(t *testing.T) {
	p := &progressBar{width: 10}
	got := p.line(pipeline.StageDownload, transfer.Sample{Current: 512, Max: 1024, BytesPerSecond: 256}, 0.5)
	if !strings.Contains(got, "[█████░░░░░]") || !strings.Contains(got, "ETA 2s") {
		t.Fatalf("line = %q", got)
	}
}

func TestDownloadTargets(t *testing.T) {
	dir := t.TempDir()
	const name = "SM-X_1_fac.zip.enc4"

	targets, err := downloadTargets(filepath.Join(dir, "fw"), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "fw")); err != nil {
		t.Fatal("output directory was not created")
	}
	tg := targets(name)
	if tg.Decrypted.(storage.OSFile).Path != filepath.Join(dir, "fw", "SM-X_1_fac.zip") {
		t.Fatalf("decrypted = %v", tg.Decrypted)
	}

	targets, _ = downloadTargets("", dir)
	if got := targets(name).Encrypted.(storage.OSFile).Path; got != filepath.Join(dir, name) {
		t.Fatalf("-o with a directory: encrypted = %s", got)
	}

	out := filepath.Join(dir, "firmware.zip")
	targets, _ = downloadTargets("", out)
	tg = targets(name)
	if tg.Encrypted.(storage.OSFile).Path != out+".enc4" || tg.Decrypted.(storage.OSFile).Path != out {
		t.Fatalf("-o with a file: %+v", tg)
	}
}

func TestDeviceID(t *testing.T) {
	defer func(i, s string) { imeiIn, serial = i, s }(imeiIn, serial)
	ctx := context.Background()

	imeiIn, serial = "490154203237518", ""
	if got, err := deviceID(ctx, nil, "A/B/C/D"); err != nil || got != imeiIn {
		t.Fatalf("valid IMEI: %q, %v", got, err)
	}
	imeiIn = "490154203237517"
	if _, err := deviceID(ctx, nil, "A/B/C/D"); !errors.Is(err, fuserr.ErrInvalidArgument) {
		t.Fatalf("bad check digit: err = %v", err)
	}
	imeiIn = "490154203237517;490154203237518"
	if got, _ := deviceID(ctx, nil, "A/B/C/D"); got != imeiIn {
		t.Fatalf("IMEI list = %q", got)
	}
	imeiIn, serial = "", "R5CT000000"
	if got, _ := deviceID(ctx, nil, "A/B/C/D"); got != serial {
		t.Fatalf("serial = %q", got)
	}
}
