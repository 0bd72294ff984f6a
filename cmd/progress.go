package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/apoorvam/goterminal"
	"golang.org/x/term"

	"github.com/mattchengg/fusgo/internal/pipeline"
	"github.com/mattchengg/fusgo/internal/transfer"
)

// eraseAndCR clears the rest of the line and returns the cursor.
var eraseAndCR = []byte("\x1b[0K\r")

var stageTitles = map[pipeline.Stage]string{
	pipeline.StageDownload: "Downloading",
	pipeline.StageCRC32:    "Checking CRC32",
	pipeline.StageMD5:      "Checking MD5",
	pipeline.StageDecrypt:  "Decrypting",
}

// progressBar draws pipeline samples on one terminal line per stage. When
// stdout is not a terminal it prints a line every 10 percent instead.
type progressBar struct {
	width int
	out   io.Writer
	tw    *goterminal.Writer

	mu      sync.Mutex
	stage   pipeline.Stage
	last    time.Time
	lastPct int
}

func newProgressBar() *progressBar {
	p := &progressBar{width: 40, out: os.Stdout}
	fd := int(os.Stdout.Fd())
	if term.IsTerminal(fd) {
		p.tw = goterminal.New(os.Stdout)
		if cols, _, err := term.GetSize(fd); err == nil && cols-60 < p.width {
			p.width = max(cols-60, 10)
		}
	}
	return p
}

func (p *progressBar) Update(stage pipeline.Stage, s transfer.Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if stage != p.stage {
		p.endLine()
		p.stage = stage
		p.lastPct = -1
	}
	if s.Max == 0 {
		return
	}
	pct := float64(s.Current) / float64(s.Max)
	done := s.Current >= s.Max

	if p.tw == nil {
		step := int(pct * 10)
		if step != p.lastPct || done {
			p.lastPct = step
			fmt.Fprintf(p.out, "%s: %.0f%%\n", stageTitles[stage], pct*100)
		}
		return
	}

	if !done && time.Since(p.last) < 100*time.Millisecond {
		return
	}
	p.last = time.Now()
	p.tw.Clear()
	p.tw.Write(append([]byte(p.line(stage, s, pct)), eraseAndCR...))
	p.tw.Print()
}

// Finish ends the current line.
func (p *progressBar) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endLine()
	p.stage = ""
}

func (p *progressBar) endLine() {
	if p.tw != nil && p.stage != "" {
		fmt.Fprintln(p.out)
		p.tw.Reset()
	}
}

func (p *progressBar) line(stage pipeline.Stage, s transfer.Sample, pct float64) string {
	filled := min(int(pct*float64(p.width)), p.width)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", p.width-filled)

	eta := "--"
	if s.BytesPerSecond > 0 && s.Current < s.Max {
		eta = formatDuration(time.Duration(float64(s.Max-s.Current) / float64(s.BytesPerSecond) * float64(time.Second)))
	}
	return fmt.Sprintf("%-14s [%s] %5.1f%% %s/%s %s/s ETA %s",
		stageTitles[stage],
		bar,
		pct*100,
		formatSize(int64(s.Current)),
		formatSize(int64(s.Max)),
		formatSize(int64(s.BytesPerSecond)),
		eta,
	)
}

func formatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	switch {
	case secs < 60:
		return fmt.Sprintf("%ds", secs)
	case secs < 3600:
		return fmt.Sprintf("%dm%ds", secs/60, secs%60)
	default:
		return fmt.Sprintf("%dh%dm", secs/3600, secs%3600/60)
	}
}

func formatSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%cB", float64(b)/float64(div), "KMGTPE"[exp])
}
