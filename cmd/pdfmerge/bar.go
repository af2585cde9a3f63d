package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/local/pdfmerger/internal/progress"
)

// bar redraws a single terminal line per progress event.
type bar struct {
	mu    sync.Mutex
	w     io.Writer
	width int
	last  string
}

func newBar(w io.Writer, width int) *bar {
	if width < 40 {
		width = 40
	}
	return &bar{w: w, width: width}
}

func (b *bar) Report(e progress.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	line := b.render(e)
	if line == b.last {
		return
	}
	b.last = line
	fmt.Fprintf(b.w, "\r%s", line)
}

func (b *bar) done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last != "" {
		fmt.Fprintln(b.w)
	}
}

// render lays out "[####....] 42% stage" padded to the terminal width.
func (b *bar) render(e progress.Event) string {
	label := fmt.Sprintf(" %3d%% %s", e.Percent, e.Stage)
	cells := b.width - len(label) - 3
	if cells < 10 {
		cells = 10
	}
	filled := cells * e.Percent / 100
	line := "[" + strings.Repeat("#", filled) + strings.Repeat(".", cells-filled) + "]" + label
	if len(line) < b.width-1 {
		line += strings.Repeat(" ", b.width-1-len(line))
	}
	return line
}
