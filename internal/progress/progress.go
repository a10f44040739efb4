package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
)

// ProgressTracker renders a single-line progress bar for a known number of items
type ProgressTracker struct {
	bar       progress.Model
	out       io.Writer
	label     string
	total     int
	processed int
	mu        sync.Mutex
}

// New creates a ProgressTracker writing to out
func New(out io.Writer, label string, total int) *ProgressTracker {
	if out == nil {
		out = io.Discard
	}
	return &ProgressTracker{
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		out:   out,
		label: label,
		total: total,
	}
}

// Increment marks one more item as processed and redraws the bar
func (p *ProgressTracker) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	p.render()
}

// Finish ends the progress line
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render()
	fmt.Fprintln(p.out)
}

// ratio is the completed fraction. Callers hold mu.
func (p *ProgressTracker) ratio() float64 {
	if p.total == 0 {
		return 1
	}
	return float64(p.processed) / float64(p.total)
}

func (p *ProgressTracker) render() {
	fmt.Fprintf(p.out, "\r%s %s %d/%d", p.label, p.bar.ViewAs(p.ratio()), p.processed, p.total)
}
