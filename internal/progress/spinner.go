package progress

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows activity for work of unknown length
type Spinner struct {
	s  *spinner.Spinner
	mu sync.Mutex
}

// NewSpinner creates and starts a spinner writing to out
func NewSpinner(out io.Writer, message string) *Spinner {
	if out == nil {
		out = io.Discard
	}
	opts := []spinner.Option{spinner.WithWriter(out)}
	if f, ok := out.(*os.File); ok {
		opts = append(opts, spinner.WithWriterFile(f))
	}
	s := spinner.New(spinner.CharSets[9], 100*time.Millisecond, opts...)
	s.Suffix = " " + message
	s.Start()
	return &Spinner{s: s}
}

// Update replaces the message shown next to the spinner
func (sp *Spinner) Update(message string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.Lock()
	sp.s.Suffix = " " + message
	sp.s.Unlock()
}

// Stop halts the spinner and prints a final message
func (sp *Spinner) Stop(final string) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.s.FinalMSG = final + "\n"
	sp.s.Stop()
}
