package terminal

import (
	"fmt"
	"io"
	"sync"
	"time"
)

const (
	colorReset = "\033[0m"
	colorCyan  = "\033[36m"
)

var spinnerChars = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a one-line progress message
type Spinner struct {
	out      io.Writer
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// NewSpinner creates a spinner writing to out
func NewSpinner(out io.Writer) *Spinner {
	return &Spinner{out: out, interval: 80 * time.Millisecond}
}

// Start shows msg with a spinner, replacing any spinner already running
func (s *Spinner) Start(msg string) {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	s.done = done
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		i := 0
		for {
			fmt.Fprintf(s.out, "\r%s%s %s%s", colorCyan, spinnerChars[i], msg, colorReset)
			i = (i + 1) % len(spinnerChars)

			select {
			case <-done:
				// Clear the spinner line
				fmt.Fprint(s.out, "\r\033[2K\r")
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop removes the spinner and waits for its line to be cleared
func (s *Spinner) Stop() {
	s.mu.Lock()
	if s.done == nil {
		s.mu.Unlock()
		return
	}
	close(s.done)
	s.done = nil
	s.mu.Unlock()

	s.wg.Wait()
}
