package terminal

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Spinner shows which check is running while a live run is in progress.
type Spinner struct {
	out       io.Writer
	message   string
	frames    []string
	current   int
	interval  time.Duration
	width     int
	done      chan struct{}
	stopped   sync.WaitGroup
	stopOnce  sync.Once
	mu        sync.Mutex
	style     lipgloss.Style
	startTime time.Time
	showTime  bool
}

// SpinnerFrames are the default spinner animation frames.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a new spinner with the given message.
func NewSpinner(message string) *Spinner {
	return NewSpinnerWithOutput(os.Stdout, message)
}

// NewSpinnerWithOutput creates a spinner with custom output.
func NewSpinnerWithOutput(out io.Writer, message string) *Spinner {
	return &Spinner{
		out:      out,
		message:  message,
		frames:   SpinnerFrames,
		interval: 80 * time.Millisecond,
		width:    getTerminalWidth(),
		done:     make(chan struct{}),
		showTime: true,
		style: lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0066CC", Dark: "#5599FF"}),
	}
}

// WithoutTime disables elapsed time display.
func (s *Spinner) WithoutTime() *Spinner {
	s.showTime = false
	return s
}

// SetFrames sets custom animation frames.
func (s *Spinner) SetFrames(frames []string) *Spinner {
	if len(frames) > 0 {
		s.frames = frames
	}
	return s
}

// SetMessage updates the spinner message.
func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Start begins the spinner animation.
func (s *Spinner) Start() {
	s.mu.Lock()
	s.startTime = time.Now()
	s.mu.Unlock()
	s.stopped.Add(1)
	go s.run()
}

func (s *Spinner) run() {
	defer s.stopped.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			line := s.frameLine()
			s.current++
			s.mu.Unlock()
			fmt.Fprint(s.out, "\r"+line)
		}
	}
}

// frameLine renders the current frame. Callers hold s.mu.
func (s *Spinner) frameLine() string {
	frame := s.frames[s.current%len(s.frames)]
	msg := s.message
	if s.showTime && !s.startTime.IsZero() {
		msg = fmt.Sprintf("%s (%s)", msg, time.Since(s.startTime).Round(time.Second))
	}
	// frame, space and a spare column so the cursor never wraps
	if limit := s.width - 3; limit > 0 {
		msg = runewidth.Truncate(msg, limit, "…")
	}
	return s.style.Render(frame) + " " + msg
}

// Elapsed returns the time since the spinner started.
func (s *Spinner) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}

// halt stops the animation goroutine once and waits for it to exit.
func (s *Spinner) halt() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.stopped.Wait()
}

// Stop stops the spinner and clears the line.
func (s *Spinner) Stop() {
	s.halt()
	fmt.Fprint(s.out, "\r\033[K")
}

// StopWithMessage stops and prints a final message.
func (s *Spinner) StopWithMessage(message string) {
	s.halt()
	fmt.Fprintf(s.out, "\r\033[K%s\n", message)
}
