package terminal

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewSpinnerWithOutput(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinnerWithOutput(&buf, "Loading")

	if spinner.message != "Loading" {
		t.Errorf("message = %q, want 'Loading'", spinner.message)
	}
	if len(spinner.frames) == 0 {
		t.Error("frames should be set")
	}
	if !spinner.showTime {
		t.Error("showTime should be true by default")
	}
}

func TestSpinner_SetFramesIgnoresEmpty(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinnerWithOutput(&buf, "Loading").SetFrames(nil)
	if len(spinner.frames) != len(SpinnerFrames) {
		t.Errorf("empty frames should keep defaults")
	}
	spinner.SetFrames([]string{"-", "|"})
	if len(spinner.frames) != 2 {
		t.Errorf("frames length = %d, want 2", len(spinner.frames))
	}
}

func TestSpinner_FrameLineTruncates(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinnerWithOutput(&buf, "Running check 4/10: Hand Rigging Page").WithoutTime().SetFrames([]string{"*"})
	spinner.style = spinner.style.UnsetForeground()
	spinner.width = 20

	line := spinner.frameLine()
	if !strings.HasPrefix(line, "* Running") {
		t.Errorf("frameLine = %q", line)
	}
	if !strings.HasSuffix(line, "…") {
		t.Errorf("long message should be truncated, got %q", line)
	}
}

func TestSpinner_StartStop(t *testing.T) {
	buf := &syncBuffer{}
	spinner := NewSpinnerWithOutput(buf, "Running check 1/1").WithoutTime()
	spinner.interval = 5 * time.Millisecond

	spinner.Start()
	spinner.SetMessage("Running check 1/1: Navigation")
	time.Sleep(40 * time.Millisecond)
	spinner.StopWithMessage("done")
	spinner.Stop()

	got := buf.String()
	if !strings.Contains(got, "Running check") {
		t.Errorf("spinner should have drawn frames, got %q", got)
	}
	if !strings.Contains(got, "done\n") {
		t.Errorf("final message missing, got %q", got)
	}
}

func TestSpinner_StopWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	spinner := NewSpinnerWithOutput(&buf, "idle")
	spinner.Stop()
	if spinner.Elapsed() != 0 {
		t.Error("elapsed should be zero before start")
	}
}
