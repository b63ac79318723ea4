package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
)

const defaultWidth = 80

// Renderer shows the progress of a dialogue run. On a terminal it keeps one
// status line (turn bar, counter, message, clock) redrawn in place; on
// anything else it prints one timestamped line per event.
type Renderer struct {
	out   io.Writer
	start time.Time
	tty   bool
	width int

	last  Event
	drawn bool
}

// NewRenderer detects whether out is a terminal and sizes the bar to it.
func NewRenderer(out *os.File) *Renderer {
	r := NewPlainRenderer(out)
	fd := out.Fd()
	r.tty = isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	if r.tty {
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			r.width = w
		}
	}
	return r
}

// NewPlainRenderer prints one line per event to out.
func NewPlainRenderer(out io.Writer) *Renderer {
	return &Renderer{out: out, start: time.Now(), width: defaultWidth}
}

// Handle satisfies Callback.
func (r *Renderer) Handle(e Event) {
	e.Elapsed = time.Since(r.start)
	// Skipped turns still use up the budget, so a finished run is full.
	if e.Stage == StageComplete {
		e.Percent = 1
	}
	r.last = e

	if r.tty {
		r.redraw(e)
		return
	}
	if e.Stage != StagePacing {
		fmt.Fprintf(r.out, "[%s] %s\n", clock(e.Elapsed), e.Message)
	}
}

// Finish clears the status line and prints how the run ended.
func (r *Renderer) Finish() {
	if r.drawn {
		fmt.Fprint(r.out, "\r\033[2K")
		r.drawn = false
	}
	e := r.last
	switch {
	case e.Error != nil:
		fmt.Fprintf(r.out, "\n  Error: %v\n", e.Error)
	case e.Stage.Final():
		fmt.Fprintf(r.out, "\n  %s (%s)\n", e.Message, clock(e.Elapsed))
	}
}

func (r *Renderer) redraw(e Event) {
	counter := ""
	if e.TurnTotal > 0 {
		counter = fmt.Sprintf(" %d/%d", e.Turn, e.TurnTotal)
	}
	head := bar(e.Percent, r.barWidth()) + counter + "  "
	tail := "  " + clock(e.Elapsed)

	msg := []rune(e.Message)
	if room := r.width - len([]rune(head)) - len(tail) - 1; room < len(msg) {
		if room < 0 {
			room = 0
		}
		msg = msg[:room]
	}
	fmt.Fprintf(r.out, "\r\033[2K%s%s%s", head, string(msg), tail)
	r.drawn = true
}

// barWidth leaves at least half the line for the message.
func (r *Renderer) barWidth() int {
	return min(max(r.width/3, 10), 40)
}

// bar draws a [####....] bar with width cells inside the brackets.
func bar(pct float64, width int) string {
	filled := int(min(max(pct, 0), 1) * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

// clock formats d as M:SS.
func clock(d time.Duration) string {
	s := int(d.Seconds())
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
