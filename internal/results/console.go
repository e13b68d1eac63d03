package results

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
)

var (
	turnLabel  = color.New(color.FgCyan, color.Bold).SprintFunc()
	timeValue  = color.New(color.FgGreen).SprintFunc()
	replyValue = color.New(color.FgWhite).SprintFunc()
	warnValue  = color.New(color.FgYellow).SprintFunc()
)

// Console prints per-turn progress lines.
type Console struct {
	out   io.Writer
	debug bool
}

// NewConsole returns a Console writing to out. In debug mode token usage is dumped after each turn.
func NewConsole(out io.Writer, debug bool) *Console {
	return &Console{out: out, debug: debug}
}

// Turn prints the measurements of one turn followed by a blank line.
func (c *Console) Turn(t Turn) {
	label := turnLabel(fmt.Sprintf("Turn %d", t.Turn))
	if d, ok := t.TTFT(); ok {
		fmt.Fprintf(c.out, "%s TTFT: %s\n", label, timeValue(displaySeconds(d)))
	}
	fmt.Fprintf(c.out, "%s Time to completion: %s\n", label, timeValue(displaySeconds(t.TimeToCompletion)))
	fmt.Fprintf(c.out, "%s Response: %s\n", label, replyValue(t.Response))
	if c.debug {
		pp.Fprintln(c.out, t.Usage)
	}
	fmt.Fprintln(c.out)
}

// Warn prints a highlighted notice.
func (c *Console) Warn(format string, args ...any) {
	fmt.Fprintln(c.out, warnValue(fmt.Sprintf(format, args...)))
}

func displaySeconds(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
