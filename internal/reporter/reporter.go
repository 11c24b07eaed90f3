// Package reporter is the terminal output layer the core calls into as
// an abstract reporter: colorized status/info/warn/error lines over a
// logging.Logger, with color suppressed whenever stderr isn't a TTY.
package reporter

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"go.chromium.org/luci/common/logging"
)

const (
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorReset  = "\x1b[0m"
)

// Reporter prints status/info/warn/error lines to Out, coloring them
// when Out is a terminal, and mirrors warn/error through logging so
// that they also land in whatever logger gologger has installed on ctx.
type Reporter struct {
	Out   io.Writer
	Color bool
}

// New returns a Reporter writing to os.Stderr, auto-detecting color
// support the way any terminal-aware CLI in this stack does: wrap the
// file descriptor with go-colorable so ANSI codes still work on
// terminals that need translation, and disable color entirely when the
// descriptor isn't a TTY (redirected to a file, piped into another
// process, or running under a CI harness).
func New() *Reporter {
	f := os.Stderr
	return &Reporter{
		Out:   colorable.NewColorable(f),
		Color: isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()),
	}
}

func (r *Reporter) paint(color, s string) string {
	if !r.Color {
		return s
	}
	return color + s + colorReset
}

// Status prints a green "==>" line announcing the start of an
// action, the way an operator expects to see each rollout step begin.
func (r *Reporter) Status(format string, args ...any) {
	fmt.Fprintf(r.Out, "%s %s\n", r.paint(colorGreen, "==>"), fmt.Sprintf(format, args...))
}

// Info prints a plain informational line.
func (r *Reporter) Info(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(r.Out, msg)
	logging.Infof(ctx, "%s", msg)
}

// Warn prints a yellow warning line and also logs it, the way an
// ignored hook failure or a skipped sync hook is surfaced.
func (r *Reporter) Warn(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.Out, "%s %s\n", r.paint(colorYellow, "warning:"), msg)
	logging.Warningf(ctx, "%s", msg)
}

// Error prints a red error line and also logs it.
func (r *Reporter) Error(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(r.Out, "%s %s\n", r.paint(colorRed, "error:"), msg)
	logging.Errorf(ctx, "%s", msg)
}
