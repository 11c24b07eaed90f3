package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"

	"github.com/luci-deploytool/gdt/internal/orchestrator"
)

// commonFlags are accepted by every action.
type commonFlags struct {
	force   bool
	verbose bool
	timing  bool
}

func (f *commonFlags) register(fs interface {
	BoolVar(p *bool, name string, value bool, usage string)
}) {
	fs.BoolVar(&f.force, "force", false, "bypass ownership and state-machine guards")
	fs.BoolVar(&f.verbose, "verbose", false, "trace every git invocation")
	fs.BoolVar(&f.timing, "timing", false, "flush a timing ledger for this invocation on exit")
}

// runAction builds a Toolkit against the enclosing repository, runs fn,
// and reports any error through the Toolkit's reporter before
// translating it into a process exit code. It is the deterministic
// top-level finalizer for the Timing Ledger: a "gdt_start" record is
// pushed before fn runs, and the ledger is flushed on every exit path,
// success or failure alike.
func runAction(app subcommands.Application, cmd subcommands.CommandRun, env subcommands.Env, f commonFlags, fn func(ctx context.Context, t *orchestrator.Toolkit) error) int {
	ctx := cli.GetContext(app, cmd, env)

	t, err := orchestrator.New(ctx, f.force, f.verbose, f.timing)
	if err != nil {
		orchestrator.ReportBootstrapError(ctx, err)
		return 1
	}

	t.Timing.Push(ctx, "gdt_start")
	defer t.Timing.Flush(ctx, "", os.Args)

	if err := fn(ctx, t); err != nil {
		t.Report.Error(ctx, "%s", err)
		return 1
	}
	return 0
}
