// Command gdt sequences the controlled promotion of a code revision
// from a developer's working tree to production, using git tags and
// refs as the system of record.
package main

import (
	"context"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging/gologger"
)

var logCfg = gologger.LoggerConfig{Out: os.Stderr}

func getApplication() *cli.Application {
	return &cli.Application{
		Name:  "gdt",
		Title: "git-based deployment orchestrator",
		Context: func(ctx context.Context) context.Context {
			return logCfg.Use(ctx)
		},
		Commands: []*subcommands.Command{
			cmdStart,
			cmdSync,
			cmdManualSync,
			cmdRelease,
			cmdFinish,
			cmdAbort,
			cmdRevert,
			cmdHotfix,
			cmdTag,

			{}, // separator

			cmdShow,
			cmdShowTag,
			cmdStatus,
			cmdLog,
			cmdDiff,

			{}, // separator
			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(getApplication(), os.Args[1:]))
}
