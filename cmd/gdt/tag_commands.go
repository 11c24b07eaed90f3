package main

import (
	"context"

	"github.com/maruel/subcommands"

	"github.com/luci-deploytool/gdt/internal/orchestrator"
)

var cmdTag = &subcommands.Command{
	UsageLine: "tag <name> [options]",
	ShortDesc: "create a one-off tag at HEAD, outside the rollout session",
	CommandRun: func() subcommands.CommandRun {
		c := &tagRun{}
		c.register(c.GetFlags())
		c.GetFlags().StringVar(&c.message, "message", "", "tag message; %TAG is substituted with the final tag name")
		return c
	},
}

type tagRun struct {
	subcommands.CommandRunBase
	commonFlags
	message string
}

func (c *tagRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return 1
	}
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		name, err := t.Tag(ctx, args[0], c.message)
		if err != nil {
			return err
		}
		t.Report.Status("created tag %s", name)
		return nil
	})
}
