package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/maruel/subcommands"

	"github.com/luci-deploytool/gdt/internal/orchestrator"
)

var cmdShow = &subcommands.Command{
	UsageLine: "show [options]",
	ShortDesc: "report the rollout session's current state",
	CommandRun: func() subcommands.CommandRun {
		c := &showRun{}
		c.register(c.GetFlags())
		c.GetFlags().StringVar(&c.deployFileName, "deploy-file-name", "", "override deploy.deploy-file")
		c.GetFlags().BoolVar(&c.showDeployFile, "show-deploy-file", false, "include the worktree's deploy file")
		c.GetFlags().BoolVar(&c.showStep, "show-step", false, "include the session's step log")
		c.GetFlags().BoolVar(&c.showPrefix, "show-prefix", false, "include the current app prefix")
		return c
	},
}

type showRun struct {
	subcommands.CommandRunBase
	commonFlags
	deployFileName                       string
	showDeployFile, showStep, showPrefix bool
}

func (c *showRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		out, err := t.Show(ctx, orchestrator.ShowOptions{
			DeployFileName: c.deployFileName,
			ShowDeployFile: c.showDeployFile,
			ShowStep:       c.showStep,
			ShowPrefix:     c.showPrefix,
		})
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	})
}

var cmdShowTag = &subcommands.Command{
	UsageLine: "show-tag [options]",
	ShortDesc: "list rollout tags, most recent first",
	CommandRun: func() subcommands.CommandRun {
		c := &showTagRun{}
		c.register(c.GetFlags())
		c.GetFlags().BoolVar(&c.list, "list", false, "list every matching tag instead of just the most recent")
		c.GetFlags().BoolVar(&c.listAll, "list-all", false, "list every tag, ignoring --count")
		c.GetFlags().BoolVar(&c.includeBranches, "include-branches", false, "also list branches containing HEAD")
		c.GetFlags().BoolVar(&c.longDigest, "long-digest", false, "accepted but has no effect: show-tag prints names only, never commit ids")
		c.GetFlags().IntVar(&c.count, "count", 1, "how many of the most recent tags to print when no tag is at HEAD")
		c.GetFlags().StringVar(&c.ignoreOlderThan, "ignore-older-than", "", "drop tags dated before YYYYMMDD")
		return c
	},
}

type showTagRun struct {
	subcommands.CommandRunBase
	commonFlags
	list, listAll, includeBranches, longDigest bool
	count                                      int
	ignoreOlderThan                            string
}

func (c *showTagRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		names, err := t.ShowTag(ctx, orchestrator.ShowTagOptions{
			List:            c.list,
			ListAll:         c.listAll,
			IncludeBranches: c.includeBranches,
			LongDigest:      c.longDigest,
			Count:           c.count,
			IgnoreOlderThan: c.ignoreOlderThan,
		})
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	})
}

var cmdStatus = &subcommands.Command{
	UsageLine: "status",
	ShortDesc: "summarize the repository and session state",
	CommandRun: func() subcommands.CommandRun {
		c := &statusRun{}
		c.register(c.GetFlags())
		return c
	},
}

type statusRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *statusRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		out, err := t.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	})
}

var cmdLog = &subcommands.Command{
	UsageLine: "log",
	ShortDesc: "print the session's raw step log",
	CommandRun: func() subcommands.CommandRun {
		c := &logRun{}
		c.register(c.GetFlags())
		return c
	},
}

type logRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *logRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		lines, err := t.Log(ctx)
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(lines, "\n"))
		return nil
	})
}

var cmdDiff = &subcommands.Command{
	UsageLine: "diff [<from> [<to>]]",
	ShortDesc: "show the tree changes a rollout would introduce",
	CommandRun: func() subcommands.CommandRun {
		c := &diffRun{}
		c.register(c.GetFlags())
		return c
	},
}

type diffRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *diffRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	var from, to string
	switch len(args) {
	case 0:
	case 1:
		from = args[0]
	case 2:
		from, to = args[0], args[1]
	default:
		return 1
	}
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		out, err := t.Diff(ctx, from, to)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	})
}
