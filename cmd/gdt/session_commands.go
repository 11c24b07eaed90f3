package main

import (
	"context"

	"github.com/maruel/subcommands"

	"github.com/luci-deploytool/gdt/internal/orchestrator"
)

var cmdStart = &subcommands.Command{
	UsageLine: "start [options]",
	ShortDesc: "begin a new rollout session",
	LongDesc:  "Claims the rollout session, verifies and updates the tree against the remote, and tags the pre-rollout commit.",
	CommandRun: func() subcommands.CommandRun {
		c := &startRun{}
		c.register(c.GetFlags())
		c.GetFlags().BoolVar(&c.noCheckClean, "no-check-clean", false, "skip the working-tree cleanliness check")
		c.GetFlags().BoolVar(&c.noRemote, "no-remote", false, "don't fetch or pull from the remote")
		c.GetFlags().StringVar(&c.remoteSite, "remote-site", "", "override deploy.remote-site")
		c.GetFlags().StringVar(&c.remoteBranch, "remote-branch", "", "override deploy.remote-branch")
		c.GetFlags().StringVar(&c.message, "message", "", "message for the start tag")
		c.GetFlags().StringVar(&c.dateFmt, "date-fmt", "", "Go time layout for the start tag's date suffix (default 20060102-1504); strftime % directives are not expanded")
		return c
	},
}

type startRun struct {
	subcommands.CommandRunBase
	commonFlags
	noCheckClean, noRemote    bool
	remoteSite, remoteBranch  string
	message, dateFmt          string
}

func (c *startRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Start(ctx, orchestrator.StartOptions{
			NoCheckClean: c.noCheckClean,
			NoRemote:     c.noRemote,
			RemoteSite:   c.remoteSite,
			RemoteBranch: c.remoteBranch,
			Message:      c.message,
			DateFmt:      c.dateFmt,
		})
	})
}

func registerSyncFlags(c *syncFlags) {
	c.GetFlags().BoolVar(&c.noRemote, "no-remote", false, "don't pull from the remote")
	c.GetFlags().StringVar(&c.remoteSite, "remote-site", "", "override deploy.remote-site")
	c.GetFlags().StringVar(&c.remoteBranch, "remote-branch", "", "override deploy.remote-branch")
	c.GetFlags().StringVar(&c.message, "message", "", "message for any tag created by this action")
}

type syncFlags struct {
	subcommands.CommandRunBase
	commonFlags
	noRemote                 bool
	remoteSite, remoteBranch string
	message                  string
}

func (c *syncFlags) opts() orchestrator.SyncOptions {
	return orchestrator.SyncOptions{
		NoRemote:     c.noRemote,
		RemoteSite:   c.remoteSite,
		RemoteBranch: c.remoteBranch,
		Message:      c.message,
	}
}

var cmdSync = &subcommands.Command{
	UsageLine: "sync [options]",
	ShortDesc: "pull the remote and run the post-pull and sync hooks",
	CommandRun: func() subcommands.CommandRun {
		c := &syncRun{}
		c.register(c.GetFlags())
		registerSyncFlags(&c.syncFlags)
		return c
	},
}

type syncRun struct{ syncFlags }

func (c *syncRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Sync(ctx, c.opts())
	})
}

var cmdManualSync = &subcommands.Command{
	UsageLine: "manual-sync",
	ShortDesc: "record that the tree was synced by hand",
	CommandRun: func() subcommands.CommandRun {
		c := &manualSyncRun{}
		c.register(c.GetFlags())
		return c
	},
}

type manualSyncRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *manualSyncRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.ManualSync(ctx)
	})
}

var cmdRelease = &subcommands.Command{
	UsageLine: "release [options]",
	ShortDesc: "sync, push to the remote, and tag the release",
	CommandRun: func() subcommands.CommandRun {
		c := &releaseRun{}
		c.register(c.GetFlags())
		registerSyncFlags(&c.syncFlags)
		return c
	},
}

type releaseRun struct{ syncFlags }

func (c *releaseRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Release(ctx, c.opts())
	})
}

var cmdFinish = &subcommands.Command{
	UsageLine: "finish",
	ShortDesc: "close out a synced rollout session",
	CommandRun: func() subcommands.CommandRun {
		c := &finishRun{}
		c.register(c.GetFlags())
		return c
	},
}

type finishRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *finishRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Finish(ctx)
	})
}

var cmdAbort = &subcommands.Command{
	UsageLine: "abort",
	ShortDesc: "cancel a rollout right after start, without touching the tree",
	CommandRun: func() subcommands.CommandRun {
		c := &abortRun{}
		c.register(c.GetFlags())
		return c
	},
}

type abortRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *abortRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Abort(ctx)
	})
}

var cmdRevert = &subcommands.Command{
	UsageLine: "revert",
	ShortDesc: "roll the tree back to the pre-rollout commit",
	CommandRun: func() subcommands.CommandRun {
		c := &revertRun{}
		c.register(c.GetFlags())
		return c
	},
}

type revertRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *revertRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Revert(ctx)
	})
}

var cmdHotfix = &subcommands.Command{
	UsageLine: "hotfix <branch>",
	ShortDesc: "apply an emergency fix outside the normal rollout cycle",
	CommandRun: func() subcommands.CommandRun {
		c := &hotfixRun{}
		c.register(c.GetFlags())
		return c
	},
}

type hotfixRun struct {
	subcommands.CommandRunBase
	commonFlags
}

func (c *hotfixRun) Run(app subcommands.Application, args []string, env subcommands.Env) int {
	if len(args) != 1 {
		return 1
	}
	return runAction(app, c, env, c.commonFlags, func(ctx context.Context, t *orchestrator.Toolkit) error {
		return t.Hotfix(ctx, args[0])
	})
}
