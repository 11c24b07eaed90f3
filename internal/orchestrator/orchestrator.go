// Package orchestrator composes the Git Executor, Config Store, Ref
// Inventory, Tag Service, Rollout Session, Hook Engine, and Timing
// Ledger into the top-level actions the gdt CLI exposes: start, sync,
// finish, abort, release, revert, hotfix, tag, show, show-tag, status,
// log, and diff.
package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/gconfig"
	"github.com/luci-deploytool/gdt/internal/gdterr"
	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/hooks"
	"github.com/luci-deploytool/gdt/internal/refs"
	"github.com/luci-deploytool/gdt/internal/reporter"
	"github.com/luci-deploytool/gdt/internal/session"
	"github.com/luci-deploytool/gdt/internal/tags"
	"github.com/luci-deploytool/gdt/internal/timing"
)

// Toolkit bundles every component an action needs, all rooted at the
// same repository. It is built fresh for each CLI invocation.
type Toolkit struct {
	RepoRoot string
	GitDir   string

	Exec   *gitexec.Executor
	Config *gconfig.Store
	Inv    *refs.Inventory
	Tags   *tags.Service
	Sess   *session.Session
	Hooks  *hooks.Engine
	Timing *timing.Ledger
	Report *reporter.Reporter

	Force   bool
	Verbose bool
}

// New locates the enclosing git repository from the current working
// directory and wires up every component against it. verbose also
// follows GIT_DEPLOY_DEBUG, so debug traces can be turned on without a
// flag; timing gates whether the Timing Ledger is flushed at exit.
func New(ctx context.Context, force, verbose, timing bool) (*Toolkit, error) {
	if os.Getenv("GIT_DEPLOY_DEBUG") != "" {
		verbose = true
	}

	boot := &gitexec.Executor{Verbose: verbose}

	gitDir, code, err := boot.Run(ctx, "rev-parse", "--git-dir")
	if err != nil {
		return nil, err
	}
	if code == 128 {
		return nil, errors.Reason("not inside a git repository").Tag(gdterr.NotAGitRepo).Err()
	}
	if code != 0 {
		return nil, errors.Reason("git rev-parse --git-dir exited %d: %s", code, gitDir).Err()
	}
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(".", gitDir)
	}
	absGitDir, err := filepath.Abs(gitDir)
	if err != nil {
		return nil, errors.Annotate(err, "resolving %q", gitDir).Err()
	}

	root, err := boot.Result(ctx, []int{0}, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, errors.Annotate(err, "locating the worktree root").Err()
	}

	exec := &gitexec.Executor{Dir: root, Verbose: verbose}
	cfg := gconfig.New(exec)
	inv := refs.New(exec)

	hookRoot, err := cfg.Path(ctx, "hook-dir", strPtr(""))
	if err != nil {
		return nil, err
	}

	return &Toolkit{
		RepoRoot: root,
		GitDir:   absGitDir,
		Exec:     exec,
		Config:   cfg,
		Inv:      inv,
		Tags:     &tags.Service{Exec: exec, Inv: inv},
		Sess:     &session.Session{GitDir: absGitDir, Exec: exec, Force: force},
		Hooks:    &hooks.Engine{Root: hookRoot},
		Timing:   &timing.Ledger{Enabled: timing},
		Report:   reporter.New(),
		Force:    force,
		Verbose:  verbose,
	}, nil
}

func strPtr(s string) *string { return &s }

// ReportBootstrapError prints an error encountered before a Toolkit
// could be built (so no Reporter exists yet to print it with).
func ReportBootstrapError(ctx context.Context, err error) {
	reporter.New().Error(ctx, "%s", err)
}

// checkClean verifies the working tree is clean, per the Orchestrator's
// "(unless --no-check-clean)" step: success is detected by substring,
// not exit code, because `git status` always exits 0.
func (t *Toolkit) checkClean(ctx context.Context) error {
	out, err := t.Exec.Result(ctx, []int{0}, "status")
	if err != nil {
		return err
	}
	if !strings.Contains(out, "(working directory clean)") && !strings.Contains(out, "nothing to commit") {
		return errors.Reason("working tree is not clean:\n%s", out).Err()
	}
	return nil
}

// remoteSite resolves the effective remote name: flag override, then
// deploy.remote-site, defaulting to "origin". "none" disables remote
// operations for the invocation.
func (t *Toolkit) remoteSite(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	return t.Config.String(ctx, "remote-site", strPtr("origin"))
}

// remoteBranch resolves the effective remote branch: flag override,
// then deploy.remote-branch, defaulting to the current branch.
func (t *Toolkit) remoteBranch(ctx context.Context, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v, err := t.Config.String(ctx, "remote-branch", strPtr("")); err != nil {
		return "", err
	} else if v != "" {
		return v, nil
	}
	return t.currentBranch(ctx)
}

func (t *Toolkit) currentBranch(ctx context.Context) (string, error) {
	branch, err := t.Exec.Result(ctx, []int{0}, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		return "", errors.Reason("not currently on a branch").Err()
	}
	return branch, nil
}

// fetchRemote fetches tags and the current branch, unless remote
// operations are disabled for this invocation.
func (t *Toolkit) fetchRemote(ctx context.Context, noRemote bool, site, branch string) error {
	remote, err := t.remoteSite(ctx, site)
	if err != nil {
		return err
	}
	if noRemote || remote == "none" {
		t.Report.Warn(ctx, "skipping remote fetch (--no-remote or deploy.remote-site=none)")
		return nil
	}

	branchName, err := t.remoteBranch(ctx, branch)
	if err != nil {
		return err
	}

	_, code, err := t.Exec.Run(ctx, "fetch", "--tags", remote, branchName)
	if err != nil {
		return err
	}
	if code != 0 && code != 1 {
		return errors.Reason("git fetch %s %s exited %d", remote, branchName, code).Err()
	}
	t.Inv.Clear()
	return nil
}

// warnUnpushedCommits checks for commits on the current branch that
// haven't reached the remote; without --force this is fatal.
func (t *Toolkit) warnUnpushedCommits(ctx context.Context, site, branch string) error {
	remote, err := t.remoteSite(ctx, site)
	if err != nil {
		return err
	}
	if remote == "none" {
		return nil
	}
	branchName, err := t.remoteBranch(ctx, branch)
	if err != nil {
		return err
	}

	out, code, err := t.Exec.Run(ctx, "cherry", remote+"/"+branchName)
	if err != nil {
		return err
	}
	if code != 0 || out == "" {
		return nil
	}

	n := len(strings.Split(out, "\n"))
	if t.Force {
		t.Report.Warn(ctx, "%d unpushed commit(s) on %s, continuing because of --force", n, branchName)
		return nil
	}
	return errors.Reason("%d unpushed commit(s) on %s; use --force to proceed anyway:\n%s", n, branchName, out).
		Tag(gdterr.UnpushedCommits).Err()
}

// appPrefix resolves the "current app" from the most recent rollback
// sidecar's tag, falling back to deploy.tag-prefix.
func (t *Toolkit) appPrefix(ctx context.Context) (string, error) {
	tag, err := t.Sess.FetchTagInfo(ctx, session.Rollback, t.Inv)
	if err != nil {
		return "", err
	}
	if tag != "" {
		if prefix, ok := tags.PrefixOf(tag); ok {
			return prefix, nil
		}
	}
	return t.Config.String(ctx, "tag-prefix", strPtr(""))
}
