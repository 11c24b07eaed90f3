package orchestrator

import (
	"context"
	"os"

	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/session"
)

// StartOptions configures the start action. Force is carried by the
// Toolkit itself (it also governs session ownership bypass), not here.
type StartOptions struct {
	NoCheckClean, NoRemote   bool
	RemoteSite, RemoteBranch string
	Message, DateFmt         string
}

func (t *Toolkit) blockFileContents(ctx context.Context) (string, error) {
	path, err := t.Config.Path(ctx, "block-file", strPtr(""))
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Annotate(err, "reading block-file %s", path).Err()
	}
	return string(data), nil
}

// Start runs the "start" action: claim the session, verify and update
// the tree against the remote, and mark the pre-rollout commit with a
// dated tag kept as the rollback sidecar.
func (t *Toolkit) Start(ctx context.Context, opts StartOptions) error {
	t.Timing.Push(ctx, "start_start")
	defer t.Timing.Push(ctx, "start_end")

	blockContents, err := t.blockFileContents(ctx)
	if err != nil {
		return err
	}
	prefix, err := t.Config.String(ctx, "tag-prefix", strPtr(""))
	if err != nil {
		return err
	}

	return t.Sess.Start(ctx, blockContents, func() error {
		if err := t.Hooks.Dispatch(ctx, "pre-start", prefix, false); err != nil {
			return err
		}
		if !opts.NoCheckClean {
			if err := t.checkClean(ctx); err != nil {
				return err
			}
		}
		if err := t.fetchRemote(ctx, opts.NoRemote, opts.RemoteSite, opts.RemoteBranch); err != nil {
			return err
		}
		if err := t.warnUnpushedCommits(ctx, opts.RemoteSite, opts.RemoteBranch); err != nil {
			return err
		}
		if err := t.Hooks.Dispatch(ctx, "pre-pull", prefix, false); err != nil {
			return err
		}

		remote, err := t.remoteSite(ctx, opts.RemoteSite)
		if err != nil {
			return err
		}
		if !opts.NoRemote && remote != "none" {
			branch, err := t.remoteBranch(ctx, opts.RemoteBranch)
			if err != nil {
				return err
			}
			if _, _, err := t.Exec.Run(ctx, "pull", remote, branch); err != nil {
				return err
			}
			t.Inv.Clear()
		}

		if err := t.Hooks.Dispatch(ctx, "post-pull", prefix, false); err != nil {
			return err
		}
		if err := t.Hooks.Dispatch(ctx, "post-tree-update", prefix, true); err != nil {
			return err
		}

		startPrefix := "start"
		if prefix != "" {
			startPrefix = prefix + "-start"
		}
		dateFmt := opts.DateFmt
		if dateFmt == "" {
			dateFmt = "20060102-1504"
		}
		var lines []string
		if opts.Message != "" {
			lines = []string{opts.Message}
		}
		tagName, err := t.Tags.MakeDatedTag(ctx, startPrefix, dateFmt, lines)
		if err != nil {
			return err
		}

		sha1, err := t.Inv.NameToSha1(ctx, "HEAD")
		if err != nil {
			return err
		}
		return t.Sess.StoreTagInfo(session.Rollback, sha1, tagName)
	})
}

// SyncOptions configures sync / manual-sync / release.
type SyncOptions struct {
	NoRemote                 bool
	RemoteSite, RemoteBranch string
	Message                  string
}

func (t *Toolkit) doSync(ctx context.Context, action string, opts SyncOptions) error {
	if err := t.Sess.Guard(action); err != nil {
		return err
	}

	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return err
	}

	if err := t.Hooks.Dispatch(ctx, "pre-pull", prefix, false); err != nil {
		return err
	}

	remote, err := t.remoteSite(ctx, opts.RemoteSite)
	if err != nil {
		return err
	}
	if !opts.NoRemote && remote != "none" {
		branch, err := t.remoteBranch(ctx, opts.RemoteBranch)
		if err != nil {
			return err
		}
		if _, _, err := t.Exec.Run(ctx, "pull", remote, branch); err != nil {
			return err
		}
		t.Inv.Clear()
	}

	if err := t.Hooks.Dispatch(ctx, "post-pull", prefix, false); err != nil {
		return err
	}
	if err := t.Hooks.Dispatch(ctx, "post-tree-update", prefix, true); err != nil {
		return err
	}

	if syncHook, err := t.Hooks.GetSyncHook(ctx, prefix); err != nil {
		return err
	} else if syncHook != "" {
		if err := t.Hooks.Dispatch(ctx, "sync", prefix, false); err != nil {
			return err
		}
	}

	return t.Sess.Transition(ctx, action)
}

// Sync runs the "sync" action: pull and run the post-pull/sync hooks,
// then mark the session synced.
func (t *Toolkit) Sync(ctx context.Context, opts SyncOptions) error {
	t.Timing.Push(ctx, "sync_start")
	defer t.Timing.Push(ctx, "sync_end")
	return t.doSync(ctx, "sync", opts)
}

// ManualSync records that the operator synced the tree by hand,
// without gdt performing the pull itself.
func (t *Toolkit) ManualSync(ctx context.Context) error {
	t.Timing.Push(ctx, "manual_sync_start")
	defer t.Timing.Push(ctx, "manual_sync_end")

	if err := t.Sess.Guard("manual-sync"); err != nil {
		return err
	}
	return t.Sess.Transition(ctx, "manual-sync")
}

// Release runs sync and then pushes the branch and tags to the remote,
// recording the release tag as the rollout sidecar.
func (t *Toolkit) Release(ctx context.Context, opts SyncOptions) error {
	t.Timing.Push(ctx, "release_start")
	defer t.Timing.Push(ctx, "release_end")

	if err := t.doSync(ctx, "release", opts); err != nil {
		return err
	}

	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return err
	}

	remote, err := t.remoteSite(ctx, opts.RemoteSite)
	if err != nil {
		return err
	}
	if remote != "none" && !opts.NoRemote {
		branch, err := t.remoteBranch(ctx, opts.RemoteBranch)
		if err != nil {
			return err
		}
		if _, _, err := t.Exec.Run(ctx, "push", "--tags", remote, branch); err != nil {
			return err
		}
	}

	var lines []string
	if opts.Message != "" {
		lines = []string{opts.Message}
	}
	releasePrefix := "release"
	if prefix != "" {
		releasePrefix = prefix + "-release"
	}
	tagName, err := t.Tags.MakeDatedTag(ctx, releasePrefix, "20060102-1504", lines)
	if err != nil {
		return err
	}
	sha1, err := t.Inv.NameToSha1(ctx, "HEAD")
	if err != nil {
		return err
	}
	if err := t.Sess.StoreTagInfo(session.Rollout, sha1, tagName); err != nil {
		return err
	}

	return t.Hooks.Dispatch(ctx, "post-release", prefix, true)
}

// Finish runs the "finish" action: marks the session finishing, runs
// post-finish hooks, and tears down the on-disk session state.
func (t *Toolkit) Finish(ctx context.Context) error {
	t.Timing.Push(ctx, "finish_start")
	defer t.Timing.Push(ctx, "finish_end")

	if err := t.Sess.Guard("finish"); err != nil {
		return err
	}
	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return err
	}
	if err := t.Sess.Transition(ctx, "finish"); err != nil {
		return err
	}
	if err := t.Hooks.Dispatch(ctx, "post-finish", prefix, true); err != nil {
		return err
	}
	return t.Sess.Cleanup()
}

// Abort runs the "abort" action: only valid right after start, tears
// down the session without touching the tree.
func (t *Toolkit) Abort(ctx context.Context) error {
	t.Timing.Push(ctx, "abort_start")
	defer t.Timing.Push(ctx, "abort_end")

	if err := t.Sess.Guard("abort"); err != nil {
		return err
	}
	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return err
	}
	if err := t.Sess.Transition(ctx, "abort"); err != nil {
		return err
	}
	if err := t.Hooks.Dispatch(ctx, "post-abort", prefix, true); err != nil {
		return err
	}
	return t.Sess.Cleanup()
}

// Revert rolls the tree back to the rollback sidecar's tag (the
// pre-rollout commit recorded by start). A failing pre-rollback hook
// stops the revert; post-rollback hooks run with ignored exit status
// the way post-tree-update does.
func (t *Toolkit) Revert(ctx context.Context) error {
	t.Timing.Push(ctx, "revert_start")
	defer t.Timing.Push(ctx, "revert_end")

	if err := t.Sess.Guard("rollback"); err != nil {
		return err
	}

	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return err
	}
	tag, err := t.Sess.FetchTagInfo(ctx, session.Rollback, t.Inv)
	if err != nil {
		return err
	}
	if tag == "" {
		return errors.Reason("no rollback point is recorded for the current rollout").Err()
	}

	if err := t.Hooks.Dispatch(ctx, "pre-rollback", prefix, false); err != nil {
		return err
	}
	if _, _, err := t.Exec.Run(ctx, "reset", "--hard", tag); err != nil {
		return err
	}
	if _, _, err := t.Exec.Run(ctx, "checkout", "-f"); err != nil {
		return err
	}
	t.Inv.Clear()
	if err := t.Hooks.Dispatch(ctx, "post-rollback", prefix, true); err != nil {
		return err
	}
	if err := t.Sess.Transition(ctx, "rollback"); err != nil {
		return err
	}
	return t.Sess.Cleanup()
}

// Hotfix applies an emergency fix outside the normal start/sync/finish
// cycle: checks out the named branch, runs the pre-pull, post-pull and
// post-tree-update hooks (not the sync-phase hooks sync runs), and
// leaves no session behind (hotfixes don't get one).
func (t *Toolkit) Hotfix(ctx context.Context, branch string) error {
	t.Timing.Push(ctx, "hotfix_start")
	defer t.Timing.Push(ctx, "hotfix_end")

	prefix, err := t.Config.String(ctx, "tag-prefix", strPtr(""))
	if err != nil {
		return err
	}

	if err := t.Hooks.Dispatch(ctx, "pre-pull", prefix, false); err != nil {
		return err
	}
	if _, _, err := t.Exec.Run(ctx, "checkout", branch); err != nil {
		return err
	}
	t.Inv.Clear()
	if err := t.Hooks.Dispatch(ctx, "post-pull", prefix, false); err != nil {
		return err
	}
	return t.Hooks.Dispatch(ctx, "post-tree-update", prefix, true)
}

// Tag creates a one-off tag at HEAD, outside the rollout session.
func (t *Toolkit) Tag(ctx context.Context, name, message string) (string, error) {
	t.Timing.Push(ctx, "tag_start")
	defer t.Timing.Push(ctx, "tag_end")

	var lines []string
	if message != "" {
		lines = []string{message}
	}
	return t.Tags.MakeTag(ctx, name, lines)
}
