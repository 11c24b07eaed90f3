package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/deployfile"
	"github.com/luci-deploytool/gdt/internal/refs"
	"github.com/luci-deploytool/gdt/internal/session"
)

// ShowOptions configures the "show" action's output.
type ShowOptions struct {
	DeployFileName string
	ShowDeployFile bool
	ShowStep       bool
	ShowPrefix     bool
}

// Show reports the rollout session's current state, optionally
// including its step log, app prefix, and deploy file contents.
func (t *Toolkit) Show(ctx context.Context, opts ShowOptions) (string, error) {
	var b strings.Builder

	state, err := t.Sess.State()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&b, "state: %s\n", state)

	if opts.ShowStep {
		lines, err := t.Sess.Log()
		if err != nil {
			return "", err
		}
		for _, l := range lines {
			fmt.Fprintf(&b, "%s\n", l)
		}
	}

	if opts.ShowPrefix {
		prefix, err := t.appPrefix(ctx)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "prefix: %s\n", prefix)
	}

	if opts.ShowDeployFile {
		name := opts.DeployFileName
		if name == "" {
			if name, err = t.Config.String(ctx, "deploy-file", strPtr(".deploy")); err != nil {
				return "", err
			}
		}
		contents, err := deployfile.Read(ctx, filepath.Join(t.RepoRoot, name), false, t.Inv)
		if err != nil {
			return "", err
		}
		b.WriteString(contents)
	}

	return b.String(), nil
}

// ShowTagOptions configures the "show-tag" action.
type ShowTagOptions struct {
	List, ListAll   bool
	IncludeBranches bool
	LongDigest      bool
	Count           int
	IgnoreOlderThan string
}

// ShowTag lists rollout tags, most recent first, applying the same
// date-derived ordering the Ref Inventory uses for HEAD-matching scans.
// With neither --list nor --list-all, it reports the first name
// currently at HEAD (falling back to the Count most recent names overall, for a
// checkout with no HEAD-matching tag yet); --list reports every name at
// HEAD instead of just the first; --list-all ignores HEAD matching
// entirely and reports every (optionally date-filtered) name.
func (t *Toolkit) ShowTag(ctx context.Context, opts ShowTagOptions) ([]string, error) {
	names, err := t.Inv.SortedTags(ctx)
	if err != nil {
		return nil, err
	}
	if opts.IgnoreOlderThan != "" {
		names = refs.FilterByDate(opts.IgnoreOlderThan, names)
	}
	if opts.IncludeBranches {
		branches, err := t.Inv.BranchesReachingHead(ctx)
		if err != nil {
			return nil, err
		}
		names = append(names, branches...)
	}

	if opts.ListAll {
		return names, nil
	}
	if opts.List {
		return t.Inv.NamesMatchingHead(ctx, "list", names)
	}

	if matched, err := t.Inv.NamesMatchingHead(ctx, "first", names); err != nil {
		return nil, err
	} else if len(matched) > 0 {
		return matched, nil
	}

	count := opts.Count
	if count <= 0 {
		count = 1
	}
	if count > len(names) {
		count = len(names)
	}
	return names[:count], nil
}

// Status summarizes the repository and session state for a quick
// operator check, independent of any in-progress rollout.
func (t *Toolkit) Status(ctx context.Context) (string, error) {
	state, err := t.Sess.State()
	if err != nil {
		return "", err
	}
	head, err := t.Inv.NameToCommit(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	branch, err := t.Exec.Result(ctx, []int{0}, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" {
		branch = "(no branch)"
	}
	prefix, err := t.appPrefix(ctx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("state: %s\nbranch: %s\nhead: %s\nprefix: %s\n", state, branch, head, prefix), nil
}

// Log returns the raw session step log, one line per completed step.
func (t *Toolkit) Log(ctx context.Context) ([]string, error) {
	return t.Sess.Log()
}

// Diff shows the tree changes a rollout would introduce: from defaults
// to the rollback sidecar's tag (the pre-rollout commit), to defaults
// to HEAD.
func (t *Toolkit) Diff(ctx context.Context, from, to string) (string, error) {
	if from == "" {
		tag, err := t.Sess.FetchTagInfo(ctx, session.Rollback, t.Inv)
		if err != nil {
			return "", err
		}
		if tag == "" {
			return "", errors.Reason("no rollback point is recorded to diff against").Err()
		}
		from = tag
	}
	if to == "" {
		to = "HEAD"
	}
	return t.Exec.Result(ctx, []int{0}, "diff", from, to)
}
