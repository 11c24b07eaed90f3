// Package hooks discovers and runs the user-authored lifecycle scripts
// under deploy.hook-dir: a "common" pass that always runs, followed by
// an app-specific pass selected by the rollout's tag prefix.
package hooks

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/environ"

	"github.com/luci-deploytool/gdt/internal/gdterr"
)

// Engine dispatches phase hooks out of Root. An empty Root, or
// SkipHooks set, disables dispatch entirely (with a warning for the
// latter, since that's an explicit operator override).
type Engine struct {
	Root      string
	SkipHooks bool
}

const (
	phaseEnvOld = "GIT_DEPLOYTOOL_PHASE"
	phaseEnvNew = "GIT_DEPLOY_PHASE"
	prefixEnvOld = "GIT_DEPLOYTOOL_HOOK_PREFIX"
	prefixEnvNew = "GIT_DEPLOY_HOOK_PREFIX"
)

// Dispatch runs every hook for phase: first the common pass
// (apps/common/<phase>.*), then the app-specific pass
// (apps/<prefix>/<phase>.*), both in ascending lexicographic order.
// If ignoreExit is true, a failing hook is warned about but does not
// stop the dispatch or the caller's action (used for post-tree-update
// and post-rollback during rollback/revert).
func (e *Engine) Dispatch(ctx context.Context, phase, prefix string, ignoreExit bool) error {
	if e.SkipHooks {
		logging.Warningf(ctx, "skipping %s hooks: hooks are disabled for this invocation", phase)
		return nil
	}
	if e.Root == "" {
		return nil
	}

	if err := e.runGroup(ctx, phase, "common", "common", ignoreExit); err != nil {
		return err
	}
	return e.runGroup(ctx, phase, prefix, prefix, ignoreExit)
}

func (e *Engine) runGroup(ctx context.Context, phase, group, hookPrefix string, ignoreExit bool) error {
	matches, err := filepath.Glob(filepath.Join(e.Root, "apps", group, phase+".*"))
	if err != nil {
		return errors.Annotate(err, "listing %s hooks for %s", phase, group).Err()
	}
	sort.Strings(matches)

	for _, path := range matches {
		if err := e.run(ctx, path, phase, hookPrefix, ignoreExit); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, path, phase, hookPrefix string, ignoreExit bool) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Annotate(err, "statting hook %s", path).Err()
	}
	if info.Mode()&0111 == 0 {
		logging.Warningf(ctx, "hook %s exists but is not executable, skipping", path)
		return nil
	}

	env := environ.System()
	env.Set(phaseEnvOld, phase)
	env.Set(phaseEnvNew, phase)
	env.Set(prefixEnvOld, hookPrefix)
	env.Set(prefixEnvNew, hookPrefix)

	cmd := exec.CommandContext(ctx, path)
	cmd.Env = env.Sorted()
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	out := buf.String()

	if runErr == nil {
		return nil
	}

	msg := describeFailure(path, runErr, out)
	if ignoreExit {
		logging.Warningf(ctx, "hook %s: %s", path, msg)
		return nil
	}
	return errors.Reason("%s", msg).Tag(gdterr.HookFailed).Err()
}

func describeFailure(path string, err error, out string) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return strings.TrimSpace(path + " killed by signal " + ws.Signal().String() + ": " + out)
		}
		return strings.TrimSpace(path + " exited " + exitErr.String() + ": " + out)
	}
	return strings.TrimSpace(path + " failed to run: " + err.Error())
}

// GetSyncHook returns the single-file sync-style hook for prefix, or
// "" if there isn't one. A present-but-non-executable file is warned
// about and treated as absent.
func (e *Engine) GetSyncHook(ctx context.Context, prefix string) (string, error) {
	if e.Root == "" {
		return "", nil
	}
	path := filepath.Join(e.Root, "sync", prefix+".sync")
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Annotate(err, "statting sync hook %s", path).Err()
	}
	if info.Mode()&0111 == 0 {
		logging.Warningf(ctx, "sync hook %s exists but is not executable, ignoring", path)
		return "", nil
	}
	return path, nil
}
