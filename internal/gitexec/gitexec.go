// Package gitexec runs the `git` binary as a subprocess and normalizes
// its exit codes and output the way the rest of gdt expects: stdout and
// stderr merged into one capture, trailing newline stripped, and exec
// failures classified distinctly from "ran but exited unexpectedly".
package gitexec

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/exec2"

	"github.com/luci-deploytool/gdt/internal/gdterr"
)

// Executor runs git subprocesses rooted at Dir (empty means the process's
// current working directory).
type Executor struct {
	// Dir is the working directory git subprocesses are started in.
	Dir string
	// Verbose, when set, makes Run emit a debug trace of every command.
	Verbose bool
}

// Run executes `git <args...>`, merging stderr into the returned stdout
// capture and stripping a single trailing newline. It returns the exit
// code whenever the process ran to completion, even non-zero ones; it
// only returns a non-nil error for failures to spawn or execute (see
// gdterr.ExecFailure, gdterr.Signalled).
func (e *Executor) Run(ctx context.Context, args ...string) (stdout string, exitCode int, err error) {
	if e.Verbose {
		logging.Debugf(ctx, "git %s", strings.Join(args, " "))
	}

	cmd := exec2.CommandContext(ctx, "git", args...)
	cmd.Dir = e.Dir

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Cmd.Run()
	out := strings.TrimSuffix(buf.String(), "\n")

	if runErr == nil {
		return out, 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return "", -1, errors.Annotate(runErr, "failed to run git %s", strings.Join(args, " ")).Tag(gdterr.ExecFailure).Err()
	}

	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return out, -1, errors.Reason("git %s killed by signal %d (core dumped: %v)",
			strings.Join(args, " "), ws.Signal(), ws.CoreDump()).Tag(gdterr.Signalled).Err()
	}

	return out, exitErr.ExitCode(), nil
}

// Result runs git and returns its stdout iff the exit code is one of
// acceptedCodes; otherwise it fails with gdterr.UnexpectedExit carrying
// the observed code and captured output.
func (e *Executor) Result(ctx context.Context, acceptedCodes []int, args ...string) (string, error) {
	out, code, err := e.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	for _, ok := range acceptedCodes {
		if code == ok {
			return out, nil
		}
	}
	return "", errors.Reason("git %s exited %d, wanted one of %v: %s",
		strings.Join(args, " "), code, acceptedCodes, out).Tag(gdterr.UnexpectedExit).Err()
}

// ErrCode runs git and returns only its exit code, whatever its value,
// as a non-error result; exec failures and signals are still surfaced
// as errors.
func (e *Executor) ErrCode(ctx context.Context, args ...string) (int, error) {
	_, code, err := e.Run(ctx, args...)
	return code, err
}

// CurrentUID returns the uid of the running process, used by the
// session log line.
func CurrentUID() int {
	return unix.Getuid()
}
