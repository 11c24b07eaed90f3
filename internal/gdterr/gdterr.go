// Package gdterr defines the error taxonomy shared by every gdt
// component. Each kind is an errtag.Make value so callers can both
// produce a human-readable message (via errors.Reason) and later test
// for a specific kind (via errtag.Value) without string matching.
package gdterr

import "go.chromium.org/luci/common/errors/errtag"

var (
	// Environment errors.
	NotAGitRepo    = errtag.Make("not inside a git repository", true)
	MissingConfig  = errtag.Make("a mandatory config key is not set", true)
	AmbiguousConfig = errtag.Make("a config key has more than one value", true)

	// Concurrency / session errors.
	SessionExists    = errtag.Make("a rollout session is already in progress", true)
	LockContended    = errtag.Make("the session lock is held by another process", true)
	NotOwner         = errtag.Make("the current user does not own this rollout session", true)
	NotSyncedYet     = errtag.Make("the rollout has not been synced yet", true)
	AlreadySynced    = errtag.Make("the rollout has already been synced", true)
	BadState         = errtag.Make("the rollout session is in an unexpected state", true)
	FinishInProgress = errtag.Make("another process is already finishing this rollout", true)
	SysadminBlocked  = errtag.Make("a sysadmin block-file is present", true)

	// Subprocess errors.
	ExecFailure    = errtag.Make("the subprocess could not be started", true)
	Signalled      = errtag.Make("the subprocess was killed by a signal", true)
	UnexpectedExit = errtag.Make("the subprocess exited with an unexpected code", true)

	// Git-semantics errors.
	RefNotFound      = errtag.Make("no ref resolves to the given name", true)
	TagCreationFailed = errtag.Make("git tag reported output or a non-zero exit", true)
	UnpushedCommits  = errtag.Make("there are unpushed commits on the current branch", true)

	// Hook errors.
	HookFailed        = errtag.Make("a lifecycle hook exited non-zero or was signalled", true)
	HookNotExecutable = errtag.Make("a hook file exists but is not executable", true)

	// Filesystem errors.
	DeployFileWriteFailed = errtag.Make("the deploy file could not be written", true)
	LockFileOpenFailed    = errtag.Make("the session lock file could not be opened", true)
	CleanupFailed         = errtag.Make("session cleanup could not remove all state", true)
)
