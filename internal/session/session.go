// Package session implements the persisted, cross-invocation rollout
// session: the state machine and lock file living at <gitdir>/deploy/.
// Every transition is gated by on-disk predicates (line count, line
// prefixes, the owning username) rather than any in-memory state, since
// each action is a separate process invocation.
package session

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/danjacques/gofslock/fslock"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/gdterr"
	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/refs"
)

// State is one of the session's on-disk states, derived from the shape
// of the lock file rather than stored explicitly.
type State string

const (
	Absent    State = "ABSENT"
	Started   State = "STARTED"
	Synced    State = "SYNCED"
	Finishing State = "FINISHING"
)

const timeLayout = "2006-01-02 15:04:05"

// Session drives the on-disk rollout session under gitDir/deploy/.
type Session struct {
	GitDir string
	Exec   *gitexec.Executor
	// Force bypasses ownership and state-validator errors. It never
	// bypasses missing-directory or lock-contention failures.
	Force bool
}

func (s *Session) dir() string       { return filepath.Join(s.GitDir, "deploy") }
func (s *Session) lockPath() string  { return filepath.Join(s.dir(), "lock") }
func (s *Session) rolloutPath() string  { return filepath.Join(s.dir(), "rollout") }
func (s *Session) rollbackPath() string { return filepath.Join(s.dir(), "rollback") }

func currentUsername() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// State reports the session's current state by inspecting the lock
// file, without taking any lock itself.
func (s *Session) State() (State, error) {
	lines, err := readLines(s.lockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Absent, nil
		}
		return "", err
	}
	switch len(lines) {
	case 0:
		return Absent, nil
	case 1:
		return Started, nil
	case 2:
		return Synced, nil
	case 3:
		return Finishing, nil
	default:
		return "", errors.Reason("lock file has an unexpected number of lines: %d", len(lines)).Tag(gdterr.BadState).Err()
	}
}

// Log returns the raw lines of the session's step log, for display by
// `status`/`show` and for embedding in error messages.
func (s *Session) Log() ([]string, error) {
	lines, err := readLines(s.lockPath())
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return lines, err
}

func (s *Session) statusLine(ctx context.Context, action string) (string, error) {
	branch, _, err := s.Exec.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	if branch == "HEAD" || branch == "" {
		branch = "(no branch)"
	}
	head, err := s.Exec.Result(ctx, []int{0}, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:\t%s\t%s\t%s\t%d\t%s",
		action, clock.Now(ctx).Format(timeLayout), branch, head, gitexec.CurrentUID(), currentUsername()), nil
}

// Start creates a brand-new session. blockFileContents, if non-empty,
// short-circuits with SysadminBlocked before anything is created on
// disk. otherChecks runs with the exclusive lock already held, before
// the status line is appended.
func (s *Session) Start(ctx context.Context, blockFileContents string, otherChecks func() error) error {
	if blockFileContents != "" {
		return errors.Reason("a sysadmin has blocked rollouts:\n%s", blockFileContents).Tag(gdterr.SysadminBlocked).Err()
	}

	if err := os.Mkdir(s.dir(), 0755); err != nil {
		if !os.IsExist(err) {
			return errors.Annotate(err, "creating %s", s.dir()).Err()
		}
		if lines, lerr := readLines(s.lockPath()); lerr == nil && len(lines) > 0 {
			return errors.Reason("one is already in progress:\n%s", strings.Join(lines, "\n")).Tag(gdterr.SessionExists).Err()
		} else if lerr != nil && !os.IsNotExist(lerr) {
			return lerr
		}
		// Directory exists but is empty (or lock is empty): proceed.
	}

	f, err := os.OpenFile(s.lockPath(), os.O_WRONLY|os.O_EXCL|os.O_CREATE, 0644)
	if err != nil {
		lines, _ := readLines(s.lockPath())
		return errors.Reason("one is already in progress:\n%s", strings.Join(lines, "\n")).Tag(gdterr.SessionExists).Err()
	}
	defer f.Close()

	handle, err := fslock.Lock(s.lockPath())
	if err != nil {
		return errors.Annotate(err, "acquiring the session lock").Tag(gdterr.LockContended).Err()
	}
	defer handle.Unlock()

	if otherChecks != nil {
		if err := otherChecks(); err != nil {
			return err
		}
	}

	line, err := s.statusLine(ctx, "start")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(f, line+"\n"); err != nil {
		return errors.Annotate(err, "writing the session lock").Tag(gdterr.LockFileOpenFailed).Err()
	}
	return nil
}

// syncedPrefixes are the second-line prefixes that mean "synced".
var syncedPrefixes = []string{"sync:", "release:", "manual-sync:"}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// validate checks action against the session log's on-disk shape,
// shared by the unlocked fast-fail Guard and the locked, authoritative
// check Transition performs before it appends.
func (s *Session) validate(lines []string, text, action string) error {
	if len(lines) == 0 || !strings.HasPrefix(lines[0], "start:") {
		return errors.Reason("havent started yet; there is no rollout in progress").Tag(gdterr.NotSyncedYet).Err()
	}
	if s.Force {
		return nil
	}

	owner := lastField(lines[0])
	if owner != currentUsername() {
		return errors.Reason("this rollout is owned by %q, not %q; use --force to override", owner, currentUsername()).Tag(gdterr.NotOwner).Err()
	}

	switch action {
	case "sync", "release", "manual-sync":
		if len(lines) != 1 {
			return errors.Reason("It looks like this rollout has already been synced:\n%s", text).Tag(gdterr.AlreadySynced).Err()
		}
	case "finish", "rollback":
		if len(lines) < 2 {
			return errors.Reason("the rollout has not been synced yet:\n%s", text).Tag(gdterr.NotSyncedYet).Err()
		}
		if !hasAnyPrefix(lines[1], syncedPrefixes) {
			return errors.Reason("unexpected second line in session log:\n%s", text).Tag(gdterr.BadState).Err()
		}
		if action == "finish" && len(lines) == 3 {
			return errors.Reason("It looks like someone is just finishing a rollout:\n%s", text).Tag(gdterr.FinishInProgress).Err()
		}
	case "abort":
		if len(lines) != 1 {
			return errors.Reason("abort is only valid right after start:\n%s", text).Tag(gdterr.BadState).Err()
		}
	}
	return nil
}

// Guard performs a fast, unlocked, non-authoritative check that action
// is valid against the session's current on-disk state. Callers use it
// to fail before running hooks or mutating git state; Transition
// re-validates authoritatively, under lock, before it appends.
func (s *Session) Guard(action string) error {
	if action == "finnish" {
		return errors.Reason("did you mean %q?", "finish").Err()
	}
	lines, err := readLines(s.lockPath())
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Reason("havent started yet; there is no rollout in progress").Tag(gdterr.NotSyncedYet).Err()
		}
		return err
	}
	return s.validate(lines, strings.Join(lines, "\n"), action)
}

// Transition appends action's status line after validating the
// on-disk state. It is used for sync, release, manual-sync, finish,
// abort, and rollback.
func (s *Session) Transition(ctx context.Context, action string) error {
	if action == "finnish" {
		return errors.Reason("did you mean %q?", "finish").Err()
	}

	f, err := os.OpenFile(s.lockPath(), os.O_RDWR, 0644)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Reason("havent started yet; there is no rollout in progress").Tag(gdterr.NotSyncedYet).Err()
		}
		return errors.Annotate(err, "opening the session lock").Tag(gdterr.LockFileOpenFailed).Err()
	}
	defer f.Close()

	handle, err := fslock.Lock(s.lockPath())
	if err != nil {
		return errors.Annotate(err, "acquiring the session lock").Tag(gdterr.LockContended).Err()
	}
	defer handle.Unlock()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	text := strings.TrimRight(string(data), "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}

	if err := s.validate(lines, text, action); err != nil {
		return err
	}

	line, err := s.statusLine(ctx, action)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	if _, err := io.WriteString(f, line+"\n"); err != nil {
		return errors.Annotate(err, "writing the session lock").Tag(gdterr.LockFileOpenFailed).Err()
	}
	return nil
}

func lastField(line string) string {
	fields := strings.Split(line, "\t")
	return fields[len(fields)-1]
}

// Cleanup removes the entire session: the rollout/rollback sidecars,
// lock and lock~, then the now-empty deploy/ directory.
func (s *Session) Cleanup() error {
	for _, p := range []string{s.rolloutPath(), s.rollbackPath(), s.lockPath(), s.lockPath() + "~"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return errors.Annotate(err, "removing %s", p).Tag(gdterr.CleanupFailed).Err()
		}
	}
	if err := os.Remove(s.dir()); err != nil && !os.IsNotExist(err) {
		return errors.Annotate(err, "removing %s", s.dir()).Tag(gdterr.CleanupFailed).Err()
	}
	return nil
}

// TagInfoKind selects which sidecar file StoreTagInfo/FetchTagInfo act on.
type TagInfoKind string

const (
	Rollout  TagInfoKind = "rollout"
	Rollback TagInfoKind = "rollback"
)

func (s *Session) sidecarPath(kind TagInfoKind) string {
	if kind == Rollout {
		return s.rolloutPath()
	}
	return s.rollbackPath()
}

// StoreTagInfo writes "<sha1> <tag>" to the rollout or rollback sidecar.
func (s *Session) StoreTagInfo(kind TagInfoKind, sha1, tag string) error {
	content := fmt.Sprintf("%s %s\n", sha1, tag)
	if err := os.WriteFile(s.sidecarPath(kind), []byte(content), 0644); err != nil {
		return errors.Annotate(err, "writing %s sidecar", kind).Err()
	}
	return nil
}

// FetchTagInfo reads the rollout or rollback sidecar and returns its
// tag name, but only if the stored sha1 still matches what the tag
// currently resolves to (HEAD may have moved on since the sidecar was
// written).
func (s *Session) FetchTagInfo(ctx context.Context, kind TagInfoKind, inv *refs.Inventory) (string, error) {
	data, err := os.ReadFile(s.sidecarPath(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	fields := strings.Fields(strings.TrimSpace(string(data)))
	if len(fields) != 2 {
		return "", nil
	}
	sha1, tag := fields[0], fields[1]

	commit, err := inv.NameToCommit(ctx, tag)
	if err != nil {
		return "", nil
	}
	if commit != sha1 {
		return "", nil
	}
	return tag, nil
}
