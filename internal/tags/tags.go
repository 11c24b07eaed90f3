// Package tags creates git tags for rollout/rollback markers, ensuring
// name uniqueness by probing an explicit letter-suffix generator rather
// than relying on any language's string auto-increment magic.
package tags

import (
	"context"
	"strings"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/gdterr"
	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/refs"
)

// Service creates tags and keeps the ref inventory it shares with the
// rest of gdt consistent by invalidating it on every mutation.
type Service struct {
	Exec *gitexec.Executor
	Inv  *refs.Inventory
}

// IncrementSuffix advances an all-uppercase letter suffix the way a
// base-26 odometer would: the last letter advances, carrying into the
// letter to its left on wraparound from Z to A; if every letter
// wraps, a new leading "A" is prepended ("Z" -> "AA").
func IncrementSuffix(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 'Z' {
			b[i]++
			return string(b)
		}
		b[i] = 'A'
	}
	return "A" + string(b)
}

// uniqueName returns name itself if it doesn't already resolve to a
// commit, otherwise the first name_A, name_B, ... (then name_AA, ...)
// that doesn't.
func (s *Service) uniqueName(ctx context.Context, name string) (string, error) {
	if _, err := s.Inv.NameToCommit(ctx, name); err != nil {
		if gdterr.RefNotFound.In(err) {
			return name, nil
		}
		return "", err
	}

	suffix := "A"
	for {
		candidate := name + "_" + suffix
		if _, err := s.Inv.NameToCommit(ctx, candidate); err != nil {
			if gdterr.RefNotFound.In(err) {
				return candidate, nil
			}
			return "", err
		}
		suffix = IncrementSuffix(suffix)
	}
}

// MakeTag creates a tag named name (or a collision-free variant of it),
// substituting "%TAG" with the final chosen name in every message line.
// It fails if git tag produces any output, since a silent exit is git's
// only success signal for tag creation.
func (s *Service) MakeTag(ctx context.Context, name string, messageLines []string) (string, error) {
	final, err := s.uniqueName(ctx, name)
	if err != nil {
		return "", errors.Annotate(err, "choosing a unique tag name for %q", name).Err()
	}

	args := []string{"tag"}
	for _, line := range messageLines {
		args = append(args, "-m", strings.ReplaceAll(line, "%TAG", final))
	}
	args = append(args, final)

	out, code, err := s.Exec.Run(ctx, args...)
	if err != nil {
		return "", err
	}
	if code != 0 || out != "" {
		return "", errors.Reason("git tag %q failed (exit %d): %s", final, code, out).Tag(gdterr.TagCreationFailed).Err()
	}

	s.Inv.Clear()
	return final, nil
}

// MakeDatedTag composes "<prefix>-<now formatted with strftimeFmt>" and
// delegates to MakeTag. strftimeFmt is a Go time layout (e.g.
// "20060102-1504"); strftime % directives are not expanded.
func (s *Service) MakeDatedTag(ctx context.Context, prefix, strftimeFmt string, messageLines []string) (string, error) {
	name := prefix + "-" + clock.Now(ctx).Format(strftimeFmt)
	return s.MakeTag(ctx, name, messageLines)
}

// PrefixOf extracts the app prefix from a rollout tag name of the form
// "<prefix>-start-...", returning ok=false for anything else.
func PrefixOf(tagname string) (prefix string, ok bool) {
	i := strings.Index(tagname, "-start-")
	if i < 0 {
		return "", false
	}
	return tagname[:i], true
}
