// Package gconfig reads gdt's configuration out of git config, with the
// precedence and typed-accessor rules spec'd for the Config Store: a
// dotted key without a dot (or with a leading dot) is resolved under the
// "deploy." prefix; deploy.* keys prefer an override file when one is
// configured; user.* keys only ever come from the global config.
package gconfig

import (
	"context"
	"strconv"
	"strings"

	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/gdterr"
	"github.com/luci-deploytool/gdt/internal/gitexec"
)

const prefix = "deploy."

type accessor int

const (
	accString accessor = iota
	accPath
	accInt
	accBool
)

type cacheKey struct {
	key string
	acc accessor
}

// Store is a memoized, precedence-aware reader over git config.
type Store struct {
	exec *gitexec.Executor

	cache map[cacheKey]cacheResult
}

type cacheResult struct {
	value string
	err   error
}

// New returns a Store that runs `git config` rooted at exec's directory.
func New(exec *gitexec.Executor) *Store {
	return &Store{exec: exec, cache: map[cacheKey]cacheResult{}}
}

// normalize turns a bare or dot-leading name into its canonical dotted
// key under the "deploy." prefix.
func normalize(key string) string {
	key = strings.TrimPrefix(key, ".")
	if !strings.Contains(key, ".") {
		return prefix + key
	}
	return key
}

func isUserKey(key string) bool {
	return strings.HasPrefix(key, "user.")
}

// raw resolves key via the precedence chain, caching the (possibly
// missing) result under (key, acc).
func (s *Store) raw(ctx context.Context, key string, acc accessor, flag string) (string, bool, error) {
	key = normalize(key)
	ck := cacheKey{key: key, acc: acc}
	if r, ok := s.cache[ck]; ok {
		if r.err != nil {
			return "", false, r.err
		}
		if r.value == "\x00missing\x00" {
			return "", false, nil
		}
		return r.value, true, nil
	}

	val, found, err := s.resolve(ctx, key, flag)
	if err != nil {
		s.cache[ck] = cacheResult{err: err}
		return "", false, err
	}
	if !found {
		s.cache[ck] = cacheResult{value: "\x00missing\x00"}
		return "", false, nil
	}
	s.cache[ck] = cacheResult{value: val}
	return val, true, nil
}

func (s *Store) resolve(ctx context.Context, key, flag string) (string, bool, error) {
	var sources [][]string

	if isUserKey(key) {
		sources = [][]string{{"--global"}}
	} else if strings.HasPrefix(key, prefix) {
		if cf, found, err := s.configFile(ctx); err != nil {
			return "", false, err
		} else if found {
			sources = append(sources, []string{"--file", cf})
		}
		sources = append(sources, nil) // standard chain
	} else {
		sources = [][]string{nil}
	}

	for _, src := range sources {
		args := append([]string{"config"}, src...)
		if flag != "" {
			args = append(args, flag)
		}
		args = append(args, "--get", key)

		out, code, err := s.exec.Run(ctx, args...)
		if err != nil {
			return "", false, err
		}
		switch code {
		case 0:
			return out, true, nil
		case 1:
			continue // missing from this source, try the next
		case 2:
			return "", false, errors.Reason("config key %q has more than one value", key).Tag(gdterr.AmbiguousConfig).Err()
		default:
			return "", false, errors.Reason("git config %s exited %d: %s", strings.Join(args, " "), code, out).Err()
		}
	}
	return "", false, nil
}

// configFile returns the value of deploy.config-file, if any, without
// going through the override-file precedence itself (that would recurse).
func (s *Store) configFile(ctx context.Context) (string, bool, error) {
	ck := cacheKey{key: prefix + "config-file", acc: accString}
	if r, ok := s.cache[ck]; ok {
		if r.err != nil {
			return "", false, r.err
		}
		if r.value == "\x00missing\x00" {
			return "", false, nil
		}
		return r.value, true, nil
	}
	out, code, err := s.exec.Run(ctx, "config", "--get", prefix+"config-file")
	if err != nil {
		return "", false, err
	}
	if code == 0 {
		s.cache[ck] = cacheResult{value: out}
		return out, true, nil
	}
	s.cache[ck] = cacheResult{value: "\x00missing\x00"}
	return "", false, nil
}

// String returns the string value of key, or def if it is unset.
func (s *Store) String(ctx context.Context, key string, def *string) (string, error) {
	v, found, err := s.raw(ctx, key, accString, "")
	if err != nil {
		return "", err
	}
	if !found {
		if def != nil {
			return *def, nil
		}
		return "", errors.Reason("missing mandatory config key %q", normalize(key)).Tag(gdterr.MissingConfig).Err()
	}
	return v, nil
}

// Path returns the tilde-expanded path value of key.
func (s *Store) Path(ctx context.Context, key string, def *string) (string, error) {
	v, found, err := s.raw(ctx, key, accPath, "--path")
	if err != nil {
		return "", err
	}
	if !found {
		if def != nil {
			return *def, nil
		}
		return "", errors.Reason("missing mandatory config key %q", normalize(key)).Tag(gdterr.MissingConfig).Err()
	}
	return v, nil
}

// Int returns the integer value of key.
func (s *Store) Int(ctx context.Context, key string, def *int) (int, error) {
	v, found, err := s.raw(ctx, key, accInt, "--int")
	if err != nil {
		return 0, err
	}
	if !found {
		if def != nil {
			return *def, nil
		}
		return 0, errors.Reason("missing mandatory config key %q", normalize(key)).Tag(gdterr.MissingConfig).Err()
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Annotate(err, "config key %q is not an int: %q", normalize(key), v).Err()
	}
	return n, nil
}

// Bool returns the boolean value of key.
func (s *Store) Bool(ctx context.Context, key string, def *bool) (bool, error) {
	v, found, err := s.raw(ctx, key, accBool, "--bool")
	if err != nil {
		return false, err
	}
	if !found {
		if def != nil {
			return *def, nil
		}
		return false, errors.Reason("missing mandatory config key %q", normalize(key)).Tag(gdterr.MissingConfig).Err()
	}
	return v == "true", nil
}

// Dump returns every key that `git config --list` reports (not only
// deploy.* keys) as a nested map, fanning dotted keys
// out into nested maps (e.g. "deploy.send-mail-on-start" ->
// {"deploy": {"send-mail-on-start": "..."}}). Used only for diagnostics.
func (s *Store) Dump(ctx context.Context) (map[string]any, error) {
	out, err := s.exec.Result(ctx, []int{0}, "config", "--list", "-z")
	if err != nil {
		return nil, err
	}
	root := map[string]any{}
	for _, entry := range strings.Split(out, "\x00") {
		if entry == "" {
			continue
		}
		nl := strings.IndexByte(entry, '\n')
		var key, val string
		if nl < 0 {
			key, val = entry, ""
		} else {
			key, val = entry[:nl], entry[nl+1:]
		}
		parts := strings.Split(key, ".")
		cur := root
		for i, p := range parts {
			if i == len(parts)-1 {
				cur[p] = val
				break
			}
			next, ok := cur[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				cur[p] = next
			}
			cur = next
		}
	}
	return root, nil
}

// Clear drops every memoized lookup, used after any operation (rare)
// that might have mutated the underlying git config.
func (s *Store) Clear() {
	s.cache = map[cacheKey]cacheResult{}
}
