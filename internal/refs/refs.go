// Package refs implements the Ref Inventory: a single batched
// `git for-each-ref` scan turned into an in-memory, denormalized index
// of every ref and the commits they point to. The scan is lazy — it
// only happens on first use — and is invalidated wholesale by any
// tag-creating operation.
package refs

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/gdterr"
	"github.com/luci-deploytool/gdt/internal/gitexec"
)

// Category classifies a ref by what kind of thing it names.
type Category string

// Type refines Category with how the ref is stored/resolved.
type Type string

const (
	CategoryBranch Category = "branch"
	CategoryTag    Category = "tag"
	CategoryStash  Category = "stash"
	CategoryBisect Category = "bisect"

	TypeLocal    Type = "local"
	TypeRemote   Type = "remote"
	TypeObject   Type = "object"   // annotated tag
	TypeSymbolic Type = "symbolic" // lightweight tag
	TypeStash    Type = "stash"
	TypeBisect   Type = "bisect"
)

// Identity is a commit's author or committer.
type Identity struct {
	Name  string
	Email string
	Date  time.Time
}

// Message is a commit's or annotated tag's free-form text, split the way
// git itself splits it.
type Message struct {
	Subject  string
	Body     string
	Contents string
}

// Commit is a deduplicated commit object, keyed by its 40-hex id.
type Commit struct {
	ID        string
	Author    Identity
	Committer Identity
	Parents   []string
	Tree      string
	Message   Message

	// refs is the back-list of refnames pointing at this commit. It is
	// names only, never pointers, so the ref<->commit cycle can be
	// rebuilt from scratch on every scan.
	refs []string
}

// Refs returns the refnames pointing at this commit.
func (c *Commit) Refs() []string {
	out := make([]string, len(c.refs))
	copy(out, c.refs)
	return out
}

// Entry is a single ref, classified and denormalized against its
// target commit.
type Entry struct {
	Refname  string
	Category Category
	Type     Type
	RefsDir  string
	Barename string

	// Commit is the resolved commit id this ref ultimately points to.
	// For an annotated tag this is the tag's target, not the tag object.
	Commit string
	// SHA1 is the raw object id of the ref itself. Equal to Commit
	// except for annotated tags.
	SHA1 string

	// Message is set only for annotated tags.
	Message *Message
}

type refKey struct {
	category Category
	typ      Type
	barename string
}

// Inventory is the lazily-materialized, memoized ref index.
type Inventory struct {
	exec *gitexec.Executor

	loaded  bool
	entries map[string]*Entry // by refname
	commits map[string]*Commit
	byKey   map[refKey]*Entry

	byBarename map[Category]map[string]*Entry

	name2commit map[string]string
	name2sha1   map[string]string
}

// New returns an Inventory that scans with exec.
func New(exec *gitexec.Executor) *Inventory {
	return &Inventory{exec: exec}
}

// Clear discards all cached state: the scan, and every name lookup.
// Called after any tag-creating operation.
func (inv *Inventory) Clear() {
	inv.loaded = false
	inv.entries = nil
	inv.commits = nil
	inv.byKey = nil
	inv.byBarename = nil
	inv.name2commit = nil
	inv.name2sha1 = nil
}

const (
	fieldSep  = "\x01\x01\x01"
	recordSep = "\x00\x00\x00"
)

var forEachRefFields = []string{
	"refname", "objectname", "objecttype", "tag",
	"*objectname",
	"authorname", "authoremail", "authordate:iso-strict",
	"committername", "committeremail", "committerdate:iso-strict",
	"subject", "body", "contents", "parent", "tree",
	"*authorname", "*authoremail", "*authordate:iso-strict",
	"*committername", "*committeremail", "*committerdate:iso-strict",
	"*subject", "*body", "*contents", "*parent", "*tree",
}

const (
	fRefname = iota
	fObjectname
	fObjecttype
	fTag
	fDerefObjectname
	fAuthorName
	fAuthorEmail
	fAuthorDate
	fCommitterName
	fCommitterEmail
	fCommitterDate
	fSubject
	fBody
	fContents
	fParent
	fTree
	fDerefAuthorName
	fDerefAuthorEmail
	fDerefAuthorDate
	fDerefCommitterName
	fDerefCommitterEmail
	fDerefCommitterDate
	fDerefSubject
	fDerefBody
	fDerefContents
	fDerefParent
	fDerefTree
)

func buildFormat() string {
	parts := make([]string, len(forEachRefFields))
	for i, f := range forEachRefFields {
		parts[i] = "%(" + f + ")"
	}
	return strings.Join(parts, fieldSep)
}

// ensureLoaded runs the for-each-ref scan once per process (per Clear).
func (inv *Inventory) ensureLoaded(ctx context.Context) error {
	if inv.loaded {
		return nil
	}

	// A NUL byte cannot travel in an argv string, so the record
	// separator is requested with git's %00 escape; the output still
	// carries recordSep.
	format := buildFormat() + "%00%00%00"
	out, err := inv.exec.Result(ctx, []int{0}, "for-each-ref", "--format="+format)
	if err != nil {
		return err
	}

	entries := map[string]*Entry{}
	commits := map[string]*Commit{}
	byKey := map[refKey]*Entry{}
	byBarename := map[Category]map[string]*Entry{}
	seen := stringset.New(0)

	for _, rec := range strings.Split(out, recordSep) {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		fields := strings.Split(rec, fieldSep)
		if len(fields) != len(forEachRefFields) {
			return errors.Reason("malformed for-each-ref record: %q", rec).Err()
		}

		entry, commit, err := classify(fields)
		if err != nil {
			return err
		}

		key := refKey{entry.Category, entry.Type, entry.Barename}
		if !seen.Add(string(entry.Category) + "\x00" + string(entry.Type) + "\x00" + entry.Barename) {
			return errors.Reason("duplicate (category,type,barename) %+v for ref %q", key, entry.Refname).Err()
		}

		entries[entry.Refname] = entry
		byKey[key] = entry
		if byBarename[entry.Category] == nil {
			byBarename[entry.Category] = map[string]*Entry{}
		}
		byBarename[entry.Category][entry.Barename] = entry

		if existing, ok := commits[commit.ID]; ok {
			existing.refs = append(existing.refs, entry.Refname)
		} else {
			commit.refs = []string{entry.Refname}
			commits[commit.ID] = commit
		}
	}

	inv.entries = entries
	inv.commits = commits
	inv.byKey = byKey
	inv.byBarename = byBarename
	inv.name2commit = map[string]string{}
	inv.name2sha1 = map[string]string{}
	inv.loaded = true
	return nil
}

func classify(f []string) (*Entry, *Commit, error) {
	refname := f[fRefname]

	entry := &Entry{Refname: refname}
	var commitID string
	var useDeref bool

	switch {
	case strings.HasPrefix(refname, "refs/heads/"):
		entry.Category, entry.Type, entry.RefsDir = CategoryBranch, TypeLocal, "heads"
		entry.Barename = strings.TrimPrefix(refname, "refs/heads/")
	case strings.HasPrefix(refname, "refs/remotes/"):
		entry.Category, entry.Type, entry.RefsDir = CategoryBranch, TypeRemote, "remotes"
		entry.Barename = strings.TrimPrefix(refname, "refs/remotes/")
	case strings.HasPrefix(refname, "refs/tags/"):
		entry.Category, entry.RefsDir = CategoryTag, "tags"
		barename := strings.TrimPrefix(refname, "refs/tags/")
		if f[fTag] != "" {
			entry.Type = TypeObject
			entry.Barename = f[fTag]
			useDeref = true
			entry.Message = &Message{Subject: f[fSubject], Body: f[fBody], Contents: f[fContents]}
		} else {
			entry.Type = TypeSymbolic
			entry.Barename = barename
		}
	case refname == "refs/stash":
		entry.Category, entry.Type, entry.RefsDir = CategoryStash, TypeStash, "stash"
		entry.Barename = "stash"
	case strings.HasPrefix(refname, "refs/bisect/"):
		entry.Category, entry.Type, entry.RefsDir = CategoryBisect, TypeBisect, "bisect"
		entry.Barename = "bisect"
	default:
		return nil, nil, errors.Reason("unrecognized refname %q", refname).Err()
	}

	entry.SHA1 = f[fObjectname]
	if useDeref {
		commitID = f[fDerefObjectname]
	} else {
		commitID = f[fObjectname]
	}
	entry.Commit = commitID

	commit := &Commit{ID: commitID}
	if useDeref {
		commit.Author = parseIdentity(f[fDerefAuthorName], f[fDerefAuthorEmail], f[fDerefAuthorDate])
		commit.Committer = parseIdentity(f[fDerefCommitterName], f[fDerefCommitterEmail], f[fDerefCommitterDate])
		commit.Message = Message{Subject: f[fDerefSubject], Body: f[fDerefBody], Contents: f[fDerefContents]}
		commit.Tree = f[fDerefTree]
		commit.Parents = splitParents(f[fDerefParent])
	} else {
		commit.Author = parseIdentity(f[fAuthorName], f[fAuthorEmail], f[fAuthorDate])
		commit.Committer = parseIdentity(f[fCommitterName], f[fCommitterEmail], f[fCommitterDate])
		commit.Message = Message{Subject: f[fSubject], Body: f[fBody], Contents: f[fContents]}
		commit.Tree = f[fTree]
		commit.Parents = splitParents(f[fParent])
	}

	return entry, commit, nil
}

func splitParents(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func parseIdentity(name, email, date string) Identity {
	t, _ := time.Parse(time.RFC3339, date)
	return Identity{Name: name, Email: email, Date: t}
}

// NameToCommit resolves name to a commit object id. HEAD always shells
// out directly; everything else is looked up against the scanned
// inventory (tags/NAME, heads/NAME, remotes/NAME, then raw NAME) and
// falls back to `git log -1 --pretty=%H NAME`, whose result is cached.
func (inv *Inventory) NameToCommit(ctx context.Context, name string) (string, error) {
	if name == "HEAD" {
		return inv.exec.Result(ctx, []int{0}, "log", "-1", "--pretty=%H", "HEAD")
	}

	if err := inv.ensureLoaded(ctx); err != nil {
		return "", err
	}
	if v, ok := inv.name2commit[name]; ok {
		return v, nil
	}

	if e := inv.lookupByName(name); e != nil {
		inv.name2commit[name] = e.Commit
		return e.Commit, nil
	}

	v, err := inv.exec.Result(ctx, []int{0}, "log", "-1", "--pretty=%H", name)
	if err != nil {
		return "", errors.Annotate(err, "resolving %q to a commit", name).Tag(gdterr.RefNotFound).Err()
	}
	inv.name2commit[name] = v
	return v, nil
}

// NameToSha1 resolves name to a raw object id, the same way
// NameToCommit does except the fallback is `git rev-parse NAME` and the
// cached result always lands in the sha1 cache.
func (inv *Inventory) NameToSha1(ctx context.Context, name string) (string, error) {
	if err := inv.ensureLoaded(ctx); err != nil {
		return "", err
	}
	if v, ok := inv.name2sha1[name]; ok {
		return v, nil
	}

	if e := inv.lookupByName(name); e != nil {
		inv.name2sha1[name] = e.SHA1
		return e.SHA1, nil
	}

	v, err := inv.exec.Result(ctx, []int{0}, "rev-parse", name)
	if err != nil {
		return "", errors.Annotate(err, "resolving %q to an object id", name).Tag(gdterr.RefNotFound).Err()
	}
	inv.name2sha1[name] = v
	return v, nil
}

func (inv *Inventory) lookupByName(name string) *Entry {
	if e := inv.byBarename[CategoryTag][name]; e != nil {
		return e
	}
	if m := inv.byBarename[CategoryBranch]; m != nil {
		if e := m[name]; e != nil && e.Type == TypeLocal {
			return e
		}
		if e := m[name]; e != nil && e.Type == TypeRemote {
			return e
		}
	}
	if e, ok := inv.entries[name]; ok {
		return e
	}
	return nil
}

// IsAnnotatedTag reports whether name is an annotated tag, returning its
// target commit and its own object id.
func (inv *Inventory) IsAnnotatedTag(ctx context.Context, name string) (commit, sha1 string, ok bool) {
	if err := inv.ensureLoaded(ctx); err != nil {
		return "", "", false
	}
	e := inv.byBarename[CategoryTag][name]
	if e == nil || e.Type != TypeObject {
		return "", "", false
	}
	return e.Commit, e.SHA1, true
}

var dateRe = regexp.MustCompile(`\D(20\d{6})[_-]?(\d+)?`)

func extractDateKey(name string) (string, bool) {
	m := dateRe.FindStringSubmatch("_" + name)
	if m == nil {
		return "", false
	}
	return m[1] + m[2], true
}

// SortedTags returns every tag barename (annotated and lightweight),
// sorted descending by the date extracted from the name so that
// HEAD-matching scans find a hit as early as possible. Tags without a
// parseable date sort last, alphabetically; the sort is stable so tags
// sharing a date key keep their alphabetical relative order.
func (inv *Inventory) SortedTags(ctx context.Context) ([]string, error) {
	if err := inv.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(inv.byBarename[CategoryTag]))
	for n := range inv.byBarename[CategoryTag] {
		names = append(names, n)
	}
	sort.Strings(names)

	keys := make(map[string]string, len(names))
	has := make(map[string]bool, len(names))
	for _, n := range names {
		k, ok := extractDateKey(n)
		keys[n] = k
		has[n] = ok
	}

	sort.SliceStable(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if has[a] != has[b] {
			return has[a]
		}
		if has[a] && has[b] && keys[a] != keys[b] {
			return keys[a] > keys[b]
		}
		return false
	})
	return names, nil
}

// FilterByDate retains names whose extracted date is >= cutoff
// (YYYYMMDD); names without a parseable date are always retained.
func FilterByDate(cutoff string, names []string) []string {
	cutoffN, cerr := strconv.Atoi(cutoff)
	out := make([]string, 0, len(names))
	for _, n := range names {
		k, ok := extractDateKey(n)
		if !ok || cerr != nil {
			out = append(out, n)
			continue
		}
		if len(k) < 8 {
			out = append(out, n)
			continue
		}
		dn, err := strconv.Atoi(k[:8])
		if err != nil || dn >= cutoffN {
			out = append(out, n)
		}
	}
	return out
}

// NamesMatchingHead returns the subset of names whose NameToCommit
// equals HEAD's. mode "first" stops at (and returns only) the first
// match; mode "list" returns every match.
func (inv *Inventory) NamesMatchingHead(ctx context.Context, mode string, names []string) ([]string, error) {
	head, err := inv.NameToCommit(ctx, "HEAD")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		c, err := inv.NameToCommit(ctx, n)
		if err != nil {
			return nil, err
		}
		if c == head {
			out = append(out, n)
			if mode == "first" {
				return out, nil
			}
		}
	}
	return out, nil
}

var branchPriority = []string{"trunk", "master", "origin/trunk", "origin/master"}

// BranchesReachingHead lists every branch (local and remote) that
// contains HEAD, with a fixed priority set sorted first and everything
// else alphabetical after.
func (inv *Inventory) BranchesReachingHead(ctx context.Context) ([]string, error) {
	out, err := inv.exec.Result(ctx, []int{0}, "branch", "-a", "--contains", "HEAD")
	if err != nil {
		return nil, err
	}

	var names []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(line, "*"))
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "->") {
			continue
		}
		names = append(names, line)
	}

	priority := make(map[string]int, len(branchPriority))
	for i, p := range branchPriority {
		priority[p] = i
	}

	sort.SliceStable(names, func(i, j int) bool {
		pi, oki := priority[names[i]]
		pj, okj := priority[names[j]]
		switch {
		case oki && okj:
			return pi < pj
		case oki:
			return true
		case okj:
			return false
		default:
			return names[i] < names[j]
		}
	})
	return names, nil
}
