// Package timing implements the in-memory timing ledger: an ordered
// list of (tag, timestamp, delta-since-previous, delta-since-matching-
// start) records, optionally flushed to disk at process exit.
package timing

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/logging"
)

// Record is one timing-ledger entry.
type Record struct {
	Tag        string
	Timestamp  float64 // seconds since the Unix epoch
	DeltaPrev  float64 // seconds since the previous record
	DeltaStart float64 // seconds since the matching "_start" tag, or -1
}

// Ledger is a process-wide, append-only list of timing records.
// Flush only writes anything if Enabled is set, so that the ledger
// carries no cost for invocations that never asked for timing output.
type Ledger struct {
	Enabled bool

	records []Record
}

var sanitizeRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func sanitize(tag string) string {
	return sanitizeRe.ReplaceAllString(tag, "_")
}

// Push records tag at the current time. The first call a process makes
// is conventionally "gdt_start", a synthetic marker for process start.
func (l *Ledger) Push(ctx context.Context, tag string) {
	tag = sanitize(tag)
	ts := float64(clock.Now(ctx).UnixNano()) / 1e9

	var deltaPrev float64
	if n := len(l.records); n > 0 {
		deltaPrev = ts - l.records[n-1].Timestamp
	}

	deltaStart := -1.0
	if startTag, ok := matchingStartTag(tag); ok {
		for i := len(l.records) - 1; i >= 0; i-- {
			if l.records[i].Tag == startTag {
				deltaStart = ts - l.records[i].Timestamp
				break
			}
		}
	}

	l.records = append(l.records, Record{Tag: tag, Timestamp: ts, DeltaPrev: deltaPrev, DeltaStart: deltaStart})
}

func matchingStartTag(tag string) (string, bool) {
	const suffix = "_end"
	if !strings.HasSuffix(tag, suffix) {
		return "", false
	}
	return strings.TrimSuffix(tag, suffix) + "_start", true
}

// Records returns a copy of every pushed record, in push order.
func (l *Ledger) Records() []Record {
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// DefaultPath is the fixed on-disk destination spec'd for the timing
// dump, keyed by the ledger's first ("gdt_start") timestamp.
func (l *Ledger) DefaultPath() string {
	start := 0.0
	if len(l.records) > 0 {
		start = l.records[0].Timestamp
	}
	return fmt.Sprintf("/var/log/deploy/timing_gdt-%d.txt", int64(start))
}

// Flush writes the ledger to path (DefaultPath() if empty) as a
// header comment with the invocation's arguments followed by
// tab-separated rows. It is a no-op unless Enabled is set, and I/O
// failures are warned, not fatal.
func (l *Ledger) Flush(ctx context.Context, path string, args []string) {
	if !l.Enabled {
		return
	}
	if path == "" {
		path = l.DefaultPath()
	}

	f, err := os.Create(path)
	if err != nil {
		logging.Warningf(ctx, "could not write timing ledger to %s: %v", path, err)
		return
	}
	defer f.Close()

	fmt.Fprintf(f, "# %s\n", strings.Join(args, " "))
	for _, r := range l.records {
		fmt.Fprintf(f, "%s\t%f\t%f\t%f\n", r.Tag, r.Timestamp, r.DeltaPrev, r.DeltaStart)
	}
}
