// Package deployfile writes and reads the human-readable artifact a
// deployed host keeps to identify which commit it is running.
package deployfile

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"

	"github.com/luci-deploytool/gdt/internal/refs"
)

// Write assembles and writes the deploy file at path, substituting
// "%TAG" with tag in every message line the same way tag creation does.
func Write(ctx context.Context, path, commit, tag, hostname, deployedBy string, messageLines []string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "commit: %s\n", commit)
	fmt.Fprintf(&b, "tag: %s\n", tag)
	fmt.Fprintf(&b, "deploy-date: %s\n", clock.Now(ctx).Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "deployed-from: %s\n", hostname)
	fmt.Fprintf(&b, "deployed-by: %s\n", deployedBy)
	b.WriteString("\n")
	for _, line := range messageLines {
		b.WriteString(strings.ReplaceAll(line, "%TAG", tag))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return errors.Annotate(err, "writing deploy file %s", path).Err()
	}
	return nil
}

var commitLineRe = regexp.MustCompile(`^commit: ([0-9a-f]{40})`)

// Read returns the deploy file's full contents, but only if its
// leading "commit:" line matches the inventory's current HEAD (the
// file's authentication check), unless skipCheck is set. Any I/O error
// is reported as an empty string, not an error, matching how a missing
// or unreadable deploy file is treated as "nothing deployed yet".
func Read(ctx context.Context, path string, skipCheck bool, inv *refs.Inventory) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}
	text := string(data)

	m := commitLineRe.FindStringSubmatch(text)
	if m == nil {
		return "", nil
	}
	if skipCheck {
		return text, nil
	}

	head, err := inv.NameToCommit(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	if m[1] != head {
		return "", nil
	}
	return text, nil
}
