package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func writeHook(t *testing.T, path, body string) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0755); err != nil {
		t.Fatal(err)
	}
}

func TestDispatch(t *testing.T) {
	Convey("Dispatch", t, func() {
		root, err := os.MkdirTemp("", "hooks")
		So(err, ShouldBeNil)
		defer os.RemoveAll(root)
		ctx := context.Background()
		e := &Engine{Root: root}

		Convey("runs common then app hooks in lexicographic order, stopping on failure", func() {
			var order []string
			record := filepath.Join(root, "order")

			writeHook(t, filepath.Join(root, "apps", "common", "pre-pull.010_a.sh"),
				"#!/bin/sh\necho a >> "+record+"\n")
			writeHook(t, filepath.Join(root, "apps", "common", "pre-pull.020_b.sh"),
				"#!/bin/sh\necho b >> "+record+"\nexit 1\n")
			writeHook(t, filepath.Join(root, "apps", "myapp", "pre-pull.005_c.sh"),
				"#!/bin/sh\necho c >> "+record+"\n")

			err := e.Dispatch(ctx, "pre-pull", "myapp", false)
			So(err, ShouldNotBeNil)

			data, rerr := os.ReadFile(record)
			So(rerr, ShouldBeNil)
			order = splitLines(string(data))
			So(order, ShouldResemble, []string{"a", "b"})
		})

		Convey("ignoreExit keeps dispatching past a failing hook", func() {
			writeHook(t, filepath.Join(root, "apps", "common", "post-rollback.010.sh"),
				"#!/bin/sh\nexit 3\n")
			err := e.Dispatch(ctx, "post-rollback", "myapp", true)
			So(err, ShouldBeNil)
		})

		Convey("a non-executable hook is skipped with a warning, not a failure", func() {
			path := filepath.Join(root, "apps", "common", "pre-start.010.sh")
			writeHook(t, path, "#!/bin/sh\nexit 1\n")
			So(os.Chmod(path, 0644), ShouldBeNil)
			So(e.Dispatch(ctx, "pre-start", "myapp", false), ShouldBeNil)
		})

		Convey("SkipHooks disables dispatch entirely", func() {
			writeHook(t, filepath.Join(root, "apps", "common", "pre-start.010.sh"), "#!/bin/sh\nexit 1\n")
			e.SkipHooks = true
			So(e.Dispatch(ctx, "pre-start", "myapp", false), ShouldBeNil)
		})

		Convey("GetSyncHook finds an executable sync hook", func() {
			path := filepath.Join(root, "sync", "myapp.sync")
			writeHook(t, path, "#!/bin/sh\nexit 0\n")
			got, err := e.GetSyncHook(ctx, "myapp")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, path)
		})

		Convey("GetSyncHook warns and returns empty for a non-executable file", func() {
			path := filepath.Join(root, "sync", "myapp.sync")
			writeHook(t, path, "#!/bin/sh\nexit 0\n")
			So(os.Chmod(path, 0644), ShouldBeNil)
			got, err := e.GetSyncHook(ctx, "myapp")
			So(err, ShouldBeNil)
			So(got, ShouldEqual, "")
		})
	})
}

func splitLines(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == '\n' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
