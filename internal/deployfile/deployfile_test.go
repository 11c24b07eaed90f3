package deployfile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/refs"
)

func setupRepo(t *testing.T) (*gitexec.Executor, string) {
	dir, err := os.MkdirTemp("", "deployfile")
	if err != nil {
		t.Fatal(err)
	}
	e := &gitexec.Executor{Dir: dir}
	ctx := context.Background()
	run := func(args ...string) {
		if _, _, err := e.Run(ctx, args...); err != nil {
			t.Fatal(err)
		}
	}
	run("init", "-q", "-b", "master")
	run("config", "user.email", "a@example.com")
	run("config", "user.name", "A")
	if err := os.WriteFile(dir+"/f", []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", "f")
	run("commit", "-q", "-m", "init")
	return e, dir
}

func TestRoundTrip(t *testing.T) {
	Convey("Write then Read", t, func() {
		e, dir := setupRepo(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()

		head, err := e.Result(ctx, []int{0}, "rev-parse", "HEAD")
		So(err, ShouldBeNil)
		if _, _, err := e.Run(ctx, "tag", "T"); err != nil {
			t.Fatal(err)
		}

		path := filepath.Join(dir, ".deploy")
		So(Write(ctx, path, head, "T", "host", "bob", []string{"hello %TAG"}), ShouldBeNil)

		data, err := os.ReadFile(path)
		So(err, ShouldBeNil)
		lines := strings.SplitN(string(data), "\n", 2)
		So(lines[0], ShouldEqual, "commit: "+head)
		So(string(data), ShouldContainSubstring, "tag: T")
		So(string(data), ShouldContainSubstring, "hello T")

		inv := refs.New(e)
		out, err := Read(ctx, path, false, inv)
		So(err, ShouldBeNil)
		So(out, ShouldEqual, string(data))
	})

	Convey("Read returns empty when HEAD has moved on", t, func() {
		e, dir := setupRepo(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()

		head, err := e.Result(ctx, []int{0}, "rev-parse", "HEAD")
		So(err, ShouldBeNil)
		path := filepath.Join(dir, ".deploy")
		So(Write(ctx, path, head, "T", "host", "bob", nil), ShouldBeNil)

		if err := os.WriteFile(dir+"/g", []byte("y"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, _, err := e.Run(ctx, "add", "g"); err != nil {
			t.Fatal(err)
		}
		if _, _, err := e.Run(ctx, "commit", "-q", "-m", "second"); err != nil {
			t.Fatal(err)
		}

		inv := refs.New(e)
		out, err := Read(ctx, path, false, inv)
		So(err, ShouldBeNil)
		So(out, ShouldEqual, "")
	})

	Convey("Read returns empty, not an error, when the file is missing", t, func() {
		e, dir := setupRepo(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()
		inv := refs.New(e)
		out, err := Read(ctx, filepath.Join(dir, "nope"), false, inv)
		So(err, ShouldBeNil)
		So(out, ShouldEqual, "")
	})
}
