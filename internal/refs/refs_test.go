package refs

import (
	"context"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/luci-deploytool/gdt/internal/gitexec"
)

func setupRepo(t *testing.T) (*gitexec.Executor, string) {
	dir, err := os.MkdirTemp("", "refs")
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

func TestInventory(t *testing.T) {
	Convey("Inventory", t, func() {
		e, dir := setupRepo(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()
		inv := New(e)

		Convey("NameToCommit(HEAD) matches git log directly", func() {
			c, err := inv.NameToCommit(ctx, "HEAD")
			So(err, ShouldBeNil)
			So(len(c), ShouldEqual, 40)

			want, err := e.Result(ctx, []int{0}, "log", "-1", "--pretty=%H", "HEAD")
			So(err, ShouldBeNil)
			So(c, ShouldEqual, want)
		})

		Convey("lightweight tag is not annotated, annotated tag sha1 differs from commit", func() {
			if _, _, err := e.Run(ctx, "tag", "lightweight"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := e.Run(ctx, "tag", "-m", "msg", "annotated"); err != nil {
				t.Fatal(err)
			}

			_, _, ok := inv.IsAnnotatedTag(ctx, "lightweight")
			So(ok, ShouldBeFalse)

			commit, sha1, ok := inv.IsAnnotatedTag(ctx, "annotated")
			So(ok, ShouldBeTrue)
			So(sha1, ShouldNotEqual, commit)
		})

		Convey("NamesMatchingHead first vs list", func() {
			if _, _, err := e.Run(ctx, "tag", "a"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := e.Run(ctx, "tag", "b"); err != nil {
				t.Fatal(err)
			}
			first, err := inv.NamesMatchingHead(ctx, "first", []string{"a", "b"})
			So(err, ShouldBeNil)
			So(first, ShouldHaveLength, 1)

			inv.Clear()
			list, err := inv.NamesMatchingHead(ctx, "list", []string{"a", "b"})
			So(err, ShouldBeNil)
			So(list, ShouldHaveLength, 2)
		})

		Convey("NamesMatchingHead on an empty list returns no error", func() {
			out, err := inv.NamesMatchingHead(ctx, "first", nil)
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
		})

		Convey("SortedTags puts dated tags first, descending, undated last", func() {
			for _, n := range []string{"app-20200101-0000", "app-20230601-0000", "nodate"} {
				if _, _, err := e.Run(ctx, "tag", n); err != nil {
					t.Fatal(err)
				}
			}
			sorted, err := inv.SortedTags(ctx)
			So(err, ShouldBeNil)
			So(sorted, ShouldResemble, []string{"app-20230601-0000", "app-20200101-0000", "nodate"})
		})

		Convey("FilterByDate keeps undated names and dated names at/after cutoff", func() {
			names := []string{"app-20200101-0000", "app-20230601-0000", "nodate"}
			out := FilterByDate("20210101", names)
			So(out, ShouldResemble, []string{"app-20230601-0000", "nodate"})
		})
	})
}
