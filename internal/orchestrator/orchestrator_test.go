package orchestrator

import (
	"context"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/luci-deploytool/gdt/internal/gconfig"
	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/hooks"
	"github.com/luci-deploytool/gdt/internal/refs"
	"github.com/luci-deploytool/gdt/internal/reporter"
	"github.com/luci-deploytool/gdt/internal/session"
	"github.com/luci-deploytool/gdt/internal/tags"
	"github.com/luci-deploytool/gdt/internal/timing"
)

func setupToolkit(t *testing.T) (*Toolkit, string) {
	dir, err := os.MkdirTemp("", "orchestrator")
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
	os.Setenv("USER", "alice")

	inv := refs.New(e)
	gitDir := dir + "/.git"
	tk := &Toolkit{
		RepoRoot: dir,
		GitDir:   gitDir,
		Exec:     e,
		Config:   gconfig.New(e),
		Inv:      inv,
		Tags:     &tags.Service{Exec: e, Inv: inv},
		Sess:     &session.Session{GitDir: gitDir, Exec: e},
		Hooks:    &hooks.Engine{},
		Timing:   &timing.Ledger{},
		Report:   &reporter.Reporter{Out: os.Stderr},
	}
	return tk, dir
}

func TestOrchestrator(t *testing.T) {
	Convey("Orchestrator", t, func() {
		tk, dir := setupToolkit(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()

		Convey("Start with no remote creates the session and a start tag", func() {
			err := tk.Start(ctx, StartOptions{NoRemote: true})
			So(err, ShouldBeNil)

			st, err := tk.Sess.State()
			So(err, ShouldBeNil)
			So(st, ShouldEqual, session.Started)

			tag, err := tk.Sess.FetchTagInfo(ctx, session.Rollback, tk.Inv)
			So(err, ShouldBeNil)
			So(tag, ShouldStartWith, "start-")
		})

		Convey("Abort right after Start tears down the session", func() {
			So(tk.Start(ctx, StartOptions{NoRemote: true}), ShouldBeNil)
			So(tk.Abort(ctx), ShouldBeNil)

			st, err := tk.Sess.State()
			So(err, ShouldBeNil)
			So(st, ShouldEqual, session.Absent)
		})

		Convey("Tag creates a free-standing tag at HEAD", func() {
			name, err := tk.Tag(ctx, "checkpoint", "")
			So(err, ShouldBeNil)
			So(name, ShouldEqual, "checkpoint")
		})

		Convey("Status and Log report Absent before any rollout", func() {
			status, err := tk.Status(ctx)
			So(err, ShouldBeNil)
			So(status, ShouldContainSubstring, "state: ABSENT")

			lines, err := tk.Log(ctx)
			So(err, ShouldBeNil)
			So(lines, ShouldBeEmpty)
		})

		Convey("Diff against the rollback tag after Start succeeds", func() {
			So(tk.Start(ctx, StartOptions{NoRemote: true}), ShouldBeNil)
			if err := os.WriteFile(dir+"/g", []byte("y"), 0644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := tk.Exec.Run(ctx, "add", "g"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := tk.Exec.Run(ctx, "commit", "-q", "-m", "second"); err != nil {
				t.Fatal(err)
			}

			out, err := tk.Diff(ctx, "", "")
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "g")
		})

		Convey("ShowTag lists the most recent tag by default", func() {
			_, err := tk.Tag(ctx, "zzz-20990101-0000", "")
			So(err, ShouldBeNil)

			names, err := tk.ShowTag(ctx, ShowTagOptions{})
			So(err, ShouldBeNil)
			So(names, ShouldHaveLength, 1)
			So(names[0], ShouldEqual, "zzz-20990101-0000")
		})

		Convey("ShowTag --list reports every tag at HEAD, not just one", func() {
			_, err := tk.Tag(ctx, "zzz-20990101-0000", "")
			So(err, ShouldBeNil)
			_, err = tk.Tag(ctx, "yyy-20990101-0000", "")
			So(err, ShouldBeNil)

			names, err := tk.ShowTag(ctx, ShowTagOptions{List: true})
			So(err, ShouldBeNil)
			So(names, ShouldHaveLength, 2)
		})

		Convey("Revert rolls the tree back and tears the session down", func() {
			So(tk.Start(ctx, StartOptions{NoRemote: true}), ShouldBeNil)

			if err := os.WriteFile(dir+"/g", []byte("y"), 0644); err != nil {
				t.Fatal(err)
			}
			if _, _, err := tk.Exec.Run(ctx, "add", "g"); err != nil {
				t.Fatal(err)
			}
			if _, _, err := tk.Exec.Run(ctx, "commit", "-q", "-m", "second"); err != nil {
				t.Fatal(err)
			}
			So(tk.Sync(ctx, SyncOptions{NoRemote: true}), ShouldBeNil)

			So(tk.Revert(ctx), ShouldBeNil)

			st, err := tk.Sess.State()
			So(err, ShouldBeNil)
			So(st, ShouldEqual, session.Absent)

			_, err = os.Stat(dir + "/g")
			So(os.IsNotExist(err), ShouldBeTrue)
		})
	})
}
