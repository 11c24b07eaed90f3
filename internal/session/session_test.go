package session

import (
	"context"
	"os"
	"regexp"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/luci-deploytool/gdt/internal/gitexec"
	"github.com/luci-deploytool/gdt/internal/refs"
)

func setupRepo(t *testing.T) (*Session, string) {
	dir, err := os.MkdirTemp("", "session")
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
	return &Session{GitDir: dir, Exec: e}, dir
}

func TestSession(t *testing.T) {
	Convey("Session", t, func() {
		s, dir := setupRepo(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()

		Convey("Start on a clean HEAD writes exactly one start: line", func() {
			So(s.Start(ctx, "", nil), ShouldBeNil)

			st, err := s.State()
			So(err, ShouldBeNil)
			So(st, ShouldEqual, Started)

			lines, err := s.Log()
			So(err, ShouldBeNil)
			So(lines, ShouldHaveLength, 1)

			re := regexp.MustCompile(`^start:\t\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\tmaster\t[a-f0-9]{40}\t\d+\talice$`)
			So(re.MatchString(lines[0]), ShouldBeTrue)
		})

		Convey("concurrent start fails without touching the existing log", func() {
			So(s.Start(ctx, "", nil), ShouldBeNil)
			before, _ := s.Log()

			err := s.Start(ctx, "", nil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "one is already in progress")

			after, _ := s.Log()
			So(after, ShouldResemble, before)
		})

		Convey("abort clears all on-disk session state", func() {
			So(s.Start(ctx, "", nil), ShouldBeNil)
			So(s.Transition(ctx, "abort"), ShouldBeNil)
			So(s.Cleanup(), ShouldBeNil)

			_, err := os.Stat(s.dir())
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("sync before start fails with the expected message", func() {
			err := s.Transition(ctx, "sync")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "havent started yet")
		})

		Convey("a block file short-circuits before any directory is created", func() {
			err := s.Start(ctx, "maintenance window", nil)
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "maintenance window")
			_, statErr := os.Stat(s.dir())
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})

		Convey("finish requires a prior sync", func() {
			So(s.Start(ctx, "", nil), ShouldBeNil)
			err := s.Transition(ctx, "finish")
			So(err, ShouldNotBeNil)
		})

		Convey("sync then finish succeeds and a second finish would see FinishInProgress", func() {
			So(s.Start(ctx, "", nil), ShouldBeNil)
			So(s.Transition(ctx, "sync"), ShouldBeNil)
			So(s.Transition(ctx, "finish"), ShouldBeNil)

			st, err := s.State()
			So(err, ShouldBeNil)
			So(st, ShouldEqual, Finishing)

			err = s.Transition(ctx, "finish")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "someone is just finishing a rollout")
		})

		Convey("the finnish typo is guarded with a helpful error", func() {
			err := s.Transition(ctx, "finnish")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "finish")
		})

		Convey("tag info sidecar round-trips while HEAD is unchanged", func() {
			head, err := s.Exec.Result(ctx, []int{0}, "rev-parse", "HEAD")
			So(err, ShouldBeNil)
			if _, _, err := s.Exec.Run(ctx, "tag", "sheep-start-20230101-0000"); err != nil {
				t.Fatal(err)
			}
			So(s.StoreTagInfo(Rollback, head, "sheep-start-20230101-0000"), ShouldBeNil)

			inv := refs.New(s.Exec)
			tag, err := s.FetchTagInfo(ctx, Rollback, inv)
			So(err, ShouldBeNil)
			So(tag, ShouldEqual, "sheep-start-20230101-0000")
		})

		Convey("Guard fast-fails the same way Transition would, without a lock", func() {
			err := s.Guard("sync")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "havent started yet")

			So(s.Start(ctx, "", nil), ShouldBeNil)
			So(s.Guard("sync"), ShouldBeNil)
			So(s.Guard("finnish").Error(), ShouldContainSubstring, "finish")
		})
	})
}
