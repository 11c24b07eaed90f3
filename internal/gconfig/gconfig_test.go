package gconfig

import (
	"context"
	"os"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/luci-deploytool/gdt/internal/gitexec"
)

func newTestStore(t *testing.T) (*Store, string) {
	dir, err := os.MkdirTemp("", "gconfig")
	if err != nil {
		t.Fatal(err)
	}
	e := &gitexec.Executor{Dir: dir}
	ctx := context.Background()
	if _, _, err := e.Run(ctx, "init", "-q"); err != nil {
		t.Fatal(err)
	}
	return New(e), dir
}

func TestStore(t *testing.T) {
	Convey("Store", t, func() {
		s, dir := newTestStore(t)
		defer os.RemoveAll(dir)
		ctx := context.Background()

		Convey("bare and dot-leading keys resolve under deploy.", func() {
			_, _, err := s.exec.Run(ctx, "config", "deploy.hook-dir", "/hooks")
			So(err, ShouldBeNil)

			v, err := s.String(ctx, "hook-dir", nil)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "/hooks")

			v2, err := s.String(ctx, ".hook-dir", nil)
			So(err, ShouldBeNil)
			So(v2, ShouldEqual, "/hooks")
		})

		Convey("missing mandatory key fails", func() {
			_, err := s.String(ctx, "nope", nil)
			So(err, ShouldNotBeNil)
		})

		Convey("missing key with a default returns the default", func() {
			def := "fallback"
			v, err := s.String(ctx, "nope", &def)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "fallback")
		})

		Convey("bool accessor parses true/false", func() {
			_, _, err := s.exec.Run(ctx, "config", "deploy.can-make-tags", "true")
			So(err, ShouldBeNil)
			v, err := s.Bool(ctx, "can-make-tags", nil)
			So(err, ShouldBeNil)
			So(v, ShouldBeTrue)
		})

		Convey("results are memoized", func() {
			_, _, err := s.exec.Run(ctx, "config", "deploy.tag-prefix", "sheep")
			So(err, ShouldBeNil)
			v1, err := s.String(ctx, "tag-prefix", nil)
			So(err, ShouldBeNil)
			_, _, err = s.exec.Run(ctx, "config", "deploy.tag-prefix", "goat")
			So(err, ShouldBeNil)
			v2, err := s.String(ctx, "tag-prefix", nil)
			So(err, ShouldBeNil)
			So(v2, ShouldEqual, v1) // still the cached, pre-change value
		})
	})
}
