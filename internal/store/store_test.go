package store

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestStore(t *testing.T) {
	Convey("Store", t, func() {
		s, err := Open(":memory:")
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("Should report no position for unknown media", func() {
			_, ok, err := s.LoadPosition("unknown")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Should round-trip a saved position", func() {
			So(s.SavePosition("movie.mkv", 123.5), ShouldBeNil)

			pos, ok, err := s.LoadPosition("movie.mkv")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(pos, ShouldEqual, 123.5)
		})

		Convey("Should overwrite on a second save", func() {
			So(s.SavePosition("movie.mkv", 10), ShouldBeNil)
			So(s.SavePosition("movie.mkv", 20), ShouldBeNil)

			pos, ok, err := s.LoadPosition("movie.mkv")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(pos, ShouldEqual, 20.0)
		})

		Convey("Should ignore empty media references", func() {
			So(s.SavePosition("", 99), ShouldBeNil)
			_, ok, err := s.LoadPosition("")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("Should forget a position", func() {
			So(s.SavePosition("movie.mkv", 10), ShouldBeNil)
			So(s.Forget("movie.mkv"), ShouldBeNil)

			_, ok, err := s.LoadPosition("movie.mkv")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}
