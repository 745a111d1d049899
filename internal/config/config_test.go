package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	Convey("Config", t, func() {
		Convey("Should provide the stock thresholds by default", func() {
			cfg, err := Load("")
			So(err, ShouldBeNil)
			So(cfg.Role, ShouldEqual, "authority")
			So(cfg.DriftTolerance(), ShouldEqual, 300*time.Millisecond)
			So(cfg.LivenessWindow(), ShouldEqual, 15*time.Second)
			So(cfg.HandshakeTimeout(), ShouldEqual, 5*time.Second)
			So(cfg.FullStateInterval(), ShouldEqual, 10*time.Second)
			So(cfg.PingInterval(), ShouldEqual, 2*time.Second)
		})

		Convey("Should layer a YAML file over the defaults", func() {
			path := filepath.Join(t.TempDir(), "config.yaml")
			err := os.WriteFile(path, []byte(`
role: follower
name: bob
server:
  addr: example.com:7979
sync:
  drift_tolerance_ms: 500
`), 0o644)
			So(err, ShouldBeNil)

			cfg, err := Load(path)
			So(err, ShouldBeNil)
			So(cfg.Role, ShouldEqual, "follower")
			So(cfg.Name, ShouldEqual, "bob")
			So(cfg.Server.Addr, ShouldEqual, "example.com:7979")
			So(cfg.DriftTolerance(), ShouldEqual, 500*time.Millisecond)
			// Untouched values keep their defaults.
			So(cfg.LivenessWindow(), ShouldEqual, 15*time.Second)
		})

		Convey("Should apply environment overrides", func() {
			t.Setenv("VOYEURS_ROLE", "follower")
			t.Setenv("VOYEURS_SERVER_ADDR", "10.0.0.1:7979")
			t.Setenv("VOYEURS_DRIFT_TOLERANCE_MS", "150")

			cfg, err := Load("")
			So(err, ShouldBeNil)
			So(cfg.Role, ShouldEqual, "follower")
			So(cfg.Server.Addr, ShouldEqual, "10.0.0.1:7979")
			So(cfg.DriftTolerance(), ShouldEqual, 150*time.Millisecond)
		})

		Convey("Should reject an unknown role", func() {
			t.Setenv("VOYEURS_ROLE", "spectator")
			_, err := Load("")
			So(err, ShouldNotBeNil)
		})

		Convey("Should reject a follower with no server address", func() {
			t.Setenv("VOYEURS_ROLE", "follower")
			t.Setenv("VOYEURS_SERVER_ADDR", "")
			_, err := Load("")
			So(err, ShouldNotBeNil)
		})

		Convey("Should reject a missing config file", func() {
			_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
			So(err, ShouldNotBeNil)
		})
	})
}
