package reconcile

import (
	"math/rand"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/nik012003/voyeurs/internal/playback"
)

func TestEngine(t *testing.T) {
	Convey("Engine", t, func() {
		engine := NewEngine(DefaultConfig())

		Convey("Should be pure: identical inputs yield identical actions", func() {
			local := playback.State{MediaRef: "m", Position: 10, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 20, Rate: 1.0, Epoch: 3}
			in := Inputs{Delay: 150 * time.Millisecond}

			first := engine.Reconcile(local, auth, in)
			second := engine.Reconcile(local, auth, in)
			So(second, ShouldResemble, first)
		})

		Convey("Should compensate seeks for one-way delay", func() {
			// Authority at 120.0s playing; follower at 119.0s with a
			// 200ms delay estimate lands at 120.2s.
			local := playback.State{MediaRef: "m", Position: 119.0, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 120.0, Rate: 1.0, Epoch: 5}

			actions := engine.Reconcile(local, auth, Inputs{Delay: 200 * time.Millisecond})
			So(actions, ShouldResemble, []Action{Seek{Target: 120.2}})
		})

		Convey("Should not compensate while paused", func() {
			local := playback.State{MediaRef: "m", Position: 10, Paused: true, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 20, Paused: true, Rate: 1.0, Epoch: 2}

			actions := engine.Reconcile(local, auth, Inputs{Delay: 200 * time.Millisecond})
			So(actions, ShouldResemble, []Action{Seek{Target: 20.0}})
		})

		Convey("Should tolerate drift below threshold", func() {
			local := playback.State{MediaRef: "m", Position: 100.25, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 100.0, Rate: 1.0, Epoch: 4}

			So(engine.Reconcile(local, auth, Inputs{}), ShouldBeEmpty)
		})

		Convey("Should never seek under simulated jitter within tolerance", func() {
			rng := rand.New(rand.NewSource(1))
			auth := playback.State{MediaRef: "m", Position: 300.0, Rate: 1.0, Epoch: 9}

			for i := 0; i < 1000; i++ {
				jitter := (rng.Float64()*2 - 1) * 0.05 // ±50ms
				local := playback.State{MediaRef: "m", Position: 300.0 + jitter, Rate: 1.0}
				So(engine.Reconcile(local, auth, Inputs{}), ShouldBeEmpty)
			}
		})

		Convey("Should extrapolate the authoritative position by elapsed time", func() {
			// Snapshot taken 2s ago at 100.0s playing: the implied
			// position is 102.0s, so a follower at 101.9s is in sync.
			local := playback.State{MediaRef: "m", Position: 101.9, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 100.0, Rate: 1.0, Epoch: 6}

			So(engine.Reconcile(local, auth, Inputs{Elapsed: 2 * time.Second}), ShouldBeEmpty)
		})

		Convey("Should use the conservative tolerance while degraded", func() {
			local := playback.State{MediaRef: "m", Position: 100.5, Rate: 1.0}
			auth := playback.State{MediaRef: "m", Position: 100.0, Rate: 1.0, Epoch: 4}

			Convey("500ms drift corrects normally", func() {
				So(engine.Reconcile(local, auth, Inputs{}), ShouldResemble,
					[]Action{Seek{Target: 100.0}})
			})

			Convey("500ms drift is tolerated when degraded", func() {
				So(engine.Reconcile(local, auth, Inputs{Degraded: true}), ShouldBeEmpty)
			})
		})

		Convey("Should pin the full target state on a media change", func() {
			local := playback.State{MediaRef: "old", Position: 55, Paused: true, Rate: 1.0}
			auth := playback.State{MediaRef: "new", Position: 10, Paused: false, Rate: 1.25, Epoch: 8}

			actions := engine.Reconcile(local, auth, Inputs{Delay: 100 * time.Millisecond})
			So(actions, ShouldResemble, []Action{
				LoadMedia{MediaRef: "new"},
				Seek{Target: 10.1},
				SetPaused{Paused: false},
				SetRate{Rate: 1.25},
			})
		})

		Convey("Should fully initialize an uninitialized local state", func() {
			// A freshly joined follower has the zero state; the first
			// FullState must set everything.
			var local playback.State
			auth := playback.State{MediaRef: "movie", Position: 60, Paused: true, Rate: 1.0, Epoch: 1}

			actions := engine.Reconcile(local, auth, Inputs{})
			So(actions, ShouldResemble, []Action{
				LoadMedia{MediaRef: "movie"},
				Seek{Target: 60.0},
				SetPaused{Paused: true},
				SetRate{Rate: 1.0},
			})
		})

		Convey("Paused mismatch", func() {
			Convey("Should seek past the reported position when resuming", func() {
				local := playback.State{MediaRef: "m", Position: 80, Paused: true, Rate: 1.0}
				auth := playback.State{MediaRef: "m", Position: 80, Paused: false, Rate: 1.0, Epoch: 3}

				actions := engine.Reconcile(local, auth, Inputs{Delay: 250 * time.Millisecond})
				So(actions, ShouldResemble, []Action{
					SetPaused{Paused: false},
					Seek{Target: 80.25},
				})
			})

			Convey("Should only pause when pausing", func() {
				local := playback.State{MediaRef: "m", Position: 80, Paused: false, Rate: 1.0}
				auth := playback.State{MediaRef: "m", Position: 80, Paused: true, Rate: 1.0, Epoch: 3}

				actions := engine.Reconcile(local, auth, Inputs{Delay: 250 * time.Millisecond})
				So(actions, ShouldResemble, []Action{SetPaused{Paused: true}})
			})
		})

		Convey("Rate mismatch", func() {
			local := playback.State{MediaRef: "m", Position: 50, Rate: 1.0}

			Convey("Should correct beyond tolerance", func() {
				auth := playback.State{MediaRef: "m", Position: 50, Rate: 1.5, Epoch: 2}
				So(engine.Reconcile(local, auth, Inputs{}), ShouldResemble,
					[]Action{SetRate{Rate: 1.5}})
			})

			Convey("Should tolerate within tolerance", func() {
				auth := playback.State{MediaRef: "m", Position: 50, Rate: 1.005, Epoch: 2}
				So(engine.Reconcile(local, auth, Inputs{}), ShouldBeEmpty)
			})
		})
	})
}
