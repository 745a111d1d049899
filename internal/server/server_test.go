package server

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/nik012003/voyeurs/internal/config"
	"github.com/nik012003/voyeurs/internal/playback"
	"github.com/nik012003/voyeurs/internal/player"
	"github.com/nik012003/voyeurs/internal/protocol"
	"github.com/nik012003/voyeurs/internal/store"
	"github.com/nik012003/voyeurs/internal/transport"
)

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// rawFollower drives the follower side of a pipe without a real client.
type rawFollower struct {
	conn transport.Conn
}

func (f *rawFollower) join(name string) error {
	payload, err := protocol.Encode(protocol.Hello{ProtocolVersion: protocol.Version, Name: name})
	if err != nil {
		return err
	}
	if err := f.conn.WriteMessage(payload); err != nil {
		return err
	}
	// Server's answering Hello.
	_, err = f.read()
	return err
}

func (f *rawFollower) read() (protocol.Message, error) {
	payload, err := f.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Decode(payload)
}

// readState skips probe traffic and returns the next state-carrying message.
func (f *rawFollower) readState() (protocol.Message, error) {
	for {
		msg, err := f.read()
		if err != nil {
			return nil, err
		}
		switch msg.(type) {
		case protocol.FullState, protocol.StateDelta:
			return msg, nil
		}
	}
}

func TestServer(t *testing.T) {
	Convey("Server", t, func() {
		cfg := config.Default()
		cfg.Name = "authority"
		initial := playback.State{MediaRef: "movie.mkv", Position: 100, Paused: false, Rate: 1.0}
		adapter := player.NewFake(initial)

		srv := New(cfg, adapter, nil, nil, clockwork.NewRealClock())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		Convey("Join-in-progress", func() {
			So(srv.seedState(), ShouldBeNil)

			connA, connB := transport.Pipe()
			go srv.HandleConn(ctx, connA)
			follower := &rawFollower{conn: connB}
			So(follower.join("bob"), ShouldBeNil)

			Convey("Should greet a new follower with a FullState, never a delta", func() {
				msg, err := follower.readState()
				So(err, ShouldBeNil)

				full, ok := msg.(protocol.FullState)
				So(ok, ShouldBeTrue)
				So(full.State.MediaRef, ShouldEqual, "movie.mkv")
				So(full.State.Epoch, ShouldEqual, 1)
				So(full.State.Rate, ShouldEqual, 1.0)
			})

			Convey("Should broadcast local changes with increasing epochs", func() {
				_, err := follower.readState() // the greeting FullState
				So(err, ShouldBeNil)

				paused := initial
				paused.Paused = true
				srv.applyLocalChange(paused)

				msg, err := follower.readState()
				So(err, ShouldBeNil)
				delta, ok := msg.(protocol.StateDelta)
				So(ok, ShouldBeTrue)
				So(delta.State.Paused, ShouldBeTrue)
				So(delta.State.Epoch, ShouldEqual, 2)

				seeked := paused
				seeked.Position = 250
				srv.applyLocalChange(seeked)

				msg, err = follower.readState()
				So(err, ShouldBeNil)
				delta, ok = msg.(protocol.StateDelta)
				So(ok, ShouldBeTrue)
				So(delta.State.Position, ShouldEqual, 250.0)
				So(delta.State.Epoch, ShouldEqual, 3)
			})

			Convey("Should remove the session when the follower disconnects", func() {
				So(waitFor(func() bool { return srv.FollowerCount() == 1 }), ShouldBeTrue)
				connB.Close()
				So(waitFor(func() bool { return srv.FollowerCount() == 0 }), ShouldBeTrue)
			})
		})

		Convey("Run", func() {
			done := make(chan error, 1)
			go func() { done <- srv.Run(ctx) }()
			So(waitFor(func() bool { return srv.currentState().Epoch >= 1 }), ShouldBeTrue)

			Convey("Should treat player-native events as authoritative changes", func() {
				adapter.EmitLocalChange(func(s *playback.State) { s.Paused = true })
				So(waitFor(func() bool {
					st := srv.currentState()
					return st.Paused && st.Epoch == 2
				}), ShouldBeTrue)
			})

			Convey("Should ignore adapter-issued echoes", func() {
				// A command issued through the adapter must not bump
				// the epoch as if a user had acted.
				So(adapter.Seek(42), ShouldBeNil)
				time.Sleep(50 * time.Millisecond)
				So(srv.currentState().Epoch, ShouldEqual, 1)
			})

			Convey("Should stop when the player goes away", func() {
				adapter.Close()
				err := <-done
				So(err, ShouldNotBeNil)
			})
		})

		Convey("Resume positions", func() {
			st, err := store.Open(":memory:")
			So(err, ShouldBeNil)
			defer st.Close()
			So(st.SavePosition("movie.mkv", 500), ShouldBeNil)

			Convey("Should seed playback from the stored position", func() {
				srv := New(cfg, adapter, st, nil, clockwork.NewRealClock())
				So(srv.seedState(), ShouldBeNil)

				So(srv.currentState().Position, ShouldBeGreaterThanOrEqualTo, 500.0)
				So(adapter.Issued(), ShouldContain, "seek")
			})

			Convey("Should ignore the stored position when running fresh", func() {
				cfg.Store.Fresh = true
				srv := New(cfg, adapter, st, nil, clockwork.NewRealClock())
				So(srv.seedState(), ShouldBeNil)

				So(adapter.Issued(), ShouldBeEmpty)
			})
		})
	})
}
