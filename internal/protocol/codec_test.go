package protocol

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/nik012003/voyeurs/internal/playback"
)

func TestCodec(t *testing.T) {
	Convey("Codec", t, func() {
		roundTrip := func(m Message) Message {
			payload, err := Encode(m)
			So(err, ShouldBeNil)
			decoded, err := Decode(payload)
			So(err, ShouldBeNil)
			return decoded
		}

		Convey("Should round-trip every message variant", func() {
			So(roundTrip(Hello{ProtocolVersion: Version, Name: "alice"}), ShouldResemble,
				Hello{ProtocolVersion: Version, Name: "alice"})
			So(roundTrip(Ping{SentTime: 1234}), ShouldResemble, Ping{SentTime: 1234})
			So(roundTrip(Pong{EchoedTime: 1234}), ShouldResemble, Pong{EchoedTime: 1234})
			So(roundTrip(Error{Reason: "handshake failed"}), ShouldResemble,
				Error{Reason: "handshake failed"})

			st := playback.State{
				MediaRef: "http://example.com/movie.mkv",
				Position: 120.25,
				Paused:   false,
				Rate:     1.5,
				Epoch:    42,
			}
			So(roundTrip(FullState{State: st}), ShouldResemble, FullState{State: st})
			So(roundTrip(StateDelta{State: st}), ShouldResemble, StateDelta{State: st})
		})

		Convey("Should round-trip boundary values", func() {
			st := playback.State{
				MediaRef: "",
				Position: 0,
				Paused:   true,
				Rate:     math.Nextafter(0, 1),
				Epoch:    0,
			}
			So(roundTrip(FullState{State: st}), ShouldResemble, FullState{State: st})

			So(roundTrip(Ping{SentTime: 0}), ShouldResemble, Ping{SentTime: 0})
			So(roundTrip(Hello{ProtocolVersion: Version, Name: ""}), ShouldResemble,
				Hello{ProtocolVersion: Version, Name: ""})
		})

		Convey("Should reject truncated payloads as malformed", func() {
			payload, err := Encode(FullState{State: playback.State{MediaRef: "movie", Epoch: 3}})
			So(err, ShouldBeNil)

			for cut := 1; cut < len(payload); cut++ {
				_, err := Decode(payload[:cut])
				So(err, ShouldWrap, ErrMalformed)
			}
		})

		Convey("Should reject an empty payload", func() {
			_, err := Decode(nil)
			So(err, ShouldWrap, ErrMalformed)
		})

		Convey("Should reject trailing bytes after a well-formed message", func() {
			payload, err := Encode(FullState{State: playback.State{MediaRef: "movie", Epoch: 3}})
			So(err, ShouldBeNil)

			_, err = Decode(append(payload, 0xde, 0xad))
			So(err, ShouldWrap, ErrMalformed)
		})

		Convey("Should reject an unknown tag", func() {
			_, err := Decode([]byte{0xff, 0x00})
			So(err, ShouldWrap, ErrMalformed)
		})

		Convey("Should reject an unsupported Hello version", func() {
			payload, err := Encode(Hello{ProtocolVersion: Version + 1, Name: "bob"})
			So(err, ShouldBeNil)
			_, err = Decode(payload)
			So(err, ShouldWrap, ErrUnsupportedVersion)
		})

		Convey("Framing", func() {
			Convey("Should round-trip a payload through a byte stream", func() {
				payload, err := Encode(StateDelta{State: playback.State{MediaRef: "m", Epoch: 9}})
				So(err, ShouldBeNil)

				var stream bytes.Buffer
				So(WriteFrame(&stream, payload), ShouldBeNil)
				So(WriteFrame(&stream, payload), ShouldBeNil)

				for i := 0; i < 2; i++ {
					got, err := ReadFrame(&stream)
					So(err, ShouldBeNil)
					So(got, ShouldResemble, payload)
				}
			})

			Convey("Should reject a garbage length prefix", func() {
				var stream bytes.Buffer
				var lenBuf [4]byte
				binary.BigEndian.PutUint32(lenBuf[:], MaxFrameSize+1)
				stream.Write(lenBuf[:])

				_, err := ReadFrame(&stream)
				So(err, ShouldWrap, ErrMalformed)
			})

			Convey("Should reject a truncated frame body", func() {
				payload, err := Encode(Ping{SentTime: 7})
				So(err, ShouldBeNil)

				var stream bytes.Buffer
				So(WriteFrame(&stream, payload), ShouldBeNil)
				truncated := bytes.NewBuffer(stream.Bytes()[:stream.Len()-2])

				_, err = ReadFrame(truncated)
				So(err, ShouldWrap, ErrMalformed)
			})
		})
	})
}
