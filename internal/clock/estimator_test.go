package clock

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEstimator(t *testing.T) {
	Convey("Estimator", t, func() {
		clk := clockwork.NewFakeClock()
		est := NewEstimator(clk)

		// probe sends a ping now and receives its pong rtt later.
		probe := func(rtt time.Duration) (time.Duration, error) {
			sent := est.NowMillis()
			est.RecordPingSent(sent)
			clk.Advance(rtt)
			return est.RecordPongReceived(sent)
		}

		Convey("Should seed the estimate with the first sample", func() {
			rtt, err := probe(100 * time.Millisecond)
			So(err, ShouldBeNil)
			So(rtt, ShouldEqual, 100*time.Millisecond)
			So(est.OneWayDelay(), ShouldEqual, 50*time.Millisecond)
		})

		Convey("Should smooth subsequent samples with the EWMA weight", func() {
			_, err := probe(100 * time.Millisecond)
			So(err, ShouldBeNil)
			_, err = probe(200 * time.Millisecond)
			So(err, ShouldBeNil)

			// 0.8*100ms + 0.2*200ms = 120ms smoothed, 60ms one-way.
			So(est.OneWayDelay(), ShouldEqual, 60*time.Millisecond)
			So(est.SampleCount(), ShouldEqual, 2)
		})

		Convey("Should report zero delay before any sample", func() {
			So(est.OneWayDelay(), ShouldEqual, 0)
		})

		Convey("Should reject a pong with no matching ping", func() {
			_, err := est.RecordPongReceived(12345)
			So(err, ShouldWrap, ErrUnmatchedPong)
		})

		Convey("Should reject a duplicate pong", func() {
			sent := est.NowMillis()
			est.RecordPingSent(sent)
			clk.Advance(50 * time.Millisecond)
			_, err := est.RecordPongReceived(sent)
			So(err, ShouldBeNil)
			_, err = est.RecordPongReceived(sent)
			So(err, ShouldWrap, ErrUnmatchedPong)
		})

		Convey("Outliers", func() {
			_, err := probe(100 * time.Millisecond)
			So(err, ShouldBeNil)

			Convey("Should exclude a single outlier from the average", func() {
				_, err := probe(time.Second)
				So(err, ShouldBeNil)
				So(est.OneWayDelay(), ShouldEqual, 50*time.Millisecond)
				So(est.Degraded(), ShouldBeFalse)
			})

			Convey("Should flag the connection degraded after persistent outliers", func() {
				for i := 0; i < 3; i++ {
					_, err := probe(time.Second)
					So(err, ShouldBeNil)
				}
				So(est.Degraded(), ShouldBeTrue)
				So(est.OneWayDelay(), ShouldEqual, 50*time.Millisecond)

				Convey("Should clear the flag on the next normal sample", func() {
					_, err := probe(110 * time.Millisecond)
					So(err, ShouldBeNil)
					So(est.Degraded(), ShouldBeFalse)
				})
			})
		})

		Convey("Should bound the retained sample window", func() {
			for i := 0; i < sampleWindow+5; i++ {
				_, err := probe(100 * time.Millisecond)
				So(err, ShouldBeNil)
			}
			So(est.SampleCount(), ShouldEqual, sampleWindow)
		})
	})
}
