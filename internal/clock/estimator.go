package clock

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// One-way delay is estimated as RTT/2 smoothed with an exponentially
// weighted moving average. Outliers are excluded from the average but a
// persistent run of them flags the connection as degraded.

const (
	// ewmaWeight is the weight given to each new RTT sample.
	ewmaWeight = 0.2
	// outlierFactor marks a sample as an outlier when it exceeds this
	// multiple of the smoothed RTT.
	outlierFactor = 3
	// outlierStreakLimit raises the degraded flag after this many
	// consecutive outliers.
	outlierStreakLimit = 3
	// sampleWindow bounds the retained raw samples, used for stats only.
	sampleWindow = 16
)

// ErrUnmatchedPong marks a pong whose echoed timestamp does not correspond
// to any outstanding ping, or that claims a negative round trip.
var ErrUnmatchedPong = errors.New("clock: unmatched pong")

// Estimator maintains a rolling one-way delay estimate for one connection.
// Timestamps are milliseconds since the connection start so both ends work
// in connection-relative time and wall-clock skew never enters the math.
type Estimator struct {
	clock clockwork.Clock
	start time.Time

	mu            sync.Mutex
	pending       map[int64]struct{}
	samples       []time.Duration
	smoothedRTT   time.Duration
	outlierStreak int
	degraded      bool
}

// NewEstimator creates an estimator anchored at the connection start.
func NewEstimator(clk clockwork.Clock) *Estimator {
	return &Estimator{
		clock:   clk,
		start:   clk.Now(),
		pending: make(map[int64]struct{}),
	}
}

// NowMillis returns the current connection-relative timestamp, the unit
// carried in Ping.SentTime and Pong.EchoedTime.
func (e *Estimator) NowMillis() int64 {
	return e.clock.Since(e.start).Milliseconds()
}

// RecordPingSent registers an outstanding probe.
func (e *Estimator) RecordPingSent(sentTime int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[sentTime] = struct{}{}
}

// RecordPongReceived matches a pong against its outstanding ping and folds
// the measured round trip into the estimate. It returns the raw RTT.
func (e *Estimator) RecordPongReceived(echoedTime int64) (time.Duration, error) {
	now := e.NowMillis()

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.pending[echoedTime]; !ok {
		return 0, ErrUnmatchedPong
	}
	delete(e.pending, echoedTime)

	if now < echoedTime {
		return 0, ErrUnmatchedPong
	}
	rtt := time.Duration(now-echoedTime) * time.Millisecond

	if e.smoothedRTT > 0 && rtt > outlierFactor*e.smoothedRTT {
		e.outlierStreak++
		if e.outlierStreak >= outlierStreakLimit {
			e.degraded = true
		}
		return rtt, nil
	}

	e.outlierStreak = 0
	e.degraded = false

	if e.smoothedRTT == 0 {
		e.smoothedRTT = rtt
	} else {
		e.smoothedRTT = time.Duration((1-ewmaWeight)*float64(e.smoothedRTT) + ewmaWeight*float64(rtt))
	}

	e.samples = append(e.samples, rtt)
	if len(e.samples) > sampleWindow {
		e.samples = e.samples[1:]
	}

	return rtt, nil
}

// OneWayDelay returns the current estimate of network transit time,
// half the smoothed round trip. Zero until the first sample lands.
func (e *Estimator) OneWayDelay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.smoothedRTT / 2
}

// Degraded reports whether recent samples have been persistently outlying,
// meaning the estimate should not be trusted for aggressive correction.
func (e *Estimator) Degraded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.degraded
}

// SampleCount returns how many samples are retained in the stats window.
func (e *Estimator) SampleCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}
