// Package client implements the follower role: it connects to the
// authority, applies received state through the reconciliation engine,
// and reconnects with bounded backoff when the link drops.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/config"
	"github.com/nik012003/voyeurs/internal/playback"
	"github.com/nik012003/voyeurs/internal/player"
	"github.com/nik012003/voyeurs/internal/protocol"
	"github.com/nik012003/voyeurs/internal/reconcile"
	"github.com/nik012003/voyeurs/internal/session"
	"github.com/nik012003/voyeurs/internal/transport"
)

// ErrGaveUp is returned when the reconnect attempt limit is exhausted.
// There is no fallback authority, so this is fatal for the operator.
var ErrGaveUp = errors.New("client: reconnect attempts exhausted")

const (
	adapterRetries    = 3
	adapterRetryDelay = 200 * time.Millisecond
)

// applyJob is one authoritative snapshot queued for the player. Jobs are
// idempotent snapshots, so when the queue overflows the oldest is dropped:
// only the newest matters.
type applyJob struct {
	state    playback.State
	arrived  time.Time
	delay    time.Duration
	degraded bool
}

// Client is one follower process.
type Client struct {
	cfg     *config.Config
	clock   clockwork.Clock
	adapter player.Adapter
	engine  reconcile.Engine

	applyCh chan applyJob

	mu            sync.Mutex
	authoritative playback.State
	authArrived   time.Time
	appliedEpoch  uint64
	degradedLocal bool
}

// New creates a follower.
func New(cfg *config.Config, adapter player.Adapter, clk clockwork.Clock) *Client {
	return &Client{
		cfg:     cfg,
		clock:   clk,
		adapter: adapter,
		engine: reconcile.NewEngine(reconcile.Config{
			DriftTolerance:         cfg.DriftTolerance(),
			DegradedDriftTolerance: cfg.DegradedDriftTolerance(),
			RateTolerance:          cfg.Sync.RateTolerance,
		}),
		applyCh: make(chan applyJob, cfg.Sync.ApplyQueueSize),
	}
}

// Run connects to the authority and keeps the local player in lockstep
// until the context is cancelled or the reconnect budget runs out.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.applyLoop(ctx)

	attempts := 0
	delay := c.cfg.ReconnectBaseDelay()

	for {
		sess, err := c.connect(ctx)
		if err != nil {
			attempts++
			if attempts >= c.cfg.Reconnect.MaxAttempts {
				return fmt.Errorf("%w: last error: %v", ErrGaveUp, err)
			}
			log.Warn().
				Err(err).
				Int("attempt", attempts).
				Dur("backoff", delay).
				Msg("connect failed, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-c.clock.After(delay):
			}
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay() {
				delay = c.cfg.ReconnectMaxDelay()
			}
			continue
		}

		// Connected: reset the backoff budget.
		attempts = 0
		delay = c.cfg.ReconnectBaseDelay()

		closed := make(chan error, 1)
		sess.Start(ctx, &handlerFunc{client: c, closed: closed})
		c.adapter.ShowMessage(fmt.Sprintf("connected to %s", sess.PeerName))

		if err := c.followLocalPlayer(ctx, sess, closed); err != nil {
			sess.Close(nil)
			return err
		}
		if ctx.Err() != nil {
			sess.Close(nil)
			return nil
		}

		c.adapter.ShowMessage("connection lost, reconnecting")
		log.Warn().Msg("session lost, reconnecting")
	}
}

// connect dials the authority and completes the handshake.
func (c *Client) connect(ctx context.Context) (*session.Session, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	addr := c.cfg.Server.Addr
	var (
		conn transport.Conn
		err  error
	)
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		conn, err = transport.DialWebSocket(addr, c.cfg.HandshakeTimeout())
	} else {
		conn, err = transport.DialTCP(addr, c.cfg.HandshakeTimeout())
	}
	if err != nil {
		return nil, err
	}

	sess := session.New(conn, session.RoleFollower, c.clock, session.Config{
		Name:             c.cfg.Name,
		HandshakeTimeout: c.cfg.HandshakeTimeout(),
		PingInterval:     c.cfg.PingInterval(),
		LivenessWindow:   c.cfg.LivenessWindow(),
		SendQueueSize:    c.cfg.Sync.SendQueueSize,
	})
	if err := sess.Handshake(true); err != nil {
		return nil, err
	}

	// Epochs are scoped to one authority process: a restarted authority
	// starts counting from 1 again. The stale-epoch fence guards against
	// reordering within one ordered connection, so it resets with it.
	c.mu.Lock()
	c.authoritative = playback.State{}
	c.authArrived = time.Time{}
	c.appliedEpoch = 0
	c.mu.Unlock()

	return sess, nil
}

// followLocalPlayer consumes local player events while the session lives.
// A follower's local changes never become authoritative: player-native
// events trigger a snap-back to the cached authoritative state instead.
func (c *Client) followLocalPlayer(ctx context.Context, sess *session.Session, closed <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-closed:
			return nil
		case change, ok := <-c.adapter.Changes():
			if !ok {
				return fmt.Errorf("local player gone: %w", player.ErrUnavailable)
			}
			if change.Origin != player.OriginPlayer {
				continue
			}
			c.snapBack(sess)
		}
	}
}

// snapBack re-enqueues the cached authoritative state after local user
// input, pulling the player straight back into lockstep.
func (c *Client) snapBack(sess *session.Session) {
	c.mu.Lock()
	state := c.authoritative
	arrived := c.authArrived
	applied := c.appliedEpoch
	c.mu.Unlock()

	if applied == 0 {
		// Nothing received yet, nothing to conform to.
		return
	}

	log.Debug().Uint64("epoch", state.Epoch).Msg("local change, snapping back to authority")
	c.enqueue(applyJob{
		state:    state,
		arrived:  arrived,
		delay:    sess.Estimator().OneWayDelay(),
		degraded: sess.Degraded(),
	})
}

// handleState is the inbound path for FullState and StateDelta payloads.
func (c *Client) handleState(state playback.State, delay time.Duration, degraded bool) {
	c.mu.Lock()
	if !state.Supersedes(c.appliedEpoch) {
		c.mu.Unlock()
		log.Debug().
			Uint64("epoch", state.Epoch).
			Uint64("applied", c.appliedEpoch).
			Msg("dropping stale state")
		return
	}
	arrived := c.clock.Now()
	c.authoritative = state
	c.authArrived = arrived
	c.appliedEpoch = state.Epoch
	c.mu.Unlock()

	c.enqueue(applyJob{state: state, arrived: arrived, delay: delay, degraded: degraded})
}

func (c *Client) enqueue(job applyJob) {
	for {
		select {
		case c.applyCh <- job:
			return
		default:
		}
		select {
		case <-c.applyCh:
			log.Debug().Msg("apply queue full, dropping superseded snapshot")
		default:
		}
	}
}

// applyLoop issues corrective actions to the player, decoupled from the
// network pumps so a slow player IPC round trip never blocks reads.
func (c *Client) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.applyCh:
			c.apply(job)
		}
	}
}

func (c *Client) apply(job applyJob) {
	local, err := c.adapter.State()
	if err != nil {
		log.Warn().Err(err).Msg("cannot read player state")
		c.setDegradedLocal(true)
		return
	}

	c.mu.Lock()
	degradedLocal := c.degradedLocal
	c.mu.Unlock()

	actions := c.engine.Reconcile(local, job.state, reconcile.Inputs{
		Delay:    job.delay,
		Elapsed:  c.clock.Since(job.arrived),
		Degraded: job.degraded || degradedLocal,
	})
	if len(actions) == 0 {
		return
	}

	corrected := false
	for _, action := range actions {
		if err := c.issue(action); err != nil {
			log.Error().Err(err).Msgf("player rejected %T, degrading locally", action)
			c.setDegradedLocal(true)
			return
		}
		switch action.(type) {
		case reconcile.Seek, reconcile.LoadMedia:
			corrected = true
		}
	}
	c.setDegradedLocal(false)

	if corrected {
		c.adapter.ShowMessage("resynchronized")
	}
	log.Debug().
		Uint64("epoch", job.state.Epoch).
		Int("actions", len(actions)).
		Msg("applied authoritative state")
}

// issue runs one action against the player, retrying transient failures
// with a capped backoff.
func (c *Client) issue(action reconcile.Action) error {
	var lastErr error
	for attempt := 0; attempt < adapterRetries; attempt++ {
		if attempt > 0 {
			<-c.clock.After(adapterRetryDelay * time.Duration(attempt))
		}
		switch a := action.(type) {
		case reconcile.LoadMedia:
			lastErr = c.adapter.Load(a.MediaRef)
		case reconcile.Seek:
			lastErr = c.adapter.Seek(a.Target)
		case reconcile.SetPaused:
			lastErr = c.adapter.SetPaused(a.Paused)
		case reconcile.SetRate:
			lastErr = c.adapter.SetRate(a.Rate)
		default:
			return fmt.Errorf("unknown action %T", action)
		}
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (c *Client) setDegradedLocal(degraded bool) {
	c.mu.Lock()
	changed := c.degradedLocal != degraded
	c.degradedLocal = degraded
	c.mu.Unlock()
	if changed && degraded {
		log.Warn().Msg("player unresponsive, degraded locally")
	} else if changed {
		log.Info().Msg("player responsive again")
	}
}

// AppliedEpoch returns the last accepted epoch.
func (c *Client) AppliedEpoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appliedEpoch
}

// Authoritative returns the cached authoritative state.
func (c *Client) Authoritative() playback.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authoritative
}

// handlerFunc adapts a Client to session.Handler for one session.
type handlerFunc struct {
	client *Client
	closed chan error
}

func (h *handlerFunc) HandleMessage(sess *session.Session, msg protocol.Message) error {
	var state playback.State
	switch m := msg.(type) {
	case protocol.FullState:
		state = m.State
	case protocol.StateDelta:
		state = m.State
	default:
		log.Warn().Msgf("ignoring unexpected %T", msg)
		return nil
	}

	h.client.handleState(state, sess.Estimator().OneWayDelay(), sess.Degraded())
	return nil
}

func (h *handlerFunc) SessionClosed(sess *session.Session, reason error) {
	select {
	case h.closed <- reason:
	default:
	}
}
