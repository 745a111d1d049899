// Package session runs the per-connection lifecycle: handshake, steady-state
// message pumps, delay probing, and liveness tracking.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/clock"
	"github.com/nik012003/voyeurs/internal/protocol"
	"github.com/nik012003/voyeurs/internal/transport"
)

// Role distinguishes the two ends of the protocol.
type Role int

const (
	// RoleAuthority owns the playback state.
	RoleAuthority Role = iota
	// RoleFollower conforms its player to the authority.
	RoleFollower
)

func (r Role) String() string {
	if r == RoleAuthority {
		return "authority"
	}
	return "follower"
}

var (
	// ErrHandshakeFailed marks a failed or timed-out Hello exchange.
	ErrHandshakeFailed = errors.New("session: handshake failed")
	// ErrProtocol marks a connection-fatal protocol violation.
	ErrProtocol = errors.New("session: protocol error")
	// ErrTransport marks a lost or reset connection.
	ErrTransport = errors.New("session: transport error")
)

// Config holds one session's tuning.
type Config struct {
	// Name is sent in our Hello for the peer's logs and notices.
	Name string
	// HandshakeTimeout bounds the Hello exchange.
	HandshakeTimeout time.Duration
	// PingInterval is the delay-probe period.
	PingInterval time.Duration
	// LivenessWindow is the silence that marks the session Degraded.
	LivenessWindow time.Duration
	// SendQueueSize bounds the outbound queue.
	SendQueueSize int
}

// DefaultConfig returns the stock session tuning.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 5 * time.Second,
		PingInterval:     2 * time.Second,
		LivenessWindow:   15 * time.Second,
		SendQueueSize:    64,
	}
}

// Handler consumes a session's playback messages. Ping/Pong and Error are
// handled inside the session and never reach it.
type Handler interface {
	// HandleMessage is called from the read loop for each FullState and
	// StateDelta. Returning an error closes the session.
	HandleMessage(s *Session, msg protocol.Message) error
	// SessionClosed is called exactly once when the session reaches
	// Closed, with the reason.
	SessionClosed(s *Session, reason error)
}

// Session is one live connection: a read loop, a write loop draining a
// bounded queue, a probe ticker, and a liveness watchdog.
type Session struct {
	ID       uuid.UUID
	Role     Role
	PeerName string

	conn      transport.Conn
	machine   *Machine
	estimator *clock.Estimator
	clock     clockwork.Clock
	cfg       Config

	sendCh chan protocol.Message

	activityMu   sync.Mutex
	lastActivity time.Time

	handler   Handler
	cancel    context.CancelFunc
	closeOnce sync.Once

	reasonMu sync.Mutex
	reason   error
}

// New wraps an established transport connection. Handshake must complete
// before Start.
func New(conn transport.Conn, role Role, clk clockwork.Clock, cfg Config) *Session {
	return &Session{
		ID:        uuid.New(),
		Role:      role,
		conn:      conn,
		machine:   NewMachine(),
		estimator: clock.NewEstimator(clk),
		clock:     clk,
		cfg:       cfg,
		sendCh:    make(chan protocol.Message, cfg.SendQueueSize),
	}
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.machine.State()
}

// Estimator exposes the per-connection delay estimator.
func (s *Session) Estimator() *clock.Estimator {
	return s.estimator
}

// Degraded reports whether the session or its delay estimate is currently
// not trustworthy for aggressive correction.
func (s *Session) Degraded() bool {
	return s.machine.State() == Degraded || s.estimator.Degraded()
}

// RemoteAddr describes the peer.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr()
}

// Handshake runs the Hello exchange. The initiator sends first; the
// acceptor answers. Version mismatch or silence beyond HandshakeTimeout
// closes the connection with a best-effort Error frame.
func (s *Session) Handshake(initiate bool) error {
	if err := s.machine.Transition(Handshaking); err != nil {
		return err
	}

	if initiate {
		if err := s.writeNow(protocol.Hello{ProtocolVersion: protocol.Version, Name: s.cfg.Name}); err != nil {
			s.failHandshake("")
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	}

	peer, err := s.awaitHello()
	if err != nil {
		s.failHandshake(err.Error())
		return err
	}
	s.PeerName = peer.Name

	if !initiate {
		if err := s.writeNow(protocol.Hello{ProtocolVersion: protocol.Version, Name: s.cfg.Name}); err != nil {
			s.failHandshake("")
			return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
		}
	}

	if err := s.machine.Transition(Synced); err != nil {
		return err
	}
	s.touch()

	log.Info().
		Str("session_id", s.ID.String()).
		Str("peer", s.PeerName).
		Str("remote", s.conn.RemoteAddr()).
		Msg("handshake complete")
	return nil
}

func (s *Session) awaitHello() (protocol.Hello, error) {
	type result struct {
		msg protocol.Message
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		payload, err := s.conn.ReadMessage()
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		msg, err := protocol.Decode(payload)
		resultCh <- result{msg: msg, err: err}
	}()

	timeout := s.clock.NewTimer(s.cfg.HandshakeTimeout)
	defer timeout.Stop()

	select {
	case r := <-resultCh:
		if r.err != nil {
			return protocol.Hello{}, fmt.Errorf("%w: %v", ErrHandshakeFailed, r.err)
		}
		hello, ok := r.msg.(protocol.Hello)
		if !ok {
			return protocol.Hello{}, fmt.Errorf("%w: expected hello, got %T", ErrHandshakeFailed, r.msg)
		}
		return hello, nil
	case <-timeout.Chan():
		return protocol.Hello{}, fmt.Errorf("%w: timed out", ErrHandshakeFailed)
	}
}

func (s *Session) failHandshake(reason string) {
	if reason != "" {
		_ = s.writeNow(protocol.Error{Reason: reason})
	}
	s.Close(ErrHandshakeFailed)
}

// Start launches the pumps. The session owns the connection from here on.
func (s *Session) Start(ctx context.Context, handler Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s.handler = handler
	s.cancel = cancel

	go s.readLoop()
	go s.writeLoop(ctx)
	go s.probeLoop(ctx)
	go s.livenessLoop(ctx)
}

// Send enqueues a message. When the queue is full the oldest entry is
// dropped in favor of the newest: state snapshots are idempotent, the
// latest one is always the one that matters.
func (s *Session) Send(msg protocol.Message) {
	if s.machine.State() == Closed {
		return
	}
	for {
		select {
		case s.sendCh <- msg:
			return
		default:
		}
		select {
		case dropped := <-s.sendCh:
			log.Debug().
				Str("session_id", s.ID.String()).
				Str("dropped", fmt.Sprintf("%T", dropped)).
				Msg("send queue full, dropping oldest")
		default:
		}
	}
}

func (s *Session) readLoop() {
	for {
		payload, err := s.conn.ReadMessage()
		if err != nil {
			s.Close(fmt.Errorf("%w: %v", ErrTransport, err))
			return
		}

		msg, err := protocol.Decode(payload)
		if err != nil {
			_ = s.writeNow(protocol.Error{Reason: err.Error()})
			s.Close(fmt.Errorf("%w: %v", ErrProtocol, err))
			return
		}

		s.touch()
		s.recover()

		switch m := msg.(type) {
		case protocol.Ping:
			s.Send(protocol.Pong{EchoedTime: m.SentTime})
		case protocol.Pong:
			if _, err := s.estimator.RecordPongReceived(m.EchoedTime); err != nil {
				log.Debug().Err(err).Str("session_id", s.ID.String()).Msg("discarding pong")
			}
		case protocol.Error:
			log.Warn().
				Str("session_id", s.ID.String()).
				Str("reason", m.Reason).
				Msg("peer reported error")
			s.Close(fmt.Errorf("%w: peer: %s", ErrProtocol, m.Reason))
			return
		case protocol.Hello:
			s.Close(fmt.Errorf("%w: unexpected hello after handshake", ErrProtocol))
			return
		default:
			if err := s.handler.HandleMessage(s, msg); err != nil {
				s.Close(err)
				return
			}
		}
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.sendCh:
			if err := s.writeNow(msg); err != nil {
				s.Close(fmt.Errorf("%w: %v", ErrTransport, err))
				return
			}
		}
	}
}

func (s *Session) probeLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			sent := s.estimator.NowMillis()
			s.estimator.RecordPingSent(sent)
			s.Send(protocol.Ping{SentTime: sent})
		}
	}
}

// livenessLoop demotes a silent session to Degraded. Any valid inbound
// message promotes it back (see recover).
func (s *Session) livenessLoop(ctx context.Context) {
	interval := s.cfg.LivenessWindow / 4
	if interval <= 0 {
		interval = time.Second
	}
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.activityMu.Lock()
			silent := s.clock.Since(s.lastActivity)
			s.activityMu.Unlock()

			if silent > s.cfg.LivenessWindow && s.machine.State() == Synced {
				if err := s.machine.Transition(Degraded); err == nil {
					log.Warn().
						Str("session_id", s.ID.String()).
						Dur("silent", silent).
						Msg("session degraded: liveness window exceeded")
				}
			}
		}
	}
}

func (s *Session) touch() {
	s.activityMu.Lock()
	s.lastActivity = s.clock.Now()
	s.activityMu.Unlock()
}

func (s *Session) recover() {
	if s.machine.State() != Degraded {
		return
	}
	if err := s.machine.Transition(Synced); err == nil {
		log.Info().Str("session_id", s.ID.String()).Msg("session recovered to synced")
	}
}

func (s *Session) writeNow(msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(payload)
}

// Close tears the session down: the state machine reaches Closed, pumps
// stop, and the handler is notified exactly once. Queued messages and
// timers are cancelled; nothing is sent or applied afterwards.
func (s *Session) Close(reason error) {
	s.closeOnce.Do(func() {
		s.reasonMu.Lock()
		s.reason = reason
		s.reasonMu.Unlock()
		_ = s.machine.Transition(Closed)
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.Close()

		log.Info().
			Str("session_id", s.ID.String()).
			Str("peer", s.PeerName).
			AnErr("reason", reason).
			Msg("session closed")

		if s.handler != nil {
			s.handler.SessionClosed(s, reason)
		}
	})
}

// CloseReason returns why the session closed, nil while it is live.
func (s *Session) CloseReason() error {
	s.reasonMu.Lock()
	defer s.reasonMu.Unlock()
	return s.reason
}
