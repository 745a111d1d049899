package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/playback"
)

const (
	mpvSocketWaitRetries = 10
	mpvSocketWaitDelay   = 300 * time.Millisecond
	mpvRequestTimeout    = 2 * time.Second
	// mpvIgnoreWindow is how long after issuing a command the matching
	// property change is attributed to the adapter instead of the user.
	mpvIgnoreWindow = 500 * time.Millisecond
	osdDurationMS   = 4000
)

// MPVOptions configures the mpv adapter.
type MPVOptions struct {
	// SocketPath is the JSON-IPC socket. Required.
	SocketPath string
	// Spawn launches a new mpv process instead of attaching to an
	// already running one.
	Spawn bool
	// Binary is the mpv executable, "mpv" if empty.
	Binary string
}

// MPV controls an mpv instance over its newline-delimited JSON-IPC socket.
// It keeps one persistent connection: a read loop dispatches command
// replies by request id and forwards property-change events.
type MPV struct {
	opts  MPVOptions
	clock clockwork.Clock

	cmd    *exec.Cmd
	exited chan struct{}

	conn net.Conn

	reqMu   sync.Mutex
	nextID  int64
	pending map[int64]chan mpvResponse

	// ignoreMu guards the per-property echo-suppression deadlines.
	ignoreMu sync.Mutex
	ignore   map[string]time.Time

	changes   chan Change
	events    chan mpvEvent
	closeOnce sync.Once
	closed    chan struct{}
}

type mpvRequest struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id"`
}

type mpvResponse struct {
	Data      interface{} `json:"data"`
	Error     string      `json:"error"`
	RequestID int64       `json:"request_id"`
	Event     string      `json:"event"`
	Name      string      `json:"name"`
}

type mpvEvent struct {
	name     string
	property string
}

// NewMPV spawns or attaches to mpv and starts the IPC loops.
func NewMPV(opts MPVOptions, clk clockwork.Clock) (*MPV, error) {
	if opts.SocketPath == "" {
		return nil, fmt.Errorf("mpv: socket path is required")
	}

	m := &MPV{
		opts:    opts,
		clock:   clk,
		pending: make(map[int64]chan mpvResponse),
		ignore:  make(map[string]time.Time),
		changes: make(chan Change, 16),
		events:  make(chan mpvEvent, 64),
		closed:  make(chan struct{}),
	}

	if opts.Spawn {
		if err := m.spawn(); err != nil {
			return nil, err
		}
	}

	conn, err := m.dialSocket()
	if err != nil {
		m.killSpawned()
		return nil, fmt.Errorf("mpv socket not ready: %w", err)
	}
	m.conn = conn

	go m.readLoop()
	go m.eventLoop()

	if err := m.observeProperties(); err != nil {
		m.Close()
		return nil, fmt.Errorf("observe properties: %w", err)
	}

	return m, nil
}

func (m *MPV) spawn() error {
	binary := m.opts.Binary
	if binary == "" {
		binary = "mpv"
	}
	m.cmd = exec.Command(binary,
		"--no-terminal",
		"--really-quiet",
		"--force-window=yes",
		"--idle=yes",
		fmt.Sprintf("--input-ipc-server=%s", m.opts.SocketPath),
	)
	m.cmd.Stdin = nil
	m.cmd.Stdout = nil
	m.cmd.Stderr = nil

	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}

	m.exited = make(chan struct{})
	go func() {
		_ = m.cmd.Wait()
		close(m.exited)
	}()

	log.Info().Int("pid", m.cmd.Process.Pid).Str("socket", m.opts.SocketPath).Msg("mpv spawned")
	return nil
}

func (m *MPV) killSpawned() {
	if m.cmd == nil || m.cmd.Process == nil {
		return
	}
	select {
	case <-m.exited:
	default:
		_ = m.cmd.Process.Kill()
	}
}

// dialSocket polls until the IPC socket accepts connections. A freshly
// spawned mpv needs a moment to create it.
func (m *MPV) dialSocket() (net.Conn, error) {
	var lastErr error
	for i := 0; i < mpvSocketWaitRetries; i++ {
		if m.exited != nil {
			select {
			case <-m.exited:
				return nil, fmt.Errorf("mpv exited before socket was ready")
			default:
			}
		}
		conn, err := net.Dial("unix", m.opts.SocketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(mpvSocketWaitDelay)
	}
	return nil, lastErr
}

func (m *MPV) observeProperties() error {
	for i, prop := range []string{"pause", "speed", "path"} {
		if _, err := m.request("observe_property", int64(i+1), prop); err != nil {
			return err
		}
	}
	return nil
}

// readLoop owns the socket's read side: replies are matched to waiting
// requests by id, events are queued for the event loop. Handling events
// here directly would deadlock: they need further requests whose replies
// only this loop can read.
func (m *MPV) readLoop() {
	scanner := bufio.NewScanner(m.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		var resp mpvResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			log.Warn().Err(err).Msg("mpv: undecodable ipc line")
			continue
		}

		if resp.Event != "" {
			select {
			case m.events <- mpvEvent{name: resp.Event, property: resp.Name}:
			default:
				// Event queue full: drop, the next property change
				// carries the fresh value anyway.
			}
			continue
		}

		m.reqMu.Lock()
		ch, ok := m.pending[resp.RequestID]
		if ok {
			delete(m.pending, resp.RequestID)
		}
		m.reqMu.Unlock()
		if ok {
			ch <- resp
		}
	}

	m.Close()
}

// eventLoop turns mpv events into tagged Changes.
func (m *MPV) eventLoop() {
	defer close(m.changes)

	for {
		select {
		case <-m.closed:
			return
		case ev := <-m.events:
			var property string
			switch ev.name {
			case "property-change":
				property = ev.property
			case "seek":
				property = "seek"
			case "end-file":
				property = "path"
			default:
				continue
			}

			state, err := m.State()
			if err != nil {
				continue
			}

			change := Change{State: state, Origin: m.originFor(property)}
			select {
			case m.changes <- change:
			case <-m.closed:
				return
			}
		}
	}
}

// markIssued opens the echo-suppression window for a property.
func (m *MPV) markIssued(property string) {
	m.ignoreMu.Lock()
	m.ignore[property] = m.clock.Now().Add(mpvIgnoreWindow)
	m.ignoreMu.Unlock()
}

func (m *MPV) originFor(property string) Origin {
	m.ignoreMu.Lock()
	defer m.ignoreMu.Unlock()
	if until, ok := m.ignore[property]; ok && m.clock.Now().Before(until) {
		return OriginAdapter
	}
	return OriginPlayer
}

// request sends one command and waits for its reply.
func (m *MPV) request(args ...interface{}) (interface{}, error) {
	select {
	case <-m.closed:
		return nil, ErrUnavailable
	default:
	}

	m.reqMu.Lock()
	m.nextID++
	id := m.nextID
	ch := make(chan mpvResponse, 1)
	m.pending[id] = ch

	payload, err := json.Marshal(mpvRequest{Command: args, RequestID: id})
	if err != nil {
		delete(m.pending, id)
		m.reqMu.Unlock()
		return nil, fmt.Errorf("marshal: %w", err)
	}
	_, err = m.conn.Write(append(payload, '\n'))
	if err != nil {
		delete(m.pending, id)
		m.reqMu.Unlock()
		return nil, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	m.reqMu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrUnavailable
		}
		if resp.Error != "" && resp.Error != "success" {
			return nil, fmt.Errorf("mpv: %s", resp.Error)
		}
		return resp.Data, nil
	case <-time.After(mpvRequestTimeout):
		m.reqMu.Lock()
		delete(m.pending, id)
		m.reqMu.Unlock()
		return nil, fmt.Errorf("%w: request timed out", ErrUnavailable)
	case <-m.closed:
		return nil, ErrUnavailable
	}
}

func (m *MPV) getFloat(property string) (float64, error) {
	data, err := m.request("get_property", property)
	if err != nil {
		return 0, err
	}
	f, ok := data.(float64)
	if !ok {
		return 0, nil
	}
	return f, nil
}

// State reads the player's current playback state.
func (m *MPV) State() (playback.State, error) {
	paused := true
	if data, err := m.request("get_property", "pause"); err == nil {
		if b, ok := data.(bool); ok {
			paused = b
		}
	} else {
		return playback.State{}, err
	}

	// time-pos and path are unavailable while nothing is loaded; that
	// is an empty state, not an error.
	position, _ := m.getFloat("time-pos")
	rate, err := m.getFloat("speed")
	if err != nil || rate == 0 {
		rate = 1.0
	}
	var mediaRef string
	if data, err := m.request("get_property", "path"); err == nil {
		if s, ok := data.(string); ok {
			mediaRef = s
		}
	}

	return playback.State{
		MediaRef: mediaRef,
		Position: position,
		Paused:   paused,
		Rate:     rate,
	}, nil
}

// SetPaused stops or resumes playback.
func (m *MPV) SetPaused(paused bool) error {
	m.markIssued("pause")
	_, err := m.request("set_property", "pause", paused)
	return err
}

// Seek moves the playhead to an absolute position.
func (m *MPV) Seek(position float64) error {
	m.markIssued("seek")
	_, err := m.request("seek", position, "absolute")
	return err
}

// SetRate changes the playback speed.
func (m *MPV) SetRate(rate float64) error {
	m.markIssued("speed")
	_, err := m.request("set_property", "speed", rate)
	return err
}

// Load replaces the current content.
func (m *MPV) Load(mediaRef string) error {
	m.markIssued("path")
	m.markIssued("pause")
	_, err := m.request("loadfile", mediaRef, "replace")
	return err
}

// ShowMessage displays an OSD notice. Best-effort: failures are logged,
// never surfaced.
func (m *MPV) ShowMessage(text string) {
	if _, err := m.request("show-text", text, osdDurationMS); err != nil {
		log.Debug().Err(err).Msg("mpv: show-text failed")
	}
}

// Changes delivers tagged state changes.
func (m *MPV) Changes() <-chan Change {
	return m.changes
}

// Close tears down the IPC connection and any spawned process.
func (m *MPV) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		if m.conn != nil {
			_ = m.conn.Close()
		}
		m.killSpawned()

		// Fail anything still waiting for a reply.
		m.reqMu.Lock()
		for id, ch := range m.pending {
			delete(m.pending, id)
			close(ch)
		}
		m.reqMu.Unlock()
	})
	return nil
}
