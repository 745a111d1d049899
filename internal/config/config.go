// Package config loads the process configuration from a YAML file with
// environment variable overrides. Every sync threshold is configuration,
// not a hard-coded constant.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	// Role is "authority" or "follower".
	Role string `yaml:"role"`
	// Name is this participant's display name, sent in the handshake.
	Name string `yaml:"name"`

	Listen struct {
		// TCP is the authority's TCP listen address.
		TCP string `yaml:"tcp"`
		// WebSocket is an optional WebSocket listen address.
		WebSocket string `yaml:"websocket"`
		// WebSocketPath is the upgrade endpoint path.
		WebSocketPath string `yaml:"websocket_path"`
		// Status is an optional HTTP status endpoint address.
		Status string `yaml:"status"`
	} `yaml:"listen"`

	Server struct {
		// Addr is the authority address a follower connects to. A
		// ws:// or wss:// URL selects the WebSocket transport.
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	MPV struct {
		// SocketPath is the mpv JSON-IPC socket.
		SocketPath string `yaml:"socket_path"`
		// Spawn launches mpv instead of attaching to a running one.
		Spawn bool `yaml:"spawn"`
		// Binary overrides the mpv executable.
		Binary string `yaml:"binary"`
	} `yaml:"mpv"`

	Sync struct {
		DriftToleranceMS         int     `yaml:"drift_tolerance_ms"`
		DegradedDriftToleranceMS int     `yaml:"degraded_drift_tolerance_ms"`
		RateTolerance            float64 `yaml:"rate_tolerance"`
		PingIntervalMS           int     `yaml:"ping_interval_ms"`
		FullStateIntervalMS      int     `yaml:"full_state_interval_ms"`
		LivenessWindowMS         int     `yaml:"liveness_window_ms"`
		HandshakeTimeoutMS       int     `yaml:"handshake_timeout_ms"`
		SendQueueSize            int     `yaml:"send_queue_size"`
		ApplyQueueSize           int     `yaml:"apply_queue_size"`
	} `yaml:"sync"`

	Reconnect struct {
		BaseDelayMS int `yaml:"base_delay_ms"`
		MaxDelayMS  int `yaml:"max_delay_ms"`
		MaxAttempts int `yaml:"max_attempts"`
	} `yaml:"reconnect"`

	Store struct {
		// Path is the sqlite file; empty disables resume positions.
		Path string `yaml:"path"`
		// Fresh ignores stored positions on startup.
		Fresh bool `yaml:"fresh"`
	} `yaml:"store"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
}

// Default returns the configuration with every threshold at its stock value.
func Default() *Config {
	cfg := &Config{}
	cfg.Role = "authority"
	cfg.Name = defaultName()
	cfg.Listen.TCP = ":7979"
	cfg.Listen.WebSocketPath = "/ws"
	cfg.MPV.SocketPath = "/tmp/voyeurs-mpv.sock"
	cfg.MPV.Spawn = true
	cfg.Sync.DriftToleranceMS = 300
	cfg.Sync.DegradedDriftToleranceMS = 1000
	cfg.Sync.RateTolerance = 0.01
	cfg.Sync.PingIntervalMS = 2000
	cfg.Sync.FullStateIntervalMS = 10000
	cfg.Sync.LivenessWindowMS = 15000
	cfg.Sync.HandshakeTimeoutMS = 5000
	cfg.Sync.SendQueueSize = 64
	cfg.Sync.ApplyQueueSize = 8
	cfg.Reconnect.BaseDelayMS = 500
	cfg.Reconnect.MaxDelayMS = 30000
	cfg.Reconnect.MaxAttempts = 10
	cfg.NATS.URL = "nats://localhost:4222"
	cfg.NATS.SubjectPrefix = "voyeurs.playback"
	return cfg
}

func defaultName() string {
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "voyeurs"
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Role = getEnv("VOYEURS_ROLE", c.Role)
	c.Name = getEnv("VOYEURS_NAME", c.Name)
	c.Listen.TCP = getEnv("VOYEURS_LISTEN_TCP", c.Listen.TCP)
	c.Listen.WebSocket = getEnv("VOYEURS_LISTEN_WS", c.Listen.WebSocket)
	c.Listen.Status = getEnv("VOYEURS_LISTEN_STATUS", c.Listen.Status)
	c.Server.Addr = getEnv("VOYEURS_SERVER_ADDR", c.Server.Addr)
	c.MPV.SocketPath = getEnv("VOYEURS_MPV_SOCKET", c.MPV.SocketPath)
	c.Store.Path = getEnv("VOYEURS_STORE_PATH", c.Store.Path)
	c.NATS.URL = getEnv("VOYEURS_NATS_URL", c.NATS.URL)
	c.Sync.DriftToleranceMS = getEnvAsInt("VOYEURS_DRIFT_TOLERANCE_MS", c.Sync.DriftToleranceMS)
	c.Sync.LivenessWindowMS = getEnvAsInt("VOYEURS_LIVENESS_WINDOW_MS", c.Sync.LivenessWindowMS)
	c.Reconnect.MaxAttempts = getEnvAsInt("VOYEURS_RECONNECT_MAX_ATTEMPTS", c.Reconnect.MaxAttempts)
}

func (c *Config) validate() error {
	switch c.Role {
	case "authority", "follower":
	default:
		return fmt.Errorf("config: unknown role %q", c.Role)
	}
	if c.Role == "follower" && c.Server.Addr == "" {
		return fmt.Errorf("config: follower requires server.addr")
	}
	if c.Sync.DriftToleranceMS <= 0 {
		return fmt.Errorf("config: drift tolerance must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// Duration helpers so call sites never repeat the ms conversion.

func (c *Config) DriftTolerance() time.Duration {
	return time.Duration(c.Sync.DriftToleranceMS) * time.Millisecond
}

func (c *Config) DegradedDriftTolerance() time.Duration {
	return time.Duration(c.Sync.DegradedDriftToleranceMS) * time.Millisecond
}

func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Sync.PingIntervalMS) * time.Millisecond
}

func (c *Config) FullStateInterval() time.Duration {
	return time.Duration(c.Sync.FullStateIntervalMS) * time.Millisecond
}

func (c *Config) LivenessWindow() time.Duration {
	return time.Duration(c.Sync.LivenessWindowMS) * time.Millisecond
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Sync.HandshakeTimeoutMS) * time.Millisecond
}

func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Reconnect.BaseDelayMS) * time.Millisecond
}

func (c *Config) ReconnectMaxDelay() time.Duration {
	return time.Duration(c.Reconnect.MaxDelayMS) * time.Millisecond
}
