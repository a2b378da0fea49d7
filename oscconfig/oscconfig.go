// Package oscconfig defines the typed configuration accepted by
// scserver.Connect, loadable directly or from YAML.
package oscconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures a connection to a SuperCollider synthesis engine and
// optionally its language interpreter.
type Config struct {
	// EngineHost/EnginePort address scsynth.
	EngineHost string `yaml:"engine_host"`
	EnginePort int    `yaml:"engine_port"`

	// InterpreterHost/InterpreterPort address sclang. Both empty/zero
	// means no interpreter peer is registered.
	InterpreterHost string `yaml:"interpreter_host"`
	InterpreterPort int    `yaml:"interpreter_port"`

	// ReceivePort is the local UDP port this process listens on. 0 picks
	// an ephemeral port.
	ReceivePort int `yaml:"receive_port"`

	// LatencySeconds is the scheduling headroom, exposed as a
	// time.Duration by Latency. No package in this module applies it to
	// bundlers on its own; a caller passes it to bundler.WithLatency.
	LatencySeconds float64 `yaml:"latency_seconds"`

	// MTUBytes bounds outgoing datagram size.
	MTUBytes int `yaml:"mtu_bytes"`

	// DefaultTimeoutSeconds bounds blocking calls that don't receive an
	// explicit context deadline.
	DefaultTimeoutSeconds float64 `yaml:"default_timeout_seconds"`

	// ClientID/MaxLogins override the values scsynth's handshake would
	// otherwise report, primarily for tests.
	ClientID  int `yaml:"client_id"`
	MaxLogins int `yaml:"max_logins"`
}

// DefaultMTU is used when a Config doesn't set MTUBytes.
const DefaultMTU = 1 << 16

// DefaultTimeout is used when a Config doesn't set
// DefaultTimeoutSeconds.
const DefaultTimeout = 5 * time.Second

// Latency returns LatencySeconds as a time.Duration.
func (c Config) Latency() time.Duration {
	return time.Duration(c.LatencySeconds * float64(time.Second))
}

// Timeout returns DefaultTimeoutSeconds as a time.Duration, falling back
// to DefaultTimeout when unset.
func (c Config) Timeout() time.Duration {
	if c.DefaultTimeoutSeconds <= 0 {
		return DefaultTimeout
	}
	return time.Duration(c.DefaultTimeoutSeconds * float64(time.Second))
}

// MTU returns MTUBytes, falling back to DefaultMTU when unset.
func (c Config) MTU() int {
	if c.MTUBytes <= 0 {
		return DefaultMTU
	}
	return c.MTUBytes
}

// EngineAddr returns "host:port" for the synthesis engine.
func (c Config) EngineAddr() string {
	return fmt.Sprintf("%s:%d", c.EngineHost, c.EnginePort)
}

// HasInterpreter reports whether an sclang peer was configured.
func (c Config) HasInterpreter() bool {
	return c.InterpreterHost != "" && c.InterpreterPort != 0
}

// InterpreterAddr returns "host:port" for sclang.
func (c Config) InterpreterAddr() string {
	return fmt.Sprintf("%s:%d", c.InterpreterHost, c.InterpreterPort)
}

// ReceiveAddr returns the local bind address for the transport's UDP
// socket.
func (c Config) ReceiveAddr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.ReceivePort)
}

// Validate checks that the config describes a usable engine endpoint.
func (c Config) Validate() error {
	if c.EngineHost == "" || c.EnginePort == 0 {
		return fmt.Errorf("oscconfig: engine_host/engine_port are required")
	}
	if c.MaxLogins < 0 {
		return fmt.Errorf("oscconfig: max_logins must not be negative")
	}
	return nil
}

// LoadYAML reads and parses a Config from path.
func LoadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("oscconfig: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("oscconfig: parsing %s: %w", path, err)
	}

	return cfg, nil
}
