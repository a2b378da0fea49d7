package oscconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	contents := `
engine_host: 127.0.0.1
engine_port: 57110
interpreter_host: 127.0.0.1
interpreter_port: 57120
receive_port: 0
latency_seconds: 0.05
mtu_bytes: 8192
default_timeout_seconds: 2.5
client_id: 1
max_logins: 4
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := LoadYAML(path)
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}

	if cfg.EngineAddr() != "127.0.0.1:57110" {
		t.Errorf("got EngineAddr %q", cfg.EngineAddr())
	}
	if !cfg.HasInterpreter() {
		t.Errorf("expected interpreter to be configured")
	}
	if cfg.InterpreterAddr() != "127.0.0.1:57120" {
		t.Errorf("got InterpreterAddr %q", cfg.InterpreterAddr())
	}
	if got := cfg.Latency(); got != 50*time.Millisecond {
		t.Errorf("got Latency %v, want 50ms", got)
	}
	if got := cfg.MTU(); got != 8192 {
		t.Errorf("got MTU %d, want 8192", got)
	}
	if got := cfg.Timeout(); got != 2500*time.Millisecond {
		t.Errorf("got Timeout %v, want 2.5s", got)
	}
	if cfg.MaxLogins != 4 {
		t.Errorf("got MaxLogins %d, want 4", cfg.MaxLogins)
	}
}

func TestConfig_DefaultsWhenUnset(t *testing.T) {
	cfg := Config{EngineHost: "127.0.0.1", EnginePort: 57110}

	if got := cfg.MTU(); got != DefaultMTU {
		t.Errorf("got MTU %d, want default %d", got, DefaultMTU)
	}
	if got := cfg.Timeout(); got != DefaultTimeout {
		t.Errorf("got Timeout %v, want default %v", got, DefaultTimeout)
	}
	if cfg.HasInterpreter() {
		t.Errorf("expected no interpreter configured")
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Errorf("expected an error for a config with no engine address")
	}
	if err := (Config{EngineHost: "127.0.0.1", EnginePort: 57110}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadYAML_MissingFile(t *testing.T) {
	if _, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected an error loading a missing file")
	}
}
