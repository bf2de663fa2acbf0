package schema

import (
	"os"
	"path/filepath"
	"time"
)

// ServiceConfig defines defaults and limits for the session service.
type ServiceConfig struct {
	// StateDir holds persisted settings and stored items.
	StateDir string
	// Provider is the agent CLI binary launched inside each session.
	Provider string
	// ProviderArgs are extra arguments appended to the provider invocation.
	ProviderArgs []string
	// TmuxBinary is the terminal multiplexer executable.
	TmuxBinary string
	// BufferMaxBytes caps the per-session history buffer.
	BufferMaxBytes int
	// NotifyDebounce is the per-project cooldown for desktop notifications.
	NotifyDebounce time.Duration
	// ProbeTimeout bounds one-shot availability probes.
	ProbeTimeout time.Duration
	// TestCommandTimeout bounds test-command execution.
	TestCommandTimeout time.Duration
}

// DefaultBufferMaxBytes is the default history buffer cap.
const DefaultBufferMaxBytes = 10000

// DefaultNotifyDebounce is the default notification cooldown window.
const DefaultNotifyDebounce = 5 * time.Second

// DefaultProbeTimeout is the default timeout for availability probes.
const DefaultProbeTimeout = 5 * time.Second

// DefaultTestCommandTimeout is the default timeout for test-command runs.
const DefaultTestCommandTimeout = 30 * time.Second

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	if cfg.StateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ServiceConfig{}, err
		}
		cfg.StateDir = filepath.Join(home, ".agentmux", "state")
	}
	if cfg.Provider == "" {
		cfg.Provider = "claude"
	}
	if cfg.TmuxBinary == "" {
		cfg.TmuxBinary = "tmux"
	}
	if cfg.BufferMaxBytes <= 0 {
		cfg.BufferMaxBytes = DefaultBufferMaxBytes
	}
	if cfg.NotifyDebounce <= 0 {
		cfg.NotifyDebounce = DefaultNotifyDebounce
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.TestCommandTimeout <= 0 {
		cfg.TestCommandTimeout = DefaultTestCommandTimeout
	}
	return cfg, nil
}

// ValidateProjectID ensures a project id matches [a-zA-Z0-9._-].
func ValidateProjectID(projectID ProjectID) error {
	raw := string(projectID)
	if raw == "" {
		return ErrInvalidProject
	}
	for _, r := range raw {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			continue
		}
		if r == '.' || r == '_' || r == '-' {
			continue
		}
		return ErrInvalidProject
	}
	return nil
}
