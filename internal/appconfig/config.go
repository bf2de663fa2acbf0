package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/agentmux/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int            `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string         `mapstructure:"state_dir" yaml:"state_dir"`
	Provider      ProviderConfig `mapstructure:"provider" yaml:"provider"`
	Tmux          TmuxConfig     `mapstructure:"tmux" yaml:"tmux"`
	Service       ServiceConfig  `mapstructure:"service" yaml:"service"`
	HTTP          HTTPConfig     `mapstructure:"http" yaml:"http"`
	Notify        NotifyConfig   `mapstructure:"notify" yaml:"notify"`
	Timeouts      TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ProviderConfig configures the agent CLI launched inside sessions.
type ProviderConfig struct {
	Binary string   `mapstructure:"binary" yaml:"binary"`
	Args   []string `mapstructure:"args" yaml:"args"`
}

// TmuxConfig configures the terminal multiplexer integration.
type TmuxConfig struct {
	Binary string `mapstructure:"binary" yaml:"binary"`
}

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	BufferMaxBytes int `mapstructure:"buffer_max_bytes" yaml:"buffer_max_bytes"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// NotifyConfig controls desktop notification behavior.
type NotifyConfig struct {
	DebounceSeconds int `mapstructure:"debounce_seconds" yaml:"debounce_seconds"`
}

// TimeoutsConfig bounds external-command execution.
type TimeoutsConfig struct {
	ProbeSeconds       int `mapstructure:"probe_seconds" yaml:"probe_seconds"`
	TestCommandSeconds int `mapstructure:"test_command_seconds" yaml:"test_command_seconds"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".agentmux", "state"),
		Provider: ProviderConfig{
			Binary: "claude",
			Args:   []string{},
		},
		Tmux: TmuxConfig{
			Binary: "tmux",
		},
		Service: ServiceConfig{
			BufferMaxBytes: schema.DefaultBufferMaxBytes,
		},
		HTTP: HTTPConfig{
			Addr: ":27490",
		},
		Notify: NotifyConfig{
			DebounceSeconds: int(schema.DefaultNotifyDebounce.Seconds()),
		},
		Timeouts: TimeoutsConfig{
			ProbeSeconds:       int(schema.DefaultProbeTimeout.Seconds()),
			TestCommandSeconds: int(schema.DefaultTestCommandTimeout.Seconds()),
		},
	}, nil
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".agentmux", "config.yaml"), nil
}
