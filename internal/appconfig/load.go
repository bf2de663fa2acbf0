package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"pkt.systems/agentmux/schema"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("state_dir", cfg.StateDir)
	v.SetDefault("provider.binary", cfg.Provider.Binary)
	v.SetDefault("provider.args", cfg.Provider.Args)
	v.SetDefault("tmux.binary", cfg.Tmux.Binary)
	v.SetDefault("service.buffer_max_bytes", cfg.Service.BufferMaxBytes)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("notify.debounce_seconds", cfg.Notify.DebounceSeconds)
	v.SetDefault("timeouts.probe_seconds", cfg.Timeouts.ProbeSeconds)
	v.SetDefault("timeouts.test_command_seconds", cfg.Timeouts.TestCommandSeconds)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		// With SetConfigFile a missing file surfaces as *fs.PathError, not
		// ConfigFileNotFoundError. Either way means first run on defaults.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.IsSet("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
		if v.GetInt("service.buffer_max_bytes") <= 0 {
			return Config{}, fmt.Errorf("service.buffer_max_bytes must be positive")
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	return cfg, nil
}

// ServiceConfig converts the loaded config into the core service config.
func (c Config) ServiceConfig() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:           c.StateDir,
		Provider:           c.Provider.Binary,
		ProviderArgs:       c.Provider.Args,
		TmuxBinary:         c.Tmux.Binary,
		BufferMaxBytes:     c.Service.BufferMaxBytes,
		NotifyDebounce:     time.Duration(c.Notify.DebounceSeconds) * time.Second,
		ProbeTimeout:       time.Duration(c.Timeouts.ProbeSeconds) * time.Second,
		TestCommandTimeout: time.Duration(c.Timeouts.TestCommandSeconds) * time.Second,
	}
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.StateDir = expandEnv(cfg.StateDir)
	cfg.Provider.Binary = expandEnv(cfg.Provider.Binary)
	cfg.Tmux.Binary = expandEnv(cfg.Tmux.Binary)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
