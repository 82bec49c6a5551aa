// Package config provides unified TOML configuration for ssrtun.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration.
type Config struct {
	Listen ListenConfig `toml:"listen"`
	Remote RemoteConfig `toml:"remote"`
	Log    LogConfig    `toml:"log"`
}

// ListenConfig is the local, unauthenticated SOCKS5 front end.
type ListenConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RemoteConfig describes the upstream Shadowsocks/SSR server and the
// pipeline applied to every tunnel it serves.
type RemoteConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Password string `toml:"password"`
	Method   string `toml:"method"`

	Protocol      string `toml:"protocol"`
	ProtocolParam string `toml:"protocol_param"`
	Obfs          string `toml:"obfs"`
	ObfsParam     string `toml:"obfs_param"`

	IdleTimeout Duration `toml:"idle_timeout"`
	UDP         bool     `toml:"udp"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level string `toml:"level"`
}

// Duration wraps time.Duration for TOML string parsing.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Load reads and parses a TOML configuration file, applying the same
// defaults WriteDefault writes out.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	cfg.Listen.Host = "127.0.0.1"
	cfg.Listen.Port = 1080
	cfg.Remote.Port = 8388
	cfg.Remote.Method = "aes-256-cfb"
	cfg.Remote.Protocol = "origin"
	cfg.Remote.Obfs = "plain"
	cfg.Remote.IdleTimeout = Duration{300 * time.Second}
	cfg.Log.Level = "info"

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for obvious errors before a tunnel is
// ever opened.
func (c *Config) Validate() error {
	if c.Listen.Host == "" {
		return fmt.Errorf("listen.host is required")
	}
	if c.Listen.Port <= 0 {
		return fmt.Errorf("listen.port must be positive")
	}
	if c.Remote.Host == "" {
		return fmt.Errorf("remote.host is required")
	}
	if c.Remote.Port <= 0 {
		return fmt.Errorf("remote.port must be positive")
	}
	if c.Remote.Password == "" {
		return fmt.Errorf("remote.password is required")
	}
	if c.Remote.Method == "" {
		return fmt.Errorf("remote.method is required")
	}
	if c.Remote.Protocol == "" {
		return fmt.Errorf("remote.protocol is required")
	}
	if c.Remote.Obfs == "" {
		return fmt.Errorf("remote.obfs is required")
	}
	return nil
}

// WriteDefault writes a default config file to the given path.
func WriteDefault(path string) error {
	content := `# ssrtun configuration

[listen]
host = "127.0.0.1"
port = 1080

[remote]
host = ""
port = 8388
password = ""
method = "aes-256-cfb"
protocol = "origin"
protocol_param = ""
obfs = "plain"
obfs_param = ""
idle_timeout = "300s"
udp = false

[log]
level = "info"
`
	return os.WriteFile(path, []byte(content), 0644)
}
