// Package config provides configuration parsing and validation for the anchor daemon.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/postalsys/anchor/internal/logging"
)

// MaxChunkSize mirrors the UDP payload ceiling enforced by the data socket.
const MaxChunkSize = 65507

// Config represents the complete daemon configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	Data    DataConfig    `yaml:"data"`
	Command CommandConfig `yaml:"command"`
	Source  SourceConfig  `yaml:"source"`
	Health  HealthConfig  `yaml:"health"`
}

// AgentConfig contains process-wide settings.
type AgentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// DataConfig defines the UDP data socket.
type DataConfig struct {
	Address      string        `yaml:"address"`        // local IPv4 address to bind
	Port         int           `yaml:"port"`           // local port to bind
	MaxChunkSize int           `yaml:"max_chunk_size"` // payload bytes per datagram
	ReuseAddr    bool          `yaml:"reuse_addr"`
	RateLimit    ByteSize      `yaml:"rate_limit"` // bytes per second, 0 = unlimited
	BatchSize    int           `yaml:"batch_size"` // datagrams per syscall
	WriteTimeout time.Duration `yaml:"write_timeout"`
	TTL          int           `yaml:"ttl"`
	TOS          int           `yaml:"tos"`
}

// CommandConfig defines the TCP command listener.
type CommandConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	PortOffset  int           `yaml:"port_offset"` // data port = command peer port + offset
	ReadTimeout time.Duration `yaml:"read_timeout"`
	AllowPower  bool          `yaml:"allow_power"`
	PoweroffCmd []string      `yaml:"poweroff_cmd"`
	RebootCmd   []string      `yaml:"reboot_cmd"`
}

// SourceConfig defines where sample buffers come from.
type SourceConfig struct {
	Type         string `yaml:"type"` // pattern, file
	Path         string `yaml:"path"` // capture file for type=file
	BufferLength int    `yaml:"buffer_length"` // samples per buffer
	Channels     int    `yaml:"channels"`      // interleaved int16 channels per sample
	SampleRate   int    `yaml:"sample_rate"`
	Bandwidth    int    `yaml:"bandwidth"`
	CenterFreq   int64  `yaml:"center_freq"`
}

// HealthConfig defines health check server settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Data: DataConfig{
			Address:      "0.0.0.0",
			Port:         2207,
			MaxChunkSize: MaxChunkSize,
			ReuseAddr:    true,
			BatchSize:    1,
		},
		Command: CommandConfig{
			Enabled:     true,
			Address:     "0.0.0.0:2206",
			PortOffset:  1000,
			ReadTimeout: 0,
			AllowPower:  false,
			PoweroffCmd: []string{"sudo", "poweroff"},
			RebootCmd:   []string{"sudo", "reboot"},
		},
		Source: SourceConfig{
			Type:         "pattern",
			BufferLength: 262144,
			Channels:     8,
			SampleRate:   50000000,
			Bandwidth:    56000000,
			CenterFreq:   2462000000,
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	// Start with defaults
	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// Handle default values: ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match // Keep original if not found
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !logging.ValidLevel(c.Agent.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.Agent.LogLevel))
	}
	if !logging.ValidFormat(c.Agent.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.Agent.LogFormat))
	}

	// Data socket
	if !isIPv4(c.Data.Address) {
		errs = append(errs, fmt.Sprintf("data.address must be an IPv4 address: %q", c.Data.Address))
	}
	if c.Data.Port < 0 || c.Data.Port > 65535 {
		errs = append(errs, "data.port must be between 0 and 65535")
	}
	if c.Data.MaxChunkSize < 1 || c.Data.MaxChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Sprintf("data.max_chunk_size must be between 1 and %d", MaxChunkSize))
	}
	if c.Data.RateLimit < 0 {
		errs = append(errs, "data.rate_limit must not be negative")
	}
	if c.Data.BatchSize < 1 || c.Data.BatchSize > 1024 {
		errs = append(errs, "data.batch_size must be between 1 and 1024")
	}
	if c.Data.TTL < 0 || c.Data.TTL > 255 {
		errs = append(errs, "data.ttl must be between 0 and 255")
	}
	if c.Data.TOS < 0 || c.Data.TOS > 255 {
		errs = append(errs, "data.tos must be between 0 and 255")
	}

	// Command listener
	if c.Command.Enabled {
		if host, _, err := net.SplitHostPort(c.Command.Address); err != nil {
			errs = append(errs, fmt.Sprintf("command.address: %v", err))
		} else if host != "" && !isIPv4(host) {
			errs = append(errs, fmt.Sprintf("command.address host must be an IPv4 address: %q", host))
		}
		if c.Command.PortOffset < -65535 || c.Command.PortOffset > 65535 {
			errs = append(errs, "command.port_offset out of range")
		}
		if c.Command.AllowPower && (len(c.Command.PoweroffCmd) == 0 || len(c.Command.RebootCmd) == 0) {
			errs = append(errs, "command.poweroff_cmd and command.reboot_cmd are required when allow_power is set")
		}
	}

	// Source
	switch c.Source.Type {
	case "pattern":
	case "file":
		if c.Source.Path == "" {
			errs = append(errs, "source.path is required for file source")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid source.type: %s (must be pattern or file)", c.Source.Type))
	}
	if c.Source.BufferLength < 1 {
		errs = append(errs, "source.buffer_length must be positive")
	}
	if c.Source.Channels < 1 {
		errs = append(errs, "source.channels must be positive")
	}
	if c.Source.SampleRate < 1 {
		errs = append(errs, "source.sample_rate must be positive")
	}

	if c.Health.Enabled && c.Health.Address == "" {
		errs = append(errs, "health.address is required when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func isIPv4(addr string) bool {
	ip, err := netip.ParseAddr(addr)
	return err == nil && ip.Is4()
}

// BufferBytes returns the size in bytes of one sample buffer.
func (s SourceConfig) BufferBytes() int {
	return s.BufferLength * s.Channels * 2
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
