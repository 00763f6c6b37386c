// Package service installs the anchor daemon as a systemd unit so it starts
// at boot and restarts after a crash.
package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ErrUnsupported is returned on platforms without systemd support.
var ErrUnsupported = errors.New("service installation is only supported on Linux with systemd")

// Config holds configuration for installing the service.
type Config struct {
	// Name is the unit name without the .service suffix.
	Name string

	// Description is the unit description.
	Description string

	// ConfigPath is the absolute path to the daemon config file.
	ConfigPath string

	// WorkingDir is the working directory for the daemon.
	WorkingDir string

	// User and Group to run as. Empty runs as root.
	User  string
	Group string

	// Hardened adds systemd sandboxing. The halt and boot commands need it
	// off, since they run privileged helpers.
	Hardened bool
}

// DefaultConfig returns a default service configuration.
func DefaultConfig(configPath string) Config {
	absPath, _ := filepath.Abs(configPath)

	return Config{
		Name:        "anchor",
		Description: "anchor UDP sample streamer",
		ConfigPath:  absPath,
		WorkingDir:  filepath.Dir(absPath),
		Hardened:    true,
	}
}

// Validate checks cfg before it is written into a unit.
func (c Config) Validate() error {
	if c.Name == "" || strings.ContainsAny(c.Name, "/ \t\n") {
		return fmt.Errorf("invalid service name %q", c.Name)
	}
	if !filepath.IsAbs(c.ConfigPath) {
		return fmt.Errorf("config path must be absolute: %q", c.ConfigPath)
	}
	if strings.ContainsAny(c.ConfigPath+c.WorkingDir+c.Description, "\n") {
		return errors.New("unit fields must not contain newlines")
	}
	return nil
}

// Install writes, enables and starts the unit.
func Install(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !isRoot() {
		return fmt.Errorf("must run as root to install service")
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}

	return installImpl(cfg, execPath)
}

// Uninstall stops, disables and removes the unit.
func Uninstall(name string) error {
	if !isRoot() {
		return fmt.Errorf("must run as root to uninstall service")
	}
	return uninstallImpl(name)
}

// Status returns the unit's active state as reported by systemctl.
func Status(name string) (string, error) {
	return statusImpl(name)
}

// IsInstalled checks if the unit file exists.
func IsInstalled(name string) bool {
	return isInstalledImpl(name)
}

// GenerateUnit renders the systemd unit for cfg.
func GenerateUnit(cfg Config, execPath string) string {
	var b strings.Builder

	fmt.Fprintf(&b, `[Unit]
Description=%s
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s run -c %s
WorkingDirectory=%s
`, cfg.Description, execPath, cfg.ConfigPath, cfg.WorkingDir)

	if cfg.User != "" {
		fmt.Fprintf(&b, "User=%s\n", cfg.User)
	}
	if cfg.Group != "" {
		fmt.Fprintf(&b, "Group=%s\n", cfg.Group)
	}

	b.WriteString(`Restart=on-failure
RestartSec=5
TimeoutStopSec=30
`)

	if cfg.Hardened {
		fmt.Fprintf(&b, `
# Security hardening
NoNewPrivileges=true
ProtectSystem=strict
ProtectHome=read-only
PrivateTmp=true
ReadWritePaths=%s
`, cfg.WorkingDir)
	}

	fmt.Fprintf(&b, `
# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=%s

[Install]
WantedBy=multi-user.target
`, cfg.Name)

	return b.String()
}

// runCommand executes a command and returns combined output.
var runCommand = func(name string, args ...string) (string, error) {
	output, err := exec.Command(name, args...).CombinedOutput()
	return string(output), err
}

var isRoot = func() bool {
	return os.Geteuid() == 0
}
