package service

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("anchor.yaml")

	if cfg.Name != "anchor" {
		t.Errorf("Name = %q, want anchor", cfg.Name)
	}
	if !filepath.IsAbs(cfg.ConfigPath) {
		t.Errorf("ConfigPath = %q, want absolute", cfg.ConfigPath)
	}
	if cfg.WorkingDir != filepath.Dir(cfg.ConfigPath) {
		t.Errorf("WorkingDir = %q, want %q", cfg.WorkingDir, filepath.Dir(cfg.ConfigPath))
	}
	if !cfg.Hardened {
		t.Error("Hardened should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"name with slash", func(c *Config) { c.Name = "../anchor" }},
		{"relative config", func(c *Config) { c.ConfigPath = "anchor.yaml" }},
		{"newline in description", func(c *Config) { c.Description = "a\nExecStartPre=/bin/sh" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("/etc/anchor/anchor.yaml")
			tt.modify(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestGenerateUnit(t *testing.T) {
	cfg := DefaultConfig("/etc/anchor/anchor.yaml")
	cfg.User = "sdr"
	cfg.Group = "plugdev"

	unit := GenerateUnit(cfg, "/usr/local/bin/anchor")

	for _, want := range []string{
		"Description=anchor UDP sample streamer",
		"ExecStart=/usr/local/bin/anchor run -c /etc/anchor/anchor.yaml",
		"WorkingDirectory=/etc/anchor",
		"User=sdr\n",
		"Group=plugdev\n",
		"Restart=on-failure",
		"NoNewPrivileges=true",
		"ReadWritePaths=/etc/anchor",
		"SyslogIdentifier=anchor",
		"WantedBy=multi-user.target",
	} {
		if !strings.Contains(unit, want) {
			t.Errorf("unit missing %q:\n%s", want, unit)
		}
	}
}

func TestGenerateUnitUnhardened(t *testing.T) {
	cfg := DefaultConfig("/etc/anchor/anchor.yaml")
	cfg.Hardened = false

	unit := GenerateUnit(cfg, "/usr/local/bin/anchor")

	if strings.Contains(unit, "NoNewPrivileges") {
		t.Error("unhardened unit should not set NoNewPrivileges")
	}
	if strings.Contains(unit, "User=") {
		t.Error("unit without a user should not set User=")
	}
}

func TestInstallRequiresRoot(t *testing.T) {
	orig := isRoot
	isRoot = func() bool { return false }
	defer func() { isRoot = orig }()

	if err := Install(DefaultConfig("/etc/anchor/anchor.yaml")); err == nil {
		t.Error("Install() should fail without root")
	}
	if err := Uninstall("anchor"); err == nil {
		t.Error("Uninstall() should fail without root")
	}
}
