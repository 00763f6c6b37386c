//go:build linux

package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var unitDir = "/etc/systemd/system"

func unitPath(name string) string {
	return filepath.Join(unitDir, name+".service")
}

func installImpl(cfg Config, execPath string) error {
	path := unitPath(cfg.Name)

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("service %s is already installed at %s", cfg.Name, path)
	}

	if err := os.WriteFile(path, []byte(GenerateUnit(cfg, execPath)), 0644); err != nil {
		return fmt.Errorf("failed to write systemd unit file: %w", err)
	}
	fmt.Printf("Created systemd unit: %s\n", path)

	if output, err := runCommand("systemctl", "daemon-reload"); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to reload systemd: %s: %w", strings.TrimSpace(output), err)
	}

	if output, err := runCommand("systemctl", "enable", cfg.Name); err != nil {
		return fmt.Errorf("failed to enable service: %s: %w", strings.TrimSpace(output), err)
	}
	fmt.Printf("Enabled service: %s\n", cfg.Name)

	if output, err := runCommand("systemctl", "start", cfg.Name); err != nil {
		return fmt.Errorf("failed to start service: %s: %w", strings.TrimSpace(output), err)
	}
	fmt.Printf("Started service: %s\n", cfg.Name)

	return nil
}

func uninstallImpl(name string) error {
	path := unitPath(name)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("service %s is not installed", name)
	}

	// Stop and disable are best effort; the unit may already be inactive.
	if output, err := runCommand("systemctl", "stop", name); err != nil {
		fmt.Printf("Note: could not stop service: %s\n", strings.TrimSpace(output))
	}
	if output, err := runCommand("systemctl", "disable", name); err != nil {
		fmt.Printf("Note: could not disable service: %s\n", strings.TrimSpace(output))
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("failed to remove systemd unit file: %w", err)
	}
	fmt.Printf("Removed systemd unit: %s\n", path)

	if _, err := runCommand("systemctl", "daemon-reload"); err != nil {
		fmt.Println("Note: failed to reload systemd daemon")
	}
	runCommand("systemctl", "reset-failed", name)

	return nil
}

func statusImpl(name string) (string, error) {
	output, err := runCommand("systemctl", "is-active", name)
	status := strings.TrimSpace(output)

	if err != nil {
		// is-active exits non-zero for every state but active.
		if status == "inactive" || status == "unknown" || status == "failed" {
			return status, nil
		}
		return "", fmt.Errorf("failed to get service status: %w", err)
	}

	return status, nil
}

func isInstalledImpl(name string) bool {
	_, err := os.Stat(unitPath(name))
	return err == nil
}
