//go:build !linux

package service

func installImpl(cfg Config, execPath string) error {
	return ErrUnsupported
}

func uninstallImpl(name string) error {
	return ErrUnsupported
}

func statusImpl(name string) (string, error) {
	return "", ErrUnsupported
}

func isInstalledImpl(name string) bool {
	return false
}
