package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// ParseSize parses a human-readable size string to bytes.
// Supported formats:
//   - Decimal units: 100B, 10KB, 1MB, 1GB (1KB = 1000 bytes)
//   - Binary units: 10KiB, 1MiB, 1GiB (1KiB = 1024 bytes)
//   - Plain number: 1024 (interpreted as bytes)
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format '%s': %w", s, err)
	}
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size '%s' is too large", s)
	}

	return int64(bytes), nil
}

// FormatSize formats bytes using IEC binary units (KiB, MiB, ...).
func FormatSize(bytes int64) string {
	if bytes < 0 {
		return fmt.Sprintf("%d B", bytes)
	}
	return humanize.IBytes(uint64(bytes))
}

// ByteSize is a byte count that YAML may spell as a number or as a
// human-readable string such as "10 MB" or "64KiB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", value.Line)
	}

	n, err := ParseSize(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler. The output always parses back to
// the same value.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return formatExact(int64(b)), nil
}

// String returns the size in IEC units.
func (b ByteSize) String() string {
	return FormatSize(int64(b))
}

var exactUnits = []struct {
	size int64
	name string
}{
	{humanize.GiByte, "GiB"},
	{humanize.GByte, "GB"},
	{humanize.MiByte, "MiB"},
	{humanize.MByte, "MB"},
	{humanize.KiByte, "KiB"},
	{humanize.KByte, "KB"},
}

// formatExact uses the largest unit that divides n evenly.
func formatExact(n int64) string {
	if n > 0 {
		for _, u := range exactUnits {
			if n%u.size == 0 {
				return fmt.Sprintf("%d%s", n/u.size, u.name)
			}
		}
	}
	return fmt.Sprintf("%d", n)
}
