// Package source provides the sample buffers the daemon streams to hosts.
//
// A Source hands out one fixed-size buffer at a time. Refill replaces the
// current buffer; Buffer returns it without copying, so the slice is only
// valid until the next Refill.
package source

import (
	"context"
	"fmt"

	"github.com/postalsys/anchor/internal/config"
)

// Source produces sample buffers of constant size.
type Source interface {
	// Refill acquires the next buffer.
	Refill(ctx context.Context) error

	// Buffer returns the buffer acquired by the last Refill.
	Buffer() []byte

	// BufferLength returns the number of samples per buffer.
	BufferLength() int

	// SampleRate returns the sample rate in samples per second.
	SampleRate() int

	// Close releases resources held by the source.
	Close() error
}

// New creates the source described by cfg.
func New(cfg config.SourceConfig) (Source, error) {
	switch cfg.Type {
	case "pattern", "":
		return NewPattern(cfg.BufferLength, cfg.Channels, cfg.SampleRate), nil
	case "file":
		return OpenFile(cfg.Path, cfg.BufferLength, cfg.Channels, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
