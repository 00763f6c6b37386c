package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// File replays a raw capture file one buffer at a time, wrapping to the start
// when it reaches the end.
type File struct {
	mu         sync.Mutex
	f          *os.File
	buf        []byte
	length     int
	sampleRate int
}

// OpenFile opens a capture file. The file must hold at least one full buffer.
func OpenFile(path string, length, channels, sampleRate int) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}

	size := length * channels * 2
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat capture: %w", err)
	}
	if info.Size() < int64(size) {
		f.Close()
		return nil, fmt.Errorf("capture %s holds %d bytes, need at least %d", path, info.Size(), size)
	}

	return &File{
		f:          f,
		buf:        make([]byte, size),
		length:     length,
		sampleRate: sampleRate,
	}, nil
}

// Refill reads the next buffer from the file.
func (s *File) Refill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := io.ReadFull(s.f, s.buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		// Trailing partial buffer is skipped.
		if _, err := s.f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind capture: %w", err)
		}
		_, err = io.ReadFull(s.f, s.buf)
	}
	if err != nil {
		return fmt.Errorf("read capture: %w", err)
	}
	return nil
}

// Buffer returns the last buffer read.
func (s *File) Buffer() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf
}

// BufferLength returns the number of samples per buffer.
func (s *File) BufferLength() int { return s.length }

// SampleRate returns the configured sample rate.
func (s *File) SampleRate() int { return s.sampleRate }

// Close closes the capture file.
func (s *File) Close() error {
	return s.f.Close()
}
