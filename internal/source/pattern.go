package source

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
)

// Pattern generates deterministic interleaved int16 IQ samples: each channel
// carries a tone at a channel-specific frequency, continuous across buffers.
type Pattern struct {
	mu         sync.Mutex
	buf        []byte
	length     int
	channels   int
	sampleRate int
	sample     uint64 // index of the first sample of the next buffer
}

// NewPattern creates a synthetic source with length samples of channels
// little-endian int16 values per buffer.
func NewPattern(length, channels, sampleRate int) *Pattern {
	return &Pattern{
		buf:        make([]byte, length*channels*2),
		length:     length,
		channels:   channels,
		sampleRate: sampleRate,
	}
}

// Refill renders the next buffer.
func (p *Pattern) Refill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	const amplitude = 2048
	for i := 0; i < p.length; i++ {
		n := p.sample + uint64(i)
		for ch := 0; ch < p.channels; ch++ {
			// Period of 64, 96, 128, ... samples per channel.
			period := float64(64 + 32*ch)
			v := int16(amplitude * math.Sin(2*math.Pi*float64(n%uint64(period))/period))
			binary.LittleEndian.PutUint16(p.buf[(i*p.channels+ch)*2:], uint16(v))
		}
	}
	p.sample += uint64(p.length)

	return nil
}

// Buffer returns the last rendered buffer.
func (p *Pattern) Buffer() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf
}

// BufferLength returns the number of samples per buffer.
func (p *Pattern) BufferLength() int { return p.length }

// SampleRate returns the configured sample rate.
func (p *Pattern) SampleRate() int { return p.sampleRate }

// Close is a no-op.
func (p *Pattern) Close() error { return nil }
