// Package audio provides the chunk sources consumed by a session uplink.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// BytesPerSample for 16-bit linear PCM.
const BytesPerSample = 2

// DefaultInterval is the real-time pacing resolution.
const DefaultInterval = 20 * time.Millisecond

// Source yields audio chunks in order. Next returns io.EOF once exhausted.
// A chunk is owned by the caller after Next returns and is never reused by
// the source.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
}

// ChunkSize returns the byte length of one interval of audio:
// sampleRate * bytesPerSample * channels * interval.
func ChunkSize(sampleRate, bytesPerSample, channels int, interval time.Duration) int {
	if sampleRate <= 0 || bytesPerSample <= 0 || channels <= 0 || interval <= 0 {
		return 0
	}
	byteRate := int64(sampleRate * bytesPerSample * channels)
	n := int(byteRate * int64(interval) / int64(time.Second))
	frame := bytesPerSample * channels
	// Never split a sample frame across chunks.
	n -= n % frame
	if n < frame {
		n = frame
	}
	return n
}

// BufferSource slices a fixed PCM buffer into equal chunks; the last chunk
// may be shorter.
type BufferSource struct {
	data      []byte
	chunkSize int
	offset    int
}

func NewBufferSource(data []byte, chunkSize int) (*BufferSource, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	return &BufferSource{data: data, chunkSize: chunkSize}, nil
}

func (b *BufferSource) Next(ctx context.Context) ([]byte, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	if b.offset >= len(b.data) {
		return nil, io.EOF
	}
	end := b.offset + b.chunkSize
	if end > len(b.data) {
		end = len(b.data)
	}
	chunk := append([]byte(nil), b.data[b.offset:end]...)
	b.offset = end
	return chunk, nil
}

// Remaining reports unread bytes.
func (b *BufferSource) Remaining() int { return len(b.data) - b.offset }

// ChannelSource is fed by a live producer such as a capture callback. Push
// blocks while the buffer is full, which backpressures the producer instead
// of buffering without bound.
type ChannelSource struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// ErrSourceClosed is returned by Push after Close.
var ErrSourceClosed = errors.New("audio source closed")

func NewChannelSource(buffer int) *ChannelSource {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSource{ch: make(chan []byte, buffer), done: make(chan struct{})}
}

// Push hands a chunk to the uplink. The chunk must not be modified afterwards.
func (s *ChannelSource) Push(ctx context.Context, chunk []byte) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-s.done:
		return ErrSourceClosed
	default:
	}
	select {
	case s.ch <- chunk:
		return nil
	case <-s.done:
		return ErrSourceClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the source exhausted once buffered chunks are drained.
func (s *ChannelSource) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *ChannelSource) Next(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case chunk := <-s.ch:
		return chunk, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case chunk := <-s.ch:
		return chunk, nil
	case <-s.done:
		select {
		case chunk := <-s.ch:
			return chunk, nil
		default:
			return nil, io.EOF
		}
	}
}

// NewReaderSource streams fixed-size chunks from r (for example raw PCM on
// stdin). Reads happen on a separate goroutine so Next stays responsive to
// cancellation; at most one chunk is read ahead.
func NewReaderSource(r io.Reader, chunkSize int) (*ReaderSource, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	rs := &ReaderSource{results: make(chan readResult, 1), stop: make(chan struct{})}
	go rs.pump(r, chunkSize)
	return rs, nil
}

type readResult struct {
	chunk []byte
	err   error
}

// ReaderSource adapts an io.Reader to Source.
type ReaderSource struct {
	results  chan readResult
	stop     chan struct{}
	stopOnce sync.Once
	err      error
}

func (s *ReaderSource) pump(r io.Reader, chunkSize int) {
	defer close(s.results)
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case s.results <- readResult{chunk: buf[:n]}:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				err = io.EOF
			}
			select {
			case s.results <- readResult{err: err}:
			case <-s.stop:
			}
			return
		}
	}
}

func (s *ReaderSource) Next(ctx context.Context) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.err != nil {
		return nil, s.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.results:
		if !ok {
			s.err = io.EOF
			return nil, io.EOF
		}
		if r.err != nil {
			s.err = r.err
			return nil, r.err
		}
		return r.chunk, nil
	}
}

// Close stops the read-ahead goroutine once its pending read returns.
func (s *ReaderSource) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Duration reports the playback length of n bytes of PCM.
func Duration(n, sampleRate, bytesPerSample, channels int) time.Duration {
	byteRate := sampleRate * bytesPerSample * channels
	if byteRate <= 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(byteRate) * float64(time.Second))
}
