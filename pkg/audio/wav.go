package audio

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// PCM is decoded linear PCM audio with its format.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
	// BytesPerSample is the sample width (2 for 16-bit).
	BytesPerSample int
}

// Length reports the playback length of the buffer.
func (p PCM) Length() time.Duration {
	return Duration(len(p.Data), p.SampleRate, p.BytesPerSample, p.Channels)
}

// LoadWAV reads a RIFF/WAVE file and returns its raw PCM payload.
func LoadWAV(path string) (PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return PCM{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// ReadWAV decodes a WAVE stream. Only integer PCM is accepted.
func ReadWAV(r io.ReadSeeker) (PCM, error) {
	d := wav.NewDecoder(r)
	if err := d.FwdToPCM(); err != nil {
		return PCM{}, fmt.Errorf("seek pcm chunk: %w", err)
	}
	if d.PCMChunk == nil {
		return PCM{}, fmt.Errorf("wav file has no data chunk")
	}
	if d.WavAudioFormat != 1 {
		return PCM{}, fmt.Errorf("unsupported wav format %d: only linear PCM", d.WavAudioFormat)
	}
	if d.NumChans < 1 || d.BitDepth < 8 {
		return PCM{}, fmt.Errorf("invalid wav header: %d channels, %d bits", d.NumChans, d.BitDepth)
	}
	data, err := io.ReadAll(d.PCMChunk)
	if err != nil {
		return PCM{}, fmt.Errorf("read pcm: %w", err)
	}
	return PCM{
		Data:           data,
		SampleRate:     int(d.SampleRate),
		Channels:       int(d.NumChans),
		BytesPerSample: int(d.BitDepth) / 8,
	}, nil
}
