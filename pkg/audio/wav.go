package audio

import (
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero/mem"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

// EncodeWAV wraps mono samples in a RIFF/WAV container suitable for a
// multipart upload.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: encode wav: invalid sample rate %d", sampleRate)
	}

	// The encoder patches header sizes by seeking, so it needs a seekable
	// in-memory file rather than a bytes.Buffer.
	f := mem.NewFileHandle(mem.CreateFile("segment.wav"))
	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, 1, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("audio: finalise wav: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("audio: rewind wav: %w", err)
	}
	return io.ReadAll(f)
}

// ErrInvalidWAV is returned by [DecodeWAV] when the input is not a PCM WAV
// file.
var ErrInvalidWAV = errors.New("audio: not a valid PCM wav file")

// DecodeWAV reads a 16-bit PCM WAV stream and returns its samples down-mixed
// to mono together with the sample rate.
func DecodeWAV(r io.ReadSeeker) ([]int16, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}
	if dec.BitDepth != wavBitDepth {
		return nil, 0, fmt.Errorf("audio: decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("audio: decode wav: %w", err)
	}

	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	channels := buf.Format.NumChannels
	return InterleavedToMono(samples, channels), buf.Format.SampleRate, nil
}
