package replay_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/sarvis/pkg/audio"
	"github.com/MrWong99/sarvis/pkg/audio/replay"
)

var format16k = audio.Format{SampleRate: 16000, FrameDuration: 20 * time.Millisecond}

func writeWAV(t *testing.T, fs afero.Fs, path string, samples []int16, rate int) {
	t.Helper()
	data, err := audio.EncodeWAV(samples, rate)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestOpen_SplitsIntoFrames(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	// 2.5 frames worth of samples.
	samples := make([]int16, 800)
	for i := range samples {
		samples[i] = int16(i)
	}
	writeWAV(t, fs, "/rec.wav", samples, 16000)

	src, err := replay.Open(fs, "/rec.wav", format16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	ctx := context.Background()
	for i := range 2 {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(f.Samples) != 320 {
			t.Errorf("frame %d: got %d samples, want 320", i, len(f.Samples))
		}
		if f.Timestamp != time.Duration(i)*20*time.Millisecond {
			t.Errorf("frame %d: timestamp %s", i, f.Timestamp)
		}
		if f.Samples[0] != int16(i*320) {
			t.Errorf("frame %d: first sample %d", i, f.Samples[0])
		}
	}
	if _, err := src.ReadFrame(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for the partial tail, got %v", err)
	}
}

func TestOpen_Resamples(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	writeWAV(t, fs, "/rec48.wav", make([]int16, 48000), 48000)

	src, err := replay.Open(fs, "/rec48.wav", format16k)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	count := 0
	for {
		_, err := src.ReadFrame(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		count++
	}
	if count != 50 {
		t.Errorf("got %d frames from one second, want 50", count)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := replay.Open(afero.NewMemMapFs(), "/nope.wav", format16k); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoopAndClose(t *testing.T) {
	t.Parallel()
	src := replay.New(make([]int16, 320), format16k, replay.WithLoop())
	ctx := context.Background()
	for i := range 3 {
		if _, err := src.ReadFrame(ctx); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	_ = src.Close()
	if _, err := src.ReadFrame(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("after Close: got %v, want io.EOF", err)
	}
}

func TestReadFrame_CancelledContext(t *testing.T) {
	t.Parallel()
	src := replay.New(make([]int16, 320), format16k)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := src.ReadFrame(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
