package onnx_test

import (
	"context"
	"os"
	"testing"

	ortmodel "github.com/MrWong99/sarvis/pkg/onnx"
	vponnx "github.com/MrWong99/sarvis/pkg/provider/voiceprint/onnx"
)

func TestNew_MissingModel(t *testing.T) {
	if _, err := vponnx.New(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestEmbed_RealModel(t *testing.T) {
	path := os.Getenv("SARVIS_TEST_SPEAKER_MODEL")
	lib := os.Getenv("SARVIS_TEST_ONNX_LIB")
	if path == "" || lib == "" {
		t.Skip("SARVIS_TEST_SPEAKER_MODEL / SARVIS_TEST_ONNX_LIB not set; skipping")
	}
	e, err := vponnx.New(path, ortmodel.WithLibraryPath(lib))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	feats := make([][]float32, 120)
	for i := range feats {
		feats[i] = make([]float32, 80)
		feats[i][i%80] = 1
	}
	emb, err := e.Embed(context.Background(), feats)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(emb) == 0 {
		t.Fatal("empty embedding")
	}
	if _, err := e.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty features")
	}
}
