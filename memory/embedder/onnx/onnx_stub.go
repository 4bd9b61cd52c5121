//go:build !onnx

package onnx

import (
	"context"
	"fmt"
)

// Config configures the embedder. See onnx.go for the real fields; the
// stub keeps the shape so callers compile without the onnx tag.
type Config struct {
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
	Dimensions    int
}

// Embedder is unavailable without the onnx build tag.
type Embedder struct{}

// New reports that the binary was built without ONNX support.
func New(cfg Config) (*Embedder, error) {
	return nil, errUnavailable()
}

func errUnavailable() error {
	return fmt.Errorf("onnx: built without the onnx tag; rebuild with -tags onnx to run the embedding worker")
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errUnavailable()
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errUnavailable()
}

func (e *Embedder) Dimensions() int { return 0 }

func (e *Embedder) Close() error { return nil }
