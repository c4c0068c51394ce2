//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXUnsupported = errors.New("ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXEmbedder is unavailable without cgo.
type ONNXEmbedder struct{}

// NewONNXEmbedder always fails without cgo.
func NewONNXEmbedder(string, int, int) (*ONNXEmbedder, error) {
	return nil, errONNXUnsupported
}

func (*ONNXEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errONNXUnsupported
}

func (*ONNXEmbedder) Dimensions() int { return 0 }

func (*ONNXEmbedder) Close() error { return nil }
