// Package embedding provides the embedding gateway: provider adapters for a self-hosted
// service and a cloud API, provider health tracking and concurrent dual embedding.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrProviderUnavailable means a provider call failed, timed out or returned a bad
	// response. It is not fatal: the provider's partition is skipped.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	// ErrNoProviderConfigured means no embedding provider is configured at all.
	ErrNoProviderConfigured = errors.New("no embedding provider configured")
	// ErrProviderNotConfigured means the requested provider is not configured.
	ErrProviderNotConfigured = errors.New("embedding provider not configured")
)

// Embedder produces one fixed-dimension vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Pinger is implemented by embedders that can report liveness without embedding.
type Pinger interface {
	Ping(ctx context.Context) error
}
