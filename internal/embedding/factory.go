package embedding

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/hybridkb/internal/config"
	"github.com/hyperjump/hybridkb/internal/models"
)

// NewFromConfig builds the gateway for the providers enabled by cfg.Mode. The cloud
// provider needs an API key unless its backend is mock. A gateway without providers is
// valid.
func NewFromConfig(cfg *config.EmbeddingConfig, logger *zap.Logger) (*Gateway, error) {
	opts := GatewayOptions{
		SearchProvider: models.Provider(cfg.SearchProvider),
		HealthTTL:      cfg.HealthTTL,
		CacheSize:      cfg.CacheSize,
		BatchSize:      cfg.BatchSize,
		Logger:         logger,
	}

	if cfg.LocalEnabled() {
		l := cfg.Local
		switch l.Backend {
		case "", "ollama":
			opts.Local = NewOllamaEmbedder(l.BaseURL, l.Model, l.Dimensions, l.Timeout, cfg.MaxRetries)
		case "onnx":
			e, err := NewONNXEmbedder(l.ModelPath, l.Dimensions, l.MaxTokens)
			if err != nil {
				return nil, fmt.Errorf("local embedder: %w", err)
			}
			opts.Local = e
		case "mock":
			opts.Local = NewMockEmbedder(l.Dimensions)
		default:
			return nil, fmt.Errorf("unknown local embedding backend %q", l.Backend)
		}
	}

	if cfg.CloudEnabled() {
		c := cfg.Cloud
		switch c.Backend {
		case "", "openai":
			if c.APIKey == "" {
				if logger != nil {
					logger.Warn("cloud embedding enabled but no API key set; cloud provider disabled")
				}
				break
			}
			opts.Cloud = NewOpenAIEmbedder(c.BaseURL, c.APIKey, c.Model, c.Dimensions, c.Timeout, cfg.MaxRetries)
		case "mock":
			opts.Cloud = NewMockEmbedder(c.Dimensions)
		default:
			return nil, fmt.Errorf("unknown cloud embedding backend %q", c.Backend)
		}
	}

	if opts.Local == nil && opts.Cloud == nil && logger != nil {
		logger.Warn("no embedding provider configured; only lexical search will return results")
	}
	return NewGateway(opts), nil
}
