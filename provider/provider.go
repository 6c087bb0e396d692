package provider

import (
	"context"
)

// Provider is the contract every language model endpoint must satisfy.
// One implementation serves both inference and embeddings so the service
// talks to a single local endpoint.
type Provider interface {
	// IsAvailable reports whether the endpoint answers and serves the
	// configured model. It must never block longer than the probe timeout.
	IsAvailable(ctx context.Context) bool

	// Generate runs one text-in/text-out completion. system may be empty.
	Generate(ctx context.Context, prompt, system string, maxTokens int) (string, error)

	// CreateEmbedding maps each text to a fixed-length vector.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}
