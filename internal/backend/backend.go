// Package backend defines the contract with the external search
// service and an HTTP client implementation of it. The protocol core
// only depends on the Service interface; the ingestion pipeline,
// embedding generation, and vector index live behind it.
package backend

import (
	"context"

	"github.com/chatterhq/slack-chatter/internal/models"
)

// Service is the narrow contract the protocol core calls. Any
// implementation may fail or be slow; callers must treat it as remote.
type Service interface {
	Search(ctx context.Context, q models.SearchQuery) ([]models.SearchResult, error)
	Channels(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (models.SearchStats, error)
	Health(ctx context.Context) (models.Health, error)
}
