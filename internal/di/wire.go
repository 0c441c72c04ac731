//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"engram-backend/internal/config"

	"github.com/google/wire"
)

// InitializeContainer builds the full engine from configuration.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(ProviderSet)
	return nil, nil
}
