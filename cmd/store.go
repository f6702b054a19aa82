package cmd

import (
	"context"

	"github.com/mselser95/triarb/internal/app"
	"github.com/mselser95/triarb/internal/storage"
	"github.com/mselser95/triarb/pkg/config"
	"go.uber.org/zap"
)

// openTradeReader opens the configured trade store for reading. It returns a
// nil reader for console storage, which keeps no history.
func openTradeReader(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.TradeReader, func(), error) {
	store, err := app.NewStorage(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	reader, ok := store.(storage.TradeReader)
	if !ok {
		_ = store.Close()
		return nil, func() {}, nil
	}

	return reader, func() { _ = store.Close() }, nil
}
