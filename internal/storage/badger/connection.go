package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/trawler/internal/common"
)

// gcInterval paces value log garbage collection.
const gcInterval = 10 * time.Minute

// BadgerDB manages the Badger database connection
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
}

// NewBadgerDB opens the Badger database, creating the directory if needed.
func NewBadgerDB(logger arbor.ILogger, config *common.StorageConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.BadgerPath); err == nil {
			logger.Debug().Str("path", config.BadgerPath).Msg("Deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.BadgerPath); err != nil {
				logger.Warn().Err(err).Str("path", config.BadgerPath).Msg("Failed to delete database directory")
			}
		}
	}

	dir := filepath.Dir(config.BadgerPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.BadgerPath).Msg("Opening Badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.BadgerPath
	options.ValueDir = config.BadgerPath
	options.Logger = nil // Disable default badger logger to use arbor

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return &BadgerDB{store: store, logger: logger}, nil
}

// Store returns the underlying badgerhold store
func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// RunGC reclaims value log space periodically until the context is
// cancelled. Badger returns ErrNoRewrite when there is nothing to collect.
func (b *BadgerDB) RunGC(ctx context.Context) {
	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				err := b.store.Badger().RunValueLogGC(0.5)
				if err == badgerdb.ErrNoRewrite {
					break
				}
				if err != nil {
					b.logger.Warn().Err(err).Msg("Badger value log GC failed")
					break
				}
			}
		}
	}
}

// Close closes the database connection
func (b *BadgerDB) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}
