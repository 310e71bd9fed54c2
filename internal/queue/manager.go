package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"
	_ "modernc.org/sqlite"

	"github.com/ternarybob/trawler/internal/common"
	"github.com/ternarybob/trawler/internal/interfaces"
	"github.com/ternarybob/trawler/internal/models"
)

// setupTimeout bounds queue table creation at startup.
const setupTimeout = 5 * time.Second

// Manager is a thin wrapper around goqite backed by SQLite. It provides ONLY
// queue operations, no business logic. Messages are at-least-once: an
// unacked message becomes visible again after the visibility timeout.
type Manager struct {
	q      *goqite.Queue
	db     *sql.DB
	wait   time.Duration
	logger arbor.ILogger
}

var _ interfaces.JobQueue = (*Manager)(nil)

// NewManager opens the backing SQLite database and creates the queue.
func NewManager(config *common.QueueConfig, logger arbor.ILogger) (*Manager, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	if err := goqite.Setup(ctx, db); err != nil {
		// Ignore "already exists" errors on subsequent startups
		if !strings.Contains(err.Error(), "already exists") {
			db.Close()
			return nil, fmt.Errorf("failed to set up queue tables: %w", err)
		}
	}

	q := goqite.New(goqite.NewOpts{
		DB:      db,
		Name:    config.Name,
		Timeout: config.VisibilityTimeoutDuration(),
	})

	return &Manager{
		q:      q,
		db:     db,
		wait:   config.ReceiveWaitDuration(),
		logger: logger,
	}, nil
}

// Publish enqueues a message. Returns false when the message was not durably
// accepted; callers compensate (the scheduler cancels the job it created).
func (m *Manager) Publish(ctx context.Context, msg models.QueueMessage) bool {
	data, err := msg.ToJSON()
	if err != nil {
		m.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to encode queue message")
		return false
	}

	if err := m.q.Send(ctx, goqite.Message{Body: data}); err != nil {
		m.logger.Error().Err(err).Str("job_id", msg.JobID).Msg("Failed to publish queue message")
		return false
	}
	return true
}

// Receive pulls the next message, waiting up to the configured window.
// Returns ErrNoMessage when the queue stays empty.
func (m *Manager) Receive(ctx context.Context) (*interfaces.Delivery, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.wait)
	defer cancel()

	gMsg, err := m.q.ReceiveAndWait(waitCtx, m.wait/10)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, interfaces.ErrNoMessage
		}
		return nil, err
	}
	if gMsg == nil {
		return nil, interfaces.ErrNoMessage
	}

	msg, err := models.QueueMessageFromJSON(gMsg.Body)
	if err != nil {
		// Poison message: remove it rather than loop on redelivery.
		m.logger.Warn().Err(err).Msg("Dropping malformed queue message")
		if delErr := m.deleteMessage(gMsg.ID); delErr != nil {
			m.logger.Error().Err(delErr).Msg("Failed to delete malformed queue message")
		}
		return nil, interfaces.ErrNoMessage
	}

	id := gMsg.ID
	return &interfaces.Delivery{
		Message: msg,
		Ack: func() error {
			return m.deleteMessage(id)
		},
		Nak: func() error {
			// Zero extension makes the message immediately visible again.
			nakCtx, cancel := context.WithTimeout(context.Background(), setupTimeout)
			defer cancel()
			return m.q.Extend(nakCtx, id, 0)
		},
	}, nil
}

// deleteMessage acks with a fresh context so acking still works after the
// receive context has expired.
func (m *Manager) deleteMessage(id goqite.ID) error {
	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()
	return m.q.Delete(ctx, id)
}

// Close closes the backing database.
func (m *Manager) Close() error {
	return m.db.Close()
}
