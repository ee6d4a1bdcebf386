package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/tubefeed/tubefeed/pkg/domain"
)

//go:embed schema.sql
var schema string

// Store owns the persisted per-feed state: the seen-set of delivered item
// URLs, the backlog-done flag, and the counters exposed on the status surface.
// All mutations are durable before the call returns. Writes for different
// feeds may run concurrently; SQLite lock contention is retried with backoff.
type Store struct {
	db *sqlx.DB
}

// Config represents database configuration
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New opens the database, applies pragmas and initializes the schema
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		cfg.DSN = "file:tubefeed.db?cache=shared&mode=rwc&_txlock=immediate"
	}

	db, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// enable foreign keys
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// optimize SQLite settings, WAL keeps mutations durable without blocking readers
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000", // 5 second timeout for locks
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// feedRow mirrors the feeds table
type feedRow struct {
	ID             int64        `db:"id"`
	Name           string       `db:"name"`
	URL            string       `db:"url"`
	BacklogDone    bool         `db:"backlog_done"`
	DeliveredCount int64        `db:"delivered_count"`
	LastFetched    sql.NullTime `db:"last_fetched"`
	LastError      string       `db:"last_error"`
	CreatedAt      time.Time    `db:"created_at"`
	UpdatedAt      time.Time    `db:"updated_at"`
}

// UpsertFeed creates the feed record or refreshes its name and URL.
// Backlog state and counters survive reconfiguration.
func (s *Store) UpsertFeed(ctx context.Context, id int64, name, url string) error {
	return s.withRetry(ctx, func() error {
		query := `
			INSERT INTO feeds (id, name, url) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, url = excluded.url, updated_at = CURRENT_TIMESTAMP
		`
		_, err := s.db.ExecContext(ctx, query, id, name, url)
		if err != nil {
			return fmt.Errorf("upsert feed: %w", err)
		}
		return nil
	})
}

// Seen reports whether the item URL has already been delivered for the feed
func (s *Store) Seen(ctx context.Context, feedID int64, itemURL string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM seen_items WHERE feed_id = ? AND url = ?", feedID, itemURL)
	if err != nil {
		return false, fmt.Errorf("check seen item: %w", err)
	}
	return count > 0, nil
}

// MarkSeen records a delivered item URL and bumps the feed's delivered counter.
// Both happen in one transaction; calling it again for the same URL is a no-op.
// Callers must only invoke this after the delivery succeeded.
func (s *Store) MarkSeen(ctx context.Context, feedID int64, itemURL string) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO seen_items (feed_id, url) VALUES (?, ?)", feedID, itemURL)
		if err != nil {
			return fmt.Errorf("insert seen item: %w", err)
		}

		inserted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if inserted > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE feeds SET delivered_count = delivered_count + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
				feedID); err != nil {
				return fmt.Errorf("increment delivered count: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

// BacklogDone reports whether the one-time backlog pass has completed for the feed
func (s *Store) BacklogDone(ctx context.Context, feedID int64) (bool, error) {
	var done bool
	err := s.db.GetContext(ctx, &done, "SELECT backlog_done FROM feeds WHERE id = ?", feedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get backlog state: %w", err)
	}
	return done, nil
}

// MarkBacklogDone flags the feed's backlog pass as completed
func (s *Store) MarkBacklogDone(ctx context.Context, feedID int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE feeds SET backlog_done = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?", feedID)
		if err != nil {
			return fmt.Errorf("mark backlog done: %w", err)
		}
		return nil
	})
}

// UpdateFeedFetched records a successful fetch and clears the error state
func (s *Store) UpdateFeedFetched(ctx context.Context, feedID int64, fetched time.Time) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE feeds SET last_fetched = ?, last_error = '', updated_at = CURRENT_TIMESTAMP WHERE id = ?",
			fetched.UTC(), feedID)
		if err != nil {
			return fmt.Errorf("update feed fetched: %w", err)
		}
		return nil
	})
}

// UpdateFeedError records a fetch or resolution error on the feed
func (s *Store) UpdateFeedError(ctx context.Context, feedID int64, errMsg string) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			"UPDATE feeds SET last_error = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", errMsg, feedID)
		if err != nil {
			return fmt.Errorf("update feed error: %w", err)
		}
		return nil
	})
}

// DeleteFeed removes a feed record and its seen-set
func (s *Store) DeleteFeed(ctx context.Context, feedID int64) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", feedID)
		if err != nil {
			return fmt.Errorf("delete feed: %w", err)
		}
		return nil
	})
}

// PruneFeeds removes records for feeds that are no longer configured
func (s *Store) PruneFeeds(ctx context.Context, keep []int64) error {
	if len(keep) == 0 {
		return s.withRetry(ctx, func() error {
			if _, err := s.db.ExecContext(ctx, "DELETE FROM feeds"); err != nil {
				return fmt.Errorf("prune all feeds: %w", err)
			}
			return nil
		})
	}

	query, args, err := sqlx.In("DELETE FROM feeds WHERE id NOT IN (?)", keep)
	if err != nil {
		return fmt.Errorf("build prune query: %w", err)
	}
	return s.withRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
			return fmt.Errorf("prune feeds: %w", err)
		}
		return nil
	})
}

// FeedStatus returns the snapshot for a single feed
func (s *Store) FeedStatus(ctx context.Context, feedID int64) (domain.FeedStatus, error) {
	var row feedRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM feeds WHERE id = ?", feedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FeedStatus{}, fmt.Errorf("feed %d not found", feedID)
		}
		return domain.FeedStatus{}, fmt.Errorf("get feed status: %w", err)
	}
	return row.toStatus(), nil
}

// FeedStatuses returns read-only snapshots of all feed records
func (s *Store) FeedStatuses(ctx context.Context) ([]domain.FeedStatus, error) {
	var rows []feedRow
	err := s.db.SelectContext(ctx, &rows, "SELECT * FROM feeds ORDER BY name, id")
	if err != nil {
		return nil, fmt.Errorf("get feed statuses: %w", err)
	}

	statuses := make([]domain.FeedStatus, len(rows))
	for i, row := range rows {
		statuses[i] = row.toStatus()
	}
	return statuses, nil
}

func (r feedRow) toStatus() domain.FeedStatus {
	st := domain.FeedStatus{
		ID:          r.ID,
		Name:        r.Name,
		URL:         r.URL,
		Delivered:   r.DeliveredCount,
		LastError:   r.LastError,
		BacklogDone: r.BacklogDone,
	}
	if r.LastFetched.Valid {
		t := r.LastFetched.Time
		st.LastFetched = &t
	}
	return st
}

// withRetry runs a mutation with backoff on SQLite lock errors
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))
	return retrier.Do(ctx, func() error {
		err := fn()
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: err}
		}
		return nil
	})
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

func (e *criticalError) Unwrap() error {
	return e.err
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
