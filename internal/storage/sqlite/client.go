package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/gutlog/backend/internal/storage/models"
	"github.com/gutlog/backend/pkg/logger"
)

// ErrStoreUnavailable wraps every persistence I/O failure.
var ErrStoreUnavailable = errors.New("log store unavailable")

type Client struct {
	db  *sql.DB
	loc *time.Location
	now func() time.Time

	// writeMu serializes inserts so ids and timestamps advance together.
	writeMu sync.Mutex
}

type Option func(*Client)

// WithClock overrides the insertion clock.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLocation sets the zone used to derive each row's civil day.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

func NewClient(dbPath string, opts ...Option) (*Client, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create database dir: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %v", ErrStoreUnavailable, err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", ErrStoreUnavailable, err)
	}

	c := &Client{db: db, loc: time.Local, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return c, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		day TEXT NOT NULL,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		image_path TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_logs_created ON logs(created_at);
	CREATE INDEX IF NOT EXISTS idx_logs_day ON logs(day);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %v", ErrStoreUnavailable, err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Insert stamps and persists one classification inside a single transaction.
func (c *Client) Insert(ctx context.Context, label string, confidence float64, imagePath string) (*models.LogEntry, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	now := c.now().In(c.loc)

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin insert: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO logs (created_at, day, label, confidence, image_path) VALUES (?, ?, ?, ?, ?)`,
		now.UnixNano(),
		now.Format(models.DayLayout),
		label,
		confidence,
		imagePath,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to insert log: %v", ErrStoreUnavailable, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read log id: %v", ErrStoreUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit log: %v", ErrStoreUnavailable, err)
	}

	logger.Debug("Log inserted",
		zap.Int64("log_id", id),
		zap.String("label", label),
		zap.Float64("confidence", confidence),
	)

	return &models.LogEntry{
		ID:         id,
		Timestamp:  time.Unix(0, now.UnixNano()).In(c.loc),
		Label:      label,
		Confidence: confidence,
		ImagePath:  imagePath,
	}, nil
}

// ListAll returns every log, newest first.
func (c *Client) ListAll(ctx context.Context) ([]models.LogEntry, error) {
	return c.queryEntries(ctx, `
		SELECT id, created_at, label, confidence, image_path
		FROM logs
		ORDER BY created_at DESC, id DESC
	`)
}

// ListSince returns logs whose civil day is on or after windowStart, newest first.
func (c *Client) ListSince(ctx context.Context, windowStart time.Time) ([]models.LogEntry, error) {
	return c.queryEntries(ctx, `
		SELECT id, created_at, label, confidence, image_path
		FROM logs
		WHERE day >= ?
		ORDER BY created_at DESC, id DESC
	`, windowStart.In(c.loc).Format(models.DayLayout))
}

// CountsByDay returns one row per day that has at least one log.
func (c *Client) CountsByDay(ctx context.Context) ([]models.DayCount, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT day, COUNT(*) FROM logs GROUP BY day ORDER BY day`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count logs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var counts []models.DayCount
	for rows.Next() {
		var dc models.DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrStoreUnavailable, err)
		}
		counts = append(counts, dc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate rows: %v", ErrStoreUnavailable, err)
	}

	return counts, nil
}

// MostRecentOnDay returns the latest log on the civil day of date, or nil.
func (c *Client) MostRecentOnDay(ctx context.Context, date time.Time) (*models.LogEntry, error) {
	entries, err := c.queryEntries(ctx, `
		SELECT id, created_at, label, confidence, image_path
		FROM logs
		WHERE day = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, date.In(c.loc).Format(models.DayLayout))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (c *Client) queryEntries(ctx context.Context, query string, args ...any) ([]models.LogEntry, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query logs: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	entries := []models.LogEntry{}
	for rows.Next() {
		var e models.LogEntry
		var createdAt int64

		err := rows.Scan(&e.ID, &createdAt, &e.Label, &e.Confidence, &e.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan row: %v", ErrStoreUnavailable, err)
		}

		e.Timestamp = time.Unix(0, createdAt).In(c.loc)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate rows: %v", ErrStoreUnavailable, err)
	}

	return entries, nil
}
