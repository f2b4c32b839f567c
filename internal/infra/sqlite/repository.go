// Package sqlite provides SQLite database operations.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/emanuelef/yt-downloader/internal/domain"
	_ "modernc.org/sqlite"
)

// Repository stores the download history.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository opens (or creates) downloads.db inside dataDir.
func NewRepository(dataDir string) (*Repository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "downloads.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := configureDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	slog.Info("Database initialized", "path", dbPath)

	return &Repository{db: db, now: time.Now}, nil
}

func configureDB(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Timestamps are stored as unix milliseconds so range queries compare
// numerically.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS downloads (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			download_type TEXT NOT NULL,
			quality TEXT NOT NULL DEFAULT '',
			filename TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'processing',
			error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
		CREATE INDEX IF NOT EXISTS idx_downloads_created ON downloads(created_at);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts a new download record.
func (r *Repository) Create(ctx context.Context, d *domain.Download) error {
	query := `
		INSERT INTO downloads (id, url, title, download_type, quality, filename, size, status, error, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.URL,
		d.Title,
		string(d.Type),
		d.Quality,
		d.Filename,
		d.Size,
		string(d.Status),
		d.Error,
		d.CreatedAt.UnixMilli(),
		toMillis(d.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create download: %w", err)
	}

	return nil
}

// Update writes the mutable fields of an existing record.
func (r *Repository) Update(ctx context.Context, d *domain.Download) error {
	query := `
		UPDATE downloads
		SET title = ?, filename = ?, size = ?, status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		d.Title,
		d.Filename,
		d.Size,
		string(d.Status),
		d.Error,
		toMillis(d.CompletedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update download: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, d.ID)
	}

	return nil
}

const selectColumns = `id, url, title, download_type, quality, filename, size, status, error, created_at, completed_at`

// GetByID retrieves a record. It returns domain.ErrNotFound when none exists.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Download, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM downloads WHERE id = ?`, id)

	d, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get download: %w", err)
	}

	return d, nil
}

// ListRecent returns up to limit records, newest first.
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	query := `SELECT ` + selectColumns + ` FROM downloads ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}
	defer rows.Close()

	downloads := make([]*domain.Download, 0, limit)
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan download: %w", err)
		}
		downloads = append(downloads, d)
	}

	return downloads, rows.Err()
}

// DeleteOlderThan deletes records created more than age ago.
func (r *Repository) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := r.now().Add(-age).UnixMilli()

	result, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE created_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old downloads: %w", err)
	}

	return result.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDownload(s scanner) (*domain.Download, error) {
	d := &domain.Download{}
	var typ, status string
	var createdAt int64
	var completedAt sql.NullInt64

	err := s.Scan(
		&d.ID,
		&d.URL,
		&d.Title,
		&typ,
		&d.Quality,
		&d.Filename,
		&d.Size,
		&status,
		&d.Error,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = domain.DownloadType(typ)
	d.Status = domain.DownloadStatus(status)
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		d.CompletedAt = &t
	}

	return d, nil
}

func toMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
