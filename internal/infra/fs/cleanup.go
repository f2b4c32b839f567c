// Package fs manages the lifecycle of files in the scratch directory.
//
// Two independent paths remove files: a one-shot delayed deletion armed
// after a file has been streamed, and a periodic sweep of the whole
// directory. Neither keeps bookkeeping; deletion is idempotent at the
// filesystem level, so the two may race freely.
package fs

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultExtensions lists the scratch file types the sweep may delete.
var DefaultExtensions = []string{"mp4", "mkv", "webm", "mp3", "m4a", "opus", "part", "tmp"}

// Lifecycle defaults.
const (
	DefaultDeleteDelay   = 5 * time.Minute
	DefaultSweepInterval = 15 * time.Minute
	DefaultMaxAge        = 30 * time.Minute
)

// RemoteSweeper deletes objects older than age from remote storage.
type RemoteSweeper interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Pruner deletes records older than age.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Cleaner handles automated cleanup of files.
type Cleaner struct {
	dir           string
	deleteDelay   time.Duration
	sweepInterval time.Duration
	maxAge        time.Duration
	extensions    map[string]struct{}

	r2Client   RemoteSweeper
	r2MaxAge   time.Duration
	r2Interval time.Duration

	pruner        Pruner
	pruneAge      time.Duration
	pruneInterval time.Duration

	now    func() time.Time
	remove func(string) error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// CleanerConfig holds configuration for the cleaner.
type CleanerConfig struct {
	Dir           string
	DeleteDelay   time.Duration
	SweepInterval time.Duration
	MaxAge        time.Duration
	Extensions    []string // defaults to DefaultExtensions

	R2Client   RemoteSweeper
	R2MaxAge   time.Duration
	R2Interval time.Duration

	Pruner        Pruner
	PruneAge      time.Duration
	PruneInterval time.Duration
}

// NewCleaner creates a new Cleaner. Zero durations fall back to the
// lifecycle defaults.
func NewCleaner(cfg *CleanerConfig) *Cleaner {
	dir := cfg.Dir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	allowed := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		allowed[strings.TrimPrefix(ext, ".")] = struct{}{}
	}

	return &Cleaner{
		dir:           dir,
		deleteDelay:   orDefault(cfg.DeleteDelay, DefaultDeleteDelay),
		sweepInterval: orDefault(cfg.SweepInterval, DefaultSweepInterval),
		maxAge:        orDefault(cfg.MaxAge, DefaultMaxAge),
		extensions:    allowed,
		r2Client:      cfg.R2Client,
		r2MaxAge:      cfg.R2MaxAge,
		r2Interval:    cfg.R2Interval,
		pruner:        cfg.Pruner,
		pruneAge:      cfg.PruneAge,
		pruneInterval: cfg.PruneInterval,
		now:           time.Now,
		remove:        os.Remove,
		stopCh:        make(chan struct{}),
	}
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Dir returns the absolute scratch directory.
func (c *Cleaner) Dir() string {
	return c.dir
}

// ScheduleDelete arms the default delayed deletion for path.
func (c *Cleaner) ScheduleDelete(path string) {
	c.ScheduleDeleteAfter(path, c.deleteDelay)
}

// ScheduleDeleteAfter deletes path once delay has elapsed. The call returns
// immediately; the attempt fires exactly once on a runtime timer and its
// outcome is only logged.
func (c *Cleaner) ScheduleDeleteAfter(path string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		c.Remove(path)
	})

	slog.Debug("Scheduled file deletion",
		"path", path,
		"delay", delay,
	)
}

// Remove deletes one scratch file. A file that is already gone counts as
// handled. Paths outside the scratch directory are refused. It reports
// whether this call removed the file.
func (c *Cleaner) Remove(path string) bool {
	absPath, err := filepath.Abs(path)
	if err != nil || !c.contains(absPath) {
		slog.Warn("Refusing to delete file outside scratch directory",
			"path", path,
			"dir", c.dir,
		)
		return false
	}

	if err := c.remove(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false
		}
		slog.Warn("Failed to delete scratch file",
			"path", absPath,
			"error", err,
		)
		return false
	}

	slog.Info("Deleted scratch file", "path", absPath)
	return true
}

func (c *Cleaner) contains(absPath string) bool {
	rel, err := filepath.Rel(c.dir, absPath)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsSweepable reports whether a file name carries an allow-listed extension.
// The match is exact, including case.
func (c *Cleaner) IsSweepable(name string) bool {
	ext := filepath.Ext(name)
	if ext == "" {
		return false
	}
	_, ok := c.extensions[ext[1:]]
	return ok
}

// Sweep runs one pass over the scratch directory and deletes every
// allow-listed regular file whose age has reached the maximum. It returns
// the number of files it deleted. An unreadable directory abandons the pass.
func (c *Cleaner) Sweep() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		slog.Error("Local cleanup error",
			"dir", c.dir,
			"error", err,
		)
		return 0
	}

	threshold := c.now().Add(-c.maxAge)
	deleted := 0

	for _, entry := range entries {
		// Skip directories, symlinks and other non-regular entries
		if !entry.Type().IsRegular() || !c.IsSweepable(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			// Removed concurrently
			continue
		}

		if info.ModTime().After(threshold) {
			continue
		}

		if c.Remove(filepath.Join(c.dir, entry.Name())) {
			deleted++
		}
	}

	if deleted > 0 {
		slog.Info("Local cleanup completed",
			"deleted", deleted,
			"max_age", c.maxAge,
		)
	}

	return deleted
}

// Start starts the cleanup goroutines. The local sweep runs immediately and
// then once per interval until Stop is called or ctx is done.
func (c *Cleaner) Start(ctx context.Context) {
	slog.Info("Starting local cleanup",
		"dir", c.dir,
		"max_age", c.maxAge,
		"interval", c.sweepInterval,
		"delete_delay", c.deleteDelay,
	)
	c.every(ctx, c.sweepInterval, true, func(context.Context) { c.Sweep() })

	if c.r2Client != nil && c.r2Interval > 0 && c.r2MaxAge > 0 {
		slog.Info("Starting R2 cleanup",
			"max_age", c.r2MaxAge,
			"interval", c.r2Interval,
		)
		c.every(ctx, c.r2Interval, false, c.cleanupR2)
	}

	if c.pruner != nil && c.pruneInterval > 0 && c.pruneAge > 0 {
		c.every(ctx, c.pruneInterval, true, c.pruneHistory)
	}
}

// Stop stops the cleanup goroutines and waits for them to exit. Pending
// delayed deletions are left armed.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// every runs fn on a ticker in its own goroutine.
func (c *Cleaner) every(ctx context.Context, interval time.Duration, immediate bool, fn func(context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if immediate {
			fn(ctx)
		}

		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// cleanupR2 removes old files from R2.
func (c *Cleaner) cleanupR2(ctx context.Context) {
	deleted, err := c.r2Client.DeleteOlderThan(ctx, c.r2MaxAge)
	if err != nil {
		slog.Error("R2 cleanup error", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("R2 cleanup completed",
			"deleted", deleted,
			"max_age", c.r2MaxAge,
		)
	}
}

// pruneHistory drops download records past retention.
func (c *Cleaner) pruneHistory(ctx context.Context) {
	deleted, err := c.pruner.DeleteOlderThan(ctx, c.pruneAge)
	if err != nil {
		slog.Error("History prune error", "error", err)
		return
	}

	if deleted > 0 {
		slog.Info("History prune completed",
			"deleted", deleted,
			"max_age", c.pruneAge,
		)
	}
}
