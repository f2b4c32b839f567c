// Package downloader provides a secure wrapper for yt-dlp.
package downloader

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/emanuelef/yt-downloader/internal/domain"
	"github.com/emanuelef/yt-downloader/internal/service/quality"
	"github.com/google/uuid"
)

const (
	titleMarker = "TITLE="
	fileMarker  = "FILE="
)

var (
	progressRegex = regexp.MustCompile(`\[download\]\s+(\d+\.?\d*)%`)
	mergerRegex   = regexp.MustCompile(`\[Merger\] Merging formats into "(.+)"`)
)

// Final containers yt-dlp may leave behind, in order of preference.
var (
	videoExtensions = []string{".mp4", ".mkv", ".webm"}
	audioExtensions = []string{".mp3", ".m4a", ".webm", ".opus"}
)

// Config holds downloader configuration options.
type Config struct {
	OutputDir   string        // Scratch directory for downloaded files
	Timeout     time.Duration // Maximum time for a download
	InfoTimeout time.Duration // Maximum time for a metadata lookup
	YtDlpPath   string        // Path to yt-dlp binary
	FFmpegPath  string        // Path to ffmpeg binary (optional)
	UserAgent   string
}

// DefaultConfig returns the default downloader configuration.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   filepath.Join(os.TempDir(), "yt-downloader"),
		Timeout:     10 * time.Minute,
		InfoTimeout: time.Minute,
		YtDlpPath:   "yt-dlp",
		FFmpegPath:  "ffmpeg",
	}
}

// Downloader wraps yt-dlp with security constraints.
type Downloader struct {
	config *Config
}

// New creates a new Downloader with the given configuration.
func New(config *Config) *Downloader {
	if config == nil {
		config = DefaultConfig()
	}
	return &Downloader{
		config: config,
	}
}

// OutputDir returns the scratch directory files are written to.
func (d *Downloader) OutputDir() string {
	return d.config.OutputDir
}

// ProgressCallback is called with progress updates during download.
type ProgressCallback func(progress int, status string)

// Request describes one download.
type Request struct {
	URL     string
	Type    domain.DownloadType
	Quality string
}

// Result is a finished file in the scratch directory.
type Result struct {
	Path     string // absolute path in the scratch directory
	Filename string // client-facing name: sanitized title + extension
	Title    string
	Size     int64
}

// FetchInfo retrieves video metadata without downloading.
func (d *Downloader) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.InfoTimeout)
	defer cancel()

	args := append(d.commonArgs(), "-J", "--", url)

	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, classifyError(ctx, stderr.String(), domain.ErrExtractionFailed)
	}

	info, err := parseInfo(stdout.Bytes(), url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}

	return info, nil
}

// Download fetches the requested stream(s) into the scratch directory.
// When ffmpeg is available yt-dlp merges video and audio into one file.
func (d *Downloader) Download(ctx context.Context, req Request, progressCb ProgressCallback) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	if err := os.MkdirAll(d.config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	prefix := uuid.New().String()[:8]
	ffmpeg := d.ffmpegLocation()

	args, err := d.buildDownloadArgs(req, prefix, ffmpeg)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, d.config.YtDlpPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start yt-dlp: %w", err)
	}

	var (
		mu         sync.Mutex
		out        output
		stderrText strings.Builder
		wg         sync.WaitGroup
	)
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanLines(stdout, func(line string) {
			mu.Lock()
			out.parse(line, progressCb)
			mu.Unlock()
		})
	}()

	go func() {
		defer wg.Done()
		scanLines(stderr, func(line string) {
			mu.Lock()
			defer mu.Unlock()
			// Progress goes to stderr in quiet mode on some versions.
			if !out.parse(line, progressCb) {
				stderrText.WriteString(line)
				stderrText.WriteString("\n")
			}
		})
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return nil, classifyError(ctx, stderrText.String(), domain.ErrDownloadFailed)
	}

	if progressCb != nil {
		progressCb(100, "complete")
	}

	path := out.file
	if path == "" || !fileExists(path) {
		path = findByPrefix(d.config.OutputDir, prefix, req.Type)
	}
	if path == "" {
		return nil, domain.ErrFileNotFound
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFileNotFound, err)
	}

	title := out.title
	if title == "" {
		title = "video"
	}

	result := &Result{
		Path:     path,
		Filename: SanitizeFilename(title) + filepath.Ext(path),
		Title:    title,
		Size:     stat.Size(),
	}

	slog.Debug("yt-dlp finished",
		"path", result.Path,
		"size", humanize.IBytes(uint64(result.Size)),
		"ffmpeg", ffmpeg != "",
	)

	return result, nil
}

// Status reports whether yt-dlp and ffmpeg can be executed.
func (d *Downloader) Status(ctx context.Context) *domain.ServerStatus {
	status := &domain.ServerStatus{
		Backend: true,
		FFmpeg:  d.FFmpegAvailable(ctx),
	}

	if version, err := d.Version(ctx); err == nil {
		status.YtDlp = true
		status.YtDlpVersion = version
	}

	return status
}

// Version returns the installed yt-dlp version.
func (d *Downloader) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, d.config.YtDlpPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp not found or not executable: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// FFmpegAvailable checks whether ffmpeg can be located and run.
func (d *Downloader) FFmpegAvailable(ctx context.Context) bool {
	location := d.ffmpegLocation()
	if location == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, location, "-version").Run() == nil
}

// ffmpegLocation resolves the configured ffmpeg against PATH and returns its
// absolute path, or "" when it cannot be found. yt-dlp treats
// --ffmpeg-location as a filesystem path, so a bare name must not reach it.
func (d *Downloader) ffmpegLocation() string {
	if d.config.FFmpegPath == "" {
		return ""
	}
	path, err := exec.LookPath(d.config.FFmpegPath)
	if err != nil {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	return abs
}

// commonArgs are shared by metadata and download invocations.
func (d *Downloader) commonArgs() []string {
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-cache-dir",
		"--socket-timeout", "30",
		"--extractor-args", "youtube:player_client=web",
	}
	if d.config.UserAgent != "" {
		args = append(args, "--user-agent", d.config.UserAgent)
	}
	return args
}

// buildDownloadArgs constructs the yt-dlp command arguments for a download.
// ffmpeg is the resolved binary path, empty when ffmpeg is unavailable.
func (d *Downloader) buildDownloadArgs(req Request, prefix, ffmpeg string) ([]string, error) {
	outputTemplate := filepath.Join(d.config.OutputDir, prefix+"_%(id)s.%(ext)s")

	args := append(d.commonArgs(),
		"--retries", "3",
		"-o", outputTemplate,

		// Final path and title, printed once post-processing is done
		"--print", "after_move:"+titleMarker+"%(title)s",
		"--print", "after_move:"+fileMarker+"%(filepath)s",
		"--progress", "--newline",
	)

	switch req.Type {
	case domain.DownloadAudio:
		bitrate, err := quality.ParseBitrate(req.Quality)
		if err != nil {
			return nil, err
		}
		args = append(args, "-f", "bestaudio/best")
		if ffmpeg != "" {
			args = append(args, "-x", "--audio-format", "mp3", "--audio-quality", strconv.Itoa(bitrate)+"K")
		}
	default:
		height, err := quality.ParseHeight(req.Quality)
		if err != nil {
			return nil, err
		}
		args = append(args, "-f", quality.VideoSelector(height, ffmpeg != ""))
		if ffmpeg != "" {
			args = append(args, "--merge-output-format", "mp4")
		}
	}

	if ffmpeg != "" {
		args = append(args, "--ffmpeg-location", ffmpeg)
	}

	return append(args, "--", req.URL), nil
}

// output accumulates what yt-dlp reports on its streams.
type output struct {
	title string
	file  string
}

// parse consumes one line and reports whether it was recognised.
func (o *output) parse(line string, progressCb ProgressCallback) bool {
	line = strings.TrimSpace(line)

	switch {
	case strings.HasPrefix(line, titleMarker):
		o.title = strings.TrimPrefix(line, titleMarker)
		return true
	case strings.HasPrefix(line, fileMarker):
		o.file = strings.TrimPrefix(line, fileMarker)
		return true
	}

	if matches := mergerRegex.FindStringSubmatch(line); len(matches) > 1 && o.file == "" {
		o.file = strings.TrimSpace(matches[1])
		return true
	}

	if matches := progressRegex.FindStringSubmatch(line); len(matches) > 1 {
		if progress, err := strconv.ParseFloat(matches[1], 64); err == nil && progressCb != nil {
			progressCb(int(progress), "downloading")
		}
		return true
	}

	return false
}

func scanLines(r io.Reader, fn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(scanner.Text())
	}
	// An oversized line stops the scanner; keep draining so the child
	// never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// findByPrefix locates the final file of a download when yt-dlp did not
// report it, preferring finished containers over intermediates.
func findByPrefix(dir, prefix string, typ domain.DownloadType) string {
	matches, _ := filepath.Glob(filepath.Join(dir, prefix+"_*"))
	if len(matches) == 0 {
		return ""
	}

	preferred := videoExtensions
	if typ == domain.DownloadAudio {
		preferred = audioExtensions
	}

	for _, ext := range preferred {
		for _, m := range matches {
			base := strings.TrimSuffix(filepath.Base(m), ext)
			// Skip per-format intermediates such as id.f137.mp4.
			if strings.HasSuffix(m, ext) && !strings.Contains(filepath.Ext(base), ".f") {
				return m
			}
		}
	}

	for _, m := range matches {
		if ext := filepath.Ext(m); ext != ".part" && ext != ".ytdl" && ext != ".tmp" {
			return m
		}
	}
	return ""
}

// classifyError maps yt-dlp failures onto domain errors.
func classifyError(ctx context.Context, stderr string, base error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrDownloadTimeout
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", base, context.Canceled)
	}

	switch {
	case strings.Contains(stderr, "Video unavailable"),
		strings.Contains(stderr, "Private video"),
		strings.Contains(stderr, "This video is private"),
		strings.Contains(stderr, "HTTP Error 404"):
		return fmt.Errorf("%w: %s", domain.ErrVideoUnavailable, lastLine(stderr))
	case strings.Contains(stderr, "is not a valid URL"),
		strings.Contains(stderr, "Unsupported URL"):
		return fmt.Errorf("%w: %s", domain.ErrInvalidURL, lastLine(stderr))
	}

	return fmt.Errorf("%w: %s", base, truncate(strings.TrimSpace(stderr), 300))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return truncate(lines[len(lines)-1], 300)
}

// truncate shortens a string for error messages.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
