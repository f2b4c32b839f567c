// Package http provides HTTP handlers and router configuration.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/emanuelef/yt-downloader/internal/domain"
	"github.com/emanuelef/yt-downloader/internal/infra/r2"
	"github.com/emanuelef/yt-downloader/internal/service/downloader"
	"github.com/emanuelef/yt-downloader/internal/service/quality"
	"github.com/emanuelef/yt-downloader/internal/service/queue"
	"github.com/emanuelef/yt-downloader/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	serviceName    = "yt-downloader"
	serviceVersion = "1.0.0"

	maxBodyBytes        = 64 << 10
	maxDescriptionRunes = 500
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Fetcher runs yt-dlp.
type Fetcher interface {
	FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error)
	Download(ctx context.Context, req downloader.Request, progressCb downloader.ProgressCallback) (*downloader.Result, error)
	Status(ctx context.Context) *domain.ServerStatus
}

// InfoCache caches extracted video info by URL.
type InfoCache interface {
	Get(url string) (*domain.VideoInfo, bool)
	Set(url string, info *domain.VideoInfo)
}

// History records downloads.
type History interface {
	Create(ctx context.Context, d *domain.Download) error
	Update(ctx context.Context, d *domain.Download) error
	GetByID(ctx context.Context, id string) (*domain.Download, error)
	ListRecent(ctx context.Context, limit int) ([]*domain.Download, error)
}

// FileScheduler removes scratch files once they have been delivered.
type FileScheduler interface {
	ScheduleDelete(path string)
}

// ObjectStore holds files for link delivery.
type ObjectStore interface {
	Upload(ctx context.Context, filePath, key, downloadName string) error
	GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Runner bounds concurrent yt-dlp work.
type Runner interface {
	Submit(ctx context.Context, task queue.Task) error
	QueueSize() int
	Running() int
	WorkerCount() int
}

// Deps are the collaborators of Handlers. Storage may be nil, which
// disables link delivery.
type Deps struct {
	Fetcher    Fetcher
	Cache      InfoCache
	History    History
	Files      FileScheduler
	Storage    ObjectStore
	Queue      Runner
	Validator  *middleware.Validator
	LinkExpiry time.Duration
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps) *Handlers {
	if deps.Validator == nil {
		deps.Validator = middleware.NewValidator(nil)
	}
	if deps.LinkExpiry <= 0 {
		deps.LinkExpiry = 15 * time.Minute
	}
	return &Handlers{Deps: deps}
}

// IndexHandler handles GET / requests.
func (h *Handlers) IndexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"version": serviceVersion,
		"endpoints": map[string]string{
			"health":   "GET /api/health",
			"status":   "GET /api/status",
			"info":     "POST /api/info",
			"download": "POST /api/download",
			"history":  "GET /api/history",
		},
	})
}

// HealthHandler handles GET /api/health requests.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, &domain.HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		QueueSize: h.Queue.QueueSize(),
		Running:   h.Queue.Running(),
		Workers:   h.Queue.WorkerCount(),
	})
}

// StatusHandler handles GET /api/status requests.
func (h *Handlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Fetcher.Status(r.Context()))
}

// InfoHandler handles POST /api/info requests.
func (h *Handlers) InfoHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.InfoRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.Validator.Validate(req.URL); err != nil {
		slog.Warn("URL validation failed",
			"url", req.URL,
			"error", err,
			"ip", middleware.GetClientIP(r),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
		return
	}
	videoURL := middleware.NormalizeURL(req.URL)

	info, cached := h.Cache.Get(videoURL)
	if !cached {
		err := h.Queue.Submit(r.Context(), func(ctx context.Context) error {
			var err error
			info, err = h.Fetcher.FetchInfo(ctx, videoURL)
			return err
		})
		if err != nil {
			slog.Warn("Info extraction failed",
				"url", videoURL,
				"error", err,
			)
			writeFailure(w, err)
			return
		}
		h.Cache.Set(videoURL, info)
	}

	slog.Info("Video info served",
		"url", videoURL,
		"id", info.ID,
		"cached", cached,
	)

	writeJSON(w, http.StatusOK, &domain.APIResponse{
		Success: true,
		Data:    buildInfoData(info),
	})
}

func buildInfoData(info *domain.VideoInfo) *domain.InfoData {
	data := &domain.InfoData{
		ID:                info.ID,
		Title:             info.Title,
		Description:       truncateRunes(info.Description, maxDescriptionRunes),
		Duration:          info.Duration,
		DurationFormatted: info.DurationFormatted(),
		Thumbnail:         info.Thumbnail,
		Uploader:          info.Uploader,
		ViewCount:         info.ViewCount,
		UploadDate:        info.UploadDate,
		WebpageURL:        info.WebpageURL,
		VideoQualities:    quality.VideoQualities(info.Formats),
		AudioQualities:    quality.AudioQualities(info.Formats),
	}

	if v := info.BestVideo; v != nil {
		data.BestVideo = &domain.BestVideoSummary{
			Resolution: v.Resolution,
			FormatNote: v.FormatNote,
			FPS:        v.FPS,
		}
	}
	if a := info.BestAudio; a != nil {
		data.BestAudio = &domain.BestAudioSummary{FormatNote: a.FormatNote}
	}

	return data
}

// DownloadHandler handles POST /api/download requests. The finished file is
// streamed back and scheduled for deletion once the response is written.
func (h *Handlers) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.DownloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Normalize()

	if err := h.Validator.Validate(req.URL); err != nil {
		slog.Warn("URL validation failed",
			"url", req.URL,
			"error", err,
			"ip", middleware.GetClientIP(r),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
		return
	}
	if !req.DownloadType.Valid() {
		writeError(w, http.StatusBadRequest, "download_type must be video or audio", "INVALID_TYPE")
		return
	}
	switch req.Delivery {
	case domain.DeliveryStream:
	case domain.DeliveryLink:
		if h.Storage == nil {
			writeError(w, http.StatusBadRequest, "link delivery is not configured", "LINK_UNAVAILABLE")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "delivery must be stream or link", "INVALID_DELIVERY")
		return
	}

	videoURL := middleware.NormalizeURL(req.URL)
	record := domain.NewDownload(uuid.New().String(), videoURL, req.DownloadType, req.Quality)
	h.saveRecord(r.Context(), record, true)

	log := slog.With("download_id", record.ID)
	log.Info("Download requested",
		"url", videoURL,
		"type", req.DownloadType,
		"quality", req.Quality,
		"delivery", req.Delivery,
		"ip", middleware.GetClientIP(r),
	)

	var result *downloader.Result
	err := h.Queue.Submit(r.Context(), func(ctx context.Context) error {
		var err error
		result, err = h.Fetcher.Download(ctx, downloader.Request{
			URL:     videoURL,
			Type:    req.DownloadType,
			Quality: req.Quality,
		}, func(progress int, status string) {
			log.Debug("Download progress", "progress", progress, "status", status)
		})
		return err
	})
	if err != nil {
		log.Error("Download failed", "error", err)
		record.MarkError(err.Error())
		h.saveRecord(context.WithoutCancel(r.Context()), record, false)
		writeFailure(w, err)
		return
	}

	// Armed on every exit from here on, including failed writes.
	defer h.Files.ScheduleDelete(result.Path)

	record.MarkDone(result.Title, result.Filename, result.Size)
	h.saveRecord(r.Context(), record, false)

	if req.Delivery == domain.DeliveryLink {
		h.deliverLink(w, r, record, result)
		return
	}

	h.streamFile(w, r, record.ID, result)
}

func (h *Handlers) streamFile(w http.ResponseWriter, r *http.Request, id string, result *downloader.Result) {
	file, err := os.Open(result.Path)
	if err != nil {
		slog.Error("Failed to open downloaded file",
			"download_id", id,
			"path", result.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "downloaded file is missing", "FILE_NOT_FOUND")
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "downloaded file is unreadable", "FILE_NOT_FOUND")
		return
	}

	w.Header().Set("Content-Type", domain.ContentType(result.Path))
	w.Header().Set("Content-Disposition", contentDisposition(result.Filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Download-ID", id)

	// Sets Content-Length and answers Range requests
	http.ServeContent(w, r, result.Filename, stat.ModTime(), file)

	slog.Info("File streamed",
		"download_id", id,
		"filename", result.Filename,
		"size", stat.Size(),
	)
}

func (h *Handlers) deliverLink(w http.ResponseWriter, r *http.Request, record *domain.Download, result *downloader.Result) {
	ctx := r.Context()
	key := r2.ObjectKey(record.ID, result.Path)

	if err := h.Storage.Upload(ctx, result.Path, key, result.Filename); err != nil {
		slog.Error("Failed to upload to R2",
			"download_id", record.ID,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "failed to upload file", "UPLOAD_FAILED")
		return
	}

	downloadURL, err := h.Storage.GeneratePresignedURL(ctx, key, h.LinkExpiry)
	if err != nil {
		slog.Error("Failed to generate presigned URL",
			"download_id", record.ID,
			"error", err,
		)
		writeError(w, http.StatusBadGateway, "failed to generate download URL", "UPLOAD_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, &domain.LinkResponse{
		ID:          record.ID,
		Title:       result.Title,
		Filename:    result.Filename,
		Size:        result.Size,
		DownloadURL: downloadURL,
		ExpiresAt:   time.Now().UTC().Add(h.LinkExpiry),
	})
}

// HistoryHandler handles GET /api/history requests.
func (h *Handlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	downloads, err := h.History.ListRecent(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list downloads", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, &domain.APIResponse{
		Success: true,
		Data:    downloads,
	})
}

// HistoryItemHandler handles GET /api/history/{id} requests.
func (h *Handlers) HistoryItemHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid download id", "INVALID_ID")
		return
	}

	download, err := h.History.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "download not found", "NOT_FOUND")
		return
	}
	if err != nil {
		slog.Error("Failed to get download",
			"error", err,
			"download_id", id,
		)
		writeError(w, http.StatusInternalServerError, "failed to get download", "DB_ERROR")
		return
	}

	writeJSON(w, http.StatusOK, &domain.APIResponse{
		Success: true,
		Data:    download,
	})
}

// saveRecord persists history. Failures never fail the request.
func (h *Handlers) saveRecord(ctx context.Context, d *domain.Download, create bool) {
	var err error
	if create {
		err = h.History.Create(ctx, d)
	} else {
		err = h.History.Update(ctx, d)
	}
	if err != nil {
		slog.Warn("Failed to save download record",
			"download_id", d.ID,
			"error", err,
		)
	}
}

// Helper functions

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "INVALID_BODY")
		return false
	}
	return true
}

// writeFailure maps queue and downloader errors to a response.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "server is busy, please try again later", "QUEUE_FULL")
	case errors.Is(err, queue.ErrDispatcherStopped):
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", "SHUTTING_DOWN")
	case errors.Is(err, domain.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_URL")
	case errors.Is(err, domain.ErrInvalidQuality):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_QUALITY")
	case errors.Is(err, domain.ErrVideoUnavailable):
		writeError(w, http.StatusNotFound, err.Error(), "VIDEO_UNAVAILABLE")
	case errors.Is(err, domain.ErrDownloadTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "operation timed out", "TIMEOUT")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusRequestTimeout, "request canceled", "CANCELED")
	case errors.Is(err, domain.ErrExtractionFailed):
		writeError(w, http.StatusBadRequest, err.Error(), "EXTRACTION_FAILED")
	default:
		writeError(w, http.StatusInternalServerError, "download failed", "DOWNLOAD_FAILED")
	}
}

// contentDisposition offers both an ASCII-safe name and the UTF-8 original.
func contentDisposition(filename string) string {
	return `attachment; filename="` + downloader.HeaderFilename(filename) +
		`"; filename*=UTF-8''` + url.PathEscape(filename)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, &domain.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
