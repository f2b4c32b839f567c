package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emanuelef/yt-downloader/internal/domain"
	"github.com/emanuelef/yt-downloader/internal/service/downloader"
	"github.com/emanuelef/yt-downloader/internal/service/queue"
	"github.com/emanuelef/yt-downloader/internal/transport/http/middleware"
)

type fakeFetcher struct {
	dir       string
	info      *domain.VideoInfo
	err       error
	infoCalls int
	mu        sync.Mutex
}

func (f *fakeFetcher) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeFetcher) Download(ctx context.Context, req downloader.Request, cb downloader.ProgressCallback) (*downloader.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	ext := ".mp4"
	if req.Type == domain.DownloadAudio {
		ext = ".mp3"
	}
	path := filepath.Join(f.dir, "abcd1234_vid"+ext)
	if err := os.WriteFile(path, []byte("media-bytes"), 0644); err != nil {
		return nil, err
	}
	cb(100, "finished")
	return &downloader.Result{
		Path:     path,
		Filename: "Café Video" + ext,
		Title:    "Café Video",
		Size:     int64(len("media-bytes")),
	}, nil
}

func (f *fakeFetcher) Status(ctx context.Context) *domain.ServerStatus {
	return &domain.ServerStatus{Backend: true, FFmpeg: true, YtDlp: true, YtDlpVersion: "2024.12.13"}
}

type fakeCache struct {
	items map[string]*domain.VideoInfo
}

func (c *fakeCache) Get(url string) (*domain.VideoInfo, bool) {
	info, ok := c.items[url]
	return info, ok
}

func (c *fakeCache) Set(url string, info *domain.VideoInfo) {
	c.items[url] = info
}

type fakeHistory struct {
	mu    sync.Mutex
	items map[string]*domain.Download
	order []string
}

func (h *fakeHistory) Create(ctx context.Context, d *domain.Download) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := *d
	h.items[d.ID] = &cp
	h.order = append(h.order, d.ID)
	return nil
}

func (h *fakeHistory) Update(ctx context.Context, d *domain.Download) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.items[d.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *d
	h.items[d.ID] = &cp
	return nil
}

func (h *fakeHistory) GetByID(ctx context.Context, id string) (*domain.Download, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d, ok := h.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (h *fakeHistory) ListRecent(ctx context.Context, limit int) ([]*domain.Download, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*domain.Download
	for i := len(h.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.items[h.order[i]])
	}
	return out, nil
}

func (h *fakeHistory) only(t *testing.T) *domain.Download {
	t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.order) != 1 {
		t.Fatalf("history has %d records, want 1", len(h.order))
	}
	return h.items[h.order[0]]
}

type fakeFiles struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeFiles) ScheduleDelete(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, path)
}

type fakeStore struct {
	uploaded map[string]string
	err      error
}

func (s *fakeStore) Upload(ctx context.Context, filePath, key, name string) error {
	if s.err != nil {
		return s.err
	}
	s.uploaded[key] = name
	return nil
}

func (s *fakeStore) GeneratePresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return fmt.Sprintf("https://r2.example.com/%s?X-Amz-Expires=%d", key, int(expiry.Seconds())), nil
}

type testEnv struct {
	fetcher *fakeFetcher
	cache   *fakeCache
	history *fakeHistory
	files   *fakeFiles
	store   *fakeStore
	queue   *queue.Dispatcher
	router  http.Handler
}

func newTestEnv(t *testing.T, withStore bool) *testEnv {
	t.Helper()

	dispatcher := queue.NewDispatcher(2, 4)
	dispatcher.Start(context.Background())
	t.Cleanup(dispatcher.Stop)

	env := &testEnv{
		fetcher: &fakeFetcher{dir: t.TempDir(), info: sampleVideoInfo()},
		cache:   &fakeCache{items: map[string]*domain.VideoInfo{}},
		history: &fakeHistory{items: map[string]*domain.Download{}},
		files:   &fakeFiles{},
		store:   &fakeStore{uploaded: map[string]string{}},
		queue:   dispatcher,
	}

	deps := Deps{
		Fetcher:    env.fetcher,
		Cache:      env.cache,
		History:    env.history,
		Files:      env.files,
		Queue:      dispatcher,
		Validator:  middleware.NewValidator(nil),
		LinkExpiry: 15 * time.Minute,
	}
	if withStore {
		deps.Storage = env.store
	}

	env.router = NewRouter(&RouterConfig{AllowedOrigins: []string{"*"}}, NewHandlers(deps))
	return env
}

func sampleVideoInfo() *domain.VideoInfo {
	video := domain.VideoFormat{FormatID: "137", Extension: "mp4", Resolution: "1920x1080", Height: 1080, FormatNote: "1080p", FPS: 30, VCodec: "avc1", ACodec: "none", FormatType: domain.FormatVideoOnly}
	audio := domain.VideoFormat{FormatID: "140", Extension: "m4a", ABR: 129, FormatNote: "medium", VCodec: "none", ACodec: "mp4a", FormatType: domain.FormatAudioOnly}
	return &domain.VideoInfo{
		ID:          "abc123",
		Title:       "Sample",
		Description: strings.Repeat("é", 600),
		Duration:    3725,
		WebpageURL:  "https://www.youtube.com/watch?v=abc123",
		Formats:     []domain.VideoFormat{video, audio},
		BestVideo:   &video,
		BestAudio:   &audio,
	}
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode[domain.HealthResponse](t, w)
	if resp.Status != "healthy" || resp.Service != "yt-downloader" || resp.Workers != 2 || resp.Running != 0 {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestHealthHandler_ReportsRunningTasks(t *testing.T) {
	env := newTestEnv(t, false)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- env.queue.Submit(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	resp := decode[domain.HealthResponse](t, env.do(http.MethodGet, "/api/health", ""))
	close(release)

	if resp.Running != 1 {
		t.Errorf("Running = %d, want 1", resp.Running)
	}
	if err := <-done; err != nil {
		t.Errorf("Submit error: %v", err)
	}
}

func TestIndexAndStatus(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(http.MethodGet, "/", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "POST /api/download") {
		t.Errorf("index: %d %s", w.Code, w.Body.String())
	}

	w := env.do(http.MethodGet, "/api/status", "")
	status := decode[domain.ServerStatus](t, w)
	if !status.Backend || !status.YtDlp || status.YtDlpVersion != "2024.12.13" {
		t.Errorf("unexpected status: %+v", status)
	}
}

func TestInfoHandler(t *testing.T) {
	env := newTestEnv(t, false)
	body := `{"url":"https://www.youtube.com/watch?v=abc123"}`

	w := env.do(http.MethodPost, "/api/info", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool            `json:"success"`
		Data    domain.InfoData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Data.ID != "abc123" || resp.Data.DurationFormatted != "1:02:05" {
		t.Errorf("unexpected info: %+v", resp.Data)
	}
	if n := len([]rune(resp.Data.Description)); n != 500 {
		t.Errorf("description has %d runes, want 500", n)
	}
	if resp.Data.BestVideo == nil || resp.Data.BestVideo.Resolution != "1920x1080" {
		t.Errorf("best_video = %+v", resp.Data.BestVideo)
	}
	if len(resp.Data.VideoQualities) == 0 || resp.Data.VideoQualities[0].QualityID != "1080p" {
		t.Errorf("video_qualities = %+v", resp.Data.VideoQualities)
	}
	if len(resp.Data.AudioQualities) == 0 {
		t.Error("audio_qualities empty")
	}

	// Second lookup is served from cache
	env.do(http.MethodPost, "/api/info", body)
	if env.fetcher.infoCalls != 1 {
		t.Errorf("FetchInfo called %d times, want 1", env.fetcher.infoCalls)
	}
}

func TestInfoHandler_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
		code string
	}{
		{"bad json", `{`, nil, http.StatusBadRequest, "INVALID_BODY"},
		{"bad url", `{"url":"ftp://x.com/a"}`, nil, http.StatusBadRequest, "INVALID_URL"},
		{"unavailable", `{"url":"https://youtu.be/a"}`, domain.ErrVideoUnavailable, http.StatusNotFound, "VIDEO_UNAVAILABLE"},
		{"extraction", `{"url":"https://youtu.be/a"}`, fmt.Errorf("%w: boom", domain.ErrExtractionFailed), http.StatusBadRequest, "EXTRACTION_FAILED"},
		{"timeout", `{"url":"https://youtu.be/a"}`, domain.ErrDownloadTimeout, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", `{"url":"https://youtu.be/a"}`, errors.New("disk on fire"), http.StatusInternalServerError, "DOWNLOAD_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			env.fetcher.err = tt.err

			w := env.do(http.MethodPost, "/api/info", tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if resp := decode[domain.ErrorResponse](t, w); resp.Code != tt.code {
				t.Errorf("code = %q, want %q", resp.Code, tt.code)
			}
		})
	}
}

func TestDownloadHandler_Stream(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123","download_type":"video","quality":"720p"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if w.Body.String() != "media-bytes" {
		t.Errorf("body = %q", w.Body.String())
	}
	h := w.Header()
	if h.Get("Content-Type") != "video/mp4" {
		t.Errorf("Content-Type = %q", h.Get("Content-Type"))
	}
	if h.Get("Content-Length") != fmt.Sprint(len("media-bytes")) {
		t.Errorf("Content-Length = %q", h.Get("Content-Length"))
	}
	if h.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	cd := h.Get("Content-Disposition")
	if !strings.HasPrefix(cd, `attachment; filename="Caf_ Video.mp4"`) || !strings.Contains(cd, "filename*=UTF-8''Caf%C3%A9%20Video.mp4") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	record := env.history.only(t)
	if h.Get("X-Download-ID") != record.ID {
		t.Errorf("X-Download-ID = %q, want %q", h.Get("X-Download-ID"), record.ID)
	}
	if record.Status != domain.DownloadStatusDone || record.Filename != "Café Video.mp4" {
		t.Errorf("unexpected record: %+v", record)
	}

	if len(env.files.scheduled) != 1 || filepath.Base(env.files.scheduled[0]) != "abcd1234_vid.mp4" {
		t.Errorf("scheduled deletions = %v", env.files.scheduled)
	}
}

func TestDownloadHandler_AudioContentType(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123","download_type":"audio"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDownloadHandler_Failure(t *testing.T) {
	env := newTestEnv(t, false)
	env.fetcher.err = domain.ErrVideoUnavailable

	w := env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}

	record := env.history.only(t)
	if record.Status != domain.DownloadStatusError || record.Error == "" {
		t.Errorf("unexpected record: %+v", record)
	}
	if len(env.files.scheduled) != 0 {
		t.Errorf("nothing to delete, got %v", env.files.scheduled)
	}
}

func TestDownloadHandler_Validation(t *testing.T) {
	env := newTestEnv(t, false)

	tests := map[string]string{
		`{"url":"https://youtu.be/a","download_type":"gif"}`: "INVALID_TYPE",
		`{"url":"https://youtu.be/a","delivery":"email"}`:    "INVALID_DELIVERY",
		`{"url":"https://youtu.be/a","delivery":"link"}`:     "LINK_UNAVAILABLE",
		`{"url":"http://localhost/a"}`:                       "INVALID_URL",
	}
	for body, code := range tests {
		w := env.do(http.MethodPost, "/api/download", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, w.Code)
			continue
		}
		if resp := decode[domain.ErrorResponse](t, w); resp.Code != code {
			t.Errorf("%s: code = %q, want %q", body, resp.Code, code)
		}
	}
}

func TestDownloadHandler_Link(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123","delivery":"link"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	resp := decode[domain.LinkResponse](t, w)
	record := env.history.only(t)
	wantKey := "downloads/" + record.ID + ".mp4"

	if resp.ID != record.ID || !strings.Contains(resp.DownloadURL, wantKey) {
		t.Errorf("unexpected link response: %+v", resp)
	}
	if !strings.Contains(resp.DownloadURL, "X-Amz-Expires=900") {
		t.Errorf("link expiry not applied: %s", resp.DownloadURL)
	}
	if env.store.uploaded[wantKey] != "Café Video.mp4" {
		t.Errorf("uploads = %v", env.store.uploaded)
	}
	if len(env.files.scheduled) != 1 {
		t.Errorf("local file not scheduled for deletion: %v", env.files.scheduled)
	}
}

func TestDownloadHandler_LinkUploadFailure(t *testing.T) {
	env := newTestEnv(t, true)
	env.store.err = errors.New("bucket gone")

	w := env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123","delivery":"link"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	if len(env.files.scheduled) != 1 {
		t.Errorf("local file not scheduled after failed upload: %v", env.files.scheduled)
	}
}

func TestHistoryHandlers(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(http.MethodPost, "/api/download", `{"url":"https://youtu.be/abc123"}`)
	record := env.history.only(t)

	w := env.do(http.MethodGet, "/api/history?limit=5", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), record.ID) {
		t.Errorf("history list: %d %s", w.Code, w.Body.String())
	}

	if w := env.do(http.MethodGet, "/api/history?limit=zero", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", w.Code)
	}

	w = env.do(http.MethodGet, "/api/history/"+record.ID, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"done"`) {
		t.Errorf("history item: %d %s", w.Code, w.Body.String())
	}

	if w := env.do(http.MethodGet, "/api/history/not-a-uuid", ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid id status = %d", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/history/7f0c1d9e-2f5b-4a49-9d55-0a3e2d8c1b11", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", w.Code)
	}
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	env := newTestEnv(t, false)

	if w := env.do(http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if w := env.do(http.MethodGet, "/api/download", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWriteFailure_QueueErrors(t *testing.T) {
	tests := map[error]int{
		queue.ErrQueueFull:         http.StatusServiceUnavailable,
		queue.ErrDispatcherStopped: http.StatusServiceUnavailable,
		domain.ErrInvalidQuality:   http.StatusBadRequest,
		context.DeadlineExceeded:   http.StatusGatewayTimeout,
	}
	for err, want := range tests {
		w := httptest.NewRecorder()
		writeFailure(w, err)
		if w.Code != want {
			t.Errorf("writeFailure(%v) = %d, want %d", err, w.Code, want)
		}
	}
}
