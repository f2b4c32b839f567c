package domain

import "time"

// InfoRequest is the body of POST /api/info.
type InfoRequest struct {
	URL string `json:"url"`
}

// DownloadRequest is the body of POST /api/download.
type DownloadRequest struct {
	URL          string       `json:"url"`
	DownloadType DownloadType `json:"download_type,omitempty"`
	Quality      string       `json:"quality,omitempty"`
	Delivery     Delivery     `json:"delivery,omitempty"`
}

// Normalize fills defaults for omitted fields.
func (r *DownloadRequest) Normalize() {
	if r.DownloadType == "" {
		r.DownloadType = DownloadVideo
	}
	if r.Delivery == "" {
		r.Delivery = DeliveryStream
	}
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// BestVideoSummary is the short form of the best video stream.
type BestVideoSummary struct {
	Resolution string  `json:"resolution,omitempty"`
	FormatNote string  `json:"format_note,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
}

// BestAudioSummary is the short form of the best audio stream.
type BestAudioSummary struct {
	FormatNote string `json:"format_note,omitempty"`
}

// InfoData is the payload returned by POST /api/info.
type InfoData struct {
	ID                string            `json:"id"`
	Title             string            `json:"title"`
	Description       string            `json:"description,omitempty"`
	Duration          int               `json:"duration,omitempty"`
	DurationFormatted string            `json:"duration_formatted"`
	Thumbnail         string            `json:"thumbnail,omitempty"`
	Uploader          string            `json:"uploader,omitempty"`
	ViewCount         int64             `json:"view_count,omitempty"`
	UploadDate        string            `json:"upload_date,omitempty"`
	WebpageURL        string            `json:"webpage_url"`
	BestVideo         *BestVideoSummary `json:"best_video"`
	BestAudio         *BestAudioSummary `json:"best_audio"`
	VideoQualities    []QualityOption   `json:"video_qualities"`
	AudioQualities    []QualityOption   `json:"audio_qualities"`
}

// ServerStatus reports the availability of the external tools.
type ServerStatus struct {
	Backend      bool   `json:"backend"`
	FFmpeg       bool   `json:"ffmpeg"`
	YtDlp        bool   `json:"ytdlp"`
	YtDlpVersion string `json:"ytdlp_version,omitempty"`
}

// HealthResponse represents the response for a health check.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	QueueSize int    `json:"queue_size"`
	Running   int    `json:"running"`
	Workers   int    `json:"workers"`
}

// LinkResponse is returned when a file is delivered through object storage.
type LinkResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
