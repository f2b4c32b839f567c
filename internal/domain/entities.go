// Package domain contains the core business entities and types.
package domain

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatType classifies a single stream offered by the extractor.
type FormatType string

const (
	FormatVideoOnly  FormatType = "video_only"
	FormatAudioOnly  FormatType = "audio_only"
	FormatVideoAudio FormatType = "video_audio"
)

// DownloadType is what the client asked for.
type DownloadType string

const (
	DownloadVideo DownloadType = "video"
	DownloadAudio DownloadType = "audio"
)

// Valid reports whether t is a known download type.
func (t DownloadType) Valid() bool {
	return t == DownloadVideo || t == DownloadAudio
}

// Delivery selects how a finished file reaches the client.
type Delivery string

const (
	DeliveryStream Delivery = "stream"
	DeliveryLink   Delivery = "link"
)

// VideoFormat represents a single video/audio format option.
type VideoFormat struct {
	FormatID       string     `json:"format_id"`
	Extension      string     `json:"extension"`
	Resolution     string     `json:"resolution,omitempty"`
	Height         int        `json:"height,omitempty"`
	Filesize       int64      `json:"filesize,omitempty"`
	FilesizeApprox int64      `json:"filesize_approx,omitempty"`
	FormatNote     string     `json:"format_note,omitempty"`
	FPS            float64    `json:"fps,omitempty"`
	VCodec         string     `json:"vcodec,omitempty"`
	ACodec         string     `json:"acodec,omitempty"`
	ABR            float64    `json:"abr,omitempty"`
	TBR            float64    `json:"tbr,omitempty"`
	FormatType     FormatType `json:"format_type"`
}

// DisplaySize returns a human-readable file size.
func (f *VideoFormat) DisplaySize() string {
	size := f.Filesize
	if size <= 0 {
		size = f.FilesizeApprox
	}
	if size <= 0 {
		return "Unknown"
	}
	return humanize.IBytes(uint64(size))
}

// AudioBitrate returns abr, falling back to tbr.
func (f *VideoFormat) AudioBitrate() float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

// VideoInfo contains metadata about a video.
type VideoInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Duration    int           `json:"duration,omitempty"` // in seconds
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Uploader    string        `json:"uploader,omitempty"`
	UploaderURL string        `json:"uploader_url,omitempty"`
	ViewCount   int64         `json:"view_count,omitempty"`
	LikeCount   int64         `json:"like_count,omitempty"`
	UploadDate  string        `json:"upload_date,omitempty"`
	WebpageURL  string        `json:"webpage_url"`
	Formats     []VideoFormat `json:"formats,omitempty"`
	BestVideo   *VideoFormat  `json:"best_video_format,omitempty"`
	BestAudio   *VideoFormat  `json:"best_audio_format,omitempty"`
}

// DurationFormatted renders the duration as H:MM:SS or M:SS.
func (v *VideoInfo) DurationFormatted() string {
	if v.Duration <= 0 {
		return "Unknown"
	}
	hours := v.Duration / 3600
	minutes := (v.Duration % 3600) / 60
	seconds := v.Duration % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// QualityOption represents a quality option for download.
type QualityOption struct {
	QualityID      string       `json:"quality_id"`
	Label          string       `json:"label"`
	Resolution     string       `json:"resolution,omitempty"`
	Height         int          `json:"height,omitempty"`
	Bitrate        int          `json:"bitrate,omitempty"` // kbps
	FilesizeApprox int64        `json:"filesize_approx,omitempty"`
	FormatType     DownloadType `json:"format_type"`
}

// DownloadStatus represents the state of a recorded download.
type DownloadStatus string

const (
	DownloadStatusProcessing DownloadStatus = "processing"
	DownloadStatusDone       DownloadStatus = "done"
	DownloadStatusError      DownloadStatus = "error"
)

// Download is a history record of one download request.
type Download struct {
	ID          string         `json:"id"`
	URL         string         `json:"url"`
	Title       string         `json:"title,omitempty"`
	Type        DownloadType   `json:"download_type"`
	Quality     string         `json:"quality,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	Size        int64          `json:"size,omitempty"`
	Status      DownloadStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewDownload creates a processing record.
func NewDownload(id, url string, typ DownloadType, quality string) *Download {
	return &Download{
		ID:        id,
		URL:       url,
		Type:      typ,
		Quality:   quality,
		Status:    DownloadStatusProcessing,
		CreatedAt: time.Now().UTC(),
	}
}

// MarkDone records a successful download.
func (d *Download) MarkDone(title, filename string, size int64) {
	d.Status = DownloadStatusDone
	d.Title = title
	d.Filename = filename
	d.Size = size
	now := time.Now().UTC()
	d.CompletedAt = &now
}

// MarkError records a failed download.
func (d *Download) MarkError(err string) {
	d.Status = DownloadStatusError
	d.Error = err
	now := time.Now().UTC()
	d.CompletedAt = &now
}
