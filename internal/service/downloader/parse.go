package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emanuelef/yt-downloader/internal/domain"
	"github.com/emanuelef/yt-downloader/internal/service/quality"
)

// ytDlpJSON matches the subset of `yt-dlp -J` output we use.
type ytDlpJSON struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Duration    float64       `json:"duration"`
	Thumbnail   string        `json:"thumbnail"`
	Uploader    string        `json:"uploader"`
	UploaderURL string        `json:"uploader_url"`
	ViewCount   int64         `json:"view_count"`
	LikeCount   int64         `json:"like_count"`
	UploadDate  string        `json:"upload_date"`
	WebpageURL  string        `json:"webpage_url"`
	Formats     []ytDlpFormat `json:"formats"`
}

type ytDlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	Filesize       float64 `json:"filesize"`
	FilesizeApprox float64 `json:"filesize_approx"`
	FormatNote     string  `json:"format_note"`
	FPS            float64 `json:"fps"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	ABR            float64 `json:"abr"`
	TBR            float64 `json:"tbr"`
}

// parseInfo converts yt-dlp JSON into a VideoInfo.
func parseInfo(data []byte, requestURL string) (*domain.VideoInfo, error) {
	var raw ytDlpJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse video info: %w", err)
	}
	if raw.ID == "" && raw.Title == "" {
		return nil, errors.New("could not extract video information")
	}

	info := &domain.VideoInfo{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Duration:    int(raw.Duration),
		Thumbnail:   raw.Thumbnail,
		Uploader:    raw.Uploader,
		UploaderURL: raw.UploaderURL,
		ViewCount:   raw.ViewCount,
		LikeCount:   raw.LikeCount,
		UploadDate:  raw.UploadDate,
		WebpageURL:  raw.WebpageURL,
		Formats:     make([]domain.VideoFormat, 0, len(raw.Formats)),
	}
	if info.Title == "" {
		info.Title = "Unknown"
	}
	if info.WebpageURL == "" {
		info.WebpageURL = requestURL
	}

	for _, f := range raw.Formats {
		info.Formats = append(info.Formats, toFormat(f))
	}
	info.BestVideo, info.BestAudio = quality.SelectBest(info.Formats)

	return info, nil
}

func toFormat(f ytDlpFormat) domain.VideoFormat {
	resolution := f.Resolution
	if resolution == "" {
		w, h := "?", "?"
		if f.Width > 0 {
			w = fmt.Sprint(f.Width)
		}
		if f.Height > 0 {
			h = fmt.Sprint(f.Height)
		}
		resolution = w + "x" + h
	}

	return domain.VideoFormat{
		FormatID:       f.FormatID,
		Extension:      f.Ext,
		Resolution:     resolution,
		Height:         f.Height,
		Filesize:       int64(f.Filesize),
		FilesizeApprox: int64(f.FilesizeApprox),
		FormatNote:     f.FormatNote,
		FPS:            f.FPS,
		VCodec:         f.VCodec,
		ACodec:         f.ACodec,
		ABR:            f.ABR,
		TBR:            f.TBR,
		FormatType:     quality.ClassifyFormat(f.VCodec, f.ACodec),
	}
}

var (
	invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	unsafeHeaderChars    = regexp.MustCompile(`[^\w\s\-.]`)
)

// SanitizeFilename makes a title safe to use as a file name on Windows and
// Unix.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = strings.Trim(sanitized, " .")
	if r := []rune(sanitized); len(r) > 200 {
		sanitized = strings.Trim(string(r[:200]), " .")
	}
	if sanitized == "" {
		return "video"
	}
	return sanitized
}

// HeaderFilename restricts a file name to characters that are safe inside a
// quoted Content-Disposition value.
func HeaderFilename(name string) string {
	return unsafeHeaderChars.ReplaceAllString(name, "_")
}
