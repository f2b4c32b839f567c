package domain

import "errors"

var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrInvalidQuality   = errors.New("invalid quality")
	ErrVideoUnavailable = errors.New("video is unavailable or private")
	ErrExtractionFailed = errors.New("failed to extract video info")
	ErrDownloadFailed   = errors.New("download failed")
	ErrDownloadTimeout  = errors.New("download timed out")
	ErrFileNotFound     = errors.New("download completed but file not found")
	ErrNotFound         = errors.New("download record not found")
)
