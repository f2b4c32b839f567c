// Package quality turns extractor format lists into the quality options
// offered to the client and into yt-dlp format selectors.
package quality

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/emanuelef/yt-downloader/internal/domain"
)

const (
	heightTolerance  = 100 // px
	bitrateTolerance = 50  // kbps
)

type videoRung struct {
	id     string
	label  string
	height int
}

type audioRung struct {
	id      string
	label   string
	bitrate int
}

// Standard video quality options, highest first.
var videoLadder = []videoRung{
	{"2160p", "4K (2160p)", 2160},
	{"1440p", "2K (1440p)", 1440},
	{"1080p", "Full HD (1080p)", 1080},
	{"720p", "HD (720p)", 720},
	{"480p", "SD (480p)", 480},
	{"360p", "Low (360p)", 360},
	{"240p", "Very Low (240p)", 240},
	{"144p", "Minimum (144p)", 144},
}

// Standard audio quality options, highest first.
var audioLadder = []audioRung{
	{"320kbps", "High (320 kbps)", 320},
	{"256kbps", "Good (256 kbps)", 256},
	{"192kbps", "Medium (192 kbps)", 192},
	{"128kbps", "Standard (128 kbps)", 128},
	{"96kbps", "Low (96 kbps)", 96},
	{"64kbps", "Very Low (64 kbps)", 64},
}

// DefaultAudioBitrate is used when the client does not pick one.
const DefaultAudioBitrate = 192

func hasCodec(codec string) bool {
	return codec != "" && codec != "none"
}

// ClassifyFormat determines the format type from its codecs.
func ClassifyFormat(vcodec, acodec string) domain.FormatType {
	hasVideo := hasCodec(vcodec)
	hasAudio := hasCodec(acodec)

	switch {
	case hasVideo && hasAudio:
		return domain.FormatVideoAudio
	case hasVideo:
		return domain.FormatVideoOnly
	default:
		return domain.FormatAudioOnly
	}
}

// VideoQualities returns the ladder rungs the source can satisfy.
// Each rung takes the closest remaining source height within tolerance,
// and a source height is used by at most one rung.
func VideoQualities(formats []domain.VideoFormat) []domain.QualityOption {
	available := make(map[int]struct{})
	for _, f := range formats {
		if f.Height > 0 && hasCodec(f.VCodec) {
			available[f.Height] = struct{}{}
		}
	}

	var options []domain.QualityOption
	for _, rung := range videoLadder {
		closest, ok := closestHeight(available, rung.height)
		if !ok || abs(closest-rung.height) > heightTolerance {
			continue
		}
		options = append(options, domain.QualityOption{
			QualityID:  rung.id,
			Label:      rung.label,
			Resolution: fmt.Sprintf("%dp", closest),
			Height:     closest,
			FormatType: domain.DownloadVideo,
		})
		delete(available, closest)
	}

	return options
}

// closestHeight picks the nearest height; ties go to the lower one so the
// result does not depend on map order.
func closestHeight(heights map[int]struct{}, target int) (int, bool) {
	best, found := 0, false
	for h := range heights {
		if !found || abs(h-target) < abs(best-target) || (abs(h-target) == abs(best-target) && h < best) {
			best, found = h, true
		}
	}
	return best, found
}

// AudioQualities returns every audio rung up to the best source bitrate
// (plus tolerance). At least the standard 128 kbps option is returned.
func AudioQualities(formats []domain.VideoFormat) []domain.QualityOption {
	var maxBitrate float64
	for _, f := range formats {
		if !hasCodec(f.ACodec) {
			continue
		}
		if br := f.AudioBitrate(); br > maxBitrate {
			maxBitrate = br
		}
	}

	var options []domain.QualityOption
	for _, rung := range audioLadder {
		if float64(rung.bitrate) <= maxBitrate+bitrateTolerance {
			options = append(options, audioOption(rung))
		}
	}

	if len(options) == 0 {
		options = append(options, audioOption(audioRung{"128kbps", "Standard (128 kbps)", 128}))
	}

	return options
}

func audioOption(r audioRung) domain.QualityOption {
	return domain.QualityOption{
		QualityID:  r.id,
		Label:      r.label,
		Bitrate:    r.bitrate,
		FormatType: domain.DownloadAudio,
	}
}

// SelectBest picks the best video-only and audio-only streams for merging.
// Either result may be nil.
func SelectBest(formats []domain.VideoFormat) (video, audio *domain.VideoFormat) {
	var videos, audios []domain.VideoFormat
	for _, f := range formats {
		switch ClassifyFormat(f.VCodec, f.ACodec) {
		case domain.FormatVideoOnly:
			videos = append(videos, f)
		case domain.FormatAudioOnly:
			if hasCodec(f.ACodec) {
				audios = append(audios, f)
			}
		}
	}

	if len(videos) > 0 {
		sort.SliceStable(videos, func(i, j int) bool {
			if videos[i].Height != videos[j].Height {
				return videos[i].Height > videos[j].Height
			}
			return videos[i].TBR > videos[j].TBR
		})
		video = &videos[0]
	}

	if len(audios) > 0 {
		sort.SliceStable(audios, func(i, j int) bool {
			return audios[i].AudioBitrate() > audios[j].AudioBitrate()
		})
		audio = &audios[0]
	}

	return video, audio
}

// ParseHeight converts a video quality id such as "1080p" into a height.
// An empty id means best available and returns 0.
func ParseHeight(qualityID string) (int, error) {
	if qualityID == "" {
		return 0, nil
	}
	h, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(qualityID)), "p"))
	if err != nil || h <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuality, qualityID)
	}
	return h, nil
}

// ParseBitrate converts an audio quality id such as "320kbps" into kbps.
// An empty id yields DefaultAudioBitrate.
func ParseBitrate(qualityID string) (int, error) {
	if qualityID == "" {
		return DefaultAudioBitrate, nil
	}
	br, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(qualityID)), "kbps"))
	if err != nil || br <= 0 {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidQuality, qualityID)
	}
	return br, nil
}

// VideoSelector builds the yt-dlp -f expression for a video download.
// Without ffmpeg only pre-muxed formats can be used.
func VideoSelector(height int, ffmpeg bool) string {
	if height <= 0 {
		if ffmpeg {
			return "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio/best"
		}
		return "best[ext=mp4]/best"
	}

	if ffmpeg {
		return fmt.Sprintf("bestvideo[height<=%[1]d][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=%[1]d]+bestaudio/best[height<=%[1]d]", height)
	}
	return fmt.Sprintf("best[height<=%[1]d][ext=mp4]/best[height<=%[1]d]", height)
}

func abs(n int) int {
	return int(math.Abs(float64(n)))
}
