package quality

import (
	"errors"
	"testing"

	"github.com/emanuelef/yt-downloader/internal/domain"
)

func ids(options []domain.QualityOption) []string {
	out := make([]string, len(options))
	for i, o := range options {
		out[i] = o.QualityID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassifyFormat(t *testing.T) {
	tests := []struct {
		vcodec, acodec string
		want           domain.FormatType
	}{
		{"avc1", "mp4a", domain.FormatVideoAudio},
		{"vp9", "none", domain.FormatVideoOnly},
		{"none", "opus", domain.FormatAudioOnly},
		{"", "", domain.FormatAudioOnly},
	}
	for _, tt := range tests {
		if got := ClassifyFormat(tt.vcodec, tt.acodec); got != tt.want {
			t.Errorf("ClassifyFormat(%q, %q) = %s, want %s", tt.vcodec, tt.acodec, got, tt.want)
		}
	}
}

func TestVideoQualities(t *testing.T) {
	formats := []domain.VideoFormat{
		{Height: 1080, VCodec: "avc1"},
		{Height: 1080, VCodec: "vp9"},
		{Height: 720, VCodec: "avc1"},
		{Height: 360, VCodec: "avc1"},
		{Height: 2160, VCodec: "none", ACodec: "opus"}, // no video codec
		{Height: 0, VCodec: "avc1"},
	}

	got := VideoQualities(formats)
	want := []string{"1080p", "720p", "360p"}
	if !equal(ids(got), want) {
		t.Fatalf("VideoQualities ids = %v, want %v", ids(got), want)
	}
	if got[0].Resolution != "1080p" || got[0].Height != 1080 || got[0].FormatType != domain.DownloadVideo {
		t.Errorf("unexpected first option: %+v", got[0])
	}
}

func TestVideoQualities_ToleranceAndConsumption(t *testing.T) {
	// 1920x800 style widescreen encodes report odd heights.
	formats := []domain.VideoFormat{
		{Height: 800, VCodec: "avc1"},
		{Height: 534, VCodec: "avc1"},
	}

	got := VideoQualities(formats)
	// 800 is within 100px of 720 only; 534 matches 480 only.
	want := []string{"720p", "480p"}
	if !equal(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	if got[0].Height != 800 || got[1].Height != 534 {
		t.Errorf("heights = %d, %d", got[0].Height, got[1].Height)
	}
}

func TestVideoQualities_Empty(t *testing.T) {
	if got := VideoQualities(nil); len(got) != 0 {
		t.Fatalf("expected no options, got %v", ids(got))
	}
}

func TestAudioQualities(t *testing.T) {
	formats := []domain.VideoFormat{
		{ACodec: "opus", ABR: 160},
		{ACodec: "mp4a", TBR: 129},
		{VCodec: "avc1", ACodec: "none", TBR: 4000},
	}

	got := AudioQualities(formats)
	// max 160 + 50 tolerance admits 192 and below.
	want := []string{"192kbps", "128kbps", "96kbps", "64kbps"}
	if !equal(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	if got[0].Bitrate != 192 || got[0].FormatType != domain.DownloadAudio {
		t.Errorf("unexpected first option: %+v", got[0])
	}
}

func TestAudioQualities_FallbackStandard(t *testing.T) {
	got := AudioQualities([]domain.VideoFormat{{VCodec: "avc1", ACodec: "none"}})
	if !equal(ids(got), []string{"128kbps"}) {
		t.Fatalf("ids = %v, want [128kbps]", ids(got))
	}
}

func TestSelectBest(t *testing.T) {
	formats := []domain.VideoFormat{
		{FormatID: "18", Height: 360, VCodec: "avc1", ACodec: "mp4a"},
		{FormatID: "137", Height: 1080, VCodec: "avc1", ACodec: "none", TBR: 4000},
		{FormatID: "248", Height: 1080, VCodec: "vp9", ACodec: "none", TBR: 2500},
		{FormatID: "136", Height: 720, VCodec: "avc1", ACodec: "none", TBR: 9000},
		{FormatID: "140", ACodec: "mp4a", VCodec: "none", ABR: 129},
		{FormatID: "251", ACodec: "opus", VCodec: "none", ABR: 160},
		{FormatID: "sb0", ACodec: "none", VCodec: "none"},
	}

	video, audio := SelectBest(formats)
	if video == nil || video.FormatID != "137" {
		t.Errorf("best video = %+v, want 137", video)
	}
	if audio == nil || audio.FormatID != "251" {
		t.Errorf("best audio = %+v, want 251", audio)
	}

	video, audio = SelectBest([]domain.VideoFormat{{FormatID: "18", VCodec: "avc1", ACodec: "mp4a"}})
	if video != nil || audio != nil {
		t.Errorf("muxed-only source should have no split best formats, got %v %v", video, audio)
	}
}

func TestParseHeight(t *testing.T) {
	if h, err := ParseHeight("1080p"); err != nil || h != 1080 {
		t.Errorf("ParseHeight(1080p) = %d, %v", h, err)
	}
	if h, err := ParseHeight(""); err != nil || h != 0 {
		t.Errorf("ParseHeight(\"\") = %d, %v", h, err)
	}
	for _, bad := range []string{"hd", "-5p", "320kbps"} {
		if _, err := ParseHeight(bad); !errors.Is(err, domain.ErrInvalidQuality) {
			t.Errorf("ParseHeight(%q) error = %v, want ErrInvalidQuality", bad, err)
		}
	}
}

func TestParseBitrate(t *testing.T) {
	if br, err := ParseBitrate("320kbps"); err != nil || br != 320 {
		t.Errorf("ParseBitrate(320kbps) = %d, %v", br, err)
	}
	if br, err := ParseBitrate(""); err != nil || br != DefaultAudioBitrate {
		t.Errorf("ParseBitrate(\"\") = %d, %v", br, err)
	}
	if _, err := ParseBitrate("loud"); !errors.Is(err, domain.ErrInvalidQuality) {
		t.Errorf("ParseBitrate(loud) error = %v", err)
	}
}

func TestVideoSelector(t *testing.T) {
	tests := []struct {
		height int
		ffmpeg bool
		want   string
	}{
		{0, true, "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio/best"},
		{0, false, "best[ext=mp4]/best"},
		{720, true, "bestvideo[height<=720][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=720]+bestaudio/best[height<=720]"},
		{480, false, "best[height<=480][ext=mp4]/best[height<=480]"},
	}
	for _, tt := range tests {
		if got := VideoSelector(tt.height, tt.ffmpeg); got != tt.want {
			t.Errorf("VideoSelector(%d, %v) = %q, want %q", tt.height, tt.ffmpeg, got, tt.want)
		}
	}
}
