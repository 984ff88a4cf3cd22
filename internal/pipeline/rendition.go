// Package pipeline turns a requested rendition ladder into a deterministic
// transcode description and renders the transcoder and packager argument
// lists for it.
package pipeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrValidation is returned for malformed rendition requests.
var ErrValidation = errors.New("invalid rendition request")

// DefaultAudioBitrate is the AAC bitrate used for every rendition.
const DefaultAudioBitrate = "128k"

// Request is one caller-supplied entry of the ABR ladder.
// Bitrate is optional; when empty it is derived from Height.
type Request struct {
	Width   int    `json:"width" yaml:"width"`
	Height  int    `json:"height" yaml:"height"`
	Bitrate string `json:"bitrate,omitempty" yaml:"bitrate"`
}

// DefaultDRMLadder is used by DRM sessions started without renditions.
var DefaultDRMLadder = []Request{
	{Width: 1280, Height: 720, Bitrate: "2500k"},
	{Width: 854, Height: 480, Bitrate: "1200k"},
	{Width: 640, Height: 360, Bitrate: "700k"},
}

// Rendition is one resolved entry of the ladder. Its position in a Spec is
// significant: variant maps, manifests and packager jobs index it positionally.
type Rendition struct {
	Label        string `json:"label"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate string `json:"videoBitrate"`
	AudioBitrate string `json:"audioBitrate"`
}

// Bandwidth returns video+audio bitrate in bits per second.
func (r Rendition) Bandwidth() int64 {
	v, _ := ParseBitrate(r.VideoBitrate)
	a, _ := ParseBitrate(r.AudioBitrate)
	return v + a
}

// Resolution formats the rendition size as WIDTHxHEIGHT.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// RenditionLabel is the variant and folder name for a given height.
func RenditionLabel(height int) string {
	return fmt.Sprintf("stream_%dp", height)
}

// DefaultBitrate returns the video bitrate used when a request carries none.
func DefaultBitrate(height int) string {
	switch {
	case height <= 360:
		return "800k"
	case height <= 480:
		return "1400k"
	case height <= 720:
		return "2800k"
	case height <= 1080:
		return "5000k"
	default:
		return "8000k"
	}
}

// ParseBitrate converts an ffmpeg-style bitrate ("800k", "5M", "128000")
// into bits per second.
func ParseBitrate(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty bitrate", ErrValidation)
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'k', 'K':
		mult = 1000
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1000 * 1000
		s = s[:len(s)-1]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: bitrate %q", ErrValidation, s)
	}
	return n * mult, nil
}

// Validate checks a ladder without building it.
func Validate(reqs []Request) error {
	seen := make(map[int]int, len(reqs))
	for i, r := range reqs {
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("%w: entry %d: width and height must be positive, got %dx%d", ErrValidation, i, r.Width, r.Height)
		}
		if r.Bitrate != "" {
			if _, err := ParseBitrate(r.Bitrate); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}
		if prev, dup := seen[r.Height]; dup {
			return fmt.Errorf("%w: entries %d and %d share height %d", ErrValidation, prev, i, r.Height)
		}
		seen[r.Height] = i
	}
	return nil
}
