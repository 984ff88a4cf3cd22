package pipeline

import (
	"fmt"
	"strings"
)

// ScaleFilter describes one scaling step of the ladder graph.
type ScaleFilter struct {
	Width          int
	Height         int
	PreserveAspect bool
	ShrinkOnly     bool
}

// String renders the filter in ffmpeg syntax.
func (f ScaleFilter) String() string {
	s := fmt.Sprintf("scale=w=%d:h=%d", f.Width, f.Height)
	if f.PreserveAspect && f.ShrinkOnly {
		s += ":force_original_aspect_ratio=decrease"
	}
	return s
}

// Variant binds the i-th video and audio output to a named variant.
type Variant struct {
	VideoIndex int
	AudioIndex int
	Name       string
}

// String is the canonical form, e.g. "video:0,audio:0,name:stream_720p".
func (v Variant) String() string {
	return fmt.Sprintf("video:%d,audio:%d,name:%s", v.VideoIndex, v.AudioIndex, v.Name)
}

func (v Variant) ffmpeg() string {
	return fmt.Sprintf("v:%d,a:%d,name:%s", v.VideoIndex, v.AudioIndex, v.Name)
}

// Spec is the transcode description produced by Build. A passthrough spec
// has no renditions: video is copied and only audio is transcoded.
type Spec struct {
	Passthrough bool
	Renditions  []Rendition
	Scales      []ScaleFilter
	Bitrates    []string
	Variants    []Variant
}

// Build produces a Spec for reqs, keeping input order. An empty ladder
// yields a passthrough spec.
func Build(reqs []Request) (Spec, error) {
	if len(reqs) == 0 {
		return Spec{Passthrough: true}, nil
	}
	if err := Validate(reqs); err != nil {
		return Spec{}, err
	}

	spec := Spec{
		Renditions: make([]Rendition, 0, len(reqs)),
		Scales:     make([]ScaleFilter, 0, len(reqs)),
		Bitrates:   make([]string, 0, len(reqs)),
		Variants:   make([]Variant, 0, len(reqs)),
	}
	for i, r := range reqs {
		bitrate := r.Bitrate
		if bitrate == "" {
			bitrate = DefaultBitrate(r.Height)
		}
		label := RenditionLabel(r.Height)

		spec.Scales = append(spec.Scales, ScaleFilter{Width: r.Width, Height: r.Height, PreserveAspect: true, ShrinkOnly: true})
		spec.Bitrates = append(spec.Bitrates, bitrate)
		spec.Variants = append(spec.Variants, Variant{VideoIndex: i, AudioIndex: i, Name: label})
		spec.Renditions = append(spec.Renditions, Rendition{
			Label:        label,
			Width:        r.Width,
			Height:       r.Height,
			VideoBitrate: bitrate,
			AudioBitrate: DefaultAudioBitrate,
		})
	}
	return spec, nil
}

// VariantMap is the space separated canonical variant description.
func (s Spec) VariantMap() string {
	parts := make([]string, len(s.Variants))
	for i, v := range s.Variants {
		parts[i] = v.String()
	}
	return strings.Join(parts, " ")
}

func (s Spec) ffmpegVariantMap() string {
	parts := make([]string, len(s.Variants))
	for i, v := range s.Variants {
		parts[i] = v.ffmpeg()
	}
	return strings.Join(parts, " ")
}

// FilterGraph splits the input video once per rendition and scales each
// branch, labelling outputs [v0], [v1], ... in ladder order.
func (s Spec) FilterGraph() string {
	if len(s.Scales) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[0:v]split=%d", len(s.Scales))
	for i := range s.Scales {
		fmt.Fprintf(&b, "[s%d]", i)
	}
	for i, f := range s.Scales {
		fmt.Fprintf(&b, ";[s%d]%s[v%d]", i, f, i)
	}
	return b.String()
}
