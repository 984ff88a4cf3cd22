package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// Output formats of a clear session.
const (
	FormatHLS  = "hls"
	FormatDASH = "dash"
)

// DashManifest is the MPD a DASH session writes at the root of its output
// directory.
const DashManifest = "manifest.mpd"

// dashWindow is the number of segments kept in the live MPD.
const dashWindow = 10

// ParseFormat normalises a requested output format. Empty means HLS.
func ParseFormat(s string) (string, error) {
	switch s {
	case "", FormatHLS:
		return FormatHLS, nil
	case FormatDASH:
		return FormatDASH, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q", ErrValidation, s)
	}
}

// DashArgs renders the clear pipeline as live DASH. Every representation
// shares one flat directory; segment names carry the representation ID.
func DashArgs(spec Spec, in Input, out Output) []string {
	args := inputArgs(in)

	if spec.Passthrough {
		args = append(args,
			"-map", "0:v:0",
			"-map", "0:a:0?",
			"-c:v", "copy",
			"-tag:v", "avc1",
		)
	} else {
		args = append(args, "-filter_complex", spec.FilterGraph())
		for i := range spec.Renditions {
			args = append(args, "-map", fmt.Sprintf("[v%d]", i))
		}
		args = append(args, "-map", "0:a:0?", "-c:v", "libx264", "-preset", "veryfast")
		for i, r := range spec.Renditions {
			args = append(args, fmt.Sprintf("-b:v:%d", i), r.VideoBitrate)
		}
		args = append(args, keyframeArgs()...)
	}

	seg := strconv.Itoa(SegmentSeconds)
	return append(args,
		"-c:a", "aac",
		"-b:a", DefaultAudioBitrate,
		"-f", "dash",
		"-dash_segment_type", "mp4",
		"-seg_duration", seg,
		"-frag_duration", seg,
		"-window_size", strconv.Itoa(dashWindow),
		"-streaming", "0",
		"-ignore_io_errors", "1",
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", "init-$RepresentationID$.$ext$",
		"-media_seg_name", "chunk-$RepresentationID$-$Number%05d$.$ext$",
		"-adaptation_sets", "id=0,streams=v id=1,streams=a",
		filepath.Join(out.Dir, DashManifest),
	)
}
