package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// SegmentSeconds is the target HLS segment duration for every output.
const SegmentSeconds = 4

// ClearDirName is the DRM staging directory below a session's output
// directory. It holds unencrypted playlists and is never published.
const ClearDirName = "clear"

// Input describes where the transcoder reads the live feed from.
type Input struct {
	URL string
	// Listen makes the transcoder act as an RTMP server on URL.
	Listen bool
}

// Output is the clear pipeline destination.
type Output struct {
	Dir string
}

// DRMOutput is the DRM pipeline destination. UDPPorts holds one local
// port per rendition, in ladder order.
type DRMOutput struct {
	Dir      string
	UDPPorts []int
}

// ClearDir is the staging directory for a DRM output.
func (o DRMOutput) ClearDir() string {
	return filepath.Join(o.Dir, ClearDirName)
}

// ClearPlaylist is the staging playlist the transcoder writes for r.
func (o DRMOutput) ClearPlaylist(r Rendition) string {
	return filepath.Join(o.ClearDir(), r.Label+".m3u8")
}

// UDPSocket is the local address a rendition's elementary stream is sent to.
func UDPSocket(port int) string {
	return "udp://127.0.0.1:" + strconv.Itoa(port)
}

func inputArgs(in Input) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "info",
		"-fflags", "+genpts",
		"-analyzeduration", "2M",
		"-probesize", "2M",
	}
	if in.Listen {
		args = append(args, "-listen", "1")
	}
	return append(args, "-i", in.URL)
}

func keyframeArgs() []string {
	return []string{
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", SegmentSeconds),
	}
}

func hlsArgs() []string {
	return []string{
		"-f", "hls",
		"-hls_time", strconv.Itoa(SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_flags", "independent_segments+append_list",
	}
}

// TranscoderArgs renders the clear pipeline. A passthrough spec copies video
// into outputDir/master.m3u8; a ladder spec writes one media playlist per
// variant under outputDir/<label>/ and leaves the master to the composer.
func TranscoderArgs(spec Spec, in Input, out Output) []string {
	args := inputArgs(in)

	if spec.Passthrough {
		args = append(args,
			"-c:v", "copy",
			"-c:a", "aac",
			"-b:a", DefaultAudioBitrate,
		)
		args = append(args, hlsArgs()...)
		return append(args,
			"-hls_segment_filename", filepath.Join(out.Dir, "segment_%03d.ts"),
			filepath.Join(out.Dir, "master.m3u8"),
		)
	}

	args = append(args, "-filter_complex", spec.FilterGraph())
	for i := range spec.Renditions {
		args = append(args, "-map", fmt.Sprintf("[v%d]", i), "-map", "0:a:0?")
	}
	args = append(args, "-c:v", "libx264", "-preset", "veryfast")
	for i, r := range spec.Renditions {
		args = append(args, fmt.Sprintf("-b:v:%d", i), r.VideoBitrate)
	}
	args = append(args, keyframeArgs()...)
	args = append(args, "-c:a", "aac")
	for i, r := range spec.Renditions {
		args = append(args, fmt.Sprintf("-b:a:%d", i), r.AudioBitrate)
	}
	args = append(args, hlsArgs()...)
	return append(args,
		"-var_stream_map", spec.ffmpegVariantMap(),
		"-hls_segment_filename", filepath.Join(out.Dir, "%v", "segment_%03d.ts"),
		filepath.Join(out.Dir, "%v", "stream.m3u8"),
	)
}

// DRMTranscoderArgs renders the DRM pipeline: every rendition is encoded once
// and teed to its UDP socket (consumed by the packager) and to a clear
// staging playlist used as the readiness signal.
func DRMTranscoderArgs(spec Spec, in Input, out DRMOutput) ([]string, error) {
	if spec.Passthrough || len(spec.Renditions) == 0 {
		return nil, fmt.Errorf("%w: DRM pipeline needs at least one rendition", ErrValidation)
	}
	if len(out.UDPPorts) != len(spec.Renditions) {
		return nil, fmt.Errorf("%w: %d renditions but %d UDP ports", ErrValidation, len(spec.Renditions), len(out.UDPPorts))
	}

	args := inputArgs(in)
	args = append(args, "-filter_complex", spec.FilterGraph())
	for i, r := range spec.Renditions {
		args = append(args,
			"-map", fmt.Sprintf("[v%d]", i),
			"-map", "0:a:0?",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-b:v", r.VideoBitrate,
		)
		args = append(args, keyframeArgs()...)
		args = append(args,
			"-c:a", "aac",
			"-b:a", r.AudioBitrate,
			"-f", "tee",
			teeTargets(r, out, out.UDPPorts[i]),
		)
	}
	return args, nil
}

func teeTargets(r Rendition, out DRMOutput, port int) string {
	udp := fmt.Sprintf("[f=mpegts]%s?pkt_size=1316", UDPSocket(port))
	hls := strings.Join([]string{
		"f=hls",
		"hls_time=" + strconv.Itoa(SegmentSeconds),
		"hls_list_size=6",
		"hls_flags=independent_segments+delete_segments",
		"hls_segment_filename=" + filepath.Join(out.ClearDir(), r.Label+"_%03d.ts"),
	}, ":")
	return udp + "|[" + hls + "]" + out.ClearPlaylist(r)
}

// SimulatorArgs renders a looping real-time push of a local file to target.
func SimulatorArgs(inputPath, target, protocol string) []string {
	format := "mpegts"
	if protocol == "rtmp" {
		format = "flv"
	}
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-re",
		"-stream_loop", "-1",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-c:a", "aac",
		"-b:a", DefaultAudioBitrate,
		"-f", format,
		target,
	}
}
