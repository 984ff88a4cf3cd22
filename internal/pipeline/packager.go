package pipeline

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// VariantPlaylist is the media playlist name inside every rendition folder.
const VariantPlaylist = "stream.m3u8"

// AudioPlaylist is the audio rendition playlist written by the packager.
const AudioPlaylist = "audio.m3u8"

// Encryption carries the raw key material handed to the packager.
// All values are hex strings.
type Encryption struct {
	KeyID            string
	Key              string
	IV               string
	PSSH             string
	ProtectionScheme string
}

// PackagerJob describes one packager process: one rendition read from its
// UDP socket and written encrypted under Dir/<label>/.
type PackagerJob struct {
	Rendition  Rendition
	UDPPort    int
	Dir        string
	Encryption Encryption
}

// RenditionDir is the published folder of the job's rendition.
func (j PackagerJob) RenditionDir() string {
	return filepath.Join(j.Dir, j.Rendition.Label)
}

// PackagerArgs renders the Shaka packager argument list for job.
func PackagerArgs(job PackagerJob) []string {
	dir := job.RenditionDir()
	src := UDPSocket(job.UDPPort) + "?reuse=1"

	video := descriptor(
		"in="+src,
		"stream=video",
		"segment_template="+filepath.Join(dir, "segment_$Number%05d$.ts"),
		"playlist_name="+VariantPlaylist,
	)
	audio := descriptor(
		"in="+src,
		"stream=audio",
		"segment_template="+filepath.Join(dir, "audio_$Number%05d$.ts"),
		"playlist_name="+AudioPlaylist,
		"hls_group_id=audio",
		"hls_name=audio",
	)

	scheme := strings.ToLower(job.Encryption.ProtectionScheme)
	if scheme == "" {
		scheme = "cbcs"
	}

	return []string{
		video,
		audio,
		"--enable_raw_key_encryption",
		"--keys", fmt.Sprintf("label=:key_id=%s:key=%s", job.Encryption.KeyID, job.Encryption.Key),
		"--iv", job.Encryption.IV,
		"--pssh", job.Encryption.PSSH,
		"--protection_scheme", scheme,
		"--hls_playlist_type", "LIVE",
		"--segment_duration", strconv.Itoa(SegmentSeconds),
		"--time_shift_buffer_depth", strconv.Itoa(SegmentSeconds * 15),
		"--preserved_segments_outside_live_window", "10",
		"--hls_master_playlist_output", filepath.Join(dir, "variant.m3u8"),
	}
}

func descriptor(fields ...string) string {
	return strings.Join(fields, ",")
}
