// Package manifest writes the HLS master playlist that ties a session's
// renditions together.
package manifest

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/pipeline"
)

// MasterName is the file name of the composed master playlist.
const MasterName = "master.m3u8"

// KeyInfo advertises session key material in the master playlist.
type KeyInfo struct {
	// KeyID is the hex key identifier.
	KeyID string
	// PSSH is the hex PSSH box, embedded as a data URI.
	PSSH string
	// KeyFormat defaults to the Widevine key format.
	KeyFormat string
	// Method defaults to SAMPLE-AES.
	Method string
}

// AudioGroup describes a shared audio rendition.
type AudioGroup struct {
	ID   string
	Name string
	URI  string
}

// Compose returns the master playlist for renditions, in order. key is nil
// for clear sessions.
func Compose(renditions []pipeline.Rendition, key *KeyInfo, audio *AudioGroup) string {
	var b strings.Builder

	b.WriteString("#EXTM3U\n")
	if key != nil {
		b.WriteString("#EXT-X-VERSION:6\n")
	} else {
		b.WriteString("#EXT-X-VERSION:3\n")
	}
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	if key != nil {
		b.WriteString(sessionKey(*key))
		b.WriteString("\n")
	}
	if audio != nil {
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q,DEFAULT=YES,AUTOSELECT=YES,URI=%q\n",
			audio.ID, audio.Name, audio.URI)
	}
	b.WriteString("\n")

	for _, r := range renditions {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s", r.Bandwidth(), r.Resolution())
		if audio != nil {
			fmt.Fprintf(&b, ",AUDIO=%q", audio.ID)
		}
		b.WriteString("\n")
		b.WriteString(MediaPlaylistURI(r))
		b.WriteString("\n")
	}
	return b.String()
}

// MediaPlaylistURI is the master-relative URI of a rendition's playlist.
func MediaPlaylistURI(r pipeline.Rendition) string {
	return r.Label + "/" + pipeline.VariantPlaylist
}

// DRMAudioGroup references the audio playlist the packager writes next to
// the first rendition.
func DRMAudioGroup(renditions []pipeline.Rendition) *AudioGroup {
	if len(renditions) == 0 {
		return nil
	}
	return &AudioGroup{
		ID:   "audio",
		Name: "audio",
		URI:  renditions[0].Label + "/" + pipeline.AudioPlaylist,
	}
}

func sessionKey(k KeyInfo) string {
	method := k.Method
	if method == "" {
		method = "SAMPLE-AES"
	}
	format := k.KeyFormat
	if format == "" {
		format = drm.WidevineKeyFormat
	}

	attrs := []string{"METHOD=" + method}
	if k.PSSH != "" {
		if box, err := hex.DecodeString(k.PSSH); err == nil {
			attrs = append(attrs, fmt.Sprintf("URI=%q", "data:text/plain;base64,"+base64.StdEncoding.EncodeToString(box)))
		}
	}
	attrs = append(attrs,
		"KEYID=0x"+strings.ToUpper(k.KeyID),
		fmt.Sprintf("KEYFORMAT=%q", format),
		`KEYFORMATVERSIONS="1"`,
	)
	return "#EXT-X-SESSION-KEY:" + strings.Join(attrs, ",")
}

// WriteMaster writes text to dir/master.m3u8 through a temp file and rename,
// so readers never observe a partial playlist.
func WriteMaster(dir, text string) error {
	f, err := os.CreateTemp(dir, ".master-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp master: %w", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()

	if _, err := f.WriteString(text); err != nil {
		_ = f.Close()
		return fmt.Errorf("write master: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync master: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close master: %w", err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		return fmt.Errorf("chmod master: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, MasterName)); err != nil {
		return fmt.Errorf("rename master: %w", err)
	}
	return nil
}
