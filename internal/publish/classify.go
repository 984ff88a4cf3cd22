// Package publish mirrors a session's output directory to object storage as
// files become stable.
package publish

import (
	"errors"
	"mime"
	"path"
	"path/filepath"
	"strings"
)

// ErrPublish wraps every upload failure. It is reported through events only.
var ErrPublish = errors.New("publish failed")

// Kind classifies an output file.
type Kind string

const (
	KindSegment     Kind = "segment"
	KindFragment    Kind = "fragment"
	KindMaster      Kind = "master"
	KindSubManifest Kind = "manifest"
	KindIgnored     Kind = "ignored"
)

// IsManifest reports whether k is a playlist of any level.
func (k Kind) IsManifest() bool {
	return k == KindMaster || k == KindSubManifest
}

// Classify returns the kind of the file at rel, a path relative to the
// watched root.
func Classify(rel string) Kind {
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	switch strings.ToLower(path.Ext(rel)) {
	case ".ts", ".m4s", ".aac":
		return KindSegment
	case ".mp4":
		return KindFragment
	case ".m3u8", ".mpd":
		if path.Dir(rel) == "." && (strings.HasPrefix(base, "master.") || base == "manifest.mpd") {
			return KindMaster
		}
		return KindSubManifest
	default:
		return KindIgnored
	}
}

// ContentType returns the MIME type uploaded with rel.
func ContentType(rel string) string {
	ext := strings.ToLower(filepath.Ext(rel))
	switch ext {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".mpd":
		return "application/dash+xml"
	case ".ts":
		return "video/mp2t"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// CacheControl returns the Cache-Control header for a file of kind k.
// Playlists change while live; media is immutable once written.
func CacheControl(k Kind) string {
	if k.IsManifest() {
		return "no-cache"
	}
	return "public, max-age=31536000"
}

// ObjectKey maps rel below prefix using forward slashes.
func ObjectKey(prefix, rel string) string {
	return path.Join(prefix, filepath.ToSlash(rel))
}
