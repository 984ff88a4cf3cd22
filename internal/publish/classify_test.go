package publish

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := map[string]Kind{
		"segment_001.ts":            KindSegment,
		"stream_720p/seg_002.ts":    KindSegment,
		"stream_720p/chunk_1.m4s":   KindSegment,
		"audio/a_1.aac":             KindSegment,
		"stream_720p/init.mp4":      KindFragment,
		"master.m3u8":               KindMaster,
		"manifest.mpd":              KindMaster,
		"stream_720p/stream.m3u8":   KindSubManifest,
		"stream_720p/master.m3u8":   KindSubManifest,
		"stream_720p/variant.m3u8":  KindSubManifest,
		"other.mpd":                 KindSubManifest,
		"stream.m3u8.tmp":           KindIgnored,
		"notes.txt":                 KindIgnored,
		"stream_720p/SEGMENT_01.TS": KindSegment,
	}
	for rel, want := range tests {
		assert.Equal(t, want, Classify(rel), rel)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/vnd.apple.mpegurl", ContentType("a/stream.m3u8"))
	assert.Equal(t, "application/dash+xml", ContentType("manifest.mpd"))
	assert.Equal(t, "video/mp2t", ContentType("seg.ts"))
	assert.Equal(t, "video/iso.segment", ContentType("seg.m4s"))
	assert.Equal(t, "video/mp4", ContentType("init.mp4"))
	assert.Equal(t, "application/octet-stream", ContentType("blob.unknownext"))
}

func TestCacheControl(t *testing.T) {
	assert.Equal(t, "no-cache", CacheControl(KindMaster))
	assert.Equal(t, "no-cache", CacheControl(KindSubManifest))
	assert.Equal(t, "public, max-age=31536000", CacheControl(KindSegment))
	assert.Equal(t, "public, max-age=31536000", CacheControl(KindFragment))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "live-streams/stream-1/stream_720p/seg_001.ts", ObjectKey("live-streams/stream-1", "stream_720p/seg_001.ts"))
	assert.Equal(t, "master.m3u8", ObjectKey("", "master.m3u8"))
}

func TestRewriteMPD(t *testing.T) {
	in := `<MPD><BaseURL>$RepresentationID$_seg.m4s</BaseURL><BaseURL>http://cdn/x/</BaseURL></MPD>`
	want := `<MPD><BaseURL>_seg.m4s/$RepresentationID$_seg.m4s</BaseURL><BaseURL>http://cdn/x/</BaseURL></MPD>`
	assert.Equal(t, want, string(RewriteMPD([]byte(in))))

	plain := []byte(`<MPD><Period/></MPD>`)
	assert.Equal(t, plain, RewriteMPD(plain))
}
