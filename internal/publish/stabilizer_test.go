package publish

import (
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeInfo struct {
	size int64
	mod  time.Time
}

func (f fakeInfo) Name() string       { return "f" }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() fs.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return f.mod }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

type fakeFS map[string]fakeInfo

func (f fakeFS) stat(path string) (os.FileInfo, error) {
	info, ok := f[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return info, nil
}

func TestStabilizer_debounce(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	files := fakeFS{"seg.ts": {size: 100, mod: t0}}
	s := NewStabilizer(300 * time.Millisecond)
	s.stat = files.stat

	s.Touch("seg.ts", t0)
	files["seg.ts"] = fakeInfo{size: 200, mod: t0.Add(100 * time.Millisecond)}
	s.Touch("seg.ts", t0.Add(100*time.Millisecond))

	for _, at := range []time.Duration{100, 200, 300, 350, 399} {
		assert.Empty(t, s.Due(t0.Add(at*time.Millisecond)), "due too early at %dms", at)
	}
	assert.Equal(t, []string{"seg.ts"}, s.Due(t0.Add(400*time.Millisecond)))
	assert.Zero(t, s.Pending())
}

func TestStabilizer_rearms_on_silent_change(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	files := fakeFS{"seg.ts": {size: 100, mod: t0}}
	s := NewStabilizer(300 * time.Millisecond)
	s.stat = files.stat

	s.Touch("seg.ts", t0)
	// grows without an event
	files["seg.ts"] = fakeInfo{size: 150, mod: t0.Add(time.Millisecond)}
	assert.Empty(t, s.Due(t0.Add(300*time.Millisecond)))
	assert.Empty(t, s.Due(t0.Add(500*time.Millisecond)))
	assert.Equal(t, []string{"seg.ts"}, s.Due(t0.Add(600*time.Millisecond)))
}

func TestStabilizer_empty_and_deleted(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	files := fakeFS{"empty.ts": {size: 0, mod: t0}, "gone.ts": {size: 10, mod: t0}}
	s := NewStabilizer(100 * time.Millisecond)
	s.stat = files.stat

	s.Touch("empty.ts", t0)
	s.Touch("gone.ts", t0)
	delete(files, "gone.ts")

	assert.Empty(t, s.Due(t0.Add(time.Second)))
	assert.Equal(t, 1, s.Pending(), "empty file stays armed, deleted file is dropped")

	files["empty.ts"] = fakeInfo{size: 5, mod: t0.Add(2 * time.Second)}
	assert.Equal(t, []string{"empty.ts"}, s.Drain())
	assert.Zero(t, s.Pending())
}
