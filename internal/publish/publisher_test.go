package publish

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startPublisher(t *testing.T, store ObjectStore, opts Options) *Publisher {
	t.Helper()
	if opts.Root == "" {
		opts.Root = t.TempDir()
	}
	if opts.Poll == 0 {
		opts.Poll = 20 * time.Millisecond
	}
	p := New(store, opts)
	require.NoError(t, p.Start(context.Background()))
	return p
}

// waitFor consumes events until match returns true.
func waitFor(t *testing.T, p *Publisher, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-p.Events():
			require.True(t, ok, "events closed before match")
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for publisher event")
		}
	}
}

func drainEvents(p *Publisher) {
	for range p.Events() {
	}
}

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestPublisher_waits_for_quiet_window(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	p := startPublisher(t, store, Options{Prefix: "live-streams/s1", Stability: 300 * time.Millisecond})

	path := filepath.Join(p.opts.Root, "segment_000.ts")
	t0 := time.Now()
	write(t, path, "first")
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("-second")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	started := waitFor(t, p, 5*time.Second, func(e Event) bool { return e.Type == UploadStarted })
	assert.GreaterOrEqual(t, started.At.Sub(t0), 400*time.Millisecond)

	done := waitFor(t, p, 5*time.Second, func(e Event) bool { return e.Type == Uploaded })
	assert.Equal(t, "live-streams/s1/segment_000.ts", done.Key)
	assert.Equal(t, KindSegment, done.Kind)

	p.Close()
	drainEvents(p)

	obj, ok := store.Get("live-streams/s1/segment_000.ts")
	require.True(t, ok)
	assert.Equal(t, "first-second", string(obj.Body))
	assert.Equal(t, "video/mp2t", obj.ContentType)
	assert.Equal(t, ACLPublicRead, obj.ACL)
	assert.Equal(t, 1, obj.Puts)
}

func TestPublisher_recursive_and_excluded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	root := t.TempDir()
	write(t, filepath.Join(root, "preexisting.m3u8"), "#EXTM3U\n")

	p := startPublisher(t, store, Options{
		Root:      root,
		Prefix:    "live/s2",
		Exclude:   []string{"clear"},
		Stability: 50 * time.Millisecond,
	})

	write(t, filepath.Join(root, "clear", "stream_720p.m3u8"), "#EXTM3U\n")
	write(t, filepath.Join(root, "stream_720p", "segment_00001.ts"), "ts")
	write(t, filepath.Join(root, "stream_720p", "stream.m3u8"), "#EXTM3U\n")
	write(t, filepath.Join(root, "stream_720p", "stream.m3u8.tmp"), "x")

	want := []string{
		"live/s2/preexisting.m3u8",
		"live/s2/stream_720p/segment_00001.ts",
		"live/s2/stream_720p/stream.m3u8",
	}
	require.Eventually(t, func() bool {
		return slices.Equal(store.Keys(), want)
	}, 5*time.Second, 20*time.Millisecond)

	p.Close()
	drainEvents(p)
	assert.Equal(t, want, store.Keys())

	obj, _ := store.Get("live/s2/stream_720p/stream.m3u8")
	assert.Equal(t, "no-cache", obj.CacheControl)
	assert.Equal(t, "application/vnd.apple.mpegurl", obj.ContentType)
}

func TestPublisher_master_gated_on_segments(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	p := startPublisher(t, store, Options{
		Prefix:     "s3",
		Stability:  30 * time.Millisecond,
		GateLabels: []string{"stream_720p", "stream_480p"},
	})
	go drainEvents(p)
	root := p.opts.Root

	write(t, filepath.Join(root, "master.m3u8"), "#EXTM3U\n")
	write(t, filepath.Join(root, "stream_720p", "segment_00001.ts"), "a")
	require.Eventually(t, func() bool {
		_, ok := store.Get("s3/stream_720p/segment_00001.ts")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	_, ok := store.Get("s3/master.m3u8")
	assert.False(t, ok, "master published before every rendition had a segment")

	write(t, filepath.Join(root, "stream_480p", "segment_00001.ts"), "b")
	require.Eventually(t, func() bool {
		_, ok := store.Get("s3/master.m3u8")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	order := store.PutOrder()
	assert.Less(t, slices.Index(order, "s3/stream_480p/segment_00001.ts"), slices.Index(order, "s3/master.m3u8"))
	p.Close()
}

func TestPublisher_close_releases_master_when_last_segment_opens_gate(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	p := startPublisher(t, store, Options{
		Prefix:     "s6",
		Stability:  300 * time.Millisecond,
		GateLabels: []string{"stream_720p"},
	})
	root := p.opts.Root

	write(t, filepath.Join(root, "master.m3u8"), "#EXTM3U\n")
	time.Sleep(600 * time.Millisecond)
	_, ok := store.Get("s6/master.m3u8")
	require.False(t, ok, "master published before the rendition had a segment")

	// Still inside the quiet window when Close runs.
	write(t, filepath.Join(root, "stream_720p", "segment_00000.ts"), "a")
	time.Sleep(100 * time.Millisecond)

	p.Close()
	drainEvents(p)

	_, ok = store.Get("s6/stream_720p/segment_00000.ts")
	assert.True(t, ok)
	_, ok = store.Get("s6/master.m3u8")
	assert.True(t, ok, "held master dropped on close")
	order := store.PutOrder()
	assert.Less(t, slices.Index(order, "s6/stream_720p/segment_00000.ts"), slices.Index(order, "s6/master.m3u8"))
}

func TestPublisher_upload_failure_is_reported(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	store.Fail = func(in PutInput) error { return errors.New("access denied") }
	p := startPublisher(t, store, Options{Stability: 30 * time.Millisecond})

	write(t, filepath.Join(p.opts.Root, "segment_000.ts"), "x")
	ev := waitFor(t, p, 5*time.Second, func(e Event) bool { return e.Type == UploadFailed })
	assert.ErrorIs(t, ev.Err, ErrPublish)
	assert.Empty(t, store.Keys())

	p.Close()
	drainEvents(p)
}

func TestPublisher_close_flushes_pending(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := NewMemoryStore()
	p := startPublisher(t, store, Options{Prefix: "s5", Stability: time.Hour})

	write(t, filepath.Join(p.opts.Root, "stream.m3u8"), "#EXTM3U\n#EXT-X-ENDLIST\n")
	time.Sleep(200 * time.Millisecond)

	p.Close()
	drainEvents(p)
	_, ok := store.Get("s5/stream.m3u8")
	assert.True(t, ok)
}

func TestPublisher_close_without_start(t *testing.T) {
	p := New(NewMemoryStore(), Options{Root: t.TempDir()})
	p.Close()
	_, ok := <-p.Events()
	assert.False(t, ok)
}
