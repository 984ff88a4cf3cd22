package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dhruva-antino/live-drm/internal/platform/logger"
	"github.com/dhruva-antino/live-drm/internal/platform/metrics"
)

// EventType distinguishes publisher events.
type EventType int

const (
	UploadStarted EventType = iota
	Uploaded
	UploadFailed
)

func (t EventType) String() string {
	switch t {
	case UploadStarted:
		return "upload_started"
	case Uploaded:
		return "uploaded"
	case UploadFailed:
		return "upload_failed"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event reports one step of an upload.
type Event struct {
	Type     EventType
	Rel      string
	Key      string
	Kind     Kind
	At       time.Time
	Duration time.Duration
	Err      error
}

// Options configure a Publisher.
type Options struct {
	// Root is the directory mirrored to storage.
	Root string
	// Prefix is prepended to every object key.
	Prefix string
	Bucket string
	// Exclude lists directories below Root that are never published.
	Exclude []string
	// Stability is the quiet window before a file is uploaded.
	Stability time.Duration
	// Poll is the interval at which stable files are collected.
	Poll time.Duration
	// GateLabels, when set, hold the master manifest back until one segment
	// below every label folder has been uploaded.
	GateLabels []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

const (
	defaultStability = 300 * time.Millisecond
	defaultPoll      = 100 * time.Millisecond
	eventsBuffer     = 256
)

type uploadedStat struct {
	size    int64
	modTime time.Time
}

// Publisher watches Root and uploads stable files to an ObjectStore.
type Publisher struct {
	store   ObjectStore
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	watcher *fsnotify.Watcher
	stab    *Stabilizer
	events  chan Event

	// owned by the run loop
	uploaded map[string]uploadedStat
	held     map[string]bool

	gateMu   sync.Mutex
	gate     map[string]bool
	gateOpen bool
	opened   chan struct{}

	uploads   sync.WaitGroup
	uploadCtx context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

const uploadTimeout = 30 * time.Second

// New creates a Publisher; Start begins watching.
func New(store ObjectStore, opts Options) *Publisher {
	if opts.Stability <= 0 {
		opts.Stability = defaultStability
	}
	if opts.Poll <= 0 {
		opts.Poll = defaultPoll
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{
		store:    store,
		opts:     opts,
		log:      log.With("component", "publisher"),
		metrics:  opts.Metrics,
		stab:     NewStabilizer(opts.Stability),
		events:   make(chan Event, eventsBuffer),
		uploaded: make(map[string]uploadedStat),
		held:     make(map[string]bool),
		opened:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.gate = make(map[string]bool, len(opts.GateLabels))
	for _, l := range opts.GateLabels {
		p.gate[l] = false
	}
	if len(p.gate) == 0 {
		p.gateOpen = true
		close(p.opened)
	}
	return p
}

// Events returns the event stream. It is closed after Close once in-flight
// uploads have finished.
func (p *Publisher) Events() <-chan Event {
	return p.events
}

// Start watches Root recursively and arms files already present.
// The publisher stops when ctx is done or Close is called.
func (p *Publisher) Start(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: fsnotify.NewWatcher: %v", ErrPublish, err)
	}
	p.watcher = w
	p.ctx, p.cancel = context.WithCancel(ctx)
	// Uploads started during the final sweep must outlive the watch context.
	p.uploadCtx = context.WithoutCancel(ctx)

	if err := p.addTree(p.opts.Root, time.Now()); err != nil {
		_ = w.Close()
		p.cancel()
		return fmt.Errorf("%w: watch %s: %v", ErrPublish, p.opts.Root, err)
	}
	p.log.Info("publisher watching", "root", p.opts.Root, "prefix", p.opts.Prefix)

	go p.run()
	return nil
}

// Close stops watching, uploads every file still tracked and waits for
// in-flight uploads. A held master is released if the gate is open once
// those uploads finish.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.cancel == nil {
			close(p.events)
			return
		}
		p.cancel()
		<-p.done
	})
}

func (p *Publisher) run() {
	defer func() {
		_ = p.watcher.Close()
		for _, path := range p.stab.Drain() {
			p.dispatch(path)
		}
		p.uploads.Wait()
		// The last segments may open the gate after the loop has exited.
		if len(p.held) > 0 && p.isGateOpen() {
			p.releaseHeld()
			p.uploads.Wait()
		}
		close(p.events)
		close(p.done)
	}()

	ticker := time.NewTicker(p.opts.Poll)
	defer ticker.Stop()

	opened := p.opened
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleFSEvent(ev)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("fsnotify watcher error", "error", err)
		case <-opened:
			opened = nil
			p.releaseHeld()
		case now := <-ticker.C:
			for _, path := range p.stab.Due(now) {
				p.dispatch(path)
			}
		}
	}
}

func (p *Publisher) handleFSEvent(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if p.excluded(ev.Name) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	now := time.Now()
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := p.addTree(ev.Name, now); err != nil {
				p.log.Warn("watch new directory failed", "dir", ev.Name, "error", err)
			}
		}
		return
	}
	if Classify(p.rel(ev.Name)) == KindIgnored {
		return
	}
	p.stab.Touch(ev.Name, now)
}

// addTree watches dir and every non-excluded subdirectory, arming the
// stabilizer for files already on disk.
func (p *Publisher) addTree(dir string, now time.Time) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if p.excluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return p.watcher.Add(path)
		}
		if Classify(p.rel(path)) != KindIgnored {
			p.stab.Touch(path, now)
		}
		return nil
	})
}

func (p *Publisher) rel(path string) string {
	rel, err := filepath.Rel(p.opts.Root, path)
	if err != nil {
		return path
	}
	return rel
}

func (p *Publisher) excluded(path string) bool {
	rel := filepath.ToSlash(p.rel(path))
	for _, ex := range p.opts.Exclude {
		ex = strings.Trim(filepath.ToSlash(ex), "/")
		if ex != "" && (rel == ex || strings.HasPrefix(rel, ex+"/")) {
			return true
		}
	}
	return false
}

func (p *Publisher) dispatch(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if prev, ok := p.uploaded[path]; ok && prev.size == info.Size() && prev.modTime.Equal(info.ModTime()) {
		return
	}
	rel := p.rel(path)
	kind := Classify(rel)
	if kind == KindMaster && !p.isGateOpen() {
		p.log.Debug("master held until every rendition has a segment", "rel", rel)
		p.held[path] = true
		return
	}
	p.uploaded[path] = uploadedStat{size: info.Size(), modTime: info.ModTime()}

	p.uploads.Add(1)
	go func() {
		defer p.uploads.Done()
		p.upload(path, rel, kind)
	}()
}

func (p *Publisher) releaseHeld() {
	for path := range p.held {
		delete(p.held, path)
		p.dispatch(path)
	}
}

func (p *Publisher) isGateOpen() bool {
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	return p.gateOpen
}

// markSegment records an uploaded segment below a gated label folder and
// opens the gate once every label has one.
func (p *Publisher) markSegment(rel string) {
	label, _, found := strings.Cut(filepath.ToSlash(rel), "/")
	if !found {
		return
	}
	p.gateMu.Lock()
	defer p.gateMu.Unlock()
	if p.gateOpen {
		return
	}
	if _, gated := p.gate[label]; !gated {
		return
	}
	p.gate[label] = true
	for _, seen := range p.gate {
		if !seen {
			return
		}
	}
	p.gateOpen = true
	close(p.opened)
}

func (p *Publisher) upload(path, rel string, kind Kind) {
	key := ObjectKey(p.opts.Prefix, rel)
	p.events <- Event{Type: UploadStarted, Rel: rel, Key: key, Kind: kind, At: time.Now()}

	start := time.Now()
	err := p.put(path, rel, key, kind)
	d := time.Since(start)
	p.metrics.ObserveUpload(string(kind), d, err)

	if err != nil {
		p.log.Warn("upload failed", "key", key, "error", err)
		p.events <- Event{Type: UploadFailed, Rel: rel, Key: key, Kind: kind, At: time.Now(), Duration: d, Err: err}
		return
	}
	p.log.Debug("uploaded", "key", key, "kind", kind, "duration", d)
	if kind == KindSegment || kind == KindFragment {
		p.markSegment(rel)
	}
	p.events <- Event{Type: Uploaded, Rel: rel, Key: key, Kind: kind, At: time.Now(), Duration: d}
}

func (p *Publisher) put(path, rel, key string, kind Kind) error {
	body, err := os.ReadFile(path) // #nosec G304 -- path is below the session root
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrPublish, rel, err)
	}
	if strings.EqualFold(filepath.Ext(rel), ".mpd") {
		body = RewriteMPD(body)
	}

	ctx, cancel := context.WithTimeout(p.uploadCtx, uploadTimeout)
	defer cancel()
	err = p.store.Put(ctx, PutInput{
		Bucket:       p.opts.Bucket,
		Key:          key,
		Body:         body,
		ContentType:  ContentType(rel),
		CacheControl: CacheControl(kind),
		ACL:          ACLPublicRead,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPublish, key, err)
	}
	return nil
}
