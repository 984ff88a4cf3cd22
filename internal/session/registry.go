package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/pipeline"
	"github.com/dhruva-antino/live-drm/internal/platform/logger"
	"github.com/dhruva-antino/live-drm/internal/platform/metrics"
	"github.com/dhruva-antino/live-drm/internal/process"
	"github.com/dhruva-antino/live-drm/internal/publish"
)

// KeyRequester performs DRM key exchanges. *drm.Client implements it.
type KeyRequester interface {
	// Validate checks signing configuration without I/O.
	Validate() error
	RequestKeys(ctx context.Context, contentID string) (drm.KeyMaterial, error)
}

// Settings are the static inputs of a Registry.
type Settings struct {
	OutputRoot   string
	FFmpegPath   string
	PackagerPath string

	// PublicHost is the host encoders push to.
	PublicHost string
	// PlaybackBase is the URL the remote prefix is served under.
	PlaybackBase string
	Bucket       string
	// RemotePrefix is joined with the session id to form object keys.
	RemotePrefix string

	PortRangeStart int
	PortRangeEnd   int
	UDPBasePort    int

	Stability time.Duration
	Poll      time.Duration

	PackagerReadyTimeout time.Duration
	IdleTimeout          time.Duration
	// StopGrace is how long a stopped transcoder may take before SIGKILL.
	StopGrace time.Duration

	ProtectionScheme string
	DRMLadder        []pipeline.Request
}

func (s *Settings) applyDefaults() {
	if s.OutputRoot == "" {
		s.OutputRoot = "hls"
	}
	if s.FFmpegPath == "" {
		s.FFmpegPath = "ffmpeg"
	}
	if s.PackagerPath == "" {
		s.PackagerPath = "packager"
	}
	if s.PublicHost == "" {
		s.PublicHost = "0.0.0.0"
	}
	if s.PortRangeStart <= 0 {
		s.PortRangeStart = 9000
	}
	if s.PortRangeEnd < s.PortRangeStart {
		s.PortRangeEnd = s.PortRangeStart + 999
	}
	if s.UDPBasePort <= 0 {
		s.UDPBasePort = 20000
	}
	if s.Stability <= 0 {
		s.Stability = 300 * time.Millisecond
	}
	if s.Poll <= 0 {
		s.Poll = 100 * time.Millisecond
	}
	if s.PackagerReadyTimeout <= 0 {
		s.PackagerReadyTimeout = 30 * time.Second
	}
	if s.StopGrace <= 0 {
		s.StopGrace = 10 * time.Second
	}
	if s.ProtectionScheme == "" {
		s.ProtectionScheme = "CBCS"
	}
	if len(s.DRMLadder) == 0 {
		s.DRMLadder = append([]pipeline.Request(nil), pipeline.DefaultDRMLadder...)
	}
}

// Deps are the collaborators of a Registry.
type Deps struct {
	Launcher process.Launcher
	Objects  publish.ObjectStore
	// Keys may be nil, in which case DRM sessions fail with ErrConfiguration.
	Keys    KeyRequester
	Store   Store
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registry owns every session of the process.
type Registry struct {
	cfg      Settings
	launcher process.Launcher
	objects  publish.ObjectStore
	keys     KeyRequester
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.RWMutex
	store Store

	ingestPorts *portPool
	udpPorts    *portPool

	now func() time.Time
}

// NewRegistry builds a Registry.
func NewRegistry(cfg Settings, deps Deps) *Registry {
	cfg.applyDefaults()
	log := deps.Logger
	if log == nil {
		log = logger.Discard()
	}
	store := deps.Store
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Registry{
		cfg:         cfg,
		launcher:    deps.Launcher,
		objects:     deps.Objects,
		keys:        deps.Keys,
		log:         log.With("component", "session"),
		metrics:     deps.Metrics,
		store:       store,
		ingestPorts: newPortPool(cfg.PortRangeStart, cfg.PortRangeEnd, ingestPortFree),
		udpPorts:    newPortPool(cfg.UDPBasePort, cfg.UDPBasePort+999, loopbackUDPFree),
		now:         time.Now,
	}
}

// Create registers a new session in StatusCreated and prepares its output
// directory.
func (r *Registry) Create(ctx context.Context, p IngestParams) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return Connection{}, err
	}
	protocol := strings.ToLower(strings.TrimSpace(p.Protocol))
	if protocol == "" {
		protocol = ProtocolSRT
	}
	if protocol != ProtocolSRT && protocol != ProtocolRTMP {
		return Connection{}, fmt.Errorf("%w: unsupported protocol %q", pipeline.ErrValidation, p.Protocol)
	}
	if p.Port < 0 || p.Port > 65535 {
		return Connection{}, fmt.Errorf("%w: port %d out of range", pipeline.ErrValidation, p.Port)
	}

	id := "stream-" + uuid.NewString()
	key := strings.TrimSpace(p.StreamKey)
	if key == "" {
		key = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}

	port := p.Port
	if port == 0 {
		ports, err := r.ingestPorts.acquire(id, 1)
		if err != nil {
			return Connection{}, err
		}
		port = ports[0]
	} else if err := r.ingestPorts.reserve(id, port); err != nil {
		return Connection{}, err
	}

	outputDir, err := filepath.Abs(filepath.Join(r.cfg.OutputRoot, id))
	if err == nil {
		err = os.MkdirAll(outputDir, 0o755)
	}
	if err != nil {
		r.ingestPorts.release(port)
		return Connection{}, fmt.Errorf("create output dir: %w", err)
	}

	now := r.now()
	s := &Session{
		ID:           id,
		Port:         port,
		StreamKey:    key,
		Protocol:     protocol,
		IngestURL:    ingestURL(protocol, "0.0.0.0", port, key),
		PushURL:      ingestURL(protocol, r.cfg.PublicHost, port, key),
		OutputDir:    outputDir,
		PlaybackURL:  r.playbackURL(id, manifestName),
		CreatedAt:    now,
		status:       StatusCreated,
		lastActivity: now,
		packagers:    make(map[string]process.Handle),
	}

	r.mu.Lock()
	r.store.Save(s)
	r.mu.Unlock()

	r.metrics.IncSessionsCreated()
	r.log.Info("session created", "stream_id", id, "protocol", protocol, "port", port)
	return s.connection(), nil
}

func ingestURL(protocol, host string, port int, key string) string {
	switch protocol {
	case ProtocolRTMP:
		return fmt.Sprintf("rtmp://%s:%d/live/%s", host, port, url.PathEscape(key))
	default:
		if host == "0.0.0.0" {
			return fmt.Sprintf("srt://%s:%d?mode=listener&streamid=%s", host, port, url.QueryEscape(key))
		}
		return fmt.Sprintf("srt://%s:%d?streamid=%s", host, port, url.QueryEscape(key))
	}
}

// remotePrefix is the object key prefix of session id.
func (r *Registry) remotePrefix(id string) string {
	return path.Join(r.cfg.RemotePrefix, id)
}

// playbackURL is the public URL of manifest within session id.
func (r *Registry) playbackURL(id, manifest string) string {
	rel := path.Join(r.remotePrefix(id), manifest)
	if r.cfg.PlaybackBase == "" {
		return rel
	}
	return strings.TrimRight(r.cfg.PlaybackBase, "/") + "/" + rel
}

const manifestName = "master.m3u8"

// Get returns a snapshot of session id.
func (r *Registry) Get(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// List returns snapshots of every session, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := r.store.Sessions()
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// Status returns "Status: <status>", or "Stream not found".
func (r *Registry) Status(id string) string {
	s, err := r.lookup(id)
	if err != nil {
		return "Stream not found"
	}
	return "Status: " + string(s.Status())
}

// ActiveCount returns the number of sessions in a non-terminal status.
func (r *Registry) ActiveCount() int {
	n := 0
	for _, snap := range r.List() {
		if !snap.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// Delete removes a terminal session and its output directory. It waits for
// the session's supervisor to finish publishing, bounded by ctx.
func (r *Registry) Delete(ctx context.Context, id string) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if st := s.Status(); !st.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrSessionActive, id, st)
	}
	if done := s.Done(); done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s is still publishing", ErrSessionActive, id)
		}
	}

	r.mu.Lock()
	r.store.Remove(id)
	r.mu.Unlock()
	r.ingestPorts.release(s.Port)

	if err := os.RemoveAll(s.OutputDir); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.log.Warn("remove output dir failed", "stream_id", id, "dir", s.OutputDir, "error", err)
	}
	r.log.Info("session deleted", "stream_id", id)
	return nil
}

func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.store.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// transitionLocked moves s to status to. Caller holds s.mu.
func (r *Registry) transitionLocked(s *Session, to Status) error {
	from := s.status
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.status = to
	s.lastActivity = r.now()
	r.metrics.ObserveTransition(string(to))
	r.log.Info("session status changed", "stream_id", s.ID, "from", from, "to", to)
	return nil
}

// failLocked moves s to StatusError recording cause. Caller holds s.mu.
func (r *Registry) failLocked(s *Session, cause error) {
	if s.status.IsTerminal() {
		return
	}
	s.err = cause.Error()
	if err := r.transitionLocked(s, StatusError); err != nil {
		r.log.Warn("cannot record session failure", "stream_id", s.ID, "error", err)
	}
}
