package session

import (
	"sync"
	"time"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/pipeline"
	"github.com/dhruva-antino/live-drm/internal/process"
)

// Ingest protocols.
const (
	ProtocolSRT  = "srt"
	ProtocolRTMP = "rtmp"
)

// IngestParams are the inputs of Create. Port 0 allocates a free port.
type IngestParams struct {
	Port      int
	StreamKey string
	Protocol  string
}

// Connection tells a publisher where to push and a viewer where to play.
type Connection struct {
	StreamID string `json:"streamId"`
	// IngestURL is the locator the transcoder listens on.
	IngestURL string `json:"ingestUrl"`
	// PushURL is what an encoder should push to.
	PushURL     string `json:"pushUrl"`
	PlaybackURL string `json:"playbackUrl"`
	Protocol    string `json:"protocol"`
}

// StartOptions select the rendition ladder. An empty ladder means
// passthrough for clear sessions and the default ladder for DRM sessions.
// Format is "hls" (default) or "dash"; DRM sessions are HLS only.
type StartOptions struct {
	Resolutions []pipeline.Request `json:"resolutions"`
	Format      string             `json:"format,omitempty"`
}

// Timings are monotonic-clock instants of a session's milestones. A zero
// value means the milestone has not been reached.
type Timings struct {
	IngestStart       time.Time `json:"ingestStart,omitzero"`
	IngestActive      time.Time `json:"ingestActive,omitzero"`
	FirstPublishStart time.Time `json:"firstPublishStart,omitzero"`
	FirstPublishEnd   time.Time `json:"firstPublishEnd,omitzero"`
	IngestExit        time.Time `json:"ingestExit,omitzero"`
}

// Latencies are derived from Timings, in milliseconds.
type Latencies struct {
	ActivationMs   int64 `json:"activationMs,omitempty"`
	FirstPublishMs int64 `json:"firstPublishMs,omitempty"`
}

// Latencies computes milestone deltas relative to IngestStart.
func (t Timings) Latencies() Latencies {
	var l Latencies
	if t.IngestStart.IsZero() {
		return l
	}
	if !t.IngestActive.IsZero() {
		l.ActivationMs = t.IngestActive.Sub(t.IngestStart).Milliseconds()
	}
	if !t.FirstPublishEnd.IsZero() {
		l.FirstPublishMs = t.FirstPublishEnd.Sub(t.IngestStart).Milliseconds()
	}
	return l
}

// Session is one live stream. Identity fields are immutable after Create;
// everything below mu is guarded by it.
type Session struct {
	ID          string
	Port        int
	StreamKey   string
	Protocol    string
	IngestURL   string
	PushURL     string
	OutputDir   string
	PlaybackURL string
	CreatedAt   time.Time

	mu            sync.Mutex
	status        Status
	started       bool
	drm           bool
	format        string
	playback      string
	renditions    []pipeline.Rendition
	keys          *drm.KeyMaterial
	timings       Timings
	lastActivity  time.Time
	err           string
	stopRequested bool
	transcoder    process.Handle
	packagers     map[string]process.Handle
	simulator     process.Handle
	simulating    bool
	killTimer     *time.Timer
	done          chan struct{}
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID           string               `json:"id"`
	Status       Status               `json:"status"`
	Protocol     string               `json:"protocol"`
	Port         int                  `json:"port"`
	IngestURL    string               `json:"ingestUrl"`
	PushURL      string               `json:"pushUrl"`
	PlaybackURL  string               `json:"playbackUrl"`
	OutputDir    string               `json:"outputDir"`
	DRM          bool                 `json:"drm"`
	Format       string               `json:"format,omitempty"`
	KeyID        string               `json:"keyId,omitempty"`
	Renditions   []pipeline.Rendition `json:"renditions"`
	Timings      Timings              `json:"timings"`
	Latencies    Latencies            `json:"latencies"`
	Error        string               `json:"error,omitempty"`
	Simulating   bool                 `json:"simulating"`
	CreatedAt    time.Time            `json:"createdAt"`
	LastActivity time.Time            `json:"lastActivity"`
}

// Snapshot copies the session under its lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:           s.ID,
		Status:       s.status,
		Protocol:     s.Protocol,
		Port:         s.Port,
		IngestURL:    s.IngestURL,
		PushURL:      s.PushURL,
		PlaybackURL:  s.PlaybackURL,
		OutputDir:    s.OutputDir,
		DRM:          s.drm,
		Format:       s.format,
		Renditions:   append([]pipeline.Rendition{}, s.renditions...),
		Timings:      s.timings,
		Latencies:    s.timings.Latencies(),
		Error:        s.err,
		Simulating:   s.simulator != nil,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
	}
	if s.playback != "" {
		snap.PlaybackURL = s.playback
	}
	if s.keys != nil {
		snap.KeyID = s.keys.KeyID
	}
	return snap
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session's supervisor has finished. It is nil for
// sessions that were never started.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

func (s *Session) connection() Connection {
	return Connection{
		StreamID:    s.ID,
		IngestURL:   s.IngestURL,
		PushURL:     s.PushURL,
		PlaybackURL: s.PlaybackURL,
		Protocol:    s.Protocol,
	}
}
