package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dhruva-antino/live-drm/internal/drm"
	"github.com/dhruva-antino/live-drm/internal/manifest"
	"github.com/dhruva-antino/live-drm/internal/pipeline"
	"github.com/dhruva-antino/live-drm/internal/process"
	"github.com/dhruva-antino/live-drm/internal/publish"
)

// Start launches the clear pipeline for a created session.
func (r *Registry) Start(ctx context.Context, id string, opts StartOptions) error {
	s, err := r.reserve(id)
	if err != nil {
		return err
	}
	format, err := pipeline.ParseFormat(opts.Format)
	if err != nil {
		r.unreserve(s)
		return err
	}
	spec, err := pipeline.Build(opts.Resolutions)
	if err != nil {
		r.unreserve(s)
		return err
	}
	return r.launch(ctx, s, spec, format, nil)
}

// StartDRM exchanges keys and launches the encrypted pipeline. A failed key
// exchange moves the session to StatusError before anything is spawned.
func (r *Registry) StartDRM(ctx context.Context, id string, opts StartOptions) error {
	s, err := r.reserve(id)
	if err != nil {
		return err
	}
	if r.keys == nil {
		r.unreserve(s)
		return fmt.Errorf("%w: key server is not configured", drm.ErrConfiguration)
	}
	if err := r.keys.Validate(); err != nil {
		r.unreserve(s)
		return err
	}
	format, err := pipeline.ParseFormat(opts.Format)
	if err == nil && format != pipeline.FormatHLS {
		err = fmt.Errorf("%w: DRM sessions publish HLS only", pipeline.ErrValidation)
	}
	if err != nil {
		r.unreserve(s)
		return err
	}

	reqs := opts.Resolutions
	if len(reqs) == 0 {
		reqs = r.cfg.DRMLadder
	}
	spec, err := pipeline.Build(reqs)
	if err != nil {
		r.unreserve(s)
		return err
	}

	km, err := r.keys.RequestKeys(ctx, s.ID)
	if err != nil {
		s.mu.Lock()
		r.failLocked(s, err)
		s.mu.Unlock()
		return err
	}

	ports, err := r.udpPorts.acquire(s.ID, len(spec.Renditions))
	if err != nil {
		s.mu.Lock()
		r.failLocked(s, err)
		s.mu.Unlock()
		return err
	}
	return r.launch(ctx, s, spec, pipeline.FormatHLS, &drmParams{keys: km, ports: ports})
}

type drmParams struct {
	keys  drm.KeyMaterial
	ports []int
}

// reserve claims a created session for a single Start/StartDRM call.
func (r *Registry) reserve(id string) (*Session, error) {
	s, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status.IsRunning(), s.status == StatusCreated && s.started:
		return nil, fmt.Errorf("%w: %s is already started", ErrSessionActive, id)
	case s.status != StatusCreated:
		return nil, fmt.Errorf("%w: cannot start a session in status %s", ErrInvalidTransition, s.status)
	}
	s.started = true
	return s, nil
}

func (r *Registry) unreserve(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusCreated {
		s.started = false
	}
}

func (r *Registry) launch(ctx context.Context, s *Session, spec pipeline.Spec, format string, d *drmParams) error {
	log := r.log.With("stream_id", s.ID)
	rn := &run{
		s:      s,
		spec:   spec,
		events: make(chan any, 16),
		log:    log,
	}

	fail := func(err error) error {
		if d != nil {
			r.udpPorts.release(d.ports...)
		}
		s.mu.Lock()
		r.failLocked(s, err)
		s.mu.Unlock()
		return err
	}

	args, exclude, err := r.prepareOutput(s, spec, format, d, rn)
	if err != nil {
		return fail(err)
	}

	// DASH segments share one flat directory, so there is nothing to gate on.
	var gate []string
	if format == pipeline.FormatHLS {
		for _, rd := range spec.Renditions {
			gate = append(gate, rd.Label)
		}
	}
	rn.publisher = publish.New(r.objects, publish.Options{
		Root:       s.OutputDir,
		Prefix:     r.remotePrefix(s.ID),
		Bucket:     r.cfg.Bucket,
		Exclude:    exclude,
		Stability:  r.cfg.Stability,
		Poll:       r.cfg.Poll,
		GateLabels: gate,
		Logger:     log,
		Metrics:    r.metrics,
	})
	rn.ctx, rn.cancel = context.WithCancel(context.Background())
	// The publisher outlives rn.ctx; the supervisor closes it after the
	// final playlist rewrites.
	if err := rn.publisher.Start(context.Background()); err != nil {
		rn.cancel()
		return fail(err)
	}

	h, err := r.launcher.Launch(ctx, process.Command{
		Role:   process.RoleTranscoder,
		Path:   r.cfg.FFmpegPath,
		Args:   args,
		Dir:    s.OutputDir,
		Labels: []any{"stream_id", s.ID},
	})
	if err != nil {
		rn.cancel()
		go func() {
			for range rn.publisher.Events() {
			}
		}()
		rn.publisher.Close()
		return fail(err)
	}
	rn.transcoder = h

	s.mu.Lock()
	s.transcoder = h
	s.renditions = append([]pipeline.Rendition(nil), spec.Renditions...)
	s.drm = d != nil
	s.format = format
	if format == pipeline.FormatDASH {
		s.playback = r.playbackURL(s.ID, pipeline.DashManifest)
	}
	if d != nil {
		km := d.keys
		s.keys = &km
	}
	s.timings.IngestStart = r.now()
	s.done = make(chan struct{})
	transitionErr := r.transitionLocked(s, StatusListening)
	s.mu.Unlock()

	go r.supervise(rn)

	if transitionErr != nil {
		// Stopped while launching.
		log.Info("session stopped during launch, interrupting transcoder")
		_ = h.Signal(os.Interrupt)
	}
	return nil
}

// prepareOutput lays out the output directory and renders the transcoder
// arguments. It also writes the composed master for HLS ladder sessions.
func (r *Registry) prepareOutput(s *Session, spec pipeline.Spec, format string, d *drmParams, rn *run) ([]string, []string, error) {
	in := pipeline.Input{URL: s.IngestURL, Listen: s.Protocol == ProtocolRTMP}
	if format == pipeline.FormatDASH {
		return pipeline.DashArgs(spec, in, pipeline.Output{Dir: s.OutputDir}), nil, nil
	}

	for _, rd := range spec.Renditions {
		if err := os.MkdirAll(filepath.Join(s.OutputDir, rd.Label), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create rendition dir: %w", err)
		}
	}

	var (
		args    []string
		exclude []string
		key     *manifest.KeyInfo
		audio   *manifest.AudioGroup
	)
	if d != nil {
		out := pipeline.DRMOutput{Dir: s.OutputDir, UDPPorts: d.ports}
		if err := os.MkdirAll(out.ClearDir(), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create clear dir: %w", err)
		}
		var err error
		if args, err = pipeline.DRMTranscoderArgs(spec, in, out); err != nil {
			return nil, nil, err
		}
		exclude = []string{pipeline.ClearDirName}
		key = &manifest.KeyInfo{KeyID: d.keys.KeyID, PSSH: d.keys.PSSH}
		audio = manifest.DRMAudioGroup(spec.Renditions)

		rn.drm = &drmRun{
			out: out,
			enc: pipeline.Encryption{
				KeyID:            d.keys.KeyID,
				Key:              d.keys.ContentKey,
				IV:               d.keys.IV,
				PSSH:             d.keys.PSSH,
				ProtectionScheme: r.cfg.ProtectionScheme,
			},
		}
	} else {
		args = pipeline.TranscoderArgs(spec, in, pipeline.Output{Dir: s.OutputDir})
	}

	if !spec.Passthrough {
		if err := manifest.WriteMaster(s.OutputDir, manifest.Compose(spec.Renditions, key, audio)); err != nil {
			return nil, nil, err
		}
	}
	return args, exclude, nil
}

// Stop interrupts a running session; the transcoder's exit completes the
// transition to StatusStopped. A created session stops immediately.
func (r *Registry) Stop(id string) (string, error) {
	s, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	switch {
	case s.status == StatusCreated && s.transcoder == nil:
		err := r.transitionLocked(s, StatusStopped)
		s.mu.Unlock()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Stream %s stopped", id), nil

	case !s.status.IsTerminal() && s.transcoder != nil:
		h := s.transcoder
		if !s.stopRequested {
			s.stopRequested = true
			r.armKillLocked(s, h)
		}
		s.mu.Unlock()
		if err := h.Signal(os.Interrupt); err != nil {
			r.log.Warn("interrupt transcoder failed", "stream_id", id, "error", err)
		}
		return fmt.Sprintf("Stream %s stopped", id), nil

	default:
		s.mu.Unlock()
		return fmt.Sprintf("Stream %s not active", id), nil
	}
}

// armKillLocked kills h if it is still running StopGrace after an interrupt.
func (r *Registry) armKillLocked(s *Session, h process.Handle) {
	if s.killTimer != nil {
		return
	}
	id := s.ID
	s.killTimer = time.AfterFunc(r.cfg.StopGrace, func() {
		r.log.Warn("transcoder ignored interrupt, killing", "stream_id", id)
		_ = h.Signal(os.Kill)
	})
}

// Simulate pushes a looping local file into the session's ingest.
func (r *Registry) Simulate(ctx context.Context, id, inputPath string) error {
	if inputPath == "" {
		return fmt.Errorf("%w: inputPath is required", pipeline.ErrValidation)
	}
	if info, err := os.Stat(inputPath); err != nil || info.IsDir() {
		return fmt.Errorf("%w: input %q is not a readable file", pipeline.ErrValidation, inputPath)
	}
	s, err := r.lookup(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	switch {
	case !s.status.IsRunning():
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot simulate a session in status %s", ErrInvalidTransition, s.status)
	case s.simulating:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s already has a simulator", ErrSessionActive, id)
	}
	s.simulating = true
	s.mu.Unlock()

	target := ingestURL(s.Protocol, "127.0.0.1", s.Port, s.StreamKey)
	h, err := r.launcher.Launch(ctx, process.Command{
		Role:   process.RoleSimulator,
		Path:   r.cfg.FFmpegPath,
		Args:   pipeline.SimulatorArgs(inputPath, target, s.Protocol),
		Labels: []any{"stream_id", id},
	})
	if err != nil {
		s.mu.Lock()
		s.simulating = false
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	late := s.status.IsTerminal()
	if !late {
		s.simulator = h
	}
	s.mu.Unlock()
	if late {
		_ = h.Signal(syscall.SIGTERM)
	}

	go func() {
		for range h.Lines() {
		}
		ex := <-h.Exit()
		s.mu.Lock()
		if s.simulator == h {
			s.simulator = nil
		}
		s.simulating = false
		s.mu.Unlock()
		r.log.Info("simulator finished", "stream_id", id, "exit_code", ex.Code)
	}()
	return nil
}

// Shutdown stops every running session concurrently and waits for their
// supervisors, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, snap := range r.List() {
		id := snap.ID
		g.Go(func() error {
			s, err := r.lookup(id)
			if err != nil {
				return nil
			}
			if !s.Status().IsTerminal() {
				if _, err := r.Stop(id); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			done := s.Done()
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("session %s: %w", id, gctx.Err())
			}
		})
	}
	return g.Wait()
}

// RunJanitor periodically stops and removes idle clear sessions until ctx
// is done. DRM sessions are never collected.
func (r *Registry) RunJanitor(ctx context.Context) {
	if r.cfg.IdleTimeout <= 0 {
		return
	}
	interval := r.cfg.IdleTimeout / 4
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepIdle(ctx)
		}
	}
}

func (r *Registry) sweepIdle(ctx context.Context) {
	now := r.now()
	for _, snap := range r.List() {
		if snap.DRM || now.Sub(snap.LastActivity) < r.cfg.IdleTimeout {
			continue
		}
		if !snap.Status.IsTerminal() {
			r.log.Info("stopping idle session", "stream_id", snap.ID, "idle", now.Sub(snap.LastActivity))
			if _, err := r.Stop(snap.ID); err != nil {
				r.log.Warn("stop idle session failed", "stream_id", snap.ID, "error", err)
			}
			continue
		}
		dctx, cancel := context.WithTimeout(ctx, time.Second)
		err := r.Delete(dctx, snap.ID)
		cancel()
		if err != nil && !errors.Is(err, ErrNotFound) {
			r.log.Debug("idle session not removed yet", "stream_id", snap.ID, "error", err)
		}
	}
}
