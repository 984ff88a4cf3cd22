package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dhruva-antino/live-drm/internal/pipeline"
	"github.com/dhruva-antino/live-drm/internal/process"
	"github.com/dhruva-antino/live-drm/internal/publish"
)

// ingestMarker is the transcoder log line announcing a decoded input.
const ingestMarker = "Input #0"

// run is the supervisor state of one started session. Fields without a
// lock are owned by the event loop.
type run struct {
	s          *Session
	spec       pipeline.Spec
	transcoder process.Handle
	publisher  *publish.Publisher
	drm        *drmRun
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// events carries packagerReady and packagerExit from helper goroutines.
	events    chan any
	aux       sync.WaitGroup
	packagers sync.WaitGroup

	activeSeen       bool
	transcoderExited bool
}

type drmRun struct {
	out              pipeline.DRMOutput
	enc              pipeline.Encryption
	readinessStarted bool
}

type packagerReady struct {
	err error
}

type packagerExit struct {
	label string
	exit  process.Exit
}

// supervise is the session's event loop. It returns once the transcoder
// has exited, every helper goroutine has finished and the publisher has
// drained.
func (r *Registry) supervise(rn *run) {
	s := rn.s
	defer func() {
		rn.cancel()
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		rn.log.Info("session supervisor finished", "status", s.Status())
	}()

	lines := rn.transcoder.Lines()
	exits := rn.transcoder.Exit()
	events := (<-chan any)(rn.events)
	published := rn.publisher.Events()

	for lines != nil || exits != nil || events != nil || published != nil {
		select {
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			r.onTranscoderLine(rn, line)

		case ex, ok := <-exits:
			exits = nil
			if !ok {
				ex = process.Exit{Code: -1, Err: fmt.Errorf("%w: transcoder exit lost", process.ErrRuntime)}
			}
			r.onTranscoderExit(rn, ex)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev := ev.(type) {
			case packagerReady:
				r.onPackagerReady(rn, ev.err)
			case packagerExit:
				r.onPackagerExit(rn, ev)
			}

		case ev, ok := <-published:
			if !ok {
				published = nil
				continue
			}
			r.onPublishEvent(rn, ev)
		}
	}
}

func (r *Registry) onTranscoderLine(rn *run, line string) {
	s := rn.s
	now := r.now()

	s.mu.Lock()
	s.lastActivity = now
	if !rn.activeSeen && strings.Contains(line, ingestMarker) {
		rn.activeSeen = true
		s.timings.IngestActive = now
		if s.status == StatusListening || s.status == StatusCreated {
			_ = r.transitionLocked(s, StatusActive)
		}
	}
	s.mu.Unlock()

	if d := rn.drm; d != nil && !d.readinessStarted && !rn.transcoderExited &&
		strings.Contains(line, d.out.ClearDir()) && strings.Contains(line, ".m3u8") {
		d.readinessStarted = true
		r.startReadiness(rn)
	}
}

// startReadiness waits for every clear staging playlist, then reports back
// to the loop.
func (r *Registry) startReadiness(rn *run) {
	d := rn.drm
	paths := make([]string, len(rn.spec.Renditions))
	for i, rd := range rn.spec.Renditions {
		paths[i] = d.out.ClearPlaylist(rd)
	}
	rn.log.Info("clear playlist detected, waiting for packager inputs", "renditions", len(paths))

	deadline := time.Now().Add(r.cfg.PackagerReadyTimeout)
	rn.aux.Add(1)
	go func() {
		defer rn.aux.Done()
		var err error
		for _, p := range paths {
			if err = process.WaitForFile(rn.ctx, rn.log, p, time.Until(deadline)); err != nil {
				break
			}
		}
		rn.events <- packagerReady{err: err}
	}()
}

func (r *Registry) onPackagerReady(rn *run, err error) {
	s := rn.s
	if rn.transcoderExited || s.Status().IsTerminal() {
		return
	}
	if err != nil {
		if rn.ctx.Err() != nil {
			return
		}
		r.abort(rn, fmt.Errorf("packager inputs not ready: %w", err))
		return
	}

	for i, rd := range rn.spec.Renditions {
		job := pipeline.PackagerJob{
			Rendition:  rd,
			UDPPort:    rn.drm.out.UDPPorts[i],
			Dir:        rn.s.OutputDir,
			Encryption: rn.drm.enc,
		}
		h, err := r.launcher.Launch(rn.ctx, process.Command{
			Role:   process.RolePackager,
			Path:   r.cfg.PackagerPath,
			Args:   pipeline.PackagerArgs(job),
			Dir:    s.OutputDir,
			Labels: []any{"stream_id", s.ID, "rendition", rd.Label},
		})
		if err != nil {
			r.abort(rn, err)
			return
		}

		s.mu.Lock()
		s.packagers[rd.Label] = h
		s.mu.Unlock()

		label := rd.Label
		rn.packagers.Add(1)
		rn.aux.Add(1)
		go func() {
			defer rn.aux.Done()
			defer rn.packagers.Done()
			for line := range h.Lines() {
				rn.log.Debug("packager output", "rendition", label, "line", line)
			}
			rn.events <- packagerExit{label: label, exit: <-h.Exit()}
		}()
	}
	rn.log.Info("packagers launched", "count", len(rn.spec.Renditions))
}

func (r *Registry) onPackagerExit(rn *run, ev packagerExit) {
	s := rn.s
	s.mu.Lock()
	delete(s.packagers, ev.label)
	s.mu.Unlock()

	if rn.transcoderExited || ev.exit.Code == 0 {
		rn.log.Info("packager exited", "rendition", ev.label, "exit_code", ev.exit.Code)
		return
	}
	r.abort(rn, fmt.Errorf("packager %s: %w", ev.label, ev.exit.Err))
}

// abort records cause and interrupts the transcoder; its exit finishes the
// session.
func (r *Registry) abort(rn *run, cause error) {
	s := rn.s
	s.mu.Lock()
	r.failLocked(s, cause)
	if !rn.transcoderExited {
		r.armKillLocked(s, rn.transcoder)
	}
	s.mu.Unlock()
	rn.log.Error("session aborted", "error", cause)
	if !rn.transcoderExited {
		_ = rn.transcoder.Signal(os.Interrupt)
	}
}

func (r *Registry) onTranscoderExit(rn *run, ex process.Exit) {
	s := rn.s
	rn.transcoderExited = true
	rn.cancel()

	s.mu.Lock()
	s.timings.IngestExit = r.now()
	if s.killTimer != nil {
		s.killTimer.Stop()
	}
	if !s.status.IsTerminal() {
		switch {
		case s.stopRequested:
			_ = r.transitionLocked(s, StatusStopped)
		case ex.Code == 0:
			_ = r.transitionLocked(s, StatusEnded)
		default:
			cause := ex.Err
			if cause == nil {
				cause = fmt.Errorf("%w: transcoder exited with code %d", process.ErrRuntime, ex.Code)
			}
			if tail := rn.transcoder.Tail(3); len(tail) > 0 {
				cause = fmt.Errorf("%w: %s", cause, strings.Join(tail, " | "))
			}
			r.failLocked(s, cause)
		}
	}
	packagers := make([]process.Handle, 0, len(s.packagers))
	for _, h := range s.packagers {
		packagers = append(packagers, h)
	}
	sim := s.simulator
	s.mu.Unlock()

	for _, h := range packagers {
		_ = h.Signal(syscall.SIGTERM)
	}
	if sim != nil {
		_ = sim.Signal(syscall.SIGTERM)
	}
	if rn.drm != nil {
		r.udpPorts.release(rn.drm.out.UDPPorts...)
	}

	drain := r.cfg.Stability + 2*r.cfg.Poll
	go func() {
		rn.packagers.Wait()
		// Let the last playlist rewrites settle before the final sweep.
		time.Sleep(drain)
		rn.publisher.Close()
		rn.aux.Wait()
		close(rn.events)
	}()
}

func (r *Registry) onPublishEvent(rn *run, ev publish.Event) {
	s := rn.s
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case publish.UploadStarted:
		if s.timings.FirstPublishStart.IsZero() {
			s.timings.FirstPublishStart = ev.At
		}
	case publish.Uploaded:
		s.lastActivity = ev.At
		if s.timings.FirstPublishEnd.IsZero() {
			s.timings.FirstPublishEnd = ev.At
			if !s.timings.IngestStart.IsZero() {
				latency := ev.At.Sub(s.timings.IngestStart)
				r.metrics.ObserveFirstPublish(latency)
				rn.log.Info("first artifact published", "key", ev.Key, "latency", latency)
			}
		}
	case publish.UploadFailed:
		rn.log.Warn("artifact upload failed", "key", ev.Key, "error", ev.Err)
	}
}
