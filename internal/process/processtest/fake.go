// Package processtest provides an in-memory process.Launcher for tests.
package processtest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dhruva-antino/live-drm/internal/process"
)

// FakeLauncher records launches and hands out FakeHandles.
type FakeLauncher struct {
	mu        sync.Mutex
	handles   []*FakeHandle
	failRoles map[string]error
	nextPID   int
	launched  chan *FakeHandle

	// ExitOnSignal makes a signalled handle finish with code 255, the way
	// ffmpeg reacts to SIGINT.
	ExitOnSignal bool
}

// NewFakeLauncher returns a launcher whose handles exit when signalled.
func NewFakeLauncher() *FakeLauncher {
	return &FakeLauncher{
		failRoles:    make(map[string]error),
		nextPID:      1000,
		launched:     make(chan *FakeHandle, 64),
		ExitOnSignal: true,
	}
}

// FailRole makes every future launch of role fail with err.
func (l *FakeLauncher) FailRole(role string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failRoles[role] = err
}

// Launch implements process.Launcher.
func (l *FakeLauncher) Launch(ctx context.Context, cmd process.Command) (process.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", process.ErrSpawn, err)
	}
	l.mu.Lock()
	if err, ok := l.failRoles[cmd.Role]; ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", process.ErrSpawn, cmd.Role, err)
	}
	l.nextPID++
	h := &FakeHandle{
		Cmd:          cmd,
		pid:          l.nextPID,
		lines:        make(chan string, 256),
		exit:         make(chan process.Exit, 1),
		exitOnSignal: l.ExitOnSignal,
	}
	l.handles = append(l.handles, h)
	l.mu.Unlock()

	select {
	case l.launched <- h:
	default:
	}
	return h, nil
}

// Launched returns every handle created so far, in launch order.
func (l *FakeLauncher) Launched() []*FakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeHandle(nil), l.handles...)
}

// ByRole returns the launched handles of role.
func (l *FakeLauncher) ByRole(role string) []*FakeHandle {
	var out []*FakeHandle
	for _, h := range l.Launched() {
		if h.Cmd.Role == role {
			out = append(out, h)
		}
	}
	return out
}

// Next waits for the next launch, or returns nil after timeout.
func (l *FakeLauncher) Next(timeout time.Duration) *FakeHandle {
	select {
	case h := <-l.launched:
		return h
	case <-time.After(timeout):
		return nil
	}
}

// FakeHandle is a scripted process.
type FakeHandle struct {
	Cmd process.Command

	pid          int
	lines        chan string
	exit         chan process.Exit
	exitOnSignal bool

	mu       sync.Mutex
	tail     []string
	signals  []os.Signal
	finished bool
}

func (h *FakeHandle) PID() int                  { return h.pid }
func (h *FakeHandle) Lines() <-chan string      { return h.lines }
func (h *FakeHandle) Exit() <-chan process.Exit { return h.exit }

// Tail returns up to n emitted lines.
func (h *FakeHandle) Tail(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.tail) {
		n = len(h.tail)
	}
	return append([]string(nil), h.tail[len(h.tail)-n:]...)
}

// Signal records sig and, when configured, finishes the process. os.Kill
// always finishes it.
func (h *FakeHandle) Signal(sig os.Signal) error {
	h.mu.Lock()
	h.signals = append(h.signals, sig)
	auto := h.exitOnSignal
	h.mu.Unlock()
	switch {
	case sig == os.Kill:
		h.finish(-1, true)
	case auto:
		h.finish(255, true)
	}
	return nil
}

// Signals returns the signals received so far.
func (h *FakeHandle) Signals() []os.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]os.Signal(nil), h.signals...)
}

// Emit writes one output line. Lines after Finish are dropped.
func (h *FakeHandle) Emit(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.tail = append(h.tail, line)
	h.lines <- line
}

// Finish ends the process with code.
func (h *FakeHandle) Finish(code int) {
	h.finish(code, false)
}

// Finished reports whether the process has exited.
func (h *FakeHandle) Finished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

func (h *FakeHandle) finish(code int, signaled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return
	}
	h.finished = true
	close(h.lines)

	ex := process.Exit{Code: code, Signaled: signaled || len(h.signals) > 0}
	if code != 0 {
		ex.Err = fmt.Errorf("%w: %s exited with code %d", process.ErrRuntime, h.Cmd.Role, code)
	}
	h.exit <- ex
	close(h.exit)
}
