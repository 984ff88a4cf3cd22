package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/dhruva-antino/live-drm/internal/platform/logger"
	"github.com/dhruva-antino/live-drm/internal/platform/metrics"
)

const (
	linesBuffer = 128
	maxLineSize = 256 * 1024
)

// ExecLauncher starts real processes, each in its own process group.
type ExecLauncher struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	tailSize int
}

// NewExecLauncher returns a launcher. log and m may be nil.
func NewExecLauncher(log *slog.Logger, m *metrics.Metrics) *ExecLauncher {
	if log == nil {
		log = logger.Discard()
	}
	return &ExecLauncher{log: log.With("component", "process"), metrics: m, tailSize: defaultTailLines}
}

// Launch starts cmd. ctx bounds the spawn only; the process outlives it and
// is stopped through Handle.Signal.
func (l *ExecLauncher) Launch(ctx context.Context, cmd Command) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawn, cmd.Role, err)
	}
	log := l.log.With("role", cmd.Role).With(cmd.Labels...)

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	setProcessGroup(c)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, l.spawnFailed(log, cmd, err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return nil, l.spawnFailed(log, cmd, err)
	}
	if err := c.Start(); err != nil {
		return nil, l.spawnFailed(log, cmd, err)
	}
	l.metrics.ObserveProcessStart(cmd.Role, nil)
	log.Info("process started", "pid", c.Process.Pid, "path", cmd.Path)

	h := &execHandle{
		cmd:   c,
		lines: make(chan string, linesBuffer),
		exit:  make(chan Exit, 1),
		tail:  newOutputTail(l.tailSize),
	}

	var ioWg sync.WaitGroup
	for _, r := range []io.Reader{stdout, stderr} {
		ioWg.Add(1)
		go func(r io.Reader) {
			defer ioWg.Done()
			h.scan(r)
		}(r)
	}

	go func() {
		// Wait must follow the pipe readers.
		ioWg.Wait()
		close(h.lines)

		waitErr := c.Wait()
		code := 0
		var cause error
		if waitErr != nil {
			var exitErr *exec.ExitError
			if errors.As(waitErr, &exitErr) {
				code = exitErr.ExitCode()
			} else {
				code = -1
				cause = waitErr
			}
		}
		ex := Exit{Code: code, Err: exitError(cmd.Role, code, cause), Signaled: h.signaled.Load()}
		l.metrics.ObserveProcessExit(cmd.Role, ex.Outcome())
		if ex.Outcome() == "error" {
			log.Error("process failed", "pid", c.Process.Pid, "exit_code", code, "stderr_tail", h.tail.last(10))
		} else {
			log.Info("process exited", "pid", c.Process.Pid, "exit_code", code, "outcome", ex.Outcome())
		}
		h.exit <- ex
		close(h.exit)
	}()

	return h, nil
}

func (l *ExecLauncher) spawnFailed(log *slog.Logger, cmd Command, err error) error {
	l.metrics.ObserveProcessStart(cmd.Role, err)
	log.Error("process spawn failed", "path", cmd.Path, "error", err)
	return fmt.Errorf("%w: %s: %v", ErrSpawn, cmd.Role, err)
}

type execHandle struct {
	cmd      *exec.Cmd
	lines    chan string
	exit     chan Exit
	tail     *outputTail
	signaled atomic.Bool
}

func (h *execHandle) scan(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	sc.Split(scanLinesCR)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		h.tail.add(line)
		h.lines <- line
	}
	// Keep the pipe drained after a scanner error so the process never blocks.
	_, _ = io.Copy(io.Discard, r)
}

func (h *execHandle) PID() int             { return h.cmd.Process.Pid }
func (h *execHandle) Lines() <-chan string { return h.lines }
func (h *execHandle) Exit() <-chan Exit    { return h.exit }
func (h *execHandle) Tail(n int) []string  { return h.tail.last(n) }

func (h *execHandle) Signal(sig os.Signal) error {
	h.signaled.Store(true)
	return signalGroup(h.cmd, sig)
}

// scanLinesCR splits on \n and on bare \r, which ffmpeg uses for progress lines.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
