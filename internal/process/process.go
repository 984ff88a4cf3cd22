// Package process runs external tools (transcoder, packager, simulator) and
// exposes each running instance through the Handle capability interface.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrSpawn means the process could not be started.
	ErrSpawn = errors.New("process spawn failed")
	// ErrRuntime covers failures after a successful start: non-zero exits
	// and readiness timeouts.
	ErrRuntime = errors.New("process runtime failure")
)

// Roles used for logging and metrics labels.
const (
	RoleTranscoder = "transcoder"
	RolePackager   = "packager"
	RoleSimulator  = "simulator"
)

// Command is a process to launch.
type Command struct {
	Role string
	Path string
	Args []string
	Dir  string
	// Labels are attached to every log record of the process.
	Labels []any
}

// Exit is delivered exactly once per process, after all output lines.
type Exit struct {
	Code int
	// Err is nil for a zero exit code; otherwise it wraps ErrRuntime.
	Err error
	// Signaled reports whether Signal was called on the handle before exit.
	Signaled bool
}

// Outcome classifies the exit for metrics: "clean", "interrupted" or "error".
func (e Exit) Outcome() string {
	switch {
	case e.Code == 0 && e.Err == nil:
		return "clean"
	case e.Signaled:
		return "interrupted"
	default:
		return "error"
	}
}

// Handle is a running process.
type Handle interface {
	PID() int
	// Lines yields diagnostic output lines and is closed at EOF.
	Lines() <-chan string
	// Exit yields one Exit after Lines has been closed.
	Exit() <-chan Exit
	// Signal delivers sig to the process group. Signalling an exited
	// process is not an error.
	Signal(sig os.Signal) error
	// Tail returns up to n of the most recent output lines.
	Tail(n int) []string
}

// Launcher starts processes.
type Launcher interface {
	Launch(ctx context.Context, cmd Command) (Handle, error)
}

func exitError(role string, code int, cause error) error {
	if code == 0 && cause == nil {
		return nil
	}
	if cause != nil {
		return fmt.Errorf("%w: %s exited with code %d: %v", ErrRuntime, role, code, cause)
	}
	return fmt.Errorf("%w: %s exited with code %d", ErrRuntime, role, code)
}
