package process

import (
	"slices"
	"sync"
)

const defaultTailLines = 50

// outputTail keeps the most recent lines of a process's output.
type outputTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newOutputTail(max int) *outputTail {
	if max < 1 {
		max = defaultTailLines
	}
	return &outputTail{max: max, lines: make([]string, 0, max)}
}

func (t *outputTail) add(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.lines) == t.max {
		t.lines = append(t.lines[:0], t.lines[1:]...)
	}
	t.lines = append(t.lines, line)
}

// last returns up to n lines, oldest first.
func (t *outputTail) last(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	n = min(n, len(t.lines))
	if n <= 0 {
		return nil
	}
	return slices.Clone(t.lines[len(t.lines)-n:])
}
