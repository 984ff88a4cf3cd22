package publish

import (
	"os"
	"time"
)

type stableEntry struct {
	lastEvent time.Time
	size      int64
	modTime   time.Time
}

// Stabilizer tracks files that are still being written. A file is due once
// no event was seen for the window and its size and mtime did not move.
// It is not safe for concurrent use.
type Stabilizer struct {
	window  time.Duration
	stat    func(string) (os.FileInfo, error)
	entries map[string]*stableEntry
}

// NewStabilizer creates a Stabilizer with the given quiet window.
func NewStabilizer(window time.Duration) *Stabilizer {
	return &Stabilizer{
		window:  window,
		stat:    os.Stat,
		entries: make(map[string]*stableEntry),
	}
}

// Touch (re)arms path as of now.
func (s *Stabilizer) Touch(path string, now time.Time) {
	e, ok := s.entries[path]
	if !ok {
		e = &stableEntry{size: -1}
		s.entries[path] = e
	}
	e.lastEvent = now
	if info, err := s.stat(path); err == nil {
		e.size, e.modTime = info.Size(), info.ModTime()
	}
}

// Forget drops path without reporting it.
func (s *Stabilizer) Forget(path string) {
	delete(s.entries, path)
}

// Pending returns the number of tracked files.
func (s *Stabilizer) Pending() int {
	return len(s.entries)
}

// Due returns and forgets every path that is stable as of now. Deleted files
// are dropped; empty or still changing files are re-armed.
func (s *Stabilizer) Due(now time.Time) []string {
	var due []string
	for path, e := range s.entries {
		if now.Sub(e.lastEvent) < s.window {
			continue
		}
		info, err := s.stat(path)
		if err != nil {
			delete(s.entries, path)
			continue
		}
		if info.Size() != e.size || !info.ModTime().Equal(e.modTime) || info.Size() == 0 {
			e.lastEvent, e.size, e.modTime = now, info.Size(), info.ModTime()
			continue
		}
		due = append(due, path)
		delete(s.entries, path)
	}
	return due
}

// Drain returns and forgets every tracked path that still exists, stable or not.
func (s *Stabilizer) Drain() []string {
	var out []string
	for path := range s.entries {
		if _, err := s.stat(path); err == nil {
			out = append(out, path)
		}
		delete(s.entries, path)
	}
	return out
}
