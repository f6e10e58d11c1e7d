// Package cleanup removes the temporary files a request leaves behind.
package cleanup

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"image-relay/internal/metrics"
	"image-relay/internal/model"
)

// Kinds of tracked files, used as the metrics label.
const (
	KindInput    = "input"
	KindArtifact = "artifact"
)

// Coordinator hands out per-request scopes and owns the removal policy.
type Coordinator struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	remove  func(string) error
}

// NewCoordinator creates a Coordinator.
// The metrics parameter is optional; pass nil to disable cleanup metrics.
func NewCoordinator(logger *slog.Logger, m *metrics.Metrics) *Coordinator {
	return &Coordinator{
		logger:  logger.With("component", "cleanup"),
		metrics: m,
		remove:  os.Remove,
	}
}

// Begin opens a scope for one request. The caller must Release it on every
// exit path, normally with defer right after Begin.
func (c *Coordinator) Begin() *Scope {
	return &Scope{c: c}
}

// Remove deletes path. A file that is already gone counts as removed, so
// calling Remove twice for the same path is safe.
func (c *Coordinator) Remove(path, kind string) {
	err := c.remove(path)
	switch {
	case err == nil:
		c.logger.Debug("removed temporary file", "path", path, "kind", kind)
		if c.metrics != nil {
			c.metrics.CleanupRemovals.WithLabelValues(kind).Inc()
		}
	case errors.Is(err, fs.ErrNotExist):
		c.logger.Debug("temporary file already absent", "path", path, "kind", kind)
	default:
		// The response is already decided; failures are only reported.
		c.logger.Warn("remove temporary file", "err", err, "path", path, "kind", kind)
		if c.metrics != nil {
			c.metrics.CleanupFailures.Inc()
		}
	}
}

type entry struct {
	path string
	kind string
}

// Scope collects the temporary files created while handling one request.
type Scope struct {
	c *Coordinator

	mu       sync.Mutex
	entries  []entry
	released bool
}

// Track registers path for removal on Release. Paths tracked after Release
// are removed immediately.
func (s *Scope) Track(path, kind string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		s.c.Remove(path, kind)
		return
	}
	s.entries = append(s.entries, entry{path: path, kind: kind})
	s.mu.Unlock()
}

// TrackPayload registers a staged payload's file. Buffered payloads hold
// nothing on disk and are ignored.
func (s *Scope) TrackPayload(p *model.IncomingPayload) {
	if p == nil || !p.Staged() {
		return
	}
	s.Track(p.Path, KindInput)
}

// Release removes every tracked file. It is idempotent; only the first call
// does any work.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.path] {
			continue
		}
		seen[e.path] = true
		s.c.Remove(e.path, e.kind)
	}
}

// Released reports whether Release has run.
func (s *Scope) Released() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}
