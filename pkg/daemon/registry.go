package daemon

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/modoterra/logcap/pkg/core"
)

// Registry tracks sessions. Saved sessions are retained until they expire;
// active sessions are those whose capture has not been stopped yet. A
// capture that outlives the retention window stays active after its saved
// entry expires, so it can still be stopped.
type Registry struct {
	rawDir        string
	structuredDir string
	indexPath     string

	mu     sync.Mutex
	saved  map[string]core.Session
	active map[string]time.Time

	now    func() time.Time
	logger *slog.Logger
}

// sessionIndex is the on-disk form of the saved sessions.
type sessionIndex struct {
	UpdatedAt time.Time      `yaml:"updated_at"`
	Sessions  []core.Session `yaml:"sessions"`
}

// NewRegistry creates a registry placing artifacts under rawDir and
// structuredDir. If indexPath is set, saved sessions are mirrored there.
func NewRegistry(rawDir, structuredDir, indexPath string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		rawDir:        rawDir,
		structuredDir: structuredDir,
		indexPath:     indexPath,
		saved:         make(map[string]core.Session),
		active:        make(map[string]time.Time),
		now:           time.Now,
		logger:        logger,
	}
}

// Load restores saved sessions from the index file. A missing index is
// not an error. Loaded sessions are never active.
func (r *Registry) Load() error {
	if r.indexPath == "" {
		return nil
	}
	data, err := os.ReadFile(r.indexPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read session index: %w", err)
	}

	var idx sessionIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return fmt.Errorf("parse session index: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range idx.Sessions {
		if s.ID == "" {
			continue
		}
		r.saved[s.ID] = s
	}
	r.logger.Info("session index loaded", "path", r.indexPath, "sessions", len(idx.Sessions))
	return nil
}

// Create allocates a new session for platform p and marks it active.
func (r *Registry) Create(p core.Platform) core.Session {
	id := uuid.NewString()
	raw, structured := core.ArtifactPaths(p, id, r.rawDir, r.structuredDir)
	s := core.Session{
		ID:             id,
		Platform:       p,
		CreatedAt:      r.now(),
		RawPath:        raw,
		StructuredPath: structured,
	}

	r.mu.Lock()
	r.saved[id] = s
	r.active[id] = s.CreatedAt
	r.persistLocked()
	r.mu.Unlock()
	return s
}

// TouchActive marks a saved session active as of t.
func (r *Registry) TouchActive(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.saved[id]; ok {
		r.active[id] = t
	}
}

// IsActive reports whether the session's capture is still running.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// Deactivate removes the session from the active set. It stays saved.
func (r *Registry) Deactivate(id string) {
	r.mu.Lock()
	delete(r.active, id)
	r.mu.Unlock()
}

// Lookup returns a saved session.
func (r *Registry) Lookup(id string) (core.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.saved[id]
	return s, ok
}

// AllSaved returns the saved sessions, oldest first.
func (r *Registry) AllSaved() []core.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Forget drops a session from both sets.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.saved[id]; !ok {
		delete(r.active, id)
		return
	}
	delete(r.saved, id)
	delete(r.active, id)
	r.persistLocked()
}

// ForgetSaved drops an expired session from the saved set only. A capture
// still running under id remains active until it is stopped.
func (r *Registry) ForgetSaved(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.saved[id]; !ok {
		return
	}
	delete(r.saved, id)
	r.persistLocked()
}

// Readmit saves s again if it has been forgotten, so artifacts written
// after expiry are still swept.
func (r *Registry) Readmit(s core.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.saved[s.ID]; ok {
		return
	}
	r.saved[s.ID] = s
	r.persistLocked()
}

// ArtifactPaths resolves artifact locations for id. Unknown sessions
// resolve against every platform naming, in routing order.
func (r *Registry) ArtifactPaths(id string) []core.Session {
	if s, ok := r.Lookup(id); ok {
		return []core.Session{s}
	}
	var out []core.Session
	for _, p := range core.Platforms() {
		raw, structured := core.ArtifactPaths(p, id, r.rawDir, r.structuredDir)
		out = append(out, core.Session{ID: id, Platform: p, RawPath: raw, StructuredPath: structured})
	}
	return out
}

func (r *Registry) snapshotLocked() []core.Session {
	out := make([]core.Session, 0, len(r.saved))
	for _, s := range r.saved {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// persistLocked writes the index atomically. Failures are logged; the
// in-memory registry stays authoritative.
func (r *Registry) persistLocked() {
	if r.indexPath == "" {
		return
	}
	data, err := yaml.Marshal(sessionIndex{UpdatedAt: r.now(), Sessions: r.snapshotLocked()})
	if err != nil {
		r.logger.Error("encode session index", "err", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.indexPath), 0o755); err != nil {
		r.logger.Error("create session index dir", "path", r.indexPath, "err", err)
		return
	}
	tmp := r.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		r.logger.Error("write session index", "path", tmp, "err", err)
		return
	}
	if err := os.Rename(tmp, r.indexPath); err != nil {
		r.logger.Error("replace session index", "path", r.indexPath, "err", err)
	}
}
