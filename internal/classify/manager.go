package classify

import (
	"fmt"
	"sync"

	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

// ProjectStore reads and writes a project's persisted label artifacts, so a
// session can be rebuilt across process restarts and can write back labels it
// applies outside a request. Implemented by the geo artifact store.
type ProjectStore interface {
	LoadFeatureTable(projectID int64) (*FeatureTable, error)
	LoadCatalog(projectID int64) (map[string]string, error)
	LoadSamples(projectID int64) ([]ManualLabel, error)
	SaveSamples(projectID int64, labels []ManualLabel) error
	SaveCatalog(projectID int64, snapshot map[string]string) error
}

// SessionManager holds the live sessions, one per project. It is explicit
// per-server state handed to the API layer, never a package-level singleton,
// so multiple projects coexist and tests can run managers side by side.
type SessionManager struct {
	engine *Engine
	store  ProjectStore

	mu       sync.Mutex
	sessions map[int64]*Session
}

// NewSessionManager creates a manager backed by the given engine and store.
func NewSessionManager(engine *Engine, store ProjectStore) *SessionManager {
	return &SessionManager{
		engine:   engine,
		store:    store,
		sessions: make(map[int64]*Session),
	}
}

// newSession builds a session with overlay persistence wired to the store.
func (m *SessionManager) newSession(projectID int64, table *FeatureTable) *Session {
	s := NewSession(projectID, table, m.engine)
	s.SetPersist(func(labels []ManualLabel, catalog map[string]string) {
		if err := m.store.SaveSamples(projectID, labels); err != nil {
			monitoring.Logf("[Sessions] project %d: failed to persist samples: %v", projectID, err)
		}
		if err := m.store.SaveCatalog(projectID, catalog); err != nil {
			monitoring.Logf("[Sessions] project %d: failed to persist catalog: %v", projectID, err)
		}
	})
	return s
}

// Attach installs a fresh session for a newly ingested feature table,
// replacing any previous session for the project.
func (m *SessionManager) Attach(projectID int64, table *FeatureTable) *Session {
	s := m.newSession(projectID, table)
	m.mu.Lock()
	m.sessions[projectID] = s
	m.mu.Unlock()
	return s
}

// Get returns the live session for a project without loading anything.
func (m *SessionManager) Get(projectID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[projectID]
	return s, ok
}

// Open returns the live session for a project, hydrating it from persisted
// artifacts on first access.
func (m *SessionManager) Open(projectID int64) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[projectID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	// Load outside the manager lock; artifact reads can be slow.
	table, err := m.store.LoadFeatureTable(projectID)
	if err != nil {
		return nil, fmt.Errorf("load feature table for project %d: %w", projectID, err)
	}
	catalog, err := m.store.LoadCatalog(projectID)
	if err != nil {
		return nil, fmt.Errorf("load catalog for project %d: %w", projectID, err)
	}
	samples, err := m.store.LoadSamples(projectID)
	if err != nil {
		return nil, fmt.Errorf("load samples for project %d: %w", projectID, err)
	}

	s := m.newSession(projectID, table)
	if err := s.Hydrate(catalog, samples); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another goroutine may have hydrated in the meantime; first one wins so
	// every caller shares a single session per project.
	if existing, ok := m.sessions[projectID]; ok {
		return existing, nil
	}
	m.sessions[projectID] = s
	return s, nil
}

// Drop evicts a project's session, typically on project deletion.
func (m *SessionManager) Drop(projectID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, projectID)
}
