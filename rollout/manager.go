// Package rollout manages which rule-document version answers a given
// decision: it keeps one engine per loaded document version, swaps the
// active engine atomically on reload, and routes entities between two
// versions during an A/B experiment. Engines are never mutated in
// place — a new document always becomes a new engine instance, and
// in-flight executions keep the instance they started with.
package rollout

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/prospectiq/cortex/engine"
)

// Manager holds the loaded engines and the active version pointer.
type Manager struct {
	store  engine.DocumentStore
	cache  engine.DocumentCache
	logger *slog.Logger

	mu         sync.RWMutex
	engines    map[string]*engine.Engine
	active     string
	experiment *Experiment
}

// NewManager creates a manager over a document store.
func NewManager(store engine.DocumentStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   store,
		cache:   engine.NewInMemoryDocumentCache(engine.DefaultCacheConfig()),
		logger:  logger,
		engines: make(map[string]*engine.Engine),
	}
}

// LoadActive loads the store's active document and makes it the
// serving version.
func (m *Manager) LoadActive() error {
	doc := m.cache.Get()
	if doc == nil {
		var err error
		doc, err = m.store.GetActive()
		if err != nil {
			return fmt.Errorf("failed to load active document: %w", err)
		}
		m.cache.Set(doc)
	}
	return m.Swap(doc)
}

// LoadVersion loads a specific stored version without changing which
// version serves by default. Used to stage the candidate side of an
// experiment.
func (m *Manager) LoadVersion(version string) error {
	m.mu.RLock()
	_, loaded := m.engines[version]
	m.mu.RUnlock()
	if loaded {
		return nil
	}

	doc, err := m.store.Get(version)
	if err != nil {
		return err
	}

	en, err := m.build(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[doc.Version] = en
	m.mu.Unlock()

	m.logger.Info("document version loaded", "version", doc.Version, "rules", len(doc.Rules))
	return nil
}

// Swap builds an engine for a document and atomically makes it the
// active one. The old engine stays loaded until Remove, so executions
// that hold it are unaffected; a read never straddles two versions.
func (m *Manager) Swap(doc *engine.RuleDocument) error {
	en, err := m.build(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[doc.Version] = en
	previous := m.active
	m.active = doc.Version
	m.mu.Unlock()

	m.logger.Info("active document swapped",
		"version", doc.Version, "previous", previous, "rules", len(doc.Rules))
	return nil
}

func (m *Manager) build(doc *engine.RuleDocument) (*engine.Engine, error) {
	if err := ValidateDocument(doc); err != nil {
		return nil, fmt.Errorf("document %s rejected: %w", doc.Version, err)
	}
	en, err := engine.New(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to build engine for %s: %w", doc.Version, err)
	}
	return en, nil
}

// Active returns the currently serving engine.
func (m *Manager) Active() (*engine.Engine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, fmt.Errorf("no active document loaded")
	}
	return m.engines[m.active], nil
}

// EngineFor returns the engine that should decide for an entity: the
// experiment assignment when an experiment is running and an entity id
// is present, otherwise the active engine. Assignment is a pure
// function of (experiment, entity id), so an entity always sees the
// same version for the experiment's lifetime.
func (m *Manager) EngineFor(entityID string) (*engine.Engine, error) {
	m.mu.RLock()
	exp := m.experiment
	m.mu.RUnlock()

	if exp == nil || entityID == "" {
		return m.Active()
	}

	version := exp.Assign(entityID)

	m.mu.RLock()
	en, ok := m.engines[version]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("experiment version %s is not loaded", version)
	}
	return en, nil
}

// SetExperiment installs an A/B experiment, loading both sides first.
// A nil experiment stops routing.
func (m *Manager) SetExperiment(exp *Experiment) error {
	if exp == nil {
		m.mu.Lock()
		m.experiment = nil
		m.mu.Unlock()
		m.logger.Info("experiment cleared")
		return nil
	}

	if err := exp.Validate(); err != nil {
		return err
	}
	if err := m.LoadVersion(exp.Control); err != nil {
		return fmt.Errorf("failed to load control version: %w", err)
	}
	if err := m.LoadVersion(exp.Candidate); err != nil {
		return fmt.Errorf("failed to load candidate version: %w", err)
	}

	m.mu.Lock()
	m.experiment = exp
	m.mu.Unlock()

	m.logger.Info("experiment installed",
		"name", exp.Name, "control", exp.Control,
		"candidate", exp.Candidate, "candidatePercent", exp.CandidatePercent)
	return nil
}

// Experiment returns the installed experiment, nil when none.
func (m *Manager) Experiment() *Experiment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.experiment
}

// ActiveVersion returns the serving document version.
func (m *Manager) ActiveVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Versions lists the loaded document versions.
func (m *Manager) Versions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := make([]string, 0, len(m.engines))
	for v := range m.engines {
		versions = append(versions, v)
	}
	return versions
}

// Invalidate drops the cached active document so the next LoadActive
// reads the store. Called after a new version is activated.
func (m *Manager) Invalidate() {
	m.cache.Invalidate()
}

// Remove unloads a version. The active version and the sides of a
// running experiment cannot be removed.
func (m *Manager) Remove(version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if version == m.active {
		return fmt.Errorf("cannot remove active version %s", version)
	}
	if m.experiment != nil && (version == m.experiment.Control || version == m.experiment.Candidate) {
		return fmt.Errorf("cannot remove version %s while experiment %q uses it", version, m.experiment.Name)
	}
	if _, ok := m.engines[version]; !ok {
		return fmt.Errorf("version %s is not loaded", version)
	}
	delete(m.engines, version)
	return nil
}
