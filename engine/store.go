package engine

import (
	"fmt"
	"sync"
	"time"
)

// DocumentInfo is version-level metadata about a stored document.
type DocumentInfo struct {
	Version   string    `json:"version"`
	Active    bool      `json:"active"`
	RuleCount int       `json:"ruleCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// DocumentStore manages persistence of versioned rule documents. The
// engine itself persists nothing; a store is the external document
// source construction loads from. At most one version is active at a
// time.
type DocumentStore interface {
	// Save stores a new document version. Versions are unique.
	Save(doc *RuleDocument) error

	// Get retrieves a document by version.
	Get(version string) (*RuleDocument, error)

	// GetActive retrieves the currently active document.
	GetActive() (*RuleDocument, error)

	// ListVersions returns metadata for all stored versions.
	ListVersions() ([]DocumentInfo, error)

	// Activate marks one version active, deactivating any other.
	Activate(version string) error
}

type storedDocument struct {
	doc       *RuleDocument
	active    bool
	createdAt time.Time
}

// InMemoryDocumentStore implements DocumentStore with an in-memory
// map. Thread-safe with an RWMutex.
type InMemoryDocumentStore struct {
	docs map[string]*storedDocument
	mu   sync.RWMutex
}

// NewInMemoryDocumentStore creates an empty in-memory store.
func NewInMemoryDocumentStore() *InMemoryDocumentStore {
	return &InMemoryDocumentStore{
		docs: make(map[string]*storedDocument),
	}
}

// Save stores a new document version, rejecting duplicates.
func (s *InMemoryDocumentStore) Save(doc *RuleDocument) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.Version]; exists {
		return fmt.Errorf("document version %s already exists", doc.Version)
	}
	s.docs[doc.Version] = &storedDocument{doc: doc, createdAt: time.Now()}
	return nil
}

// Get retrieves a document by version.
func (s *InMemoryDocumentStore) Get(version string) (*RuleDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.docs[version]
	if !exists {
		return nil, fmt.Errorf("document version %s not found", version)
	}
	return stored.doc, nil
}

// GetActive retrieves the active document.
func (s *InMemoryDocumentStore) GetActive() (*RuleDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, stored := range s.docs {
		if stored.active {
			return stored.doc, nil
		}
	}
	return nil, fmt.Errorf("no active document")
}

// ListVersions returns metadata for all stored versions.
func (s *InMemoryDocumentStore) ListVersions() ([]DocumentInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]DocumentInfo, 0, len(s.docs))
	for version, stored := range s.docs {
		infos = append(infos, DocumentInfo{
			Version:   version,
			Active:    stored.active,
			RuleCount: len(stored.doc.Rules),
			CreatedAt: stored.createdAt,
		})
	}
	return infos, nil
}

// Activate marks one version active and deactivates the rest.
func (s *InMemoryDocumentStore) Activate(version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, exists := s.docs[version]
	if !exists {
		return fmt.Errorf("document version %s not found", version)
	}
	for _, stored := range s.docs {
		stored.active = false
	}
	target.active = true
	return nil
}
