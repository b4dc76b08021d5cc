package engine

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresDocumentStore implements DocumentStore backed by PostgreSQL.
// Documents are stored as JSONB and validated on the way in and out.
type PostgresDocumentStore struct {
	db *sql.DB
}

// NewPostgresDocumentStore creates a PostgreSQL-backed document store.
func NewPostgresDocumentStore(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// Save inserts a new document version.
func (s *PostgresDocumentStore) Save(doc *RuleDocument) error {
	if err := ValidateDocument(doc); err != nil {
		return err
	}

	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM rule_documents WHERE version = $1)
	`, doc.Version).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check document existence: %w", err)
	}
	if exists {
		return fmt.Errorf("document version %s already exists", doc.Version)
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO rule_documents (version, document, active, created_at)
		VALUES ($1, $2, false, $3)
	`, doc.Version, payload, time.Now())
	if err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

// Get retrieves a document by version.
func (s *PostgresDocumentStore) Get(version string) (*RuleDocument, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT document FROM rule_documents WHERE version = $1
	`, version).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document version %s not found", version)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	return ParseDocumentJSON(payload)
}

// GetActive retrieves the active document.
func (s *PostgresDocumentStore) GetActive() (*RuleDocument, error) {
	var payload []byte
	err := s.db.QueryRow(`
		SELECT document FROM rule_documents
		WHERE active = true
		ORDER BY created_at DESC
		LIMIT 1
	`).Scan(&payload)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no active document")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active document: %w", err)
	}

	return ParseDocumentJSON(payload)
}

// ListVersions returns metadata for all stored versions.
func (s *PostgresDocumentStore) ListVersions() ([]DocumentInfo, error) {
	rows, err := s.db.Query(`
		SELECT version, document, active, created_at
		FROM rule_documents
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var infos []DocumentInfo
	for rows.Next() {
		var info DocumentInfo
		var payload []byte
		if err := rows.Scan(&info.Version, &payload, &info.Active, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		var doc RuleDocument
		if err := json.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("invalid stored document %s: %w", info.Version, err)
		}
		info.RuleCount = len(doc.Rules)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return infos, nil
}

// Activate marks one version active and deactivates the rest, in one
// transaction.
func (s *PostgresDocumentStore) Activate(version string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`UPDATE rule_documents SET active = false WHERE active = true`); err != nil {
		return fmt.Errorf("failed to deactivate documents: %w", err)
	}

	result, err := tx.Exec(`UPDATE rule_documents SET active = true WHERE version = $1`, version)
	if err != nil {
		return fmt.Errorf("failed to activate document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document version %s not found", version)
	}

	return tx.Commit()
}
