package persistence

import (
	"errors"

	"zrx-ladder-bot/internal/models"
)

var (
	// ErrStaleStrategy is returned by Save when the stored document has
	// moved past the caller's version.
	ErrStaleStrategy = errors.New("strategy document is stale")
	// ErrStrategyExists is returned by Create when the key is taken.
	ErrStrategyExists = errors.New("strategy already exists")
)

// StrategyRepository stores one Strategy document per instance key.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the rest of the application.
type StrategyRepository interface {
	// Get loads the document for key.
	// If no document is found, it returns (nil, nil).
	Get(key string) (*models.Strategy, error)

	// Create stores a new document at version 1.
	Create(s *models.Strategy) error

	// Save writes s if the stored version still equals s.Version, then
	// bumps s.Version. A mismatch returns ErrStaleStrategy and writes nothing.
	Save(s *models.Strategy) error

	// Close gracefully closes the connection to the database.
	Close() error
}
