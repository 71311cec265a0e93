package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"

	"zrx-ladder-bot/internal/models"
)

const keyPrefix = "strategy/"

// badgerRepository is the BadgerDB implementation of the StrategyRepository.
type badgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
func NewBadgerRepository(dbPath string) (StrategyRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging is noisy; errors still come back from DB operations.
	opts.Logger = nil
	return openBadger(opts)
}

// NewInMemoryBadgerRepository runs badger without touching disk. Used by
// paper mode and tests.
func NewInMemoryBadgerRepository() (StrategyRepository, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return openBadger(opts)
}

func openBadger(opts badger.Options) (StrategyRepository, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &badgerRepository{db: db, now: time.Now}, nil
}

func strategyKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// Get loads the strategy document stored under key.
// If the key is not found, it returns (nil, nil) to indicate no document is present.
func (r *badgerRepository) Get(key string) (*models.Strategy, error) {
	var s *models.Strategy
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		s, err = readStrategy(txn, key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Create stores a brand new document and fails if the key already exists.
func (r *badgerRepository) Create(s *models.Strategy) error {
	return r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(strategyKey(s.InstanceKey))
		if err == nil {
			return fmt.Errorf("%w: %s", ErrStrategyExists, s.InstanceKey)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		next := s.Clone()
		next.Version = 1
		next.UpdatedAt = r.now()
		if err := writeStrategy(txn, next); err != nil {
			return err
		}
		s.Version, s.UpdatedAt = next.Version, next.UpdatedAt
		return nil
	})
}

// Save compares versions and writes inside one transaction, so two
// writers cannot both succeed from the same version.
func (r *badgerRepository) Save(s *models.Strategy) error {
	err := r.db.Update(func(txn *badger.Txn) error {
		stored, err := readStrategy(txn, s.InstanceKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s was never created", ErrStaleStrategy, s.InstanceKey)
		}
		if err != nil {
			return err
		}
		if stored.Version != s.Version {
			return fmt.Errorf("%w: %s stored version %d, have %d", ErrStaleStrategy, s.InstanceKey, stored.Version, s.Version)
		}
		next := s.Clone()
		next.Version = s.Version + 1
		next.UpdatedAt = r.now()
		if err := writeStrategy(txn, next); err != nil {
			return err
		}
		s.Version, s.UpdatedAt = next.Version, next.UpdatedAt
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s", ErrStaleStrategy, err)
	}
	return err
}

func readStrategy(txn *badger.Txn, key string) (*models.Strategy, error) {
	item, err := txn.Get(strategyKey(key))
	if err != nil {
		return nil, err
	}
	var s models.Strategy
	err = item.Value(func(val []byte) error {
		if len(val) == 0 {
			return errors.New("strategy value is empty in database")
		}
		return json.Unmarshal(val, &s)
	})
	if err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", key, err)
	}
	return &s, nil
}

func writeStrategy(txn *badger.Txn, s *models.Strategy) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return txn.Set(strategyKey(s.InstanceKey), data)
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
