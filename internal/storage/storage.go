package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rideralert/internal/models"
)

// Store persists a small set of string scalars to a JSON file.
type Store struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
	log    *zap.Logger
}

// NewStore creates a storage instance and loads existing values if present.
// A missing, empty or unreadable file yields an empty store.
func NewStore(path string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ensure data directory")
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Store{path: path, values: map[string]string{}, log: log.Named("storage")}
	s.load()
	return s, nil
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok
}

// Set stores value under key and persists the file. Writing the current value is a no-op.
// Invalid UTF-8 is replaced the same way the JSON encoder would, so a reload
// returns exactly what Get returns.
func (s *Store) Set(key, value string) error {
	value = models.CleanText(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.values[key]; ok && cur == value {
		return nil
	}
	s.values[key] = value
	return s.persist()
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("session file unreadable, starting fresh", zap.String("path", s.path), zap.Error(err))
		}
		return
	}
	if len(data) == 0 {
		return
	}

	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		s.log.Warn("session file corrupt, starting fresh", zap.String("path", s.path), zap.Error(err))
		return
	}
	if values != nil {
		s.values = values
	}
}

func (s *Store) persist() error {
	bytes, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode session")
	}

	tmpPath := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmpPath, bytes, 0o644); err != nil {
		return errors.Wrap(err, "write temp session")
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(err, "replace session file")
	}
	return nil
}
