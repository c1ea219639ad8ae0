// Package snapshot persists built-out documents so later runs can diff or
// replay them without calling IAM again.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
)

// Version is the current schema version of a stored record.
const Version = 1

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// Key addresses one stored document.
type Key struct {
	Account string
	Name    string
}

// String returns the key as "<account>/<name>".
func (k Key) String() string {
	return k.Account + "/" + k.Name
}

// Validate rejects keys that cannot be mapped to a single file.
func (k Key) Validate() error {
	for field, v := range map[string]string{"account": k.Account, "name": k.Name} {
		if v == "" {
			return orchestration.ErrMissingField(field).WithOperation("snapshot")
		}
		if v == "." || v == ".." || strings.ContainsAny(v, `/\`) {
			return orchestration.ErrValidation("invalid snapshot key %q", v).WithField(field)
		}
	}
	return nil
}

// Record is the serialized form of one snapshot.
type Record struct {
	Version  int                    `json:"version"`
	Key      string                 `json:"key"`
	SavedAt  time.Time              `json:"saved_at"`
	Document orchestration.Document `json:"document"`
}

// Store saves and loads document snapshots.
type Store interface {
	// Save stores doc under key, replacing any previous record.
	Save(ctx context.Context, key Key, doc orchestration.Document) error

	// Get returns the record stored under key.
	Get(ctx context.Context, key Key) (*Record, error)

	// List returns the keys stored for account, sorted by name.
	List(ctx context.Context, account string) ([]Key, error)

	// Delete removes the record under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error
}

// MemoryStore is an in-memory Store for tests and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Key]Record)}
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, key Key, doc orchestration.Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = Record{Version: Version, Key: key.String(), SavedAt: time.Now().UTC(), Document: doc}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return &rec, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, account string) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []Key
	for k := range s.records {
		if k.Account == account {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)
	return keys, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, key)
	return nil
}

// FileStore keeps one JSON file per document under <root>/<account>/<name>.json.
type FileStore struct {
	mu   sync.RWMutex
	root string
}

// NewFileStore creates a file-based store rooted at dir. The directory is
// created on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

// Root returns the store's base directory.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) path(key Key) string {
	return filepath.Join(s.root, key.Account, key.Name+".json")
}

// Save implements Store. Files are written atomically via a temp file.
func (s *FileStore) Save(ctx context.Context, key Key, doc orchestration.Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	rec := Record{Version: Version, Key: key.String(), SavedAt: time.Now().UTC(), Document: doc}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(key)
	if err := os.MkdirAll(filepath.Dir(target), 0700); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmpFile := target + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpFile, target); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename snapshot file: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(ctx context.Context, key Key) (*Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("invalid snapshot file %s: %w", key, err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("snapshot %s has unsupported version %d", key, rec.Version)
	}
	return &rec, nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context, account string) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, account))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", account, err)
	}

	var keys []Key
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, Key{Account: account, Name: strings.TrimSuffix(name, ".json")})
	}
	sortKeys(keys)
	return keys, nil
}

// Delete implements Store.
func (s *FileStore) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}

// DefaultDir returns the default snapshot directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".cloudaux", "snapshots")
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
}
