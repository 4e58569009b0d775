// Package store provides the two client-side key-value stores with distinct
// lifetimes: a durable one surviving restarts and a session-scoped one that
// lives only as long as the process.
package store

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// Store names used by the client components.
const (
	DurableCacheName  = "durable-cache"
	SessionMarkerName = "session-marker"
)

// KV is a minimal key-value store. Implementations must be safe for
// concurrent use.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string) error
}

// SessionStore keeps values in memory for the lifetime of the process,
// mirroring browser session storage semantics.
type SessionStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

func NewSessionStore() *SessionStore {
	return &SessionStore{values: make(map[string][]byte)}
}

func (s *SessionStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *SessionStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *SessionStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// DurableStore persists values to a single JSON file so cached state
// survives a full restart. Values must be valid JSON documents.
// Writes go through a temp file and rename.
type DurableStore struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// NewDurableStore opens (or creates) the store backed by the given file.
// A missing or unreadable file starts the store empty rather than failing:
// a corrupt cache must degrade to a cold one, never block startup.
func NewDurableStore(path string) *DurableStore {
	s := &DurableStore{path: path, values: make(map[string]json.RawMessage)}
	if data, err := ioutil.ReadFile(path); err == nil {
		var values map[string]json.RawMessage
		if err := json.Unmarshal(data, &values); err == nil {
			s.values = values
		}
	}
	return s
}

func (s *DurableStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok
}

func (s *DurableStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = json.RawMessage(value)
	return s.flush()
}

func (s *DurableStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return s.flush()
}

func (s *DurableStore) flush() error {
	data, err := json.Marshal(s.values)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	if err := ioutil.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
