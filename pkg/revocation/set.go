// Package revocation tracks revoked credential IDs, live via the revocation
// stream with a polling fallback, and locally via a pluggable revoked set.
package revocation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Common errors returned by this package.
var (
	ErrSetNotFound = errors.New("revocation set file not found")
	ErrSetCorrupt  = errors.New("revocation set file is corrupt")
)

// DefaultStaleThreshold is the default age after which a set's view of the
// world is considered stale.
const DefaultStaleThreshold = 5 * time.Minute

// Event is a single observed revocation.
type Event struct {
	// CredentialID is the revoked credential.
	CredentialID string `json:"credential_id"`

	// RevokedAt is when the credential was revoked, unix milliseconds.
	RevokedAt int64 `json:"revoked_at"`

	// Reason is the optional revocation reason.
	Reason string `json:"reason,omitempty"`
}

// Set is the interface for a revoked-credential set.
type Set interface {
	// IsRevoked checks if a credential ID is in the set.
	IsRevoked(credentialID string) bool

	// Add records a revocation. Adding an already-present ID is a no-op.
	Add(event Event) error

	// Sync merges a batch of revocation events.
	Sync(events []Event) error

	// LastSynced returns when the set last saw fresh data.
	LastSynced() time.Time

	// IsStale returns true if the set is older than the threshold.
	IsStale(threshold time.Duration) bool

	// Clear removes all revocations.
	Clear() error
}

// MemorySet is an in-memory revoked set. It holds revocations for the
// lifetime of the process.
type MemorySet struct {
	mu       sync.RWMutex
	events   map[string]Event
	syncedAt time.Time
}

// NewMemorySet creates an empty in-memory revoked set.
func NewMemorySet() *MemorySet {
	return &MemorySet{
		events: make(map[string]Event),
	}
}

// IsRevoked checks if a credential ID has been revoked.
func (s *MemorySet) IsRevoked(credentialID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.events[credentialID]
	return ok
}

// Add records a revocation.
func (s *MemorySet) Add(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[event.CredentialID]; !ok {
		s.events[event.CredentialID] = event
	}
	s.syncedAt = time.Now()
	return nil
}

// Sync merges a batch of events.
func (s *MemorySet) Sync(events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		if _, ok := s.events[ev.CredentialID]; !ok {
			s.events[ev.CredentialID] = ev
		}
	}
	s.syncedAt = time.Now()
	return nil
}

// LastSynced returns the time of the last sync.
func (s *MemorySet) LastSynced() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.syncedAt
}

// IsStale returns true if the set hasn't synced within the threshold.
func (s *MemorySet) IsStale(threshold time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.syncedAt.IsZero() {
		return true
	}
	return time.Since(s.syncedAt) > threshold
}

// Clear removes all revocations.
func (s *MemorySet) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[string]Event)
	s.syncedAt = time.Time{}
	return nil
}

// Count returns the number of revocations in the set.
func (s *MemorySet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// fileData is the serialized set format.
type fileData struct {
	SyncedAt    time.Time `json:"syncedAt"`
	Revocations []Event   `json:"revocations"`
}

// FileSet persists revocations to a JSON file so offline verification
// survives restarts.
type FileSet struct {
	path string
	mu   sync.RWMutex

	data  *fileData
	index map[string]bool
}

// DefaultSetDir returns the default revocation set directory.
func DefaultSetDir() string {
	if envPath := os.Getenv("AGENTID_CACHE_PATH"); envPath != "" {
		return envPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentid/cache"
	}
	return filepath.Join(home, ".agentid", "cache")
}

// NewFileSet creates a file-backed revoked set. If path is empty, the default
// location is used.
func NewFileSet(path string) (*FileSet, error) {
	if path == "" {
		path = filepath.Join(DefaultSetDir(), "revocations.json")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &FileSet{
		path:  path,
		index: make(map[string]bool),
	}

	if err := s.load(); err != nil && !os.IsNotExist(err) {
		// Continue with an empty set rather than failing startup.
		s.data = &fileData{}
	}

	return s, nil
}

// IsRevoked checks if a credential ID is in the set.
func (s *FileSet) IsRevoked(credentialID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index[credentialID]
}

// Add records a single revocation.
func (s *FileSet) Add(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = &fileData{}
	}
	if s.index[event.CredentialID] {
		return nil
	}

	s.data.Revocations = append(s.data.Revocations, event)
	s.index[event.CredentialID] = true
	s.data.SyncedAt = time.Now()
	return s.save()
}

// Sync merges a batch of events.
func (s *FileSet) Sync(events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = &fileData{}
	}
	for _, ev := range events {
		if !s.index[ev.CredentialID] {
			s.data.Revocations = append(s.data.Revocations, ev)
			s.index[ev.CredentialID] = true
		}
	}
	s.data.SyncedAt = time.Now()
	return s.save()
}

// LastSynced returns when the set was last synced.
func (s *FileSet) LastSynced() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return time.Time{}
	}
	return s.data.SyncedAt
}

// IsStale returns true if the set is older than the threshold.
func (s *FileSet) IsStale(threshold time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil || s.data.SyncedAt.IsZero() {
		return true
	}
	return time.Since(s.data.SyncedAt) > threshold
}

// Clear removes all revocations and deletes the backing file.
func (s *FileSet) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = &fileData{}
	s.index = make(map[string]bool)

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove set file: %w", err)
	}
	return nil
}

// Count returns the number of revocations in the set.
func (s *FileSet) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return 0
	}
	return len(s.data.Revocations)
}

func (s *FileSet) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrSetCorrupt, err)
	}

	s.data = &data
	s.index = make(map[string]bool, len(data.Revocations))
	for _, ev := range data.Revocations {
		s.index[ev.CredentialID] = true
	}
	return nil
}

func (s *FileSet) save() error {
	if s.data == nil {
		return nil
	}

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal set: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0600); err != nil {
		return fmt.Errorf("failed to write set: %w", err)
	}
	return nil
}
