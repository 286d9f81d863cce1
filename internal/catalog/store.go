package catalog

import (
	"sort"
	"sync"
	"time"

	"github.com/agleyzer/trackprobe/internal/manifest"
)

// Store persists catalog sources. Implementations must be safe for
// concurrent use.
type Store interface {
	// Put inserts or replaces a source.
	Put(src Source) error

	// Delete removes a source. Deleting an unknown ID is not an error.
	Delete(id string) error

	// SelectTrack records the video track a player is streaming for a source.
	SelectTrack(id, trackID string) error

	// UpdateManifest merges a probe result into the stored source and
	// returns the result. It returns ErrSourceNotFound if the source is gone.
	UpdateManifest(id string, update ManifestUpdate) (Source, error)

	// Get returns a source by ID.
	Get(id string) (Source, bool)

	// List returns all sources ordered by registration time.
	List() []Source
}

// ManifestUpdate is the outcome of one probe of a source.
type ManifestUpdate struct {
	// Manifest is nil when the probe failed
	Manifest  *manifest.Manifest `json:"manifest,omitempty"`
	FetchedAt time.Time          `json:"fetchedAt"`
	Error     string             `json:"error,omitempty"`
}

// Apply merges u into src. A failed probe only records its error; a
// successful one replaces the manifest and drops a selection the new
// manifest no longer declares.
func (u ManifestUpdate) Apply(src Source) Source {
	if u.Error != "" || u.Manifest == nil {
		src.LastError = u.Error
		return src
	}

	src.Manifest = u.Manifest
	src.FetchedAt = u.FetchedAt
	src.LastError = ""
	if _, ok := src.SelectedVideoTrack(); !ok {
		src.SelectedVideoTrackID = ""
	}
	return src
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sources: make(map[string]Source)}
}

// Put inserts or replaces a source.
func (s *MemoryStore) Put(src Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sources[src.ID] = src
	return nil
}

// Delete removes a source.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sources, id)
	return nil
}

// SelectTrack records the selected video track of a source.
func (s *MemoryStore) SelectTrack(id, trackID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return ErrSourceNotFound
	}
	src.SelectedVideoTrackID = trackID
	s.sources[id] = src
	return nil
}

// UpdateManifest merges a probe result into the current record.
func (s *MemoryStore) UpdateManifest(id string, update ManifestUpdate) (Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[id]
	if !ok {
		return Source{}, ErrSourceNotFound
	}
	src = update.Apply(src)
	s.sources[id] = src
	return src, nil
}

// Get returns a source by ID.
func (s *MemoryStore) Get(id string) (Source, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	src, ok := s.sources[id]
	return src, ok
}

// List returns all sources ordered by registration time.
func (s *MemoryStore) List() []Source {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SortSources(s.sources)
}

// SortSources returns the values of sources ordered by registration time,
// then ID.
func SortSources(sources map[string]Source) []Source {
	list := make([]Source, 0, len(sources))
	for _, src := range sources {
		list = append(list, src)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].RegisteredAt.Equal(list[j].RegisteredAt) {
			return list[i].RegisteredAt.Before(list[j].RegisteredAt)
		}
		return list[i].ID < list[j].ID
	})
	return list
}
