// Package cluster provides a Raft-replicated catalog store for trackprobe.
package cluster

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/agleyzer/trackprobe/internal/catalog"
	"github.com/hashicorp/raft"
)

func init() {
	// Register types for gob encoding/decoding
	gob.Register(PutSourceCommand{})
	gob.Register(DeleteSourceCommand{})
	gob.Register(SelectTrackCommand{})
	gob.Register(UpdateManifestCommand{})
}

// CommandType identifies the type of Raft command.
type CommandType uint8

const (
	// CommandPutSource inserts or replaces a source.
	CommandPutSource CommandType = 1
	// CommandDeleteSource removes a source.
	CommandDeleteSource CommandType = 2
	// CommandSelectTrack records the selected video track of a source.
	CommandSelectTrack CommandType = 3
	// CommandUpdateManifest merges a probe result into a source.
	CommandUpdateManifest CommandType = 4
)

// Command represents a Raft log command.
type Command struct {
	Type CommandType
	Data any
}

// PutSourceCommand inserts or replaces a source. Source holds the
// JSON-encoded catalog.Source, which keeps zero values such as a bitrate
// of 0 or an empty track list intact.
type PutSourceCommand struct {
	Source []byte
}

// NewPutSourceCommand builds the command that stores src.
func NewPutSourceCommand(src catalog.Source) (Command, error) {
	data, err := json.Marshal(src)
	if err != nil {
		return Command{}, fmt.Errorf("encode source: %w", err)
	}
	return Command{Type: CommandPutSource, Data: PutSourceCommand{Source: data}}, nil
}

// DeleteSourceCommand removes a source.
type DeleteSourceCommand struct {
	ID string
}

// SelectTrackCommand records the video track a player is streaming.
type SelectTrackCommand struct {
	ID      string
	TrackID string
}

// UpdateManifestCommand merges a probe result into the current record of a
// source. Update holds the JSON-encoded catalog.ManifestUpdate.
type UpdateManifestCommand struct {
	ID     string
	Update []byte
}

// NewUpdateManifestCommand builds the command that merges update into the
// source id.
func NewUpdateManifestCommand(id string, update catalog.ManifestUpdate) (Command, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return Command{}, fmt.Errorf("encode manifest update: %w", err)
	}
	return Command{Type: CommandUpdateManifest, Data: UpdateManifestCommand{ID: id, Update: data}}, nil
}

// CatalogFSM implements the raft.FSM interface for catalog state.
type CatalogFSM struct {
	mu      sync.RWMutex
	sources map[string]catalog.Source
	logger  *slog.Logger
}

// NewCatalogFSM creates an empty CatalogFSM.
func NewCatalogFSM(logger *slog.Logger) *CatalogFSM {
	return &CatalogFSM{
		sources: make(map[string]catalog.Source),
		logger:  logger,
	}
}

// Apply applies a Raft log entry to the FSM.
// The returned value is nil or an error, which Manager surfaces through the
// apply future's Response.
func (f *CatalogFSM) Apply(log *raft.Log) any {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&cmd); err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return fmt.Errorf("decode command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Type {
	case CommandPutSource:
		return f.applyPutSource(cmd.Data)
	case CommandDeleteSource:
		return f.applyDeleteSource(cmd.Data)
	case CommandSelectTrack:
		return f.applySelectTrack(cmd.Data)
	case CommandUpdateManifest:
		return f.applyUpdateManifest(cmd.Data)
	default:
		f.logger.Error("unknown command type", "type", cmd.Type)
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

func (f *CatalogFSM) applyPutSource(data any) any {
	put, ok := data.(PutSourceCommand)
	if !ok {
		return fmt.Errorf("invalid put source command data")
	}

	var src catalog.Source
	if err := json.Unmarshal(put.Source, &src); err != nil {
		return fmt.Errorf("decode source: %w", err)
	}

	f.sources[src.ID] = src
	f.logger.Debug("applied put source", "id", src.ID, "url", src.URL)
	return nil
}

func (f *CatalogFSM) applyDeleteSource(data any) any {
	del, ok := data.(DeleteSourceCommand)
	if !ok {
		return fmt.Errorf("invalid delete source command data")
	}

	delete(f.sources, del.ID)
	f.logger.Debug("applied delete source", "id", del.ID)
	return nil
}

func (f *CatalogFSM) applySelectTrack(data any) any {
	sel, ok := data.(SelectTrackCommand)
	if !ok {
		return fmt.Errorf("invalid select track command data")
	}

	src, ok := f.sources[sel.ID]
	if !ok {
		return catalog.ErrSourceNotFound
	}
	src.SelectedVideoTrackID = sel.TrackID
	f.sources[sel.ID] = src
	f.logger.Debug("applied select track", "id", sel.ID, "track", sel.TrackID)
	return nil
}

func (f *CatalogFSM) applyUpdateManifest(data any) any {
	upd, ok := data.(UpdateManifestCommand)
	if !ok {
		return fmt.Errorf("invalid update manifest command data")
	}

	var update catalog.ManifestUpdate
	if err := json.Unmarshal(upd.Update, &update); err != nil {
		return fmt.Errorf("decode manifest update: %w", err)
	}

	src, ok := f.sources[upd.ID]
	if !ok {
		return catalog.ErrSourceNotFound
	}
	f.sources[upd.ID] = update.Apply(src)
	f.logger.Debug("applied manifest update", "id", upd.ID, "error", update.Error)
	return nil
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *CatalogFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return &fsmSnapshot{sources: f.copySources()}, nil
}

// Restore restores the FSM state from a snapshot.
func (f *CatalogFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var sources map[string]catalog.Source
	if err := json.NewDecoder(snapshot).Decode(&sources); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if sources == nil {
		sources = make(map[string]catalog.Source)
	}

	f.mu.Lock()
	f.sources = sources
	f.mu.Unlock()

	f.logger.Info("restored FSM state from snapshot", "sources", len(sources))
	return nil
}

// Get returns a source by ID.
func (f *CatalogFSM) Get(id string) (catalog.Source, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	src, ok := f.sources[id]
	return src, ok
}

// List returns all sources ordered by registration time.
func (f *CatalogFSM) List() []catalog.Source {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return catalog.SortSources(f.sources)
}

// copySources returns a shallow copy of the source map.
// Caller must hold at least a read lock.
func (f *CatalogFSM) copySources() map[string]catalog.Source {
	sources := make(map[string]catalog.Source, len(f.sources))
	for id, src := range f.sources {
		sources[id] = src
	}
	return sources
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	sources map[string]catalog.Source
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.sources)
	if err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases any resources held by the snapshot.
func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}
