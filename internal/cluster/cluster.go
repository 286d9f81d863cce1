package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/agleyzer/trackprobe/internal/catalog"
	"github.com/hashicorp/raft"
)

// applyTimeout bounds how long a write waits for Raft to commit it.
const applyTimeout = 5 * time.Second

var (
	// ErrNotStarted is returned for writes before Start.
	ErrNotStarted = errors.New("cluster not started")

	// ErrShutdown is returned for writes after Shutdown.
	ErrShutdown = errors.New("cluster is shut down")

	// ErrNotLeader is returned when a write is submitted to a follower.
	ErrNotLeader = errors.New("not the cluster leader")
)

// Manager manages a Raft cluster that replicates the source catalog.
// It implements catalog.Store: writes are Raft commands, reads are served
// from the local FSM.
type Manager struct {
	config    Config
	raft      *raft.Raft
	fsm       *CatalogFSM
	transport *raft.NetworkTransport
	logger    *slog.Logger
	mu        sync.RWMutex
	shutdown  bool
}

var _ catalog.Store = (*Manager)(nil)

// NewManager creates a new cluster manager.
func NewManager(config Config, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config: config,
		fsm:    NewCatalogFSM(logger),
		logger: logger,
	}, nil
}

// Start initializes and starts the Raft node.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.raft != nil {
		return fmt.Errorf("cluster already started")
	}

	raftConfig := raft.DefaultConfig()
	// Use bind address as LocalID for consistency with bootstrap configuration
	raftConfig.LocalID = raft.ServerID(m.config.BindAddr)
	raftConfig.HeartbeatTimeout = m.config.HeartbeatTimeout
	raftConfig.ElectionTimeout = m.config.ElectionTimeout
	raftConfig.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	raftConfig.SnapshotInterval = m.config.SnapshotInterval
	raftConfig.SnapshotThreshold = m.config.SnapshotThreshold
	raftConfig.Logger = newHCLogger(m.config.LogLevel)

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapshotStore := raft.NewInmemSnapshotStore()

	addr, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}

	transport, err := raft.NewTCPTransport(m.config.BindAddr, addr, 3, 10*time.Second, nil)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}
	m.transport = transport

	r, err := raft.NewRaft(raftConfig, m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}
	m.raft = r

	configuration := raft.Configuration{
		Servers: make([]raft.Server, 0, len(m.config.Peers)),
	}
	for _, peer := range m.config.Peers {
		// Use peer address as both ID and address for simplicity
		configuration.Servers = append(configuration.Servers, raft.Server{
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(peer),
			Suffrage: raft.Voter,
		})
	}

	future := m.raft.BootstrapCluster(configuration)
	if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
		// Continue anyway - node might be joining existing cluster
		m.logger.Error("failed to bootstrap cluster", "error", err)
	}

	m.logger.Info("cluster started",
		"node_id", m.config.RaftID,
		"bind", m.config.BindAddr,
		"peers", len(m.config.Peers))

	return nil
}

// Put replicates a source insert or replacement.
func (m *Manager) Put(src catalog.Source) error {
	cmd, err := NewPutSourceCommand(src)
	if err != nil {
		return err
	}
	return m.apply(cmd)
}

// Delete replicates a source removal.
func (m *Manager) Delete(id string) error {
	return m.apply(Command{Type: CommandDeleteSource, Data: DeleteSourceCommand{ID: id}})
}

// SelectTrack replicates the selected video track of a source.
func (m *Manager) SelectTrack(id, trackID string) error {
	return m.apply(Command{Type: CommandSelectTrack, Data: SelectTrackCommand{ID: id, TrackID: trackID}})
}

// UpdateManifest replicates a probe result. The FSM merges it into the
// record current at apply time on every node.
func (m *Manager) UpdateManifest(id string, update catalog.ManifestUpdate) (catalog.Source, error) {
	cmd, err := NewUpdateManifestCommand(id, update)
	if err != nil {
		return catalog.Source{}, err
	}
	if err := m.apply(cmd); err != nil {
		return catalog.Source{}, err
	}

	src, ok := m.fsm.Get(id)
	if !ok {
		return catalog.Source{}, catalog.ErrSourceNotFound
	}
	return src, nil
}

// Get returns a source from the local FSM.
func (m *Manager) Get(id string) (catalog.Source, bool) {
	return m.fsm.Get(id)
}

// List returns all sources from the local FSM.
func (m *Manager) List() []catalog.Source {
	return m.fsm.List()
}

// apply submits a command and waits for it to be applied locally.
func (m *Manager) apply(cmd Command) error {
	m.mu.RLock()
	if m.shutdown {
		m.mu.RUnlock()
		return ErrShutdown
	}
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return ErrNotStarted
	}

	data, err := EncodeCommand(cmd)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	future := r.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) {
			return fmt.Errorf("%w (leader: %s)", ErrNotLeader, m.LeaderAddr())
		}
		return fmt.Errorf("apply command: %w", err)
	}

	if resp, ok := future.Response().(error); ok && resp != nil {
		return resp
	}

	return nil
}

// IsLeader returns true if this node is the Raft leader.
func (m *Manager) IsLeader() bool {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return false
	}

	return r.State() == raft.Leader
}

// LeaderAddr returns the address of the current Raft leader.
func (m *Manager) LeaderAddr() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return ""
	}

	leaderAddr, _ := r.LeaderWithID()
	return string(leaderAddr)
}

// State returns the current Raft state.
func (m *Manager) State() string {
	m.mu.RLock()
	r := m.raft
	m.mu.RUnlock()

	if r == nil {
		return "NotStarted"
	}

	return r.State().String()
}

// Peers returns the list of peer addresses.
func (m *Manager) Peers() []string {
	return m.config.Peers
}

// NodeID returns this node's Raft ID.
func (m *Manager) NodeID() string {
	return m.config.RaftID
}

// Stats returns cluster information for health reporting.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"node_id": m.NodeID(),
		"state":   m.State(),
		"leader":  m.LeaderAddr(),
		"peers":   len(m.config.Peers),
	}
}

// Shutdown gracefully shuts down the Raft node.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shutdown {
		return nil
	}

	m.shutdown = true

	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			m.logger.Error("failed to shutdown raft", "error", err)
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}

	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Error("failed to close transport", "error", err)
			return fmt.Errorf("close transport: %w", err)
		}
	}

	m.logger.Info("cluster shut down")
	return nil
}

// WaitForLeader blocks until a leader is elected or context is canceled.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.LeaderAddr() != "" {
				return nil
			}
		}
	}
}
