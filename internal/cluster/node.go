/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cluster

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"flyraft/internal/config"
	"flyraft/internal/interpreter"
	"flyraft/internal/logging"
	"flyraft/internal/queue"
	"flyraft/internal/raftlog"
)

// PeerRegistry tracks the cluster's current believed membership: which
// ServerID maps to which dial address. NetTransport consults it to turn
// the ServerAddress raft hands it into something it can actually open a
// connection to.
//
// The registry is updated as soon as a configuration entry is appended
// to the log (see RegistryLogStore.StoreLogs), not when it commits. A
// reverted configuration change - one appended during a term that never
// commits, then truncated by a new leader - leaves the registry holding
// a peer that raft itself no longer believes is a member. This node will
// still attempt to dial that address until the next configuration entry
// overwrites it. Accepted tradeoff: the registry only feeds transport
// dialing, never quorum math, so a stale entry costs a failed dial, not
// a safety violation.
type PeerRegistry struct {
	mu    sync.RWMutex
	peers map[raft.ServerID]raft.ServerAddress
}

// NewPeerRegistry returns an empty PeerRegistry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{peers: make(map[raft.ServerID]raft.ServerAddress)}
}

// Update replaces the registry's contents with cfg's servers. It does not
// remove entries for servers cfg omits if cfg is empty, on the theory
// that an empty configuration is more likely a decode artifact than a
// deliberate "remove everyone."
func (r *PeerRegistry) Update(cfg raft.Configuration) {
	if len(cfg.Servers) == 0 {
		return
	}
	peers := make(map[raft.ServerID]raft.ServerAddress, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		peers[srv.ID] = srv.Address
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = peers
}

// Lookup returns the dial address last recorded for id.
func (r *PeerRegistry) Lookup(id raft.ServerID) (raft.ServerAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.peers[id]
	return addr, ok
}

// Snapshot returns a copy of the registry's current contents.
func (r *PeerRegistry) Snapshot() map[raft.ServerID]raft.ServerAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[raft.ServerID]raft.ServerAddress, len(r.peers))
	for k, v := range r.peers {
		out[k] = v
	}
	return out
}

// RegistryLogStore wraps raftlog.Store so that every configuration entry
// durably appended to the log also updates a PeerRegistry, at append
// time rather than at commit time. raft itself is the source of truth
// for quorum and committed configuration; this registry exists only to
// give the transport an address book that tracks the log without
// waiting a round trip for commitment.
//
// DeleteRange, used by raft to truncate a conflicting suffix of the log
// after a term change, intentionally does not undo registry entries
// written by the truncated entries. See the PeerRegistry doc comment for
// why that is safe here.
type RegistryLogStore struct {
	*raftlog.Store
	registry *PeerRegistry
}

// NewRegistryLogStore wraps store, feeding registry from any
// raft.LogConfiguration entry it sees in StoreLogs.
func NewRegistryLogStore(store *raftlog.Store, registry *PeerRegistry) *RegistryLogStore {
	return &RegistryLogStore{Store: store, registry: registry}
}

// StoreLog stores a single log entry and, if it is a configuration
// change, updates the registry before returning.
func (s *RegistryLogStore) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs stores logs in order and updates the registry for any
// configuration entries among them, in the order they appear.
func (s *RegistryLogStore) StoreLogs(logs []*raft.Log) error {
	if err := s.Store.StoreLogs(logs); err != nil {
		return err
	}
	for _, log := range logs {
		if log.Type == raft.LogConfiguration {
			s.registry.Update(raft.DecodeConfiguration(log.Data))
		}
	}
	return nil
}

// Node owns one server's raft instance, its durable log, its copy of the
// interpreter, and the command queue feeding both.
type Node struct {
	ID       raft.ServerID
	Config   *config.Config
	Raft     *raft.Raft
	FSM      *FSM
	LogStore *RegistryLogStore
	Registry *PeerRegistry
	Queue    *queue.Worker
	Logger   *logging.Logger

	leaderCh     <-chan bool
	netTransport *NetTransport
	shutdownCh   chan struct{}
}

// NewNode opens the node's durable log at cfg.RaftLogPath, constructs the
// raft instance over fsm and transport, and returns the assembled Node.
// registry is shared with the caller's transport, since both the log
// store (writer) and the transport (reader) must agree on one
// PeerRegistry instance. It does not bootstrap or join a cluster; call
// Bootstrap or Join for that (see bootstrap.go).
func NewNode(cfg *config.Config, registry *PeerRegistry, transport raft.Transport, logger *logging.Logger) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, fmt.Errorf("cluster: node_id must be set")
	}

	store, err := raftlog.Open(cfg.RaftLogPath)
	if err != nil {
		return nil, fmt.Errorf("cluster: opening raft log at %s: %w", cfg.RaftLogPath, err)
	}

	logStore := NewRegistryLogStore(store, registry)

	interp := interpreter.New()
	fsm := NewFSM(interp, logger.With("component", "fsm"))

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(cfg.NodeID)
	raftCfg.Logger = logging.NewHCLogAdapter(logger.With("component", "raft"), "raft")

	notifyCh := make(chan bool, 1)
	raftCfg.NotifyCh = notifyCh

	snapStore := raft.NewDiscardSnapshotStore()

	r, err := raft.NewRaft(raftCfg, fsm, logStore, logStore, snapStore, transport)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("cluster: starting raft: %w", err)
	}

	n := &Node{
		ID:         raftCfg.LocalID,
		Config:     cfg,
		Raft:       r,
		FSM:        fsm,
		LogStore:   logStore,
		Registry:   registry,
		Queue:      queue.NewWorker(256),
		Logger:     logger,
		leaderCh:   notifyCh,
		shutdownCh: make(chan struct{}),
	}
	return n, nil
}

// IsLeader reports whether this node currently believes itself leader.
func (n *Node) IsLeader() bool {
	return n.Raft.State() == raft.Leader
}

// LeaderHint returns the address this node last saw advertised as
// leader, or "" if none is known.
func (n *Node) LeaderHint() string {
	addr, _ := n.Raft.LeaderWithID()
	return string(addr)
}

// WatchLeadership runs until stopCh closes, logging every leadership
// transition NotifyCh reports. It is informational: raft's internal
// state machine is the only thing that actually acts on these
// transitions.
func (n *Node) WatchLeadership(stopCh <-chan struct{}) {
	for {
		select {
		case leader, ok := <-n.leaderCh:
			if !ok {
				return
			}
			if leader {
				n.Logger.Info("acquired leadership", "node", n.ID)
			} else {
				n.Logger.Info("lost or never acquired leadership", "node", n.ID)
			}
		case <-stopCh:
			return
		}
	}
}

// Shutdown stops the raft instance and the command queue, waiting up to
// timeout for raft's shutdown future to complete.
func (n *Node) Shutdown(timeout time.Duration) error {
	close(n.shutdownCh)
	n.Queue.Stop()
	future := n.Raft.Shutdown()
	errCh := make(chan error, 1)
	go func() { errCh <- future.Error() }()
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("cluster: raft shutdown did not complete within %s", timeout)
	}
}
