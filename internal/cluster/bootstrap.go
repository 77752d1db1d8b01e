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
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"flyraft/internal/config"
	clustererrors "flyraft/internal/errors"
	"flyraft/internal/logging"
	clustertls "flyraft/internal/tls"
)

// CfgChangeRequest is sent by a node asking an existing cluster member to
// add or remove it as a voter.
type CfgChangeRequest struct {
	ID      raft.ServerID
	Address raft.ServerAddress
	Remove  bool
}

// CfgChangeResponse carries the result of a CfgChangeRequest. Err is a
// plain string rather than an error so it survives the msgpack round
// trip without a custom codec.
type CfgChangeResponse struct {
	Err string
}

// Bootstrap forms a brand-new single-node (or fixed seed) cluster out of
// n, voting in every address listed in n.Config.Peers alongside n itself.
// Only the node with Role == "init" should call this, and only once per
// cluster's lifetime: calling it again on a log that already has
// committed entries returns raft.ErrCantBootstrap.
func Bootstrap(n *Node) error {
	servers := []raft.Server{
		{ID: n.ID, Address: raft.ServerAddress(fmt.Sprintf("%s:%d", n.Config.BindAddr, n.Config.ClusterPort))},
	}
	for _, peer := range n.Config.Peers {
		servers = append(servers, raft.Server{
			ID:      raft.ServerID(peer),
			Address: raft.ServerAddress(peer),
		})
	}
	future := n.Raft.BootstrapCluster(raft.Configuration{Servers: servers})
	return future.Error()
}

// Join asks joinAddr, an existing cluster member, to add n as a voter.
// If joinAddr is not itself the leader, the request fails with the
// leader's address in the response's hint and the caller is expected to
// retry against it: this node does not chase the redirect itself,
// mirroring how client commands are redirected in handlers.go.
func Join(n *Node, transport *NetTransport, joinAddr string) error {
	req := CfgChangeRequest{
		ID:      n.ID,
		Address: raft.ServerAddress(fmt.Sprintf("%s:%d", n.Config.BindAddr, n.Config.ClusterPort)),
	}
	resp, err := transport.RequestCfgChange(joinAddr, req)
	if err != nil {
		return err
	}
	if resp.Err != "" {
		return fmt.Errorf("cluster: join rejected by %s: %s", joinAddr, resp.Err)
	}
	return nil
}

// Recover rebuilds a node's membership from whatever raft.Configuration
// is already durable in its log, used when restarting a node whose
// config file has gone stale relative to the log it holds. It is a thin
// wrapper: raft.NewRaft already replays the log's configuration entries
// on startup, so Recover exists only to surface that the caller does not
// need to pass n.Config.Peers again when restarting an existing node.
func Recover(n *Node) raft.Configuration {
	future := n.Raft.GetConfiguration()
	if err := future.Error(); err != nil {
		n.Logger.Warn("reading configuration on recovery failed", "err", err)
		return raft.Configuration{}
	}
	return future.Configuration()
}

// HandleCfgChange implements the leader side of Join: called on the
// transport's cfgChangeFunc hook, it adds req as a non-voting member if
// this node is the leader, or reports the current leader hint if not.
// The new member stays non-voting until watchCatchup observes it has
// replicated enough of the log to promote, mirroring
// node_has_sufficient_logs: a peer admitted straight to voter status
// before it has caught up could swing quorum math before it can actually
// serve reads from its own state.
func (n *Node) HandleCfgChange(req CfgChangeRequest) CfgChangeResponse {
	if n.Raft.State() != raft.Leader {
		hint := n.LeaderHint()
		if hint == "" {
			return CfgChangeResponse{Err: "no leader known"}
		}
		return CfgChangeResponse{Err: "not leader, retry against " + hint}
	}

	if req.Remove {
		future := n.Raft.RemoveServer(req.ID, 0, 0)
		if err := future.Error(); err != nil {
			return CfgChangeResponse{Err: err.Error()}
		}
		return CfgChangeResponse{}
	}

	future := n.Raft.AddNonvoter(req.ID, req.Address, 0, 0)
	if err := future.Error(); err != nil {
		return CfgChangeResponse{Err: err.Error()}
	}
	n.watchCatchup(req.ID, req.Address)
	return CfgChangeResponse{}
}

// HandleClientCfgChange implements the client-facing CFGCHANGE command
// (spec's CFGCHANGE_ADDNODE/CFGCHANGE_REMOVENODE request kinds): argv is
// ["ADD", id, addr] or ["REMOVE", id]. Only the leader accepts these; a
// follower returns the same NotLeader redirect a client command would.
// ADD takes the same non-voting-then-promote path as the peer-initiated
// Join handshake above, since both are ultimately "admit a new member".
func (n *Node) HandleClientCfgChange(argv [][]byte) (string, error) {
	if len(argv) < 2 {
		return "", clustererrors.NewValidationError("cfgchange requires a verb and a node id")
	}
	if n.Raft.State() != raft.Leader {
		addr, _ := n.Raft.LeaderWithID()
		return "", clustererrors.NotLeader(string(addr))
	}

	verb := strings.ToUpper(string(argv[0]))
	id := raft.ServerID(argv[1])

	switch verb {
	case "ADD":
		if len(argv) != 3 {
			return "", clustererrors.NewValidationError("cfgchange add requires a node id and an address")
		}
		addr := raft.ServerAddress(argv[2])
		future := n.Raft.AddNonvoter(id, addr, 0, 0)
		if err := future.Error(); err != nil {
			return "", translateRaftError(err)
		}
		n.watchCatchup(id, addr)
		return "OK", nil
	case "REMOVE":
		future := n.Raft.RemoveServer(id, 0, 0)
		if err := future.Error(); err != nil {
			return "", translateRaftError(err)
		}
		return "OK", nil
	default:
		return "", clustererrors.NewValidationError("unknown cfgchange verb " + verb)
	}
}

// catchupPollInterval and catchupTimeout bound how long a leader polls a
// newly admitted non-voting member's replication progress before giving
// up on promoting it.
const (
	catchupPollInterval = 500 * time.Millisecond
	catchupTimeout      = 5 * time.Minute
)

// watchCatchup implements node_has_sufficient_logs: it polls the
// transport's observed replication progress for id and, once id has
// acknowledged an index within one entry of this node's own last index,
// submits the AddVoter that promotes it from non-voting to voting. It
// gives up silently after catchupTimeout, leaving id non-voting - a
// stalled catch-up costs read capacity on that member, not cluster
// safety, so there is nothing to escalate to. The goroutine also exits
// early if this node stops being leader or shuts down, since only the
// current leader can submit the promotion.
func (n *Node) watchCatchup(id raft.ServerID, addr raft.ServerAddress) {
	if n.netTransport == nil {
		return
	}
	go func() {
		deadline := time.Now().Add(catchupTimeout)
		ticker := time.NewTicker(catchupPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-n.shutdownCh:
				return
			case <-ticker.C:
			}

			if time.Now().After(deadline) {
				n.Logger.Warn("giving up waiting for node to catch up", "id", id)
				return
			}
			if n.Raft.State() != raft.Leader {
				return
			}

			last, ok := n.netTransport.PeerLastLog(id)
			if !ok {
				continue
			}
			if last+1 < n.Raft.LastIndex() {
				continue
			}

			future := n.Raft.AddVoter(id, addr, 0, 0)
			if err := future.Error(); err != nil {
				n.Logger.Warn("promoting caught-up node failed", "id", id, "err", err)
				return
			}
			n.Logger.Info("promoted non-voting node to voter", "id", id)
			return
		}
	}()
}

// Setup opens a NetTransport bound to cfg's cluster address, constructs
// the Node over it, wires the node's HandleCfgChange into the transport,
// runs Bootstrap, Join, or neither depending on cfg.Role, and returns
// both.
func Setup(cfg *config.Config, logger *logging.Logger) (*Node, *NetTransport, error) {
	registry := NewPeerRegistry()
	bindAddr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.ClusterPort)

	var tlsCfg *tls.Config
	if cfg.TLSEnabled {
		var err error
		tlsCfg, err = clustertls.LoadPeerTLSConfig(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("cluster: loading peer TLS config: %w", err)
		}
	}

	transport, err := NewNetTransport(raft.ServerID(cfg.NodeID), bindAddr, bindAddr, registry, tlsCfg, logger.With("component", "transport"))
	if err != nil {
		return nil, nil, err
	}

	n, err := NewNode(cfg, registry, transport, logger)
	if err != nil {
		transport.Close()
		return nil, nil, err
	}
	n.netTransport = transport
	transport.SetCfgChangeHandler(n.HandleCfgChange)

	switch cfg.Role {
	case "init":
		if err := Bootstrap(n); err != nil {
			return nil, nil, fmt.Errorf("cluster: bootstrap failed: %w", err)
		}
	case "join":
		if err := Join(n, transport, cfg.Join); err != nil {
			return nil, nil, fmt.Errorf("cluster: join failed: %w", err)
		}
	case "standalone":
		// recovers whatever configuration the log already holds; see Recover.
	}

	return n, transport, nil
}

// PeerHealth tracks liveness for one remote peer using a phi-accrual
// failure detector, purely for operator-facing metrics and logging: it
// has no say over raft's own election or failover decisions, which
// hashicorp/raft makes internally from its own heartbeat timing.
type PeerHealth struct {
	mu       sync.RWMutex
	detector map[raft.ServerID]*phiDetector
	threshold float64
}

// NewPeerHealth returns a PeerHealth using threshold as the phi value
// above which a peer is reported unhealthy.
func NewPeerHealth(threshold float64) *PeerHealth {
	return &PeerHealth{
		detector:  make(map[raft.ServerID]*phiDetector),
		threshold: threshold,
	}
}

// Beat records a heartbeat observed from id, such as a successful
// AppendEntries reply.
func (h *PeerHealth) Beat(id raft.ServerID) {
	h.mu.Lock()
	d, ok := h.detector[id]
	if !ok {
		d = newPhiDetector()
		h.detector[id] = d
	}
	h.mu.Unlock()
	d.heartbeat()
}

// IsHealthy reports whether id's phi score is still under threshold.
// An id never observed is reported healthy: absence of data is not
// evidence of failure.
func (h *PeerHealth) IsHealthy(id raft.ServerID) bool {
	h.mu.RLock()
	d, ok := h.detector[id]
	h.mu.RUnlock()
	if !ok {
		return true
	}
	return d.phi() <= h.threshold
}

// phiDetector is a trimmed phi-accrual detector: just enough statistics
// to score "how overdue is the next heartbeat", without the fencing and
// failover state machine a full FailoverManager would add - that
// machinery now belongs to raft itself.
type phiDetector struct {
	mu         sync.Mutex
	intervals  []float64
	lastBeat   time.Time
	mean       float64
	variance   float64
	maxSamples int
}

func newPhiDetector() *phiDetector {
	return &phiDetector{maxSamples: 100}
}

func (d *phiDetector) heartbeat() {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if !d.lastBeat.IsZero() {
		interval := now.Sub(d.lastBeat).Seconds() * 1000
		d.intervals = append(d.intervals, interval)
		if len(d.intervals) > d.maxSamples {
			d.intervals = d.intervals[1:]
		}
		d.updateStats()
	}
	d.lastBeat = now
}

func (d *phiDetector) updateStats() {
	sum := 0.0
	for _, v := range d.intervals {
		sum += v
	}
	d.mean = sum / float64(len(d.intervals))

	sumSq := 0.0
	for _, v := range d.intervals {
		diff := v - d.mean
		sumSq += diff * diff
	}
	d.variance = sumSq / float64(len(d.intervals))
}

func (d *phiDetector) phi() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.intervals) < 3 {
		return 0
	}
	if d.lastBeat.IsZero() {
		return math.Inf(1)
	}
	timeSinceLast := time.Since(d.lastBeat).Seconds() * 1000
	stdDev := math.Sqrt(d.variance)
	if stdDev < 1 {
		stdDev = 1
	}
	y := (timeSinceLast - d.mean) / stdDev
	e := math.Exp(-y * (1.5976 + 0.070566*y*y))
	if timeSinceLast > d.mean {
		return -math.Log10(e / (1 + e))
	}
	return -math.Log10(1 - 1/(1+e))
}
