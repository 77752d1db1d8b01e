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
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/raft"

	"flyraft/internal/cmdcodec"
	clustererrors "flyraft/internal/errors"
	"flyraft/internal/interpreter"
	"flyraft/internal/queue"
)

func decodeCommand(data []byte) ([][]byte, error) {
	return cmdcodec.Decode(data)
}

func encodeCommand(argv [][]byte) []byte {
	return cmdcodec.Encode(argv)
}

// ApplyTimeout bounds how long a leader waits for a command to commit
// before giving up on it; the entry itself is not withdrawn from the log.
const ApplyTimeout = 5 * time.Second

// HandleCommand runs one client command. On a follower or candidate it
// returns a NotLeader error carrying the current leader's address as a
// hint, so a client or proxying node knows where to retry. On the
// leader it proposes the command through raft and waits for it to
// commit (or to time out) before returning the interpreter's result.
func (n *Node) HandleCommand(ctx context.Context, argv [][]byte) (interpreter.Result, error) {
	if len(argv) == 0 {
		return interpreter.Result{}, clustererrors.EmptyCommand()
	}

	if n.Raft.State() != raft.Leader {
		addr, _ := n.Raft.LeaderWithID()
		return interpreter.Result{}, clustererrors.NotLeader(string(addr))
	}

	future := n.Raft.Apply(encodeCommand(argv), ApplyTimeout)
	if err := future.Error(); err != nil {
		return interpreter.Result{}, translateRaftError(err)
	}

	resp := future.Response()
	switch v := resp.(type) {
	case interpreter.Result:
		return v, nil
	case error:
		return interpreter.Result{}, v
	default:
		return interpreter.Result{}, nil
	}
}

// ClientReply renders a command outcome the way the bus's client-facing
// handler replies it: "-NOLEADER" when no leader is known, "LEADERIS
// host:port" as a redirect when one is, or the interpreter's own reply
// on success.
func ClientReply(result interpreter.Result, err error) interface{} {
	if err == nil {
		return result.Reply
	}
	if ce, ok := err.(*clustererrors.ClusterError); ok && ce.Code == clustererrors.ErrCodeNotLeader {
		if ce.LeaderAddr != "" {
			return "LEADERIS " + ce.LeaderAddr
		}
		return "-NOLEADER"
	}
	return err
}

func translateRaftError(err error) error {
	switch err {
	case raft.ErrNotLeader, raft.ErrLeadershipLost, raft.ErrLeadershipTransferInProgress:
		return clustererrors.NotLeader("")
	case raft.ErrEnqueueTimeout:
		return clustererrors.NewLeadershipError("raft apply timed out waiting for commit").WithCause(err)
	default:
		return err
	}
}

// RunQueue drains the node's single request queue in order, dispatching
// each command to HandleCommand. Pairing the MPSC queue with a single
// consumer goroutine guarantees commands from many client connections
// are proposed to raft in the order they were accepted, which matters
// for read-your-writes consistency on the leader.
func (n *Node) RunQueue(ctx context.Context, worker *queue.Worker) {
	worker.Handle(queue.KindCommand, func(req *queue.Request) queue.Reply {
		result, err := n.HandleCommand(ctx, req.Argv)
		if err != nil {
			return queue.Reply{Err: err}
		}
		return queue.Reply{Result: result.Reply, Err: result.Err}
	})
	worker.Handle(queue.KindCfgChange, func(req *queue.Request) queue.Reply {
		result, err := n.HandleClientCfgChange(req.Argv)
		if err != nil {
			return queue.Reply{Err: err}
		}
		return queue.Reply{Result: result}
	})
	worker.Handle(queue.KindInfo, func(req *queue.Request) queue.Reply {
		return queue.Reply{Result: NodeInfo(n)}
	})
	worker.Run(ctx)
}

// NodeInfo renders the human-readable status document spec'd for the
// client-facing INFO command: this node's id and role, the leader it
// currently knows about, one entry per registered peer, and the log's
// current/committed/applied indices. It is read entirely from state the
// node already maintains (raft.Raft.Stats(), the peer registry, the
// transport's health tracker) and never touches the log file itself.
// The result is a single line, space-separated, since the client bus is
// one reply line per request; a real multi-line document would need a
// framing change this bus doesn't have.
func NodeInfo(n *Node) string {
	stats := n.Raft.Stats()
	leaderAddr, leaderID := n.Raft.LeaderWithID()

	parts := []string{
		fmt.Sprintf("node_id=%s", n.ID),
		fmt.Sprintf("role=%s", n.Raft.State()),
		fmt.Sprintf("leader_id=%s", leaderID),
		fmt.Sprintf("leader_addr=%s", leaderAddr),
		fmt.Sprintf("term=%s", stats["term"]),
	}

	peers := n.Registry.Snapshot()
	ids := make([]raft.ServerID, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for i, id := range ids {
		state := "unknown"
		if n.netTransport != nil {
			if n.netTransport.Health().IsHealthy(id) {
				state = "healthy"
			} else {
				state = "suspect"
			}
		}
		host, port, err := net.SplitHostPort(string(peers[id]))
		if err != nil {
			host, port = string(peers[id]), ""
		}
		parts = append(parts, fmt.Sprintf("node%d:id=%s,state=%s,addr=%s,port=%s", i+1, id, state, host, port))
	}

	entries := uint64(0)
	if first, err := n.LogStore.FirstIndex(); err == nil {
		if last, err := n.LogStore.LastIndex(); err == nil && last >= first && last != 0 {
			entries = last - first + 1
		}
	}
	parts = append(parts,
		fmt.Sprintf("log_entries=%d", entries),
		fmt.Sprintf("last_log_index=%s", stats["last_log_index"]),
		fmt.Sprintf("commit_index=%s", stats["commit_index"]),
		fmt.Sprintf("applied_index=%s", stats["applied_index"]),
	)

	return strings.Join(parts, " ")
}
