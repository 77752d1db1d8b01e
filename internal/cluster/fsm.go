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

/*
Package cluster wires a raft.Raft instance to the interpreter, the
on-disk log store, and the cluster bus transport, turning a single-node
key-value interpreter into a replicated service.
*/
package cluster

import (
	"io"

	"github.com/hashicorp/raft"

	clustererrors "flyraft/internal/errors"
	"flyraft/internal/interpreter"
	"flyraft/internal/logging"
)

// FSM adapts interpreter.Interpreter to raft.FSM. Every committed log
// entry is decoded back into an argv and applied in log order, which is
// what gives every node's copy of the interpreter the same state.
type FSM struct {
	interp *interpreter.Interpreter
	logger *logging.Logger
}

// NewFSM wraps interp for use as a raft.FSM.
func NewFSM(interp *interpreter.Interpreter, logger *logging.Logger) *FSM {
	return &FSM{interp: interp, logger: logger}
}

// Apply decodes and applies one committed log entry. The returned value
// is handed back to the caller of raft.Raft.Apply via ApplyFuture.Response.
func (f *FSM) Apply(log *raft.Log) interface{} {
	if log.Type != raft.LogCommand {
		return nil
	}
	argv, err := decodeCommand(log.Data)
	if err != nil {
		f.logger.Error("dropping unreadable log entry", "index", log.Index, "err", err)
		return err
	}
	return f.interp.Apply(argv)
}

// Snapshot declines to produce a raft snapshot. Log compaction by
// snapshotting is out of scope here: raftlog.Store keeps the full log,
// and a new node catches up by replaying it rather than by installing a
// state machine snapshot.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return nil, clustererrors.SnapshotUnsupported()
}

// Restore always fails, for the same reason Snapshot does: this FSM
// never produces a snapshot for a leader to send, so no follower should
// ever be asked to install one.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	return clustererrors.SnapshotUnsupported()
}
