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
	"testing"

	"github.com/hashicorp/raft"

	clustererrors "flyraft/internal/errors"
	"flyraft/internal/interpreter"
	"flyraft/internal/logging"
)

func newTestFSM() *FSM {
	return NewFSM(interpreter.New(), logging.NewLogger("test"))
}

func TestFSMApplySetThenGet(t *testing.T) {
	f := newTestFSM()

	setLog := &raft.Log{Index: 1, Type: raft.LogCommand, Data: encodeCommand([][]byte{[]byte("SET"), []byte("k"), []byte("v")})}
	if res, ok := f.Apply(setLog).(interpreter.Result); !ok || res.Err != nil {
		t.Fatalf("expected SET to apply cleanly, got %+v", f.Apply(setLog))
	}

	getLog := &raft.Log{Index: 2, Type: raft.LogCommand, Data: encodeCommand([][]byte{[]byte("GET"), []byte("k")})}
	res, ok := f.Apply(getLog).(interpreter.Result)
	if !ok {
		t.Fatalf("expected a GET result, got %T", f.Apply(getLog))
	}
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if s, ok := res.Reply.(string); !ok || s != "v" {
		t.Fatalf("expected GET to return \"v\", got %v", res.Reply)
	}
}

func TestFSMApplyIgnoresNonCommandEntries(t *testing.T) {
	f := newTestFSM()
	noopLog := &raft.Log{Index: 1, Type: raft.LogNoop}
	if got := f.Apply(noopLog); got != nil {
		t.Fatalf("expected noop entries to be ignored, got %v", got)
	}
}

func TestFSMApplyReportsUndecodableEntries(t *testing.T) {
	f := newTestFSM()
	badLog := &raft.Log{Index: 1, Type: raft.LogCommand, Data: []byte{0xff, 0xff, 0xff}}
	if _, ok := f.Apply(badLog).(error); !ok {
		t.Fatal("expected an undecodable entry to return an error")
	}
}

func TestFSMSnapshotAndRestoreAreUnsupported(t *testing.T) {
	f := newTestFSM()
	if _, err := f.Snapshot(); clustererrors.GetCode(err) != clustererrors.ErrCodeSnapshotUnsupported {
		t.Fatalf("expected Snapshot to report ErrCodeSnapshotUnsupported, got %v", err)
	}
}
