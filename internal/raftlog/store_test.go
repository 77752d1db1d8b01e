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

package raftlog

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/hashicorp/raft"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.raftlog")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreLogAndGetLog(t *testing.T) {
	s := openTestStore(t)

	entries := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("a")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("b")},
		{Index: 3, Term: 2, Type: raft.LogCommand, Data: []byte("c")},
	}
	if err := s.StoreLogs(entries); err != nil {
		t.Fatalf("StoreLogs failed: %v", err)
	}

	first, _ := s.FirstIndex()
	last, _ := s.LastIndex()
	if first != 1 || last != 3 {
		t.Fatalf("expected first=1 last=3, got first=%d last=%d", first, last)
	}

	var got raft.Log
	if err := s.GetLog(2, &got); err != nil {
		t.Fatalf("GetLog failed: %v", err)
	}
	if !bytes.Equal(got.Data, []byte("b")) || got.Term != 1 {
		t.Errorf("unexpected entry: %+v", got)
	}
}

func TestGetLogMissing(t *testing.T) {
	s := openTestStore(t)
	var got raft.Log
	if err := s.GetLog(42, &got); err != raft.ErrLogNotFound {
		t.Errorf("expected ErrLogNotFound, got %v", err)
	}
}

func TestDeleteRange(t *testing.T) {
	s := openTestStore(t)
	entries := []*raft.Log{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
		{Index: 3, Term: 1, Data: []byte("c")},
		{Index: 4, Term: 1, Data: []byte("d")},
	}
	if err := s.StoreLogs(entries); err != nil {
		t.Fatalf("StoreLogs failed: %v", err)
	}

	if err := s.DeleteRange(3, 4); err != nil {
		t.Fatalf("DeleteRange failed: %v", err)
	}

	last, _ := s.LastIndex()
	if last != 2 {
		t.Errorf("expected last index 2 after truncation, got %d", last)
	}

	var got raft.Log
	if err := s.GetLog(3, &got); err != raft.ErrLogNotFound {
		t.Errorf("expected entry 3 to be gone, got err=%v", err)
	}
}

func TestStableStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Set([]byte("CurrentTerm"), []byte("not-a-number")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := s.Get([]byte("CurrentTerm"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "not-a-number" {
		t.Errorf("got %q, want %q", val, "not-a-number")
	}

	if err := s.SetUint64([]byte("LastVoteTerm"), 7); err != nil {
		t.Fatalf("SetUint64 failed: %v", err)
	}
	n, err := s.GetUint64([]byte("LastVoteTerm"))
	if err != nil {
		t.Fatalf("GetUint64 failed: %v", err)
	}
	if n != 7 {
		t.Errorf("got %d, want 7", n)
	}
}

func TestReplayAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.raftlog")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := s.StoreLogs([]*raft.Log{{Index: 1, Term: 1, Data: []byte("x")}}); err != nil {
		t.Fatalf("StoreLogs failed: %v", err)
	}
	if err := s.SetUint64([]byte("CurrentTerm"), 3); err != nil {
		t.Fatalf("SetUint64 failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	var got raft.Log
	if err := reopened.GetLog(1, &got); err != nil {
		t.Fatalf("GetLog after reopen failed: %v", err)
	}
	if string(got.Data) != "x" {
		t.Errorf("got %q, want %q", got.Data, "x")
	}

	term, err := reopened.GetUint64([]byte("CurrentTerm"))
	if err != nil {
		t.Fatalf("GetUint64 after reopen failed: %v", err)
	}
	if term != 3 {
		t.Errorf("got term %d, want 3", term)
	}
}

func TestDeleteRangeSurvivesReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delrange.raftlog")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.StoreLogs([]*raft.Log{
		{Index: 1, Term: 1, Data: []byte("a")},
		{Index: 2, Term: 1, Data: []byte("b")},
	}); err != nil {
		t.Fatalf("StoreLogs failed: %v", err)
	}
	if err := s.DeleteRange(2, 2); err != nil {
		t.Fatalf("DeleteRange failed: %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	var got raft.Log
	if err := reopened.GetLog(2, &got); err != raft.ErrLogNotFound {
		t.Errorf("expected entry 2 to stay deleted after replay, got err=%v", err)
	}
	last, _ := reopened.LastIndex()
	if last != 1 {
		t.Errorf("expected last index 1 after replay, got %d", last)
	}
}
