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
	"path/filepath"
	"testing"

	"github.com/hashicorp/raft"

	"flyraft/internal/raftlog"
)

func TestPeerRegistryUpdateAndLookup(t *testing.T) {
	r := NewPeerRegistry()

	if _, ok := r.Lookup("node-1"); ok {
		t.Fatal("expected no entry before any Update")
	}

	r.Update(raft.Configuration{Servers: []raft.Server{
		{ID: "node-1", Address: "10.0.0.1:7001"},
		{ID: "node-2", Address: "10.0.0.2:7001"},
	}})

	addr, ok := r.Lookup("node-1")
	if !ok || addr != "10.0.0.1:7001" {
		t.Fatalf("expected node-1 -> 10.0.0.1:7001, got %q ok=%v", addr, ok)
	}

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries in snapshot, got %d", len(snap))
	}
}

func TestPeerRegistryUpdateWithEmptyConfigurationIsNoop(t *testing.T) {
	r := NewPeerRegistry()
	r.Update(raft.Configuration{Servers: []raft.Server{{ID: "node-1", Address: "10.0.0.1:7001"}}})

	r.Update(raft.Configuration{})

	addr, ok := r.Lookup("node-1")
	if !ok || addr != "10.0.0.1:7001" {
		t.Fatalf("expected node-1 entry to survive an empty Update, got %q ok=%v", addr, ok)
	}
}

func openTestLogStore(t *testing.T) *RegistryLogStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.raftlog")
	store, err := raftlog.Open(path)
	if err != nil {
		t.Fatalf("raftlog.Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewRegistryLogStore(store, NewPeerRegistry())
}

func configurationLog(index uint64, servers ...raft.Server) *raft.Log {
	enc := raft.EncodeConfiguration(raft.Configuration{Servers: servers})
	return &raft.Log{Index: index, Term: 1, Type: raft.LogConfiguration, Data: enc}
}

func TestRegistryLogStoreStoreLogsUpdatesRegistry(t *testing.T) {
	s := openTestLogStore(t)

	log := configurationLog(1, raft.Server{ID: "node-1", Address: "10.0.0.1:7001"})
	if err := s.StoreLog(log); err != nil {
		t.Fatalf("StoreLog failed: %v", err)
	}

	addr, ok := s.registry.Lookup("node-1")
	if !ok || addr != "10.0.0.1:7001" {
		t.Fatalf("expected registry to learn node-1's address at append time, got %q ok=%v", addr, ok)
	}
}

// TestRegistryLogStoreDeleteRangeDoesNotRollback pins down the Open
// Question decision recorded in DESIGN.md: a configuration entry's effect
// on the registry is not undone by truncating the log entry that carried
// it. A real leader only calls DeleteRange during a truncation/compaction,
// never to "undo" a committed change, so this is intentional.
func TestRegistryLogStoreDeleteRangeDoesNotRollback(t *testing.T) {
	s := openTestLogStore(t)

	log := configurationLog(1, raft.Server{ID: "node-1", Address: "10.0.0.1:7001"})
	if err := s.StoreLog(log); err != nil {
		t.Fatalf("StoreLog failed: %v", err)
	}

	if err := s.DeleteRange(1, 1); err != nil {
		t.Fatalf("DeleteRange failed: %v", err)
	}

	addr, ok := s.registry.Lookup("node-1")
	if !ok || addr != "10.0.0.1:7001" {
		t.Fatalf("expected registry entry to survive DeleteRange, got %q ok=%v", addr, ok)
	}
}
