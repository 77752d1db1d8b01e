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

	"flyraft/internal/logging"
)

func newTestTransport(t *testing.T, id string) *NetTransport {
	t.Helper()
	tr, err := NewNetTransport(raft.ServerID(id), "127.0.0.1:0", "127.0.0.1:0", NewPeerRegistry(), nil, logging.NewLogger("test"))
	if err != nil {
		t.Fatalf("NewNetTransport failed: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestNetTransportListenAndClose(t *testing.T) {
	tr := newTestTransport(t, "node-1")
	if tr.LocalAddr() == "" {
		t.Fatal("expected a non-empty local address")
	}
}

func TestNetTransportEncodeDecodePeerRoundTrip(t *testing.T) {
	tr := newTestTransport(t, "node-1")
	encoded := tr.EncodePeer("node-2", "10.0.0.2:7001")
	if got := tr.DecodePeer(encoded); got != "10.0.0.2:7001" {
		t.Fatalf("expected round trip to preserve the address, got %q", got)
	}
}

func TestNetTransportResolveFallsBackToRegistry(t *testing.T) {
	tr := newTestTransport(t, "node-1")
	tr.registry.Update(raft.Configuration{Servers: []raft.Server{{ID: "node-2", Address: "10.0.0.2:7001"}}})

	if got := tr.resolve("node-2", ""); got != "10.0.0.2:7001" {
		t.Fatalf("expected resolve to fall back to the registry, got %q", got)
	}
	if got := tr.resolve("node-2", "10.0.0.99:7001"); got != "10.0.0.99:7001" {
		t.Fatalf("expected an explicit target to win over the registry, got %q", got)
	}
}

func TestEncodeDecodeMsgPackRoundTrip(t *testing.T) {
	req := raft.RequestVoteRequest{Term: 7, Candidate: []byte("node-1")}
	payload, err := encodeMsgPack(&req)
	if err != nil {
		t.Fatalf("encodeMsgPack failed: %v", err)
	}

	var decoded raft.RequestVoteRequest
	if err := decodeMsgPack(payload, &decoded); err != nil {
		t.Fatalf("decodeMsgPack failed: %v", err)
	}
	if decoded.Term != req.Term || string(decoded.Candidate) != string(req.Candidate) {
		t.Fatalf("expected decoded request to match original, got %+v", decoded)
	}
}

func TestCopyResponseRejectsMismatchedType(t *testing.T) {
	var resp raft.RequestVoteResponse
	err := copyResponse(&raft.AppendEntriesResponse{}, &resp)
	if err == nil {
		t.Fatal("expected copyResponse to reject a mismatched response type")
	}
}
