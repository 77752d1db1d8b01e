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

package protocol

import (
	"net"
	"testing"
	"time"
)

func TestMultiplexRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewMultiplexConn(clientConn, true)
	server := NewMultiplexConn(serverConn, false)
	defer client.Close()
	defer server.Close()

	clientStream, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}

	done := make(chan struct{})
	var serverStream *Stream
	go func() {
		defer close(done)
		serverStream, _ = server.AcceptStream()
	}()

	if err := clientStream.Send(MsgRequestVote, []byte("vote-me")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for AcceptStream")
	}
	if serverStream == nil {
		t.Fatal("server never accepted a stream")
	}

	frame, err := serverStream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(frame.Payload) != "vote-me" {
		t.Errorf("payload mismatch: got %q", frame.Payload)
	}
	if frame.Header.Type != MsgRequestVote {
		t.Errorf("type mismatch: got %v", frame.Header.Type)
	}
}

func TestBufferPoolReuse(t *testing.T) {
	pool := &BufferPool{}
	buf := pool.Get(128)
	if len(buf) != 128 {
		t.Fatalf("expected len 128, got %d", len(buf))
	}
	pool.Put(buf)
	buf2 := pool.Get(64)
	if len(buf2) != 64 {
		t.Fatalf("expected len 64, got %d", len(buf2))
	}
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer serverConn.Close()

	client := NewMultiplexConn(clientConn, true)
	defer client.Close()

	s, err := client.OpenStream()
	if err != nil {
		t.Fatalf("OpenStream failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}
