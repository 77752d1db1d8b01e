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

package interpreter

import "testing"

func argv(s ...string) [][]byte {
	out := make([][]byte, len(s))
	for i, v := range s {
		out[i] = []byte(v)
	}
	return out
}

func TestSetGet(t *testing.T) {
	i := New()
	if r := i.Apply(argv("SET", "k", "v")); r.Err != nil || r.Reply != "OK" {
		t.Fatalf("SET failed: %+v", r)
	}
	r := i.Apply(argv("GET", "k"))
	if r.Err != nil || r.Reply != "v" {
		t.Fatalf("GET mismatch: %+v", r)
	}
}

func TestGetMissing(t *testing.T) {
	i := New()
	r := i.Apply(argv("GET", "missing"))
	if r.Err != nil || r.Reply != nil {
		t.Fatalf("expected nil reply for missing key, got %+v", r)
	}
}

func TestDel(t *testing.T) {
	i := New()
	i.Apply(argv("SET", "a", "1"))
	i.Apply(argv("SET", "b", "2"))
	r := i.Apply(argv("DEL", "a", "b", "c"))
	if r.Err != nil || r.Reply != int64(2) {
		t.Fatalf("expected 2 deletions, got %+v", r)
	}
}

func TestExists(t *testing.T) {
	i := New()
	i.Apply(argv("SET", "k", "v"))
	if r := i.Apply(argv("EXISTS", "k")); r.Reply != int64(1) {
		t.Fatalf("expected exists=1, got %+v", r)
	}
	if r := i.Apply(argv("EXISTS", "missing")); r.Reply != int64(0) {
		t.Fatalf("expected exists=0, got %+v", r)
	}
}

func TestKeys(t *testing.T) {
	i := New()
	i.Apply(argv("SET", "user:1", "a"))
	i.Apply(argv("SET", "user:2", "b"))
	i.Apply(argv("SET", "other", "c"))

	r := i.Apply(argv("KEYS", "user:"))
	keys, ok := r.Reply.([]string)
	if !ok || len(keys) != 2 {
		t.Fatalf("expected 2 keys with prefix, got %+v", r.Reply)
	}
}

func TestUnknownCommand(t *testing.T) {
	i := New()
	r := i.Apply(argv("FROBNICATE"))
	if r.Err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestWrongArity(t *testing.T) {
	i := New()
	r := i.Apply(argv("SET", "onlyonearg"))
	if r.Err == nil {
		t.Fatal("expected error for wrong arity")
	}
}

func TestEmptyCommand(t *testing.T) {
	i := New()
	r := i.Apply(nil)
	if r.Err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestPing(t *testing.T) {
	i := New()
	r := i.Apply(argv("PING"))
	if r.Reply != "PONG" {
		t.Fatalf("expected PONG, got %+v", r)
	}
}
