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
Package interpreter is a minimal in-memory key/value engine standing in
for the host command interpreter the cluster layer treats as opaque.
Every command runs under a single lock taken at apply time, matching the
single-threaded apply semantics the FSM requires: commands never race
each other, so the interpreter itself needs no internal synchronization
beyond that one lock.
*/
package interpreter

import (
	"sort"
	"strings"
	"sync"

	clustererrors "flyraft/internal/errors"
)

// Engine is the minimal storage surface a command interpreter exposes.
// Grounded on the narrower Put/Get/Delete/Scan shape of a disk storage
// engine, stripped of buffer pool, WAL, and page management concerns
// that belong to a real disk engine and not to this in-memory stand-in.
type Engine interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, bool)
	Delete(key []byte) bool
	Scan(prefix []byte) map[string][]byte
}

// memEngine is the only Engine implementation: an in-memory map guarded
// by the caller's apply-time lock.
type memEngine struct {
	data map[string][]byte
}

func newMemEngine() *memEngine {
	return &memEngine{data: make(map[string][]byte)}
}

func (m *memEngine) Put(key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[string(key)] = cp
	return nil
}

func (m *memEngine) Get(key []byte) ([]byte, bool) {
	v, ok := m.data[string(key)]
	return v, ok
}

func (m *memEngine) Delete(key []byte) bool {
	_, ok := m.data[string(key)]
	delete(m.data, string(key))
	return ok
}

func (m *memEngine) Scan(prefix []byte) map[string][]byte {
	out := make(map[string][]byte)
	p := string(prefix)
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			out[k] = v
		}
	}
	return out
}

// Result is the outcome of applying one command.
type Result struct {
	Reply interface{} // string, int64, []string, or nil
	Err   error
}

// Interpreter dispatches argv-form commands against an Engine. It holds
// the single lock apply-time execution requires.
type Interpreter struct {
	mu     sync.Mutex
	engine *memEngine
}

// New returns an Interpreter over a fresh, empty in-memory Engine.
func New() *Interpreter {
	return &Interpreter{engine: newMemEngine()}
}

// Apply executes one command. It is safe to call concurrently, but every
// call serializes behind the interpreter's single lock by design: the
// FSM calling this must never let two commands interleave.
func (i *Interpreter) Apply(argv [][]byte) Result {
	if len(argv) == 0 {
		return Result{Err: clustererrors.EmptyCommand()}
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	name := strings.ToUpper(string(argv[0]))
	args := argv[1:]

	switch name {
	case "PING":
		return Result{Reply: "PONG"}
	case "SET":
		if len(args) != 2 {
			return Result{Err: clustererrors.WrongArity("SET")}
		}
		i.engine.Put(args[0], args[1])
		return Result{Reply: "OK"}
	case "GET":
		if len(args) != 1 {
			return Result{Err: clustererrors.WrongArity("GET")}
		}
		v, ok := i.engine.Get(args[0])
		if !ok {
			return Result{Reply: nil}
		}
		return Result{Reply: string(v)}
	case "DEL":
		if len(args) < 1 {
			return Result{Err: clustererrors.WrongArity("DEL")}
		}
		var n int64
		for _, k := range args {
			if i.engine.Delete(k) {
				n++
			}
		}
		return Result{Reply: n}
	case "EXISTS":
		if len(args) != 1 {
			return Result{Err: clustererrors.WrongArity("EXISTS")}
		}
		_, ok := i.engine.Get(args[0])
		if ok {
			return Result{Reply: int64(1)}
		}
		return Result{Reply: int64(0)}
	case "KEYS":
		prefix := []byte("")
		if len(args) == 1 {
			prefix = args[0]
		}
		scanned := i.engine.Scan(prefix)
		keys := make([]string, 0, len(scanned))
		for k := range scanned {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return Result{Reply: keys}
	default:
		return Result{Err: clustererrors.UnknownCommand(name)}
	}
}

// Snapshot returns a copy of the full key space; nothing in this tree
// calls it, and the FSM itself declines real raft snapshots (see
// cluster.FSM.Snapshot).
func (i *Interpreter) Snapshot() map[string][]byte {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.engine.Scan(nil)
}
