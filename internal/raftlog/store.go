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
Package raftlog is the node's persistent log: it implements both
raft.LogStore and raft.StableStore over a single append-only file, so
log entries, term, and vote all survive a restart in one place.

On-disk records are fixed little-endian regardless of host pointer
size (see bigendian_unsupported.go). Every record begins with a one byte
kind tag:

	recordLog:         kind | index u64 | term u64 | logType u8 | dataLen u64 | data
	recordStableSet:   kind | keyLen u64 | key | valLen u64 | val
	recordDeleteRange: kind | min u64 | max u64

DeleteRange is applied to this store's own index so raft's log-matching
invariant holds, but nothing here rolls back any side effect another
package already took while the deleted entries were still live — see
internal/cluster's node registry, which mutates at StoreLogs time and
never consults DeleteRange.
*/
package raftlog

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hashicorp/raft"
)

const (
	recordLog byte = iota + 1
	recordStableSet
	recordDeleteRange
)

// Store implements raft.LogStore and raft.StableStore backed by a single
// append-only file.
type Store struct {
	mu   sync.Mutex
	file *os.File

	logs       map[uint64]*raft.Log
	firstIndex uint64
	lastIndex  uint64

	stable map[string][]byte
}

// Open creates or reopens the log file at path, replaying any existing
// records into memory.
func Open(path string) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("raftlog: opening %s: %w", path, err)
	}
	s := &Store{
		file:   f,
		logs:   make(map[uint64]*raft.Log),
		stable: make(map[string][]byte),
	}
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and closes the underlying file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func (s *Store) replay() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(s.file)
	for {
		kind, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("raftlog: reading record kind: %w", err)
		}
		switch kind {
		case recordLog:
			index, err := readUint64(r)
			if err != nil {
				return err
			}
			term, err := readUint64(r)
			if err != nil {
				return err
			}
			logType, err := r.ReadByte()
			if err != nil {
				return err
			}
			data, err := readBytes(r)
			if err != nil {
				return err
			}
			entry := &raft.Log{Index: index, Term: term, Type: raft.LogType(logType), Data: data}
			s.logs[index] = entry
			if s.firstIndex == 0 || index < s.firstIndex {
				s.firstIndex = index
			}
			if index > s.lastIndex {
				s.lastIndex = index
			}
		case recordStableSet:
			key, err := readBytes(r)
			if err != nil {
				return err
			}
			val, err := readBytes(r)
			if err != nil {
				return err
			}
			s.stable[string(key)] = val
		case recordDeleteRange:
			min, err := readUint64(r)
			if err != nil {
				return err
			}
			max, err := readUint64(r)
			if err != nil {
				return err
			}
			s.applyDeleteRange(min, max)
		default:
			return fmt.Errorf("raftlog: corrupt log, unknown record kind 0x%02x", kind)
		}
	}
	return nil
}

func (s *Store) applyDeleteRange(min, max uint64) {
	for i := min; i <= max; i++ {
		delete(s.logs, i)
	}
	if len(s.logs) == 0 {
		s.firstIndex, s.lastIndex = 0, 0
		return
	}
	var first, last uint64
	for idx := range s.logs {
		if first == 0 || idx < first {
			first = idx
		}
		if idx > last {
			last = idx
		}
	}
	s.firstIndex, s.lastIndex = first, last
}

func writeUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("raftlog: reading uint64: %w", err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint64(w, uint64(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader) ([]byte, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("raftlog: reading %d byte payload: %w", n, err)
	}
	return buf, nil
}

// ---------------------------------------------------------------------
// raft.LogStore
// ---------------------------------------------------------------------

// FirstIndex returns the lowest index written, or 0 if the log is empty.
func (s *Store) FirstIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstIndex, nil
}

// LastIndex returns the highest index written, or 0 if the log is empty.
func (s *Store) LastIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex, nil
}

// GetLog fills log with the entry at the given index.
func (s *Store) GetLog(index uint64, log *raft.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logs[index]
	if !ok {
		return raft.ErrLogNotFound
	}
	*log = *entry
	return nil
}

// StoreLog persists a single log entry.
func (s *Store) StoreLog(log *raft.Log) error {
	return s.StoreLogs([]*raft.Log{log})
}

// StoreLogs persists a batch of log entries and fsyncs once at the end.
func (s *Store) StoreLogs(logs []*raft.Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	for _, log := range logs {
		if err := w.WriteByte(recordLog); err != nil {
			return err
		}
		if err := writeUint64(w, log.Index); err != nil {
			return err
		}
		if err := writeUint64(w, log.Term); err != nil {
			return err
		}
		if err := w.WriteByte(byte(log.Type)); err != nil {
			return err
		}
		if err := writeBytes(w, log.Data); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("raftlog: flushing log batch: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("raftlog: fsyncing log batch: %w", err)
	}

	for _, log := range logs {
		cp := *log
		s.logs[log.Index] = &cp
		if s.firstIndex == 0 || log.Index < s.firstIndex {
			s.firstIndex = log.Index
		}
		if log.Index > s.lastIndex {
			s.lastIndex = log.Index
		}
	}
	return nil
}

// DeleteRange removes entries [min, max] from the log's own index. This
// is the raw index operation raft relies on for log-matching during
// conflict resolution; it carries no knowledge of, and does not revert,
// any side effect another package took while those entries were live.
func (s *Store) DeleteRange(min, max uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	if err := w.WriteByte(recordDeleteRange); err != nil {
		return err
	}
	if err := writeUint64(w, min); err != nil {
		return err
	}
	if err := writeUint64(w, max); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("raftlog: flushing delete range: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("raftlog: fsyncing delete range: %w", err)
	}

	s.applyDeleteRange(min, max)
	return nil
}

// ---------------------------------------------------------------------
// raft.StableStore
// ---------------------------------------------------------------------

// Set persists an arbitrary key/value pair, used by raft for term and
// vote bookkeeping.
func (s *Store) Set(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	if err := w.WriteByte(recordStableSet); err != nil {
		return err
	}
	if err := writeBytes(w, key); err != nil {
		return err
	}
	if err := writeBytes(w, val); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("raftlog: flushing stable set: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("raftlog: fsyncing stable set: %w", err)
	}

	cp := make([]byte, len(val))
	copy(cp, val)
	s.stable[string(key)] = cp
	return nil
}

// Get returns the value last Set for key.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.stable[string(key)]
	if !ok {
		return nil, fmt.Errorf("raftlog: key not found: %s", key)
	}
	return val, nil
}

// SetUint64 is a convenience wrapper around Set for uint64 values.
func (s *Store) SetUint64(key []byte, val uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], val)
	return s.Set(key, buf[:])
}

// GetUint64 is a convenience wrapper around Get for uint64 values.
func (s *Store) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("raftlog: stable value for %s is not 8 bytes", key)
	}
	return binary.LittleEndian.Uint64(val), nil
}
