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
Package cmdcodec serializes command argument vectors into the byte form
stored inside raft.Log.Data. The wire format is:

	argc   uint64 (little-endian)
	repeated argc times:
	  len  uint64 (little-endian)
	  bytes [len]byte

Every length field is a fixed-width uint64 regardless of host pointer
size, so a log entry written on one architecture decodes identically on
another.
*/
package cmdcodec

import (
	"encoding/binary"
	"fmt"
)

// MaxArgc bounds the number of arguments a single command may carry,
// guarding against a corrupted or adversarial length field driving an
// unbounded allocation during Decode.
const MaxArgc = 1 << 20

// MaxArgLen bounds the byte length of a single argument for the same
// reason.
const MaxArgLen = 512 << 20

// Encode serializes argv into the wire format described in the package
// doc comment.
func Encode(argv [][]byte) []byte {
	size := 8
	for _, a := range argv {
		size += 8 + len(a)
	}
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(argv)))
	off := 8
	for _, a := range argv {
		binary.LittleEndian.PutUint64(buf[off:off+8], uint64(len(a)))
		off += 8
		copy(buf[off:off+len(a)], a)
		off += len(a)
	}
	return buf
}

// Decode parses the wire format produced by Encode. It returns an error
// rather than panicking when data is truncated or declares implausible
// lengths, since data originates from the persistent log and may be
// corrupt.
func Decode(data []byte) ([][]byte, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("cmdcodec: truncated argc, need 8 bytes, have %d", len(data))
	}
	argc := binary.LittleEndian.Uint64(data[0:8])
	if argc > MaxArgc {
		return nil, fmt.Errorf("cmdcodec: argc %d exceeds limit %d", argc, MaxArgc)
	}
	off := 8
	argv := make([][]byte, 0, argc)
	for i := uint64(0); i < argc; i++ {
		if len(data)-off < 8 {
			return nil, fmt.Errorf("cmdcodec: truncated length field for arg %d", i)
		}
		n := binary.LittleEndian.Uint64(data[off : off+8])
		off += 8
		if n > MaxArgLen {
			return nil, fmt.Errorf("cmdcodec: arg %d length %d exceeds limit %d", i, n, MaxArgLen)
		}
		if uint64(len(data)-off) < n {
			return nil, fmt.Errorf("cmdcodec: truncated arg %d, need %d bytes, have %d", i, n, len(data)-off)
		}
		arg := make([]byte, n)
		copy(arg, data[off:off+int(n)])
		argv = append(argv, arg)
		off += int(n)
	}
	return argv, nil
}

// EncodeStrings is a convenience wrapper around Encode for string argv.
func EncodeStrings(argv ...string) []byte {
	raw := make([][]byte, len(argv))
	for i, a := range argv {
		raw[i] = []byte(a)
	}
	return Encode(raw)
}
