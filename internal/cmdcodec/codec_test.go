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

package cmdcodec

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := [][]string{
		{"SET", "key", "value"},
		{"GET", "key"},
		{"PING"},
		{"DEL", "a", "b", "c", "d"},
		{""},
		{"", ""},
	}

	for _, argv := range tests {
		encoded := EncodeStrings(argv...)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode failed for %v: %v", argv, err)
		}
		if len(decoded) != len(argv) {
			t.Fatalf("argc mismatch for %v: got %d want %d", argv, len(decoded), len(argv))
		}
		for i := range argv {
			if !bytes.Equal(decoded[i], []byte(argv[i])) {
				t.Errorf("arg %d mismatch: got %q want %q", i, decoded[i], argv[i])
			}
		}
	}
}

func TestEncodeEmptyArgv(t *testing.T) {
	encoded := Encode(nil)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded) != 0 {
		t.Errorf("expected 0 args, got %d", len(decoded))
	}
}

func TestEncodeBinarySafe(t *testing.T) {
	argv := [][]byte{{0x00, 0x01, 0xff}, []byte("\x00embedded\x00nul")}
	encoded := Encode(argv)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i := range argv {
		if !bytes.Equal(decoded[i], argv[i]) {
			t.Errorf("arg %d mismatch: got %v want %v", i, decoded[i], argv[i])
		}
	}
}

func TestDecodeTruncatedArgc(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error decoding truncated argc")
	}
}

func TestDecodeTruncatedLength(t *testing.T) {
	data := Encode([][]byte{[]byte("hello")})
	truncated := data[:len(data)-6] // cut into the arg's length field
	if _, err := Decode(truncated); err == nil {
		t.Error("expected error decoding truncated arg length")
	}
}

func TestDecodeImplausibleArgc(t *testing.T) {
	data := make([]byte, 8)
	// argc far beyond MaxArgc
	for i := range data {
		data[i] = 0xff
	}
	if _, err := Decode(data); err == nil {
		t.Error("expected error for implausible argc")
	}
}

func TestDecodeImplausibleArgLen(t *testing.T) {
	data := Encode([][]byte{[]byte("x")})
	// corrupt the length field of the single argument to a huge value
	for i := 8; i < 16; i++ {
		data[i] = 0xff
	}
	if _, err := Decode(data); err == nil {
		t.Error("expected error for implausible arg length")
	}
}
