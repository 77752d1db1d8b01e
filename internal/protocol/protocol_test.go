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
	"bytes"
	"testing"
)

func TestWriteAndReadHeader(t *testing.T) {
	tests := []struct {
		name   string
		header Header
	}{
		{
			name: "RequestVote message",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgRequestVote,
				Flags:   FlagNone,
				Length:  100,
			},
		},
		{
			name: "CfgChange message",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgCfgChange,
				Flags:   FlagNone,
				Length:  50,
			},
		},
		{
			name: "Compressed AppendEntries",
			header: Header{
				Magic:   MagicByte,
				Version: ProtocolVersion,
				Type:    MsgAppendEntries,
				Flags:   FlagCompressed,
				Length:  1000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)

			if err := WriteHeader(buf, tt.header); err != nil {
				t.Fatalf("WriteHeader failed: %v", err)
			}

			readHeader, err := ReadHeader(buf)
			if err != nil {
				t.Fatalf("ReadHeader failed: %v", err)
			}

			if readHeader.Magic != tt.header.Magic {
				t.Errorf("Magic mismatch: got %x, want %x", readHeader.Magic, tt.header.Magic)
			}
			if readHeader.Version != tt.header.Version {
				t.Errorf("Version mismatch: got %x, want %x", readHeader.Version, tt.header.Version)
			}
			if readHeader.Type != tt.header.Type {
				t.Errorf("Type mismatch: got %x, want %x", readHeader.Type, tt.header.Type)
			}
			if readHeader.Flags != tt.header.Flags {
				t.Errorf("Flags mismatch: got %x, want %x", readHeader.Flags, tt.header.Flags)
			}
			if readHeader.Length != tt.header.Length {
				t.Errorf("Length mismatch: got %d, want %d", readHeader.Length, tt.header.Length)
			}
		})
	}
}

func TestWriteAndReadMessage(t *testing.T) {
	payload := []byte(`{"term": 4, "candidate_id": "node-2"}`)

	buf := new(bytes.Buffer)

	if err := WriteMessage(buf, MsgRequestVote, payload); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if msg.Header.Type != MsgRequestVote {
		t.Errorf("Type mismatch: got %x, want %x", msg.Header.Type, MsgRequestVote)
	}
	if !bytes.Equal(msg.Payload, payload) {
		t.Errorf("Payload mismatch: got %s, want %s", msg.Payload, payload)
	}
}

func TestWriteMessageFlags(t *testing.T) {
	buf := new(bytes.Buffer)
	if err := WriteMessageFlags(buf, MsgAppendEntries, FlagCompressed, []byte("data")); err != nil {
		t.Fatalf("WriteMessageFlags failed: %v", err)
	}
	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msg.Header.Flags != FlagCompressed {
		t.Errorf("expected FlagCompressed, got %v", msg.Header.Flags)
	}
}

func TestInvalidMagicByte(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0x00, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00})

	_, err := ReadHeader(buf)
	if err != ErrInvalidMagic {
		t.Errorf("Expected ErrInvalidMagic, got %v", err)
	}
}

func TestInvalidVersion(t *testing.T) {
	buf := bytes.NewBuffer([]byte{MagicByte, 0xFF, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00})

	_, err := ReadHeader(buf)
	if err != ErrInvalidVersion {
		t.Errorf("Expected ErrInvalidVersion, got %v", err)
	}
}

func TestMessageTooLarge(t *testing.T) {
	buf := new(bytes.Buffer)
	h := Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Type:    MsgRequestVote,
		Flags:   FlagNone,
		Length:  MaxMessageSize + 1,
	}
	WriteHeader(buf, h)

	_, err := ReadHeader(bytes.NewReader(buf.Bytes()))
	if err != ErrMessageTooLarge {
		t.Errorf("Expected ErrMessageTooLarge, got %v", err)
	}
}

func TestEmptyPayload(t *testing.T) {
	buf := new(bytes.Buffer)

	if err := WriteMessage(buf, MsgPing, nil); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	msg, err := ReadMessage(buf)
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if msg.Header.Type != MsgPing {
		t.Errorf("Type mismatch: got %x, want %x", msg.Header.Type, MsgPing)
	}
	if len(msg.Payload) != 0 {
		t.Errorf("Expected empty payload, got %d bytes", len(msg.Payload))
	}
}
