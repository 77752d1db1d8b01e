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
Package protocol also provides connection multiplexing: one TCP
connection between two peers carries many logical streams, so a
RequestVote RPC in flight never has to wait behind a large AppendEntries
batch on the same socket.

Frame Format:
=============

Multiplexed frames add a stream ID to the standard protocol:

  +--------+--------+--------+--------+--------+--------+--------+--------+...
  | Magic  | Version| MsgType| Flags  | StreamID (4B)   |    Length (4B)   | Payload...
  +--------+--------+--------+--------+--------+--------+--------+--------+...

Stream Lifecycle:
=================

1. Either side opens a stream with a locally-unique ID (client: odd,
   server: even, so IDs never collide without coordination).
2. Every frame on that stream carries the stream ID.
3. The read loop routes each frame to the matching Stream's receive
   channel.
4. Either side closes the stream; further reads return io.EOF.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// Multiplexing constants.
const (
	MultiplexHeaderSize = 12 // Magic + Version + Type + Flags + StreamID + Length
	MaxStreams          = 65536
)

// Stream states.
const (
	StreamOpen uint32 = iota
	StreamHalfClosed
	StreamClosed
)

// Errors.
var (
	ErrStreamClosed    = errors.New("stream is closed")
	ErrTooManyStreams  = errors.New("too many streams")
	ErrStreamNotFound  = errors.New("stream not found")
	ErrInvalidStreamID = errors.New("invalid stream ID")
)

// BufferPool recycles byte slices sized for frame payloads.
type BufferPool struct {
	pool sync.Pool
}

// DefaultBufferPool is shared by every MultiplexConn in the process.
var DefaultBufferPool = &BufferPool{
	pool: sync.Pool{New: func() interface{} { return make([]byte, 0, 4096) }},
}

// Get returns a buffer with at least size capacity.
func (p *BufferPool) Get(size int) []byte {
	buf, _ := p.pool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

// Put returns buf to the pool.
func (p *BufferPool) Put(buf []byte) {
	p.pool.Put(buf[:0])
}

// MultiplexFrame is one multiplexed message frame.
type MultiplexFrame struct {
	Header   Header
	StreamID uint32
	Payload  []byte
}

// Stream is a logical, ordered byte stream within a multiplexed
// connection.
type Stream struct {
	ID       uint32
	state    uint32
	recvChan chan *MultiplexFrame
	conn     *MultiplexConn
}

// Send writes a frame of the given type on this stream.
func (s *Stream) Send(msgType MessageType, payload []byte) error {
	if atomic.LoadUint32(&s.state) == StreamClosed {
		return ErrStreamClosed
	}
	return s.conn.writeFrame(s.ID, msgType, payload)
}

// Recv blocks until a frame arrives on this stream, the stream closes,
// or the connection closes.
func (s *Stream) Recv() (*MultiplexFrame, error) {
	frame, ok := <-s.recvChan
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

// Close marks the stream closed and removes it from the connection's
// routing table.
func (s *Stream) Close() error {
	if !atomic.CompareAndSwapUint32(&s.state, StreamOpen, StreamClosed) &&
		!atomic.CompareAndSwapUint32(&s.state, StreamHalfClosed, StreamClosed) {
		return nil
	}
	s.conn.mu.Lock()
	delete(s.conn.streams, s.ID)
	s.conn.mu.Unlock()
	close(s.recvChan)
	return nil
}

// MultiplexConn manages a multiplexed connection between two peers.
type MultiplexConn struct {
	conn      io.ReadWriteCloser
	mu        sync.RWMutex
	streams   map[uint32]*Stream
	nextID    uint32
	isClient  bool
	closed    atomic.Bool
	closeChan chan struct{}
	writeMu   sync.Mutex
	bufPool   *BufferPool
	incoming  chan *Stream
}

// NewMultiplexConn wraps conn for multiplexed use. isClient determines
// which half of the stream ID space this side allocates from.
func NewMultiplexConn(conn io.ReadWriteCloser, isClient bool) *MultiplexConn {
	mc := &MultiplexConn{
		conn:      conn,
		streams:   make(map[uint32]*Stream),
		isClient:  isClient,
		closeChan: make(chan struct{}),
		bufPool:   DefaultBufferPool,
	}

	if isClient {
		mc.nextID = 1
	} else {
		mc.nextID = 2
	}

	go mc.readLoop()

	return mc
}

// OpenStream allocates a new Stream on this connection.
func (mc *MultiplexConn) OpenStream() (*Stream, error) {
	if mc.closed.Load() {
		return nil, ErrStreamClosed
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if len(mc.streams) >= MaxStreams {
		return nil, ErrTooManyStreams
	}

	streamID := mc.nextID
	mc.nextID += 2

	stream := &Stream{
		ID:       streamID,
		state:    StreamOpen,
		recvChan: make(chan *MultiplexFrame, 64),
		conn:     mc,
	}

	mc.streams[streamID] = stream
	return stream, nil
}

// AcceptStream blocks until the peer opens a new stream toward this
// side, routing frames for streams it doesn't yet know about.
func (mc *MultiplexConn) AcceptStream() (*Stream, error) {
	select {
	case s := <-mc.acceptCh():
		return s, nil
	case <-mc.closeChan:
		return nil, ErrStreamClosed
	}
}

// acceptCh lazily creates the channel new inbound streams are
// delivered on; readLoop populates it the first time an unknown stream
// ID arrives.
func (mc *MultiplexConn) acceptCh() chan *Stream {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.incoming == nil {
		mc.incoming = make(chan *Stream, 64)
	}
	return mc.incoming
}

func (mc *MultiplexConn) writeFrame(streamID uint32, msgType MessageType, payload []byte) error {
	mc.writeMu.Lock()
	defer mc.writeMu.Unlock()

	buf := mc.bufPool.Get(MultiplexHeaderSize)
	defer mc.bufPool.Put(buf)

	buf[0] = MagicByte
	buf[1] = ProtocolVersion
	buf[2] = byte(msgType)
	buf[3] = byte(FlagNone)
	binary.BigEndian.PutUint32(buf[4:8], streamID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(payload)))

	if _, err := mc.conn.Write(buf); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := mc.conn.Write(payload)
		return err
	}
	return nil
}

func (mc *MultiplexConn) readLoop() {
	defer close(mc.closeChan)
	header := make([]byte, MultiplexHeaderSize)
	for {
		if _, err := io.ReadFull(mc.conn, header); err != nil {
			mc.closed.Store(true)
			mc.broadcastClose()
			return
		}
		if header[0] != MagicByte {
			mc.closed.Store(true)
			mc.broadcastClose()
			return
		}
		msgType := MessageType(header[2])
		streamID := binary.BigEndian.Uint32(header[4:8])
		length := binary.BigEndian.Uint32(header[8:12])

		var payload []byte
		if length > 0 {
			payload = make([]byte, length)
			if _, err := io.ReadFull(mc.conn, payload); err != nil {
				mc.closed.Store(true)
				mc.broadcastClose()
				return
			}
		}

		frame := &MultiplexFrame{
			Header:   Header{Magic: header[0], Version: header[1], Type: msgType, Length: length},
			StreamID: streamID,
			Payload:  payload,
		}

		mc.mu.RLock()
		stream, ok := mc.streams[streamID]
		mc.mu.RUnlock()

		if !ok {
			stream = mc.acceptIncoming(streamID)
		}

		select {
		case stream.recvChan <- frame:
		default:
			// slow consumer: drop rather than block the shared read loop
		}
	}
}

func (mc *MultiplexConn) acceptIncoming(streamID uint32) *Stream {
	mc.mu.Lock()
	stream := &Stream{
		ID:       streamID,
		state:    StreamOpen,
		recvChan: make(chan *MultiplexFrame, 64),
		conn:     mc,
	}
	mc.streams[streamID] = stream
	mc.mu.Unlock()

	ch := mc.acceptCh()
	select {
	case ch <- stream:
	default:
	}
	return stream
}

func (mc *MultiplexConn) broadcastClose() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for _, s := range mc.streams {
		close(s.recvChan)
	}
	mc.streams = make(map[uint32]*Stream)
}

// Close shuts down the underlying connection and all open streams.
func (mc *MultiplexConn) Close() error {
	if !mc.closed.CompareAndSwap(false, true) {
		return nil
	}
	mc.broadcastClose()
	return mc.conn.Close()
}
