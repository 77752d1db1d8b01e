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
Package sdk provides connection pooling for outbound peer connections.

Pool Configuration:
===================

  MaxPerPeer:     Maximum idle connections kept open per peer address
  MaxLifetime:    Maximum lifetime of a pooled connection
  AcquireTimeout: Maximum time to wait for a connection

Usage:
======

  pool := sdk.NewPeerPool(sdk.DefaultPoolConfig(), dialFunc)
  conn, err := pool.Acquire(ctx, "10.0.0.2:7001")
  defer pool.Release(conn)
  // use conn.Conn...
*/
package sdk

import (
	"context"
	"net"
	"sync"
	"time"
)

// PoolConfig configures the peer connection pool.
type PoolConfig struct {
	MaxPerPeer     int           // Maximum idle connections per peer (default: 4)
	MaxLifetime    time.Duration // Max connection lifetime (default: 1h)
	AcquireTimeout time.Duration // Max time to acquire a connection (default: 5s)
}

// DefaultPoolConfig returns a pool configuration with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxPerPeer:     4,
		MaxLifetime:    1 * time.Hour,
		AcquireTimeout: 5 * time.Second,
	}
}

// DialFunc dials a peer address, returning a raw network connection.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// PooledConn wraps a pooled network connection with its bookkeeping.
type PooledConn struct {
	Conn      net.Conn
	Addr      string
	createdAt time.Time
}

// PeerPool maintains a small number of idle connections per peer address,
// dialing lazily and closing connections that outlive MaxLifetime.
type PeerPool struct {
	mu     sync.Mutex
	config PoolConfig
	dial   DialFunc
	idle   map[string][]*PooledConn
	closed bool
}

// NewPeerPool creates a connection pool that dials via dial.
func NewPeerPool(config PoolConfig, dial DialFunc) *PeerPool {
	return &PeerPool{
		config: config,
		dial:   dial,
		idle:   make(map[string][]*PooledConn),
	}
}

// Acquire returns an idle connection to addr if one is available and still
// fresh, otherwise dials a new one.
func (p *PeerPool) Acquire(ctx context.Context, addr string) (*PooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	bucket := p.idle[addr]
	for len(bucket) > 0 {
		conn := bucket[len(bucket)-1]
		bucket = bucket[:len(bucket)-1]
		p.idle[addr] = bucket
		if time.Since(conn.createdAt) > p.config.MaxLifetime {
			conn.Conn.Close()
			continue
		}
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	dialCtx := ctx
	var cancel context.CancelFunc
	if p.config.AcquireTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	conn, err := p.dial(dialCtx, addr)
	if err != nil {
		return nil, err
	}
	return &PooledConn{Conn: conn, Addr: addr, createdAt: time.Now()}, nil
}

// Release returns a connection to the idle pool, or closes it if the
// peer's bucket is already at MaxPerPeer or the pool is closed.
func (p *PeerPool) Release(conn *PooledConn) {
	if conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle[conn.Addr]) >= p.config.MaxPerPeer {
		conn.Conn.Close()
		return
	}
	p.idle[conn.Addr] = append(p.idle[conn.Addr], conn)
}

// Discard closes conn without returning it to the pool, for use after a
// connection error where the peer's state is unknown.
func (p *PeerPool) Discard(conn *PooledConn) {
	if conn != nil {
		conn.Conn.Close()
	}
}

// Close closes every idle connection and rejects further Acquire calls.
func (p *PeerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	for _, bucket := range p.idle {
		for _, conn := range bucket {
			conn.Conn.Close()
		}
	}
	p.idle = nil
	return nil
}
