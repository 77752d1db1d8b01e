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
Package compression provides configurable compression for FlyDB.

Compression Overview:
=====================

This module implements configurable compression for:
- Replication traffic to reduce network bandwidth
- Batch operations for better compression ratios

Supported Algorithms:
=====================

1. LZ4: Fast compression/decompression, moderate ratio
2. Snappy: Very fast, lower ratio, good for real-time
3. Zstd: Best ratio, configurable speed/ratio tradeoff

Batch Compression:
==================

Batching multiple entries before compression improves ratios:
1. Collect entries into a batch
2. Compress the entire batch
3. Store/transmit compressed batch
4. Decompress and split on read
*/
package compression

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm
type Algorithm int

const (
	AlgorithmNone Algorithm = iota
	AlgorithmGzip
	AlgorithmLZ4
	AlgorithmSnappy
	AlgorithmZstd
)

func (a Algorithm) String() string {
	switch a {
	case AlgorithmNone:
		return "none"
	case AlgorithmGzip:
		return "gzip"
	case AlgorithmLZ4:
		return "lz4"
	case AlgorithmSnappy:
		return "snappy"
	case AlgorithmZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseAlgorithm parses a compression algorithm from string
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "none", "":
		return AlgorithmNone, nil
	case "gzip":
		return AlgorithmGzip, nil
	case "lz4":
		return AlgorithmLZ4, nil
	case "snappy":
		return AlgorithmSnappy, nil
	case "zstd":
		return AlgorithmZstd, nil
	default:
		return AlgorithmNone, fmt.Errorf("unknown compression algorithm: %s", s)
	}
}

// Level represents compression level
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 5
	LevelBest    Level = 9
)

// Config holds compression configuration
type Config struct {
	Algorithm        Algorithm `json:"algorithm"`
	Level            Level     `json:"level"`
	MinSize          int       `json:"min_size"`           // Minimum size to compress
	BatchSize        int       `json:"batch_size"`         // Number of entries per batch
	BatchTimeout     int       `json:"batch_timeout_ms"`   // Max wait time for batch (ms)
	DictionaryEnable bool      `json:"dictionary_enable"`  // Use dictionary compression
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Algorithm:        AlgorithmGzip,
		Level:            LevelDefault,
		MinSize:          256,
		BatchSize:        100,
		BatchTimeout:     10,
		DictionaryEnable: false,
	}
}

// Errors
var (
	ErrDataTooSmall     = errors.New("data too small to compress")
	ErrInvalidHeader    = errors.New("invalid compression header")
	ErrUnsupportedAlgo  = errors.New("unsupported compression algorithm")
	ErrDecompressFailed = errors.New("decompression failed")
)

// Compressor provides compression/decompression operations
type Compressor struct {
	config     Config
	gzipPool   sync.Pool
	bufferPool sync.Pool
}

// NewCompressor creates a new compressor
func NewCompressor(config Config) *Compressor {
	return &Compressor{
		config: config,
		gzipPool: sync.Pool{
			New: func() interface{} {
				return gzip.NewWriter(nil)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
	}
}

// header is a 5 byte tag prepended to every compressed payload so
// Decompress can recover the algorithm without being told out of band:
// [algorithm u8][uncompressed length u32 big-endian].
const headerSize = 5

// Compress compresses data according to the Compressor's configured
// algorithm. Inputs smaller than Config.MinSize are returned unmodified
// with an AlgorithmNone header, since the framing overhead would exceed
// any savings.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	algo := c.config.Algorithm
	if len(data) < c.config.MinSize {
		algo = AlgorithmNone
	}

	var body []byte
	var err error
	switch algo {
	case AlgorithmNone:
		body = data
	case AlgorithmGzip:
		body, err = c.compressGzip(data)
	case AlgorithmSnappy:
		body = snappy.Encode(nil, data)
	case AlgorithmLZ4:
		body, err = c.compressLZ4(data)
	case AlgorithmZstd:
		body, err = c.compressZstd(data)
	default:
		return nil, ErrUnsupportedAlgo
	}
	if err != nil {
		return nil, err
	}

	out := make([]byte, headerSize+len(body))
	out[0] = byte(algo)
	binary.BigEndian.PutUint32(out[1:5], uint32(len(data)))
	copy(out[headerSize:], body)
	return out, nil
}

// Decompress reverses Compress. The caller passes the algorithm the
// payload was compressed with (callers that don't track it out of band
// can read data[0], which Compress always sets to the same value).
func (c *Compressor) Decompress(data []byte, algo Algorithm) ([]byte, error) {
	if len(data) < headerSize {
		return nil, ErrInvalidHeader
	}
	uncompressedLen := binary.BigEndian.Uint32(data[1:5])
	body := data[headerSize:]

	switch algo {
	case AlgorithmNone:
		return body, nil
	case AlgorithmGzip:
		return c.decompressGzip(body)
	case AlgorithmSnappy:
		out, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		return out, nil
	case AlgorithmLZ4:
		return c.decompressLZ4(body, int(uncompressedLen))
	case AlgorithmZstd:
		return c.decompressZstd(body)
	default:
		return nil, ErrUnsupportedAlgo
	}
}

func (c *Compressor) compressGzip(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	w := c.gzipPool.Get().(*gzip.Writer)
	defer c.gzipPool.Put(w)
	w.Reset(buf)

	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *Compressor) decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}

func (c *Compressor) compressLZ4(data []byte) ([]byte, error) {
	buf := c.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.bufferPool.Put(buf)

	w := lz4.NewWriter(buf)
	if c.config.Level == LevelBest {
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, err
		}
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *Compressor) decompressLZ4(data []byte, hint int) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	out := bytes.NewBuffer(make([]byte, 0, hint))
	if _, err := io.Copy(out, r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out.Bytes(), nil
}

func (c *Compressor) compressZstd(data []byte) ([]byte, error) {
	level := zstd.SpeedDefault
	switch {
	case c.config.Level <= LevelFastest:
		level = zstd.SpeedFastest
	case c.config.Level >= LevelBest:
		level = zstd.SpeedBestCompression
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (c *Compressor) decompressZstd(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
	}
	return out, nil
}

// BatchCompressor accumulates raft log entries and compresses them as a
// single unit, improving the ratio over compressing each AppendEntries
// entry independently.
type BatchCompressor struct {
	compressor *Compressor
	entries    [][]byte
}

// NewBatchCompressor returns a BatchCompressor using config's algorithm.
func NewBatchCompressor(config Config) *BatchCompressor {
	return &BatchCompressor{compressor: NewCompressor(config)}
}

// Add appends one entry to the pending batch.
func (b *BatchCompressor) Add(entry []byte) {
	cp := make([]byte, len(entry))
	copy(cp, entry)
	b.entries = append(b.entries, cp)
}

// Flush joins the pending batch (length-prefixed so DecompressBatch can
// split it back apart) and compresses it as one payload, then clears
// the batch.
func (b *BatchCompressor) Flush() ([]byte, error) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, e := range b.entries {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e)))
		buf.Write(lenBuf[:])
		buf.Write(e)
	}
	b.entries = nil
	return b.compressor.Compress(buf.Bytes())
}

// DecompressBatch reverses Flush, splitting the joined payload back into
// its original entries. algo must match the algorithm Flush compressed
// with.
func (b *BatchCompressor) DecompressBatch(compressed []byte, algo Algorithm) ([][]byte, error) {
	joined, err := b.compressor.Decompress(compressed, algo)
	if err != nil {
		return nil, err
	}
	var entries [][]byte
	off := 0
	for off < len(joined) {
		if len(joined)-off < 4 {
			return nil, ErrInvalidHeader
		}
		n := binary.BigEndian.Uint32(joined[off : off+4])
		off += 4
		if uint64(len(joined)-off) < uint64(n) {
			return nil, ErrInvalidHeader
		}
		entries = append(entries, joined[off:off+int(n)])
		off += int(n)
	}
	return entries, nil
}

