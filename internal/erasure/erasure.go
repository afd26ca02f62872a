// Package erasure implements a fixed-rate Reed-Solomon codec: a pure
// function over fixed-size blocks, encoding data shards plus parity shards
// with a SIMD-aligned shard size.
//
// A pure byte-slice codec, deliberately disk-agnostic so the object engine
// can layer its own I/O on top.
package erasure

import (
	"sync"

	"github.com/klauspost/reedsolomon"
)

// Config is the (data_shards, parity_shards, block_size) triple every read
// and write of an object must agree on.
type Config struct {
	DataShards   int
	ParityShards int
	BlockSize    int64
}

// Total returns d+p.
func (c Config) Total() int { return c.DataShards + c.ParityShards }

// ShardSize computes s = ceil(b/d), rounded up to an even byte count (the
// SIMD alignment contract that must match on read and write).
func (c Config) ShardSize() int64 {
	s := ceilDiv(c.BlockSize, int64(c.DataShards))
	if s%2 != 0 {
		s++
	}
	return s
}

func ceilDiv(a, b int64) int64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Codec is a memoized reedsolomon.Encoder for one Config, built lazily on
// first use.
type Codec struct {
	cfg Config

	once sync.Once
	enc  reedsolomon.Encoder
	err  error
}

// New validates cfg and returns a Codec. Construction never touches
// reedsolomon itself — that is deferred to first use.
func New(cfg Config) (*Codec, error) {
	if cfg.DataShards <= 0 || cfg.ParityShards <= 0 {
		return nil, reedsolomon.ErrInvShardNum
	}
	if cfg.BlockSize <= 0 {
		return nil, reedsolomon.ErrInvalidInput
	}
	if cfg.Total() > 256 {
		return nil, reedsolomon.ErrMaxShardNum
	}
	return &Codec{cfg: cfg}, nil
}

func (c *Codec) encoder() (reedsolomon.Encoder, error) {
	c.once.Do(func() {
		c.enc, c.err = reedsolomon.New(c.cfg.DataShards, c.cfg.ParityShards,
			reedsolomon.WithAutoGoroutines(int(c.cfg.ShardSize())))
	})
	return c.enc, c.err
}

// Encode implements spec.md §4.1 encode(): rejects blocks longer than
// block_size, pads to d*shard_size, splits into d data shards and computes p
// parity shards. Returns exactly d+p shards, each exactly ShardSize() bytes.
func (c *Codec) Encode(block []byte) ([][]byte, error) {
	if int64(len(block)) > c.cfg.BlockSize {
		return nil, reedsolomon.ErrShortData
	}
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	if len(block) == 0 {
		out := make([][]byte, c.cfg.Total())
		shardSize := int(c.cfg.ShardSize())
		for i := range out {
			out[i] = make([]byte, shardSize)
		}
		return out, nil
	}

	shardSize := int(c.cfg.ShardSize())
	padded := make([]byte, int64(c.cfg.DataShards)*int64(shardSize))
	copy(padded, block)

	shards := make([][]byte, c.cfg.Total())
	for i := 0; i < c.cfg.DataShards; i++ {
		shards[i] = padded[i*shardSize : (i+1)*shardSize]
	}
	for i := c.cfg.DataShards; i < c.cfg.Total(); i++ {
		shards[i] = make([]byte, shardSize)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}
	return shards, nil
}

// Decode implements spec.md §4.1 decode(): shards is indexed [0, d+p), with
// nil entries for shards that are absent. Fewer than d present shards, or a
// present shard of the wrong length, is an InvalidArgument-class failure
// (returned here as the underlying reedsolomon error; the object engine
// and the healer wrap it as maxioerr.CodeInternal). The returned block is exactly
// d*ShardSize() bytes; callers truncate to the expected block size.
func (c *Codec) Decode(shards [][]byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	shardSize := int(c.cfg.ShardSize())

	present := 0
	for _, s := range shards {
		if s == nil {
			continue
		}
		if len(s) != shardSize {
			return nil, reedsolomon.ErrShardSize
		}
		present++
	}
	if present < c.cfg.DataShards {
		return nil, reedsolomon.ErrTooFewShards
	}

	work := make([][]byte, len(shards))
	copy(work, shards)
	if err := enc.ReconstructData(work); err != nil {
		return nil, err
	}

	block := make([]byte, 0, int64(c.cfg.DataShards)*int64(shardSize))
	for i := 0; i < c.cfg.DataShards; i++ {
		block = append(block, work[i]...)
	}
	return block, nil
}

// BlockCount returns ceil(size/block_size), at least 1 (spec.md §4.3 step 3:
// "at least 1 for empty objects").
func (c Config) BlockCount(size int64) int64 {
	if size <= 0 {
		return 1
	}
	return ceilDiv(size, c.BlockSize)
}
