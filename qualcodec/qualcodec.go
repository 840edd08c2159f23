// Package qualcodec implements the four quality-score coders of spec
// §4.4.5 behind a uniform Coder interface, dispatched statically by the
// archive's per-archive QualityMethod. Grounded on grailbio/bio's encoding
// packages' habit of a small interface plus a handful of concrete structs
// selected once at construction time (e.g. encoding/fastq's Opts pattern).
package qualcodec

import (
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/streamcodec"
)

// Coder encodes and decodes one quality stream under a position-dependent
// context. Start begins a record so stateful coders (QVZ) can reset their
// per-read chain; End flushes the stream once, after the last record.
type Coder interface {
	Start()
	Encode(posCtx int, value byte)
	Decode(posCtx int) byte
	End()
}

// New selects the coder for params, wiring it to the shared buffer buf.
func New(params binconfig.QualityCompressionParams, buf *streamcodec.ByteBuffer, decode bool) Coder {
	switch params.Method {
	case binconfig.QualityBinary:
		return newBinaryCoder(params.BinaryThreshold, buf, decode)
	case binconfig.QualityIllumina8:
		return newIllumina8Coder(buf, decode)
	case binconfig.QualityQVZ:
		return newQVZCoder(buf, decode)
	default:
		return newRawCoder(buf)
	}
}

// rawCoder passes quality values through as raw 6-bit bytes (spec's NONE
// mode): no entropy coding, since the stream already participates in the
// PPMd back-end pass (spec §4.4.6).
type rawCoder struct {
	buf *streamcodec.ByteBuffer
}

func newRawCoder(buf *streamcodec.ByteBuffer) *rawCoder { return &rawCoder{buf: buf} }

func (c *rawCoder) Start()                          {}
func (c *rawCoder) Encode(_ int, value byte)         { _ = c.buf.WriteByte(value & 0x3F) }
func (c *rawCoder) Decode(_ int) byte                { v, _ := c.buf.ReadByte(); return v }
func (c *rawCoder) End()                             {}

// binaryCoder encodes one bit per base: value >= threshold. Two position
// contexts (first base vs rest) per spec §4.4.5.
type binaryCoder struct {
	threshold byte
	enc       *streamcodec.BinaryRangeEncoder
	dec       *streamcodec.BinaryRangeDecoder
	probs     [2]*streamcodec.Prob
}

func newBinaryCoder(threshold byte, buf *streamcodec.ByteBuffer, decode bool) *binaryCoder {
	c := &binaryCoder{threshold: threshold, probs: [2]*streamcodec.Prob{streamcodec.NewProb(), streamcodec.NewProb()}}
	if decode {
		c.dec = streamcodec.NewBinaryRangeDecoder(buf)
	} else {
		c.enc = streamcodec.NewBinaryRangeEncoder(buf)
	}
	return c
}

func (c *binaryCoder) ctx(posCtx int) int {
	if posCtx == 0 {
		return 0
	}
	return 1
}

func (c *binaryCoder) Start() {}

func (c *binaryCoder) Encode(posCtx int, value byte) {
	bit := 0
	if value >= c.threshold {
		bit = 1
	}
	c.enc.EncodeBit(c.probs[c.ctx(posCtx)], bit)
}

func (c *binaryCoder) Decode(posCtx int) byte {
	bit := c.dec.DecodeBit(c.probs[c.ctx(posCtx)])
	if bit == 1 {
		return c.threshold
	}
	return 0
}

func (c *binaryCoder) End() {
	if c.enc != nil {
		c.enc.Flush()
	}
}

// illumina8Buckets is the fixed Illumina 8-level binning LUT (spec's "fixed
// Illumina 8-bucket LUT"), mapping a raw Phred value to one of 8
// representative reconstruction values, ordered low to high.
var illumina8Buckets = [8]byte{2, 9, 15, 22, 27, 33, 37, 40}

func illumina8Bucket(v byte) byte {
	idx := 0
	for i, b := range illumina8Buckets {
		if v >= b {
			idx = i
		}
	}
	return byte(idx)
}

// illumina8Coder encodes 3 bits/base (an index into illumina8Buckets), with
// 8 position contexts.
type illumina8Coder struct {
	enc   *streamcodec.BinaryRangeEncoder
	dec   *streamcodec.BinaryRangeDecoder
	probs [8][3]*streamcodec.Prob
}

func newIllumina8Coder(buf *streamcodec.ByteBuffer, decode bool) *illumina8Coder {
	c := &illumina8Coder{}
	for ctx := range c.probs {
		for bit := range c.probs[ctx] {
			c.probs[ctx][bit] = streamcodec.NewProb()
		}
	}
	if decode {
		c.dec = streamcodec.NewBinaryRangeDecoder(buf)
	} else {
		c.enc = streamcodec.NewBinaryRangeEncoder(buf)
	}
	return c
}

func (c *illumina8Coder) ctx(posCtx int) int {
	if posCtx < 0 {
		posCtx = 0
	}
	return posCtx % 8
}

func (c *illumina8Coder) Start() {}

func (c *illumina8Coder) Encode(posCtx int, value byte) {
	idx := illumina8Bucket(value)
	ctx := c.ctx(posCtx)
	for i := 2; i >= 0; i-- {
		bit := int((idx >> uint(i)) & 1)
		c.enc.EncodeBit(c.probs[ctx][2-i], bit)
	}
}

func (c *illumina8Coder) Decode(posCtx int) byte {
	ctx := c.ctx(posCtx)
	var idx byte
	for i := 0; i < 3; i++ {
		bit := c.dec.DecodeBit(c.probs[ctx][i])
		idx = idx<<1 | byte(bit)
	}
	return illumina8Buckets[idx]
}

func (c *illumina8Coder) End() {
	if c.enc != nil {
		c.enc.Flush()
	}
}
