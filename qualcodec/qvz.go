package qualcodec

import "github.com/refresh-bio/fastore/streamcodec"

// qvzAlphabetSize covers the legal 6-bit quality value range (spec's "6 bits
// QVZ state").
const qvzAlphabetSize = 64
const qvzQuantizers = 4

// qvzCoder implements spec §4.4.5's QVZ mode: the previous reconstructed
// value together with a per-block WELL draw selects one of a small number
// of adaptive quantizer contexts, and the resulting state index is
// range-coded as a 6-bit tree under that context. No reference QVZ
// implementation was available in the retrieval pack; this is a from-scratch
// adaptive quantizer faithful to the mode's documented contract (see
// DESIGN.md, "qualcodec").
type qvzCoder struct {
	enc  *streamcodec.BinaryRangeEncoder
	dec  *streamcodec.BinaryRangeDecoder
	rng  *WellRNG
	prev byte
	tree [qvzQuantizers][qvzAlphabetSize - 1]*streamcodec.Prob
}

func newQVZCoder(buf *streamcodec.ByteBuffer, decode bool) *qvzCoder {
	c := &qvzCoder{rng: NewWellRNG(0x51a7_0001)}
	for q := range c.tree {
		for i := range c.tree[q] {
			c.tree[q][i] = streamcodec.NewProb()
		}
	}
	if decode {
		c.dec = streamcodec.NewBinaryRangeDecoder(buf)
	} else {
		c.enc = streamcodec.NewBinaryRangeEncoder(buf)
	}
	return c
}

// SeedWell reseeds the shared WELL RNG at a block boundary, per spec §5's
// "re-seeded deterministically at the start of each block" rule.
func (c *qvzCoder) SeedWell(seed uint32) { c.rng.Seed(seed) }

func (c *qvzCoder) quantizer() int {
	return (int(c.prev) + c.rng.Intn(qvzQuantizers)) % qvzQuantizers
}

func (c *qvzCoder) Start() { c.prev = 0 }

func (c *qvzCoder) Encode(_ int, value byte) {
	q := c.quantizer()
	probs := &c.tree[q]
	node := 1
	for i := 5; i >= 0; i-- {
		bit := int((value >> uint(i)) & 1)
		c.enc.EncodeBit(probs[node-1], bit)
		node = node*2 + bit
	}
	c.prev = value
}

func (c *qvzCoder) Decode(_ int) byte {
	q := c.quantizer()
	probs := &c.tree[q]
	node := 1
	for i := 0; i < 6; i++ {
		bit := c.dec.DecodeBit(probs[node-1])
		node = node*2 + bit
	}
	value := byte(node - qvzAlphabetSize)
	c.prev = value
	return value
}

func (c *qvzCoder) End() {
	if c.enc != nil {
		c.enc.Flush()
	}
}
