package streamcodec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteBufferVarint(t *testing.T) {
	b := NewByteBuffer()
	b.PutUvarint(0)
	b.PutUvarint(127)
	b.PutUvarint(128)
	b.PutUvarint(300)
	b.PutUvarint(1 << 40)

	r := NewByteBufferFrom(b.Bytes())
	for _, want := range []uint64{0, 127, 128, 300, 1 << 40} {
		got, err := r.Uvarint()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestByteBufferUint32(t *testing.T) {
	b := NewByteBuffer()
	b.PutUint32(0xDEADBEEF)
	r := NewByteBufferFrom(b.Bytes())
	v, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), v)
}

func TestBinaryRLERoundTrip(t *testing.T) {
	in := []bool{true, true, true, false, false, true, false, true, true, true, true}
	buf := NewByteBuffer()
	enc := NewBinaryRLEEncoder(buf)
	for _, b := range in {
		enc.PutSymbol(b)
	}
	enc.End()

	dec := NewBinaryRLEDecoder(NewByteBufferFrom(buf.Bytes()))
	for i, want := range in {
		assert.Equal(t, want, dec.GetSym(), "index %d", i)
	}
}

func TestBinaryRLELongRun(t *testing.T) {
	in := make([]bool, 1000)
	for i := range in {
		in[i] = true
	}
	buf := NewByteBuffer()
	enc := NewBinaryRLEEncoder(buf)
	for _, b := range in {
		enc.PutSymbol(b)
	}
	enc.End()

	dec := NewBinaryRLEDecoder(NewByteBufferFrom(buf.Bytes()))
	for i, want := range in {
		assert.Equal(t, want, dec.GetSym(), "index %d", i)
	}
}

func TestRle0RoundTrip(t *testing.T) {
	in := []uint32{0, 0, 5, 0, 0, 0, 300, 70000, 0, 1}
	buf := NewByteBuffer()
	enc := NewRle0Encoder(buf)
	for _, s := range in {
		enc.PutSymbol(s)
	}
	enc.End()

	dec := NewRle0Decoder(NewByteBufferFrom(buf.Bytes()))
	for i, want := range in {
		assert.Equal(t, want, dec.GetSym(), "index %d", i)
	}
}

func TestBitIORoundTrip(t *testing.T) {
	buf := NewByteBuffer()
	w := NewBitWriter(buf)
	w.PutBits(0b101, 3)
	w.PutBits(0b11110000, 8)
	w.PutBits(0b1, 1)
	w.Flush()

	r := NewBitReader(NewByteBufferFrom(buf.Bytes()))
	assert.Equal(t, uint32(0b101), r.GetBits(3))
	assert.Equal(t, uint32(0b11110000), r.GetBits(8))
	assert.Equal(t, uint32(0b1), r.GetBits(1))
}

func TestBinaryRangeCoderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	bits := make([]int, 5000)
	for i := range bits {
		if rng.Float64() < 0.2 {
			bits[i] = 1
		}
	}

	buf := NewByteBuffer()
	enc := NewBinaryRangeEncoder(buf)
	p := NewProb()
	for _, b := range bits {
		enc.EncodeBit(p, b)
	}
	enc.Flush()

	dec := NewBinaryRangeDecoder(NewByteBufferFrom(buf.Bytes()))
	p2 := NewProb()
	for i, want := range bits {
		got := dec.DecodeBit(p2)
		require.Equal(t, want, got, "bit %d", i)
	}
}
