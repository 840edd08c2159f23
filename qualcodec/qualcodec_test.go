package qualcodec

import (
	"testing"

	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/streamcodec"
	"github.com/stretchr/testify/assert"
)

func TestRawCoderRoundTrip(t *testing.T) {
	buf := streamcodec.NewByteBuffer()
	enc := New(binconfig.DefaultQualityCompressionParams(), buf, false)
	values := []byte{0, 10, 30, 40, 63}
	for _, v := range values {
		enc.Encode(0, v)
	}
	enc.End()

	dec := New(binconfig.DefaultQualityCompressionParams(), streamcodec.NewByteBufferFrom(buf.Bytes()), true)
	for _, want := range values {
		assert.Equal(t, want, dec.Decode(0))
	}
}

func TestBinaryCoderRoundTrip(t *testing.T) {
	params := binconfig.QualityCompressionParams{Method: binconfig.QualityBinary, BinaryThreshold: 20}
	buf := streamcodec.NewByteBuffer()
	enc := New(params, buf, false)
	values := []byte{5, 25, 19, 20, 63, 0}
	for i, v := range values {
		enc.Encode(i, v)
	}
	enc.End()

	dec := New(params, streamcodec.NewByteBufferFrom(buf.Bytes()), true)
	for i, v := range values {
		got := dec.Decode(i)
		want := byte(0)
		if v >= 20 {
			want = 20
		}
		assert.Equal(t, want, got)
	}
}

func TestIllumina8BucketMonotone(t *testing.T) {
	prev := byte(0)
	for v := byte(0); v < 63; v++ {
		b := illumina8Bucket(v)
		assert.GreaterOrEqual(t, b, prev)
		prev = b
	}
}

func TestQVZRoundTrip(t *testing.T) {
	params := binconfig.QualityCompressionParams{Method: binconfig.QualityQVZ}
	buf := streamcodec.NewByteBuffer()
	enc := New(params, buf, false).(*qvzCoder)
	enc.SeedWell(42)
	values := []byte{2, 40, 63, 0, 30, 30, 30, 12}
	enc.Start()
	for _, v := range values {
		enc.Encode(0, v)
	}
	enc.End()

	dec := New(params, streamcodec.NewByteBufferFrom(buf.Bytes()), true).(*qvzCoder)
	dec.SeedWell(42)
	dec.Start()
	for _, want := range values {
		assert.Equal(t, want, dec.Decode(0))
	}
}
