package idcodec

import (
	"testing"

	"github.com/refresh-bio/fastore/streamcodec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSchemaAndRoundTrip(t *testing.T) {
	headers := [][]byte{
		[]byte("@SRR001/1"),
		[]byte("@SRR002/1"),
		[]byte("@SRR003/1"),
	}
	schema := BuildSchema(headers)
	require.NotEmpty(t, schema.Fields)

	tokenBuf := streamcodec.NewByteBuffer()
	valueBuf := streamcodec.NewByteBuffer()
	enc := NewEncoder(schema, tokenBuf, valueBuf)
	for _, h := range headers {
		enc.Encode(h)
	}

	dec := NewDecoder(schema, streamcodec.NewByteBufferFrom(tokenBuf.Bytes()), streamcodec.NewByteBufferFrom(valueBuf.Bytes()))
	for _, want := range headers {
		got := dec.Decode()
		assert.Equal(t, string(want), string(got))
	}
}

func TestBuildSchemaConstField(t *testing.T) {
	headers := [][]byte{[]byte("@run.1"), []byte("@run.2"), []byte("@run.3")}
	schema := BuildSchema(headers)
	require.Len(t, schema.Fields, 2)
	assert.Equal(t, FieldConst, schema.Fields[0].Kind)
	assert.Equal(t, FieldNumeric, schema.Fields[1].Kind)
}
