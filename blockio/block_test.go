package blockio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPPMdCodecRoundTrip(t *testing.T) {
	var codec PPMdCodec
	data := []byte("ACGTACGTACGTACGTACGTACGTACGTACGT repeated sequence data")
	comp, err := codec.Compress(data)
	require.NoError(t, err)
	out, err := codec.Decompress(comp, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestFastCodecRoundTrip(t *testing.T) {
	var codec FastCodec
	data := []byte("the quick brown fox jumps over the lazy dog, over and over")
	comp, err := codec.Compress(data)
	require.NoError(t, err)
	out, err := codec.Decompress(comp, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestBlockRoundTrip(t *testing.T) {
	h := RawBlockHeader{
		SignatureID:      7,
		RecordsCount:     3,
		RecMinLen:        8,
		RecMaxLen:        12,
		RawDnaStreamSize: 100,
		RawIDStreamSize:  0,
	}
	streams := []Stream{
		{Name: "flag", Data: []byte{1, 2, 3, 4}},
		{Name: "letterx", Data: []byte("ACGTACGTACGT")},
		{Name: "rev", Data: []byte{0xAB, 0xCD}, Verbatim: true},
	}
	blob := WriteBlock(h, streams, PPMdCodec{})

	names := []string{"flag", "letterx", "rev"}
	verbatim := map[string]bool{"rev": true}
	gotH, gotStreams, err := ReadBlock(blob, names, PPMdCodec{}, verbatim)
	require.NoError(t, err)
	assert.Equal(t, h.SignatureID, gotH.SignatureID)
	assert.Equal(t, h.RecordsCount, gotH.RecordsCount)
	require.Len(t, gotStreams, 3)
	for i, s := range streams {
		assert.Equal(t, s.Data, gotStreams[i].Data)
	}
}

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("hello world"))
	b := Checksum([]byte("hello world"))
	c := Checksum([]byte("hello worlD"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
