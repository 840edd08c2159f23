package fastqio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fourReads = `@read1/1
ACGTACGTAC
+
IIIIIIIIII
@read2/1
TTTTGGGGCC
+
FFFFFFFFFF
`

func TestScanner(t *testing.T) {
	s := NewScanner(bytes.NewReader([]byte(fourReads)))
	var r Read
	require.True(t, s.Scan(&r))
	assert.Equal(t, "@read1/1", string(r.ID))
	assert.Equal(t, "ACGTACGTAC", string(r.Seq))
	assert.Equal(t, "+", string(r.Plus))
	assert.Equal(t, "IIIIIIIIII", string(r.Qual))

	require.True(t, s.Scan(&r))
	assert.Equal(t, "@read2/1", string(r.ID))

	require.False(t, s.Scan(&r))
	assert.NoError(t, s.Err())
}

func TestScannerCRLF(t *testing.T) {
	crlf := bytes.ReplaceAll([]byte(fourReads), []byte("\n"), []byte("\r\n"))
	s := NewScanner(bytes.NewReader(crlf))
	var r Read
	require.True(t, s.Scan(&r))
	assert.Equal(t, "ACGTACGTAC", string(r.Seq))
}

func TestScannerInvalid(t *testing.T) {
	s := NewScanner(bytes.NewReader([]byte("not-a-header\n")))
	var r Read
	require.False(t, s.Scan(&r))
	assert.Equal(t, ErrInvalid, s.Err())
}

func TestScannerShort(t *testing.T) {
	s := NewScanner(bytes.NewReader([]byte("@id\nACGT\n")))
	var r Read
	require.False(t, s.Scan(&r))
	assert.Equal(t, ErrShort, s.Err())
}

func TestPairScannerDiscordant(t *testing.T) {
	r1 := bytes.NewReader([]byte(fourReads))
	r2 := bytes.NewReader([]byte("@only/2\nACGT\n+\nIIII\n"))
	p := NewPairScanner(r1, r2)
	var a, b Read
	require.True(t, p.Scan(&a, &b))
	require.False(t, p.Scan(&a, &b))
	assert.Equal(t, ErrDiscordant, p.Err())
}

func TestResync(t *testing.T) {
	assert.True(t, Resync([]byte("@1234/1"), []byte("@1234/2")))
	assert.False(t, Resync([]byte("@1234/1"), []byte("@5678/2")))
}

func TestWriterRaw(t *testing.T) {
	s := NewScanner(bytes.NewReader([]byte(fourReads)))
	var buf bytes.Buffer
	w := NewWriter(&buf)
	var r Read
	for s.Scan(&r) {
		require.NoError(t, w.WriteRaw(&r))
	}
	require.NoError(t, s.Err())
	assert.Equal(t, fourReads, buf.String())
}
