package bin

import (
	"bytes"
	"testing"

	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizerAssignsBins(t *testing.T) {
	cfg := binconfig.CategorizerParameters{MinRecordsToStore: 2}
	c := NewCategorizer(cfg, signature.DefaultParams())

	recs := []*record.FastqRecord{
		{Seq: []byte("ACGTACGTACGTACGT")},
		{Seq: []byte("ACGTACGTACGTACGT")},
		{Seq: []byte("TTTTTTTTTTTTTTTT")},
	}
	require.NoError(t, c.Categorize(recs))

	total := 0
	for _, b := range c.Bins() {
		total += len(b.Records)
	}
	nbin := c.Flush()
	total += len(nbin.Records)
	assert.Equal(t, 3, total)
}

func TestPackUnpackRoundTripNoSignature(t *testing.T) {
	recs := []*record.FastqRecord{
		{Seq: []byte("ACGTACGT")},
		{Seq: []byte("TTTTGGGG")},
	}
	settings := BinPackSettings{MinLen: 8, MaxLen: 8, ConstLen: true}
	packer := NewPacker(settings, nil, nil)
	streams := packer.Pack(recs)

	unpacker := NewUnpacker(settings, nil)
	got := unpacker.Unpack(streams, len(recs), 0, false)
	require.Len(t, got, 2)
	for i := range recs {
		assert.Equal(t, string(recs[i].Seq), string(got[i].Seq))
	}
}

func TestPackUnpackRoundTripWithSignatureAndHeaders(t *testing.T) {
	sigParams := signature.DefaultParams()
	vb := signature.NewValidityBitmap(sigParams)
	seq := []byte("ACGTTGCAACGTACGTACGT")
	res, err := signature.FindMinimizer(seq, nil, sigParams, vb)
	require.NoError(t, err)

	storedSeq := append([]byte(nil), seq...)
	minimPos := res.Pos
	if res.ReverseWins {
		signature.ReverseComplement(storedSeq, storedSeq)
		minimPos = record.MirrorMinimPos(res.Pos, sigParams.Len, len(seq))
	}
	rec := &record.FastqRecord{Seq: storedSeq, MinimPos: minimPos, Sig: res.Sig, Head: []byte("@read1")}
	settings := BinPackSettings{MinLen: uint16(len(seq)), MaxLen: uint16(len(seq)), ConstLen: true, SuffixLen: sigParams.Len, UsesHeaders: true}
	packer := NewPacker(settings, nil, nil)
	streams := packer.Pack([]*record.FastqRecord{rec})

	unpacker := NewUnpacker(settings, nil)
	got := unpacker.Unpack(streams, 1, res.Sig, false)
	require.Len(t, got, 1)
	assert.Equal(t, string(storedSeq), string(got[0].Seq))
	assert.Equal(t, "@read1", string(got[0].Head))
}

func TestBinFileRoundTrip(t *testing.T) {
	var metaBuf, dnaBuf, quaBuf bytes.Buffer
	w, err := NewBinFileWriter(&metaBuf, &dnaBuf, &quaBuf, nil)
	require.NoError(t, err)

	b := &Bin{Signature: signature.Code(42), MinLen: 8, MaxLen: 8}
	b.Records = []*record.FastqRecord{{Seq: []byte("ACGTACGT")}}
	settings := BinPackSettings{MinLen: 8, MaxLen: 8, ConstLen: true}
	packer := NewPacker(settings, nil, nil)
	streams := packer.Pack(b.Records)
	require.NoError(t, w.WriteBin(b, settings, streams))

	h, headerBytes, err := w.Finish(binconfig.DefaultBinModuleConfig())
	require.NoError(t, err)
	assert.Equal(t, BinFileHeaderSize, len(headerBytes))

	full := append(append([]byte(nil), headerBytes...), metaBuf.Bytes()[BinFileHeaderSize:]...)
	gotH, footer, err := ReadBinFile(full)
	require.NoError(t, err)
	assert.Equal(t, h.RecordsCount, gotH.RecordsCount)
	require.Len(t, footer.Descriptors, 1)
	assert.Equal(t, signature.Code(42), footer.Descriptors[0].Signature)
}
