package archive

import (
	"bytes"
	"testing"

	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/contig"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeTreeRoundTrip(t *testing.T) {
	recs := []*record.FastqRecord{
		{Seq: []byte("ACGTACGTACGTACGT"), Qual: []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}},
		{Seq: []byte("ACGTACGTACGTACGA"), Qual: []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 26}},
		{Seq: []byte("ACGTACGTACGTACGT"), Qual: []byte{9, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25}},
	}
	gec := matchtree.NewGraphEncodingContext()
	lzmatch.ConstructMatchTree(gec, recs, lzmatch.DefaultParams())

	cfg := binconfig.DefaultBinModuleConfig()
	cfg.QualityParams = binconfig.QualityCompressionParams{Method: binconfig.QualityBinary, BinaryThreshold: 20}

	enc := NewEncoder(cfg, nil, lzmatch.DefaultParams())
	block := enc.EncodeTree(gec, signature.Code(123), blockio.PPMdCodec{}, 42)

	dec := NewDecoder(cfg, nil)
	gotGEC, sig, err := dec.DecodeBlock(block, blockio.PPMdCodec{}, nil, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 123, sig)

	var seqs []string
	gotGEC.Walk(func(idx matchtree.NodeIndex, _ int) {
		n := gotGEC.Node(idx)
		seqs = append(seqs, string(n.Rec.Seq))
		if n.ExactMatches != nil {
			for _, r := range n.ExactMatches.Records {
				seqs = append(seqs, string(r.Seq))
			}
		}
	})
	require.Len(t, seqs, 3)
	assert.Contains(t, seqs, "ACGTACGTACGTACGT")
	assert.Contains(t, seqs, "ACGTACGTACGTACGA")
}

// TestEncodeDecodeContigGroupRoundTrip exercises the contig-group wire path
// end to end: the root's own quality/identifier payload must decode
// correctly even though it is interleaved before its members' payloads in
// the Quality stream, not after the whole group as encodeNode's generic
// per-node payload write would otherwise place it.
func TestEncodeDecodeContigGroupRoundTrip(t *testing.T) {
	rootSeq := "ACGTACGTACGT"
	rootQual := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 30}

	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: &record.FastqRecord{Seq: []byte(rootSeq), Qual: rootQual}, Type: matchtree.NodeHard})
	gec.Roots = append(gec.Roots, rootIdx)

	memberQuals := make([][]byte, 0, 20)
	for i := 0; i < 20; i++ {
		seq := rootSeq
		if i%2 == 0 {
			seq = "ACGTACGTAGGT" // mismatch at position 9, within Build's evaluated window
		}
		q := make([]byte, 12)
		for j := range q {
			q[j] = byte(i + j)
		}
		memberQuals = append(memberQuals, q)
		childIdx := gec.AddNode(matchtree.Node{Rec: &record.FastqRecord{Seq: []byte(seq), Qual: q}, Type: matchtree.NodeLZ})
		gec.AddChild(rootIdx, childIdx)
	}

	contig.Fold(gec, 12, 4, contig.DefaultParams())
	root := gec.Node(rootIdx)
	require.NotNil(t, root.Contig)
	require.Len(t, root.Contig.Members, 20)
	require.Empty(t, root.Children)

	cfg := binconfig.DefaultBinModuleConfig()
	cfg.QualityParams = binconfig.QualityCompressionParams{Method: binconfig.QualityBinary, BinaryThreshold: 20}

	enc := NewEncoder(cfg, nil, lzmatch.DefaultParams())
	block := enc.EncodeTree(gec, signature.Code(5), blockio.PPMdCodec{}, 77)

	dec := NewDecoder(cfg, nil)
	gotGEC, sig, err := dec.DecodeBlock(block, blockio.PPMdCodec{}, nil, 77)
	require.NoError(t, err)
	assert.EqualValues(t, 5, sig)

	require.Len(t, gotGEC.Roots, 1)
	gotRoot := gotGEC.Node(gotGEC.Roots[0])
	require.NotNil(t, gotRoot.Contig)
	assert.Equal(t, rootSeq, string(gotRoot.Rec.Seq))
	require.Len(t, gotRoot.Contig.Members, 20)
}

func TestWriterFooterRoundTrip(t *testing.T) {
	recs := []*record.FastqRecord{{Seq: []byte("ACGTACGTACGT")}}
	gec := matchtree.NewGraphEncodingContext()
	lzmatch.ConstructMatchTree(gec, recs, lzmatch.DefaultParams())

	cfg := binconfig.DefaultBinModuleConfig()
	enc := NewEncoder(cfg, nil, lzmatch.DefaultParams())
	block := enc.EncodeTree(gec, signature.Code(7), blockio.PPMdCodec{}, 1)

	var out bytes.Buffer
	w, err := NewWriter(&out)
	require.NoError(t, err)
	require.NoError(t, w.WriteBlock(signature.Code(7), block))
	headerBytes, err := w.Finish(cfg, nil)
	require.NoError(t, err)
	require.Equal(t, FileHeaderSize, len(headerBytes))

	full := append(append([]byte(nil), headerBytes...), out.Bytes()[FileHeaderSize:]...)
	h, footer, err := ReadFooter(full)
	require.NoError(t, err)
	require.Len(t, footer.Signatures, 1)
	assert.EqualValues(t, 7, footer.Signatures[0])
	assert.Equal(t, h.FooterOffset, uint64(len(full))-h.FooterSize)

	ranges := BlockRanges(footer)
	require.Len(t, ranges, 1)
	blockBytes := full[ranges[0][0]:ranges[0][1]]
	assert.Equal(t, block, blockBytes)
}
