package rebin

import (
	"testing"

	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(seq string) *record.FastqRecord {
	return &record.FastqRecord{Seq: []byte(seq)}
}

func TestRebinDispersesSmallTree(t *testing.T) {
	b := &bin.Bin{
		Signature: signature.Code(7),
		Records: []*record.FastqRecord{
			rec("ACGTACGTACGTACGT"),
			rec("TTTTCCCCGGGGAAAA"),
		},
	}
	sigParams := signature.DefaultParams()
	vb := signature.NewValidityBitmap(sigParams)
	p := DefaultParams()
	p.MinTreeSize = 4 // both trees here are smaller than this

	res := Rebin(b, sigParams, vb, lzmatch.DefaultParams(), p)
	assert.Empty(t, res.Promoted)
	assert.Len(t, res.Dispersed, 2)
}

func TestRebinPromotesLargeTree(t *testing.T) {
	recs := make([]*record.FastqRecord, 0, 6)
	base := "ACGTACGTACGTACGTACGT"
	recs = append(recs, rec(base))
	for i := 0; i < 5; i++ {
		recs = append(recs, rec(base))
	}
	b := &bin.Bin{Signature: signature.Code(3), Records: recs}

	sigParams := signature.DefaultParams()
	vb := signature.NewValidityBitmap(sigParams)
	p := DefaultParams()
	p.MinTreeSize = 2

	res := Rebin(b, sigParams, vb, lzmatch.DefaultParams(), p)
	require.Empty(t, res.Dispersed)
	require.Len(t, res.Promoted, 1)
	for _, gecs := range res.Promoted {
		require.Len(t, gecs, 1)
		g := gecs[0]
		require.Len(t, g.Roots, 1)
		root := g.Node(g.Roots[0])
		require.NotNil(t, root.TransTree)
		assert.EqualValues(t, 3, root.TransTree.SignatureID)
	}
}
