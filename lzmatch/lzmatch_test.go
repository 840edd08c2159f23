package lzmatch

import (
	"testing"

	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(seq string, minimPos uint16) *record.FastqRecord {
	return &record.FastqRecord{Seq: []byte(seq), MinimPos: minimPos}
}

func TestConstructMatchTreeSingleHard(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	recs := []*record.FastqRecord{rec("ACGTACGT", 0)}
	ConstructMatchTree(gec, recs, DefaultParams())

	require.Len(t, gec.Roots, 1)
	root := gec.Node(gec.Roots[0])
	assert.Equal(t, matchtree.NodeHard, root.Type)
}

func TestConstructMatchTreeExactMatch(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	recs := []*record.FastqRecord{
		rec("ACGTACGTACGT", 0),
		rec("ACGTACGTACGT", 0),
	}
	ConstructMatchTree(gec, recs, DefaultParams())

	require.Len(t, gec.Roots, 1)
	root := gec.Node(gec.Roots[0])
	require.NotNil(t, root.ExactMatches)
	assert.Len(t, root.ExactMatches.Records, 1)
	assert.True(t, root.HasFlag(matchtree.HasExactMatches))
}

func TestConstructMatchTreeLZChild(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	recs := []*record.FastqRecord{
		rec("ACGTACGTACGTACGT", 0),
		rec("ACGTACGTACGTACGA", 0), // one mismatch at the tail
	}
	ConstructMatchTree(gec, recs, DefaultParams())

	require.Len(t, gec.Roots, 1)
	root := gec.Node(gec.Roots[0])
	require.Len(t, root.Children, 1)
	child := gec.Node(root.Children[0])
	assert.Equal(t, matchtree.NodeLZ, child.Type)
}

func TestConstructMatchTreeUnrelatedReadsAreSeparateHards(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	recs := []*record.FastqRecord{
		rec("AAAAAAAAAAAAAAAA", 0),
		rec("TTTTTTTTTTTTTTTT", 0),
	}
	p := DefaultParams()
	p.MismatchCost = 100
	ConstructMatchTree(gec, recs, p)

	assert.Len(t, gec.Roots, 2)
}
