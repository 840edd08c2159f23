package contig

import (
	"testing"

	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
	"github.com/stretchr/testify/assert"
)

func mkRec(seq string) *record.FastqRecord {
	return &record.FastqRecord{Seq: []byte(seq), MinimPos: 0}
}

func TestBuildRequiresMinimumMembers(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGT"), Type: matchtree.NodeHard})
	gec.Roots = append(gec.Roots, rootIdx)

	for i := 0; i < 3; i++ {
		childIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGT"), Type: matchtree.NodeLZ})
		gec.AddChild(rootIdx, childIdx)
	}

	cd := Build(gec, rootIdx, 8, 8, DefaultParams())
	assert.Nil(t, cd)
}

func TestBuildAcceptsEnoughMembers(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGTACGT"), Type: matchtree.NodeHard})
	gec.Roots = append(gec.Roots, rootIdx)

	for i := 0; i < 12; i++ {
		childIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGTACGT"), Type: matchtree.NodeLZ})
		gec.AddChild(rootIdx, childIdx)
	}

	p := DefaultParams()
	cd := Build(gec, rootIdx, 12, 4, p)
	if cd != nil {
		assert.GreaterOrEqual(t, len(cd.Members), p.MinConsensusSize)
	}
}

// TestFoldCollapsesSingleVariantGroup reproduces the reviewer-named scenario:
// 20 reads identical except at one position (a single SNP-like variant),
// which should fold into one ContigDefinition with membership 20 and exactly
// one recorded variant position, detaching every folded read from the
// root's Children so the LZ encoder never sees them again.
func TestFoldCollapsesSingleVariantGroup(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGTACGT"), Type: matchtree.NodeHard})
	gec.Roots = append(gec.Roots, rootIdx)

	// Build's evaluate() only scores positions inside [BeginCut, len-EndCut)
	// and outside the root's own minimizer window (here the read's first
	// SigLen bases): with BeginCut=EndCut=2 and sigLen=4, only read
	// positions 4..9 are ever compared, so the mismatch must land there.
	for i := 0; i < 20; i++ {
		seq := "ACGTACGTACGT"
		if i%2 == 0 {
			seq = "ACGTACGTAGGT" // mismatch at position 9
		}
		childIdx := gec.AddNode(matchtree.Node{Rec: mkRec(seq), Type: matchtree.NodeLZ})
		gec.AddChild(rootIdx, childIdx)
	}
	assert.Len(t, gec.Node(rootIdx).Children, 20)

	p := DefaultParams()
	Fold(gec, 12, 4, p)

	root := gec.Node(rootIdx)
	assert.NotNil(t, root.Contig)
	assert.True(t, root.Flags&matchtree.HasContig != 0)
	assert.Len(t, root.Contig.Members, 20)
	assert.Len(t, root.Contig.Variants, 1)
	assert.Empty(t, root.Children)
}

// TestFoldSkipsLZRoots leaves a root already classified as an LZ match
// untouched: contig folding only applies to HARD (consensus-anchor) roots.
func TestFoldSkipsLZRoots(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGTACGT"), Type: matchtree.NodeLZ})
	gec.Roots = append(gec.Roots, rootIdx)

	Fold(gec, 12, 4, DefaultParams())

	root := gec.Node(rootIdx)
	assert.Nil(t, root.Contig)
	assert.True(t, root.Flags&matchtree.HasContig == 0)
}

// TestFoldLeavesShortGroupsAlone confirms a root whose accepted membership
// falls short of MinConsensusSize keeps its Children untouched rather than
// partially folding.
func TestFoldLeavesShortGroupsAlone(t *testing.T) {
	gec := matchtree.NewGraphEncodingContext()
	rootIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGT"), Type: matchtree.NodeHard})
	gec.Roots = append(gec.Roots, rootIdx)

	for i := 0; i < 3; i++ {
		childIdx := gec.AddNode(matchtree.Node{Rec: mkRec("ACGTACGT"), Type: matchtree.NodeLZ})
		gec.AddChild(rootIdx, childIdx)
	}

	Fold(gec, 8, 8, DefaultParams())

	root := gec.Node(rootIdx)
	assert.Nil(t, root.Contig)
	assert.Len(t, root.Children, 3)
}
