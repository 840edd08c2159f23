// Package contig implements FaStore's consensus contig builder (spec
// §4.4.2): greedily folding a root's LZ children into a single consensus
// sequence when enough of them agree closely enough to be cheaper to
// encode as contig members than as independent LZ matches. Grounded on the
// same two-pass accept/relink shape the original's read classifier uses for
// LZ matching (core/ReadsClassifier.h), generalized from pairwise matching
// to the multi-member consensus case.
package contig

import (
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
)

// Params configures contig acceptance (spec §4.4.2).
type Params struct {
	BeginCut                 int
	EndCut                   int
	MaxNewVariantsPerRead    int
	MaxHammingDistance       int
	MaxRecordShiftDifference int
	MinConsensusSize         int
}

// DefaultParams matches spec.md's documented defaults.
func DefaultParams() Params {
	return Params{
		BeginCut:                 2,
		EndCut:                   2,
		MaxNewVariantsPerRead:    2,
		MaxHammingDistance:       8,
		MaxRecordShiftDifference: 4,
		MinConsensusSize:         10,
	}
}

// candidate is one descendant under consideration for folding into the
// contig, alongside the shift of its minimizer relative to the root.
type candidate struct {
	idx   matchtree.NodeIndex
	shift int
}

// Build attempts to fold root's LZ children at depth 1 into a
// ContigDefinition. It returns nil if fewer than Params.MinConsensusSize
// members were accepted.
func Build(gec *matchtree.GraphEncodingContext, rootIdx matchtree.NodeIndex, readLen int, sigLen int, p Params) *matchtree.ContigDefinition {
	root := gec.Node(rootIdx)
	consensus := make([]byte, 2*readLen)
	offset := readLen - int(root.Rec.MinimPos)
	for i, b := range root.Rec.Seq {
		consensus[offset+i] = b
	}
	beginCut, endCut := p.BeginCut, p.EndCut

	variantHolders := map[int]int{} // consensus pos -> number of members disagreeing

	var accepted []*candFit
	pass := func(acceptImperfect bool) {
		for _, childIdx := range root.Children {
			if alreadyAccepted(accepted, childIdx) {
				continue
			}
			child := gec.Node(childIdx)
			if child.Type != matchtree.NodeLZ {
				continue
			}
			shift := offset + int(root.Rec.MinimPos) - int(child.Rec.MinimPos)
			fit, newVariants, dist := evaluate(consensus, child.Rec.Seq, shift, int(root.Rec.MinimPos)+offset, sigLen, beginCut, endCut)
			if fit == nil {
				continue
			}
			if newVariants > 0 && !acceptImperfect {
				continue
			}
			if newVariants > p.MaxNewVariantsPerRead || dist > p.MaxHammingDistance {
				continue
			}
			if abs(shift-offset) > p.MaxRecordShiftDifference {
				continue
			}
			accepted = append(accepted, &candFit{idx: childIdx, shift: shift})
			for _, pos := range fit.variantPositions {
				applyMajority(consensus, pos, fit.base[pos])
				variantHolders[pos]++
			}
		}
	}
	pass(false)
	pass(true)

	if len(accepted) < p.MinConsensusSize {
		return nil
	}

	cd := &matchtree.ContigDefinition{
		Consensus:   consensus,
		Offset:      offset,
		BeginCut:    beginCut,
		EndCut:      endCut,
		RangeFirst:  0,
		RangeSecond: len(consensus),
	}
	for pos := range variantHolders {
		cd.Variants = append(cd.Variants, pos)
	}
	for _, a := range accepted {
		child := gec.Node(a.idx)
		cd.Members = append(cd.Members, &matchtree.ContigMember{
			Rec:        child.Rec,
			Reverse:    child.Rec.IsReverse(),
			ShiftDelta: int8(a.shift - offset),
		})
	}
	return cd
}

type candFit struct {
	idx              matchtree.NodeIndex
	shift            int
	base             map[int]byte
	variantPositions []int
}

func alreadyAccepted(list []*candFit, idx matchtree.NodeIndex) bool {
	for _, c := range list {
		if c.idx == idx {
			return true
		}
	}
	return false
}

// evaluate computes the Hamming distance between seq (placed at shift in
// consensus coordinates) and the current consensus, skipping positions
// inside [sigStart, sigStart+sigLen) and outside [beginCut, len-endCut) of
// the read's own coordinate frame.
func evaluate(consensus, seq []byte, shift, sigStart, sigLen, beginCut, endCut int) (*candFit, int, int) {
	newVariants := 0
	dist := 0
	base := map[int]byte{}
	var variantPositions []int
	for i := 0; i < len(seq); i++ {
		if i < beginCut || i >= len(seq)-endCut {
			continue
		}
		pos := shift + i
		if pos < 0 || pos >= len(consensus) {
			continue
		}
		if pos >= sigStart && pos < sigStart+sigLen {
			continue
		}
		if consensus[pos] == 0 {
			base[pos] = seq[i]
			continue
		}
		if consensus[pos] != seq[i] {
			dist++
			if _, exists := base[pos]; !exists {
				newVariants++
			}
			base[pos] = seq[i]
			variantPositions = append(variantPositions, pos)
		}
	}
	return &candFit{variantPositions: variantPositions, base: base}, newVariants, dist
}

func applyMajority(consensus []byte, pos int, b byte) {
	if consensus[pos] == 0 {
		consensus[pos] = b
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Fold walks every top-level root of gec and, where enough of its LZ
// children agree closely enough, replaces them with a single
// ContigDefinition (spec §4.4.2, the mandatory S4 module scenario (c)
// exercises: 20 reads folding to one variant position with membership 20).
// Accepted children are detached from root.Children so the LZ encoder never
// sees them as independent nodes; Fold is a no-op for a root whose folded
// member count falls short of Params.MinConsensusSize.
func Fold(gec *matchtree.GraphEncodingContext, readLen int, sigLen int, p Params) {
	for _, rootIdx := range gec.Roots {
		root := gec.Node(rootIdx)
		if root.Type == matchtree.NodeLZ {
			continue
		}
		cd := Build(gec, rootIdx, readLen, sigLen, p)
		if cd == nil {
			continue
		}
		root.Contig = cd
		root.Flags |= matchtree.HasContig
		root.Children = detach(root.Children, gec, cd.Members)
	}
}

// detach removes every child of root whose record is folded into members,
// matching by *record.FastqRecord pointer identity since ContigMember
// carries no NodeIndex of its own.
func detach(children []matchtree.NodeIndex, gec *matchtree.GraphEncodingContext, members []*matchtree.ContigMember) []matchtree.NodeIndex {
	folded := make(map[*matchtree.Node]bool, len(members))
	for _, m := range members {
		folded[nodeByRec(gec, children, m.Rec)] = true
	}
	var kept []matchtree.NodeIndex
	for _, idx := range children {
		if folded[gec.Node(idx)] {
			continue
		}
		kept = append(kept, idx)
	}
	return kept
}

func nodeByRec(gec *matchtree.GraphEncodingContext, children []matchtree.NodeIndex, rec *record.FastqRecord) *matchtree.Node {
	for _, idx := range children {
		n := gec.Node(idx)
		if n.Rec == rec {
			return n
		}
	}
	return nil
}
