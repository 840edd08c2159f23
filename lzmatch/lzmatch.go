// Package lzmatch implements FaStore's LZ read classifier (spec §4.4.1):
// sliding a window of recent records past the current one, scoring
// candidate matches by shift and mismatch cost, and building the resulting
// forest of matchtree.Nodes. The cost algorithm (UpdateLzMatchResult) is
// grounded bit-for-bit on original_source/fastore/core/ReadsClassifier.h.
package lzmatch

import (
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
)

// Params configures the classifier (spec §4.4.1).
type Params struct {
	WindowSize          int // default 255 SE, 4096 PE
	ShiftCost           int
	MismatchCost        int
	MaxShift            int // reject candidates beyond this |shift|
	EncodeThreshold     int // 0 = auto (seqLen/2)
	MaxMismatchesLowCost int
}

// DefaultParams returns spec.md's documented single-end defaults.
func DefaultParams() Params {
	return Params{
		WindowSize:           255,
		ShiftCost:            1,
		MismatchCost:         5,
		MaxShift:             127,
		MaxMismatchesLowCost: 4,
	}
}

// PairedParams returns the paired-end window size override (spec §4.4.1).
func PairedParams() Params {
	p := DefaultParams()
	p.WindowSize = 4096
	return p
}

// window is the ring buffer of recent records used as LZ candidates.
type window struct {
	recs []*record.FastqRecord
	idxs []matchtree.NodeIndex
	size int
}

func newWindow(size int) *window {
	return &window{size: size}
}

func (w *window) push(rec *record.FastqRecord, idx matchtree.NodeIndex) {
	w.recs = append(w.recs, rec)
	w.idxs = append(w.idxs, idx)
	if len(w.recs) > w.size {
		w.recs = w.recs[1:]
		w.idxs = w.idxs[1:]
	}
}

func (w *window) clear() {
	w.recs = w.recs[:0]
	w.idxs = w.idxs[:0]
}

// matchResult is the best candidate found for one record.
type matchResult struct {
	found      bool
	idx        matchtree.NodeIndex
	shift      int
	cost       int
	mismatches int
	exact      bool
}

// updateLzMatchResult scores one (candidate, record) pair, mirroring the
// original's UpdateLzMatchResult: shift cost first, early-exit on
// mismatch-cost overrun, track exactness.
func updateLzMatchResult(best *matchResult, idx matchtree.NodeIndex, cRec, rRec *record.FastqRecord, p Params) {
	q := int(cRec.MinimPos)
	pos := int(rRec.MinimPos)
	shift := q - pos
	if abs(shift) > p.MaxShift {
		return
	}
	cost := abs(shift) * p.ShiftCost
	if best.found && cost >= best.cost {
		return
	}

	rSeq, cSeq := rRec.Seq, cRec.Seq
	overlap := min(len(rSeq)-max(0, -shift), len(cSeq)-max(0, shift))
	if overlap <= 0 {
		return
	}
	rOff := max(0, -shift)
	cOff := max(0, shift)
	mismatches := 0
	for i := 0; i < overlap; i++ {
		if rSeq[rOff+i] != cSeq[cOff+i] {
			cost += p.MismatchCost
			mismatches++
			if best.found && cost >= best.cost {
				return
			}
		}
	}
	exact := mismatches == 0 && len(rSeq) == len(cSeq) && shift == 0

	best.found = true
	best.idx = idx
	best.shift = shift
	best.cost = cost
	best.mismatches = mismatches
	best.exact = exact
}

func encodeThreshold(p Params, seqLen int) int {
	if p.EncodeThreshold > 0 {
		return p.EncodeThreshold
	}
	return seqLen / 2
}

// ConstructMatchTree classifies every record in recs (already sorted by
// the caller per spec §4.4.1's ordering) into a forest inside gec.
func ConstructMatchTree(gec *matchtree.GraphEncodingContext, recs []*record.FastqRecord, p Params) {
	w := newWindow(p.WindowSize)
	for _, rec := range recs {
		var best matchResult
		for i := len(w.recs) - 1; i >= 0; i-- {
			updateLzMatchResult(&best, w.idxs[i], w.recs[i], rec, p)
		}

		threshold := encodeThreshold(p, rec.Len())
		switch {
		case best.found && best.exact:
			parent := gec.Node(best.idx)
			if parent.ExactMatches == nil {
				parent.ExactMatches = &matchtree.ExactMatchesGroup{}
			}
			parent.ExactMatches.Records = append(parent.ExactMatches.Records, rec)
			parent.ExactMatches.Reverse = append(parent.ExactMatches.Reverse, rec.IsReverse())
			parent.Flags |= matchtree.HasExactMatches
			// Exact matches do not themselves extend the LZ window: they
			// carry no new sequence information beyond their parent.
		case best.found && best.cost <= threshold:
			idx := gec.AddNode(matchtree.Node{
				Rec:      rec,
				LZParent: w.recs[indexOf(w.idxs, best.idx)],
				Type:     matchtree.NodeLZ,
				Shift:    int16(best.shift),
				EncodeCost: uint16(best.cost),
			})
			gec.AddChild(best.idx, idx)
			w.push(rec, idx)
		default:
			idx := gec.AddNode(matchtree.Node{Rec: rec, Type: matchtree.NodeHard})
			gec.Roots = append(gec.Roots, idx)
			w.clear()
			w.push(rec, idx)
		}
	}
}

func indexOf(s []matchtree.NodeIndex, v matchtree.NodeIndex) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
