// Package rebin implements FaStore's Rebinner (S3, spec §4.3): given a bin
// at signature-parity level ℓ, it re-runs the LZ classifier to materialize
// a match tree, then either disperses small trees back into finer-grained
// bins or promotes large trees to a parent bin at level ℓ+1, attaching a
// TransTree decorator that records the cross-bin linkage. Grounded on the
// same "inspect, relink, re-emit" shape the contig builder's two-pass
// relinking uses, generalized from folding siblings into a consensus to
// folding whole trees into a new parent signature.
package rebin

import (
	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
)

// Params configures the rebinner (spec §4.3 and its CLI flags).
type Params struct {
	Parity      uint8 // target level ℓ+1 divisor exponent
	MinTreeSize int   // default 4
	// NewRootPolicy selects the new root among a tree's nodes: leftmost or
	// rightmost signature position.
	NewRootPolicy RootPolicy
}

// RootPolicy selects which node becomes the new tree root after promotion.
type RootPolicy byte

const (
	RootLeftmost RootPolicy = iota
	RootRightmost
)

// DefaultParams matches spec.md's documented defaults.
func DefaultParams() Params {
	return Params{Parity: 2, MinTreeSize: 4, NewRootPolicy: RootLeftmost}
}

// Result is the outcome of rebinning one input bin.
type Result struct {
	// Promoted holds trees attached (via TransTree) to their new parent
	// signature, keyed by that signature.
	Promoted map[signature.Code][]*matchtree.GraphEncodingContext
	// Dispersed holds records stripped from small trees and re-signed at
	// the finer divisor, ready for ordinary categorization.
	Dispersed []*record.FastqRecord
}

// Rebin processes one bin: classifies it with the LZ matcher, then applies
// the per-root small-tree/large-tree decision of spec §4.3.
func Rebin(b *bin.Bin, sigParams signature.Params, vb *signature.ValidityBitmap, lzParams lzmatch.Params, p Params) Result {
	gec := matchtree.NewGraphEncodingContext()
	lzmatch.ConstructMatchTree(gec, b.Records, lzParams)

	res := Result{Promoted: map[signature.Code][]*matchtree.GraphEncodingContext{}}
	finerParams := sigParams
	finerParams.MaskCutoffBits = sigParams.MaskCutoffBits + p.Parity

	for _, rootIdx := range gec.Roots {
		size := treeSize(gec, rootIdx)
		if size <= p.MinTreeSize {
			disperseTree(gec, rootIdx, finerParams, vb, &res.Dispersed)
			continue
		}
		promoteTree(gec, rootIdx, b.Signature, sigParams, p, &res)
	}
	return res
}

func treeSize(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex) int {
	n := 1
	node := gec.Node(idx)
	if node.ExactMatches != nil {
		n += len(node.ExactMatches.Records)
	}
	for _, c := range node.Children {
		n += treeSize(gec, c)
	}
	return n
}

// disperseTree strips every node's tree links and re-signs each record at
// the finer divisor (spec §4.3: "emit each node as an independent record
// (strip links) and re-run find_minimizer per record with the divisor
// 2^(ℓ+1)").
func disperseTree(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex, finerParams signature.Params, vb *signature.ValidityBitmap, out *[]*record.FastqRecord) {
	node := gec.Node(idx)
	resign(node.Rec, finerParams, vb)
	*out = append(*out, node.Rec)
	if node.ExactMatches != nil {
		for _, r := range node.ExactMatches.Records {
			resign(r, finerParams, vb)
			*out = append(*out, r)
		}
	}
	for _, c := range node.Children {
		disperseTree(gec, c, finerParams, vb, out)
	}
}

func resign(rec *record.FastqRecord, params signature.Params, vb *signature.ValidityBitmap) {
	if rec.IsReverse() {
		rec.ApplyReverseComplement()
	}
	res, err := signature.FindMinimizer(rec.Seq, rec.Qual, params, vb)
	if err != nil {
		rec.MinimPos = 0
		rec.Sig = params.NBin()
		return
	}
	if res.ReverseWins {
		rec.ApplyReverseComplement()
		rec.MinimPos = record.MirrorMinimPos(res.Pos, params.Len, rec.Len())
	} else {
		rec.MinimPos = res.Pos
	}
	rec.Sig = res.Sig
}

// promoteTree picks a new root per p.NewRootPolicy, inverts the parent
// chain if needed, recomputes its signature at the coarser parity, and
// attaches a TransTree decorator recording the old linkage (spec §4.3
// steps 2-3).
func promoteTree(gec *matchtree.GraphEncodingContext, rootIdx matchtree.NodeIndex, oldSig signature.Code, sigParams signature.Params, p Params, res *Result) {
	newRootIdx := selectNewRoot(gec, rootIdx, p.NewRootPolicy)
	if newRootIdx != rootIdx {
		invertParentChain(gec, rootIdx, newRootIdx)
	}
	newRoot := gec.Node(newRootIdx)

	coarser := sigParams
	coarser.MaskCutoffBits = sigParams.MaskCutoffBits + p.Parity
	vb := signature.NewValidityBitmap(coarser)
	sigRes, err := signature.FindMinimizer(newRoot.Rec.Seq, newRoot.Rec.Qual, coarser, vb)
	newSig := oldSig
	if err == nil {
		if sigRes.ReverseWins {
			propagateReverseComplement(gec, newRootIdx)
			newRoot.Rec.MinimPos = record.MirrorMinimPos(sigRes.Pos, coarser.Len, newRoot.Rec.Len())
		} else {
			newRoot.Rec.MinimPos = sigRes.Pos
		}
		newSig = sigRes.Sig
	}
	newRoot.Rec.Sig = newSig

	newRoot.TransTree = &matchtree.TransTreeDecorator{
		SignatureID:      uint32(oldSig),
		MainSignaturePos: newRoot.Rec.MinimPos,
		RecordCount:      uint32(treeSize(gec, newRootIdx)),
	}
	newRoot.Flags |= matchtree.HasTransTree

	// The promoted tree keeps living in gec's arena; only its root index
	// changes owner-bin, so we hand the archiver a view scoped to just
	// this root rather than copying nodes.
	sub := gec.WithRoots([]matchtree.NodeIndex{newRootIdx})
	res.Promoted[newSig] = append(res.Promoted[newSig], sub)
}

func selectNewRoot(gec *matchtree.GraphEncodingContext, rootIdx matchtree.NodeIndex, policy RootPolicy) matchtree.NodeIndex {
	best := rootIdx
	bestPos := gec.Node(rootIdx).Rec.MinimPos
	gec.Walk(func(idx matchtree.NodeIndex, _ int) {
		pos := gec.Node(idx).Rec.MinimPos
		switch policy {
		case RootLeftmost:
			if pos < bestPos {
				best, bestPos = idx, pos
			}
		case RootRightmost:
			if pos > bestPos {
				best, bestPos = idx, pos
			}
		}
	})
	return best
}

// invertParentChain makes newRoot the tree's root by reversing the
// parent-pointer chain from newRoot up to the old root, preserving every
// descendant edge untouched (spec §4.3: "invert the parent chain so the
// new root becomes root while all descendant edges are preserved").
func invertParentChain(gec *matchtree.GraphEncodingContext, oldRoot, newRoot matchtree.NodeIndex) {
	var chain []matchtree.NodeIndex
	for idx := newRoot; idx != 0; {
		chain = append(chain, idx)
		if idx == oldRoot {
			break
		}
		idx = gec.Node(idx).Parent
	}
	// chain is newRoot -> ... -> oldRoot; reverse the edges along it.
	for i := len(chain) - 1; i > 0; i-- {
		child := chain[i]
		parent := chain[i-1]
		removeChild(gec, parent, child)
		gec.AddChild(child, parent)
	}
	gec.Node(newRoot).Parent = 0
	for i, r := range gec.Roots {
		if r == oldRoot {
			gec.Roots[i] = newRoot
		}
	}
}

func removeChild(gec *matchtree.GraphEncodingContext, parent, child matchtree.NodeIndex) {
	p := gec.Node(parent)
	for i, c := range p.Children {
		if c == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}

// propagateReverseComplement applies RC to every record in the subtree
// rooted at idx and toggles each node's IsReverseComplemented flag (spec
// §4.3: "apply RC to every node in the subtree, flip its
// IsReverseComplemented flag").
func propagateReverseComplement(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex) {
	node := gec.Node(idx)
	node.Rec.ApplyReverseComplement()
	if node.ExactMatches != nil {
		for _, r := range node.ExactMatches.Records {
			r.ApplyReverseComplement()
		}
	}
	for _, c := range node.Children {
		propagateReverseComplement(gec, c)
	}
}
