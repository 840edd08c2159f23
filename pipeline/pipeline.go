// Package pipeline implements the concurrency and resource model of spec
// §5: a worker pool bounded by a semaphore-limited in-flight block count
// sized threadNum+threadNum/4, and writes to the single output stream
// serialized through a mutex. Buffers are allocated per block and are not
// pooled for reuse. Grounded on
// grailbio/bio's encoding/bam.ShardedBAMWriter, whose background writer
// goroutine serializes block completions from many compressor shards —
// the same "many producers, one writer" shape, generalized here to
// golang.org/x/sync/errgroup so a worker failure cancels its siblings
// instead of running to completion.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/archive"
	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/contig"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/rebin"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Params configures the pipeline's resource model (spec §5 and the CLI
// flags that surface it, spec §6).
type Params struct {
	ThreadNum int
	Cfg       binconfig.BinModuleConfig
	SigParams signature.Params
	RebinP    rebin.Params
	LzP       lzmatch.Params
	ContigP   contig.Params
	Codec     blockio.Codec
	IDSchema  *idcodec.Schema
}

// inFlight returns the semaphore weight for the in-flight block pool,
// spec §5's "pools sized threadNum+threadNum/4".
func (p Params) inFlight() int64 {
	n := p.ThreadNum + p.ThreadNum/4
	if n < 1 {
		n = 1
	}
	return int64(n)
}

// Encoder drives S3 (Rebin) and S4 (Pack) over a worker pool, writing
// finished blocks to a single archive.Writer. fastore_rebin and
// fastore_pack each call only the stage they own; Encoder.Run composes
// both for callers that keep the whole pipeline in one process.
type Encoder struct {
	p   Params
	enc *archive.Encoder

	writeMu sync.Mutex
	out     *archive.Writer
	partID  uint64
}

// NewEncoder creates an Encoder writing into out.
func NewEncoder(p Params, out *archive.Writer) *Encoder {
	return &Encoder{p: p, enc: archive.NewEncoder(p.Cfg, p.IDSchema, p.LzP), out: out}
}

// Run rebins and compresses every categorized bin. It returns the first
// worker error, if any; a failure cancels ctx so siblings stop early.
func (e *Encoder) Run(ctx context.Context, bins map[signature.Code]*bin.Bin) error {
	groups, promoted, err := e.Rebin(ctx, bins)
	if err != nil {
		return err
	}
	return e.Pack(ctx, groups, promoted)
}

// Rebin runs S3 over every input bin concurrently, then merges the two
// kinds of rebin outcome into the final per-signature work S4 builds from:
// dispersed records join the flat group their new signature names, while a
// promoted tree's TransTree linkage is kept intact (spec §4.3) and handed to
// Pack as its own small forest, to be grafted onto its destination
// signature's match tree as a SubTree rather than dissolved into plain
// records. The merge is a barrier: every bin's dispersed records must be
// grouped by their new signature before a match tree can be built for it.
func (e *Encoder) Rebin(ctx context.Context, bins map[signature.Code]*bin.Bin) (map[signature.Code][]*record.FastqRecord, map[signature.Code][]*matchtree.GraphEncodingContext, error) {
	log.Debug.Printf("pipeline: rebinning %d categorized bins", len(bins))
	vb := signature.NewValidityBitmap(e.p.SigParams)

	type partial struct {
		dispersed map[signature.Code][]*record.FastqRecord
		promoted  map[signature.Code][]*matchtree.GraphEncodingContext
	}
	results := make([]partial, 0, len(bins))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.p.inFlight())
	for _, b := range bins {
		b := b
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, nil, err
		}
		g.Go(func() error {
			defer sem.Release(1)
			res := rebin.Rebin(b, e.p.SigParams, vb, e.p.LzP, e.p.RebinP)
			dispersed := map[signature.Code][]*record.FastqRecord{}
			for _, rec := range res.Dispersed {
				dispersed[rec.Sig] = append(dispersed[rec.Sig], rec)
			}
			mu.Lock()
			results = append(results, partial{dispersed: dispersed, promoted: res.Promoted})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, errors.Wrap(err, "pipeline: rebin")
	}

	groups := map[signature.Code][]*record.FastqRecord{}
	promoted := map[signature.Code][]*matchtree.GraphEncodingContext{}
	for _, r := range results {
		for sig, recs := range r.dispersed {
			groups[sig] = append(groups[sig], recs...)
		}
		for sig, trees := range r.promoted {
			promoted[sig] = append(promoted[sig], trees...)
		}
	}
	log.Debug.Printf("pipeline: %d final bins after rebinning, %d carry a promoted subtree", len(groups), len(promoted))
	return groups, promoted, nil
}

// Pack runs S4 over every final bin concurrently, bounding in-flight
// blocks to Params.inFlight() workers (spec §5). promoted may be nil; any
// GraphEncodingContext it names for a signature is grafted onto that
// signature's match tree as a nested SubTree rather than re-classified.
func (e *Encoder) Pack(ctx context.Context, groups map[signature.Code][]*record.FastqRecord, promoted map[signature.Code][]*matchtree.GraphEncodingContext) error {
	sigs := map[signature.Code]bool{}
	for sig := range groups {
		sigs[sig] = true
	}
	for sig := range promoted {
		sigs[sig] = true
	}
	log.Debug.Printf("pipeline: packing %d bins with %d workers", len(sigs), e.p.ThreadNum)

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(e.p.inFlight())
	for sig := range sigs {
		sig := sig
		recs := groups[sig]
		subs := promoted[sig]
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			gec := matchtree.NewGraphEncodingContext()
			lzmatch.ConstructMatchTree(gec, recs, e.p.LzP)
			if len(gec.Roots) == 0 && len(subs) > 0 {
				gec, subs = subs[0], subs[1:]
			}
			attachPromoted(gec, subs)
			readLen := maxRecordLen(recs)
			if readLen == 0 {
				gec.Walk(func(idx matchtree.NodeIndex, _ int) {
					if l := len(gec.Node(idx).Rec.Seq); l > readLen {
						readLen = l
					}
				})
			}
			contig.Fold(gec, readLen, int(e.p.SigParams.Len), e.p.ContigP)
			return e.encodeAndWrite(gec, sig, 0)
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "pipeline: pack")
	}
	log.Debug.Printf("pipeline: wrote %d blocks", atomic.LoadUint64(&e.partID))
	return nil
}

// attachPromoted grafts every tree in subs onto gec's first root as a
// chain of nested SubTree decorators (spec §4.3's TransTree linkage,
// carried as far as the archive layer): each promoted tree hangs off the
// previous one's root rather than off gec's root directly, since a Node
// carries at most one SubTree. gec is a no-op target if it has no roots
// and subs is empty; Pack already handles the all-promoted, no-dispersed
// case by seeding gec from subs[0] before calling this.
func attachPromoted(gec *matchtree.GraphEncodingContext, subs []*matchtree.GraphEncodingContext) {
	if len(gec.Roots) == 0 {
		return
	}
	anchor := gec.Node(gec.Roots[0])
	for _, sub := range subs {
		if len(sub.Roots) == 0 {
			continue
		}
		subRoot := sub.Node(sub.Roots[0])
		mainPos := uint16(0)
		if subRoot.TransTree != nil {
			mainPos = subRoot.TransTree.MainSignaturePos
		}
		anchor.SubTree = &matchtree.SubTree{MainSignaturePos: mainPos, GEC: sub}
		anchor.Flags |= matchtree.HasSubTree
		anchor = subRoot
	}
}

// blockSeed derives the QVZ WELL reseed value from a block's signature and
// its position among the blocks sharing that signature, rather than from
// write order: two workers racing for writeMu must not change which seed
// a given block gets, since the decoder reconstructs the same seed from
// the signature alone (spec §5).
func blockSeed(sig signature.Code, idxWithinSig uint32) uint32 {
	return uint32(sig)*1000003 + idxWithinSig
}

// maxRecordLen returns the longest read length in recs; contig.Build needs
// one common frame length to size its consensus buffer against, and FaStore
// bins are dominated by a single sequencer read length with rare short
// trailing reads, so the max is the safe upper bound.
func maxRecordLen(recs []*record.FastqRecord) int {
	max := 0
	for _, r := range recs {
		if l := len(r.Seq); l > max {
			max = l
		}
	}
	return max
}

func (e *Encoder) encodeAndWrite(gec *matchtree.GraphEncodingContext, sig signature.Code, idxWithinSig uint32) error {
	block := e.enc.EncodeTree(gec, sig, e.p.Codec, blockSeed(sig, idxWithinSig))
	atomic.AddUint64(&e.partID, 1)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.out.WriteBlock(sig, block)
}
