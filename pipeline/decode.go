package pipeline

import (
	"context"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/archive"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/signature"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"v.io/x/lib/vlog"
)

// Decoder drives the decode-side S4: reading every archived block
// concurrently and handing each reconstructed forest to a sink callback.
// The archive has no global record-order contract (spec §5), so blocks
// may be dispatched to sinks in any order relative to each other; order
// within a single block's tree is always preserved by the walk. Mate
// linkage between paired-end reads is not carried through S3/S4 (see
// DESIGN.md "cmd/fastore-pack"), so Sink implementations here only ever
// see individual reads, never matched pairs.
type Decoder struct {
	threadNum int
	codec     blockio.Codec
	idSchema  *idcodec.Schema
	cfg       binconfig.BinModuleConfig
}

// NewDecoder creates a Decoder mirroring the Encoder's configuration.
func NewDecoder(threadNum int, cfg binconfig.BinModuleConfig, idSchema *idcodec.Schema, codec blockio.Codec) *Decoder {
	return &Decoder{threadNum: threadNum, codec: codec, idSchema: idSchema, cfg: cfg}
}

// Sink receives one decoded bin's forest. Implementations must serialize
// their own writes if shared state (e.g. a single output file) is touched
// from multiple blocks, since Run dispatches blocks concurrently.
type Sink func(gec *matchtree.GraphEncodingContext, sig signature.Code) error

// Run decodes every block named in footer's block table, in parallel up
// to threadNum workers, and calls sink once per block. full is the
// complete archive file's bytes (header+blocks+footer).
func (d *Decoder) Run(ctx context.Context, full []byte, footer archive.Footer, sink Sink) error {
	ranges := archive.BlockRanges(footer)
	log.Debug.Printf("pipeline: decoding %d blocks with %d workers", len(ranges), d.threadNum)
	if len(ranges) > 0 {
		vlog.Infof("pipeline: block signature order on disk: first=%d last=%d (shuffle diagnostic)", footer.Signatures[0], footer.Signatures[len(footer.Signatures)-1])
	}

	dec := archive.NewDecoder(d.cfg, d.idSchema)

	seenWithinSig := map[signature.Code]uint32{}
	var seenMu sync.Mutex
	nextIdx := func(sig signature.Code) uint32 {
		seenMu.Lock()
		defer seenMu.Unlock()
		idx := seenWithinSig[sig]
		seenWithinSig[sig] = idx + 1
		return idx
	}

	g, ctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(d.threadNum))
	for i, r := range ranges {
		i := i
		r := r
		sig := footer.Signatures[i]
		idx := nextIdx(sig)
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			block := full[r[0]:r[1]]
			gec, gotSig, err := dec.DecodeBlock(block, d.codec, nil, blockSeed(sig, idx))
			if err != nil {
				return errors.Wrapf(err, "pipeline: decode block %d", i)
			}
			return sink(gec, gotSig)
		})
	}
	return g.Wait()
}
