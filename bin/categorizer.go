// Package bin implements FaStore's Signature Categorizer and Bin Packer
// (spec §4.1, §4.2): assigning each FASTQ record to a bin keyed by its
// minimizer signature, deferring small bins across batches, and packing a
// bin's records into the four bit-streams of the on-disk bin file.
// Grounded structurally on grailbio/bio's encoding/pam, whose
// PAMShardIndex/fieldio pairing is the same "fixed header, per-field
// streams, footer with per-shard descriptors" shape as the bin file here.
package bin

import (
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
)

// Bin holds the records assigned to one signature.
type Bin struct {
	Signature signature.Code
	Records   []*record.FastqRecord
	MinLen    uint16
	MaxLen    uint16
}

func (b *Bin) add(rec *record.FastqRecord) {
	l := uint16(rec.Len())
	if len(b.Records) == 0 {
		b.MinLen, b.MaxLen = l, l
	} else {
		if l < b.MinLen {
			b.MinLen = l
		}
		if l > b.MaxLen {
			b.MaxLen = l
		}
	}
	b.Records = append(b.Records, rec)
}

// Categorizer implements S1: per-worker, with a persistent small-bin
// overflow buffer (spec §4.1 "Small-bin deferral").
type Categorizer struct {
	params   signature.Params
	vb       *signature.ValidityBitmap
	minStore uint32

	bins     map[signature.Code]*Bin
	overflow map[signature.Code]*Bin
}

// NewCategorizer creates a Categorizer against cfg.
func NewCategorizer(cfg binconfig.CategorizerParameters, sigParams signature.Params) *Categorizer {
	return &Categorizer{
		params:   sigParams,
		vb:       signature.NewValidityBitmap(sigParams),
		minStore: cfg.MinRecordsToStore,
		bins:     make(map[signature.Code]*Bin),
		overflow: make(map[signature.Code]*Bin),
	}
}

// Categorize assigns every record in batch to a bin, mutating each record's
// MinimPos/Flags/Seq/Qual in place when reverse-complementation is chosen
// (spec §4.1 "categorize").
func (c *Categorizer) Categorize(recs []*record.FastqRecord) error {
	for _, rec := range recs {
		res, err := signature.FindMinimizer(rec.Seq, rec.Qual, c.params, c.vb)
		if err != nil {
			return err
		}
		c.place(rec, res)
	}
	return nil
}

// CategorizePaired assigns every pair in mate1/mate2 jointly, applying RC
// and/or mate-swap so the winning minimizer always lands on the logical
// "first" mate (spec §4.1 "Paired-end extension").
func (c *Categorizer) CategorizePaired(mate1, mate2 []*record.FastqRecord) error {
	for i := range mate1 {
		r1, r2 := mate1[i], mate2[i]
		res, err := signature.FindMinimizerPaired(r1.Seq, r1.Qual, r2.Seq, r2.Qual, c.params, c.vb)
		if err != nil {
			return err
		}
		if res.WinnerIsMate2 {
			r1, r2 = r2, r1
			r1.Flags |= record.IsPairSwapped
			r2.Flags |= record.IsPairSwapped
		}
		r1.AuxLen = uint16(r2.Len())
		c.place(r1, res.Result)
		// r2 is appended right behind r1 in whichever bucket place() put
		// it in (bins or overflow), so a decoder can recover the pair from
		// adjacency plus AuxLen; r2 never carries its own signature or
		// minimizer position.
		if b, ok := c.overflow[r1.Sig]; ok {
			b.add(r2)
		} else if b, ok := c.bins[r1.Sig]; ok {
			b.add(r2)
		}
	}
	return nil
}

func (c *Categorizer) place(rec *record.FastqRecord, res signature.Result) {
	nbin := c.params.NBin()
	sig := res.Sig
	if sig != nbin {
		if res.ReverseWins {
			rec.ApplyReverseComplement()
			rec.MinimPos = record.MirrorMinimPos(res.Pos, c.params.Len, rec.Len())
		} else {
			rec.MinimPos = res.Pos
		}
		rec.Sig = sig
	} else {
		rec.MinimPos = 0
		rec.Sig = nbin
	}

	if sig == nbin {
		c.appendTo(c.bins, sig, rec)
		return
	}

	if b, ok := c.overflow[sig]; ok {
		b.add(rec)
		if uint32(len(b.Records)) >= c.minStore {
			delete(c.overflow, sig)
			c.mergeInto(sig, b)
		}
		return
	}
	if b, ok := c.bins[sig]; ok {
		b.add(rec)
		return
	}
	b := &Bin{Signature: sig}
	b.add(rec)
	if uint32(len(b.Records)) >= c.minStore {
		c.bins[sig] = b
	} else {
		c.overflow[sig] = b
	}
}

func (c *Categorizer) appendTo(m map[signature.Code]*Bin, sig signature.Code, rec *record.FastqRecord) {
	b, ok := m[sig]
	if !ok {
		b = &Bin{Signature: sig}
		m[sig] = b
	}
	b.add(rec)
}

func (c *Categorizer) mergeInto(sig signature.Code, b *Bin) {
	if existing, ok := c.bins[sig]; ok {
		existing.Records = append(existing.Records, b.Records...)
		return
	}
	c.bins[sig] = b
}

// Bins returns the bins currently at or above threshold, ready for
// packing. Callers should call Flush at worker shutdown to dispose of
// whatever remains below threshold.
func (c *Categorizer) Bins() map[signature.Code]*Bin { return c.bins }

// Flush demotes every remaining overflow bin into the N-bin, undoing
// reverse-complementation and clearing minimPos (spec §4.1).
func (c *Categorizer) Flush() *Bin {
	nbinID := c.params.NBin()
	nbin, ok := c.bins[nbinID]
	if !ok {
		nbin = &Bin{Signature: nbinID}
	}
	for _, b := range c.overflow {
		for _, rec := range b.Records {
			if rec.IsReverse() {
				rec.ApplyReverseComplement()
			}
			rec.MinimPos = 0
			rec.Sig = nbinID
			nbin.add(rec)
		}
	}
	c.overflow = make(map[signature.Code]*Bin)
	return nbin
}
