// Package record defines FastqRecord, the descriptor type that flows
// through every stage of the FaStore core (spec §3).
package record

import "github.com/refresh-bio/fastore/signature"

// Flags holds the per-record orientation bits from spec §3.
type Flags uint8

const (
	// IsReverseComplemented marks a record whose Seq/Qual were flipped to
	// their reverse complement because that orientation carried the winning
	// minimizer.
	IsReverseComplemented Flags = 1 << iota
	// IsPairSwapped marks a paired-end record whose mates were swapped so
	// the mate carrying the winning minimizer is stored as mate 1.
	IsPairSwapped
)

// MaxSeqLen is the largest sequence length the wire format supports (spec
// §3: "length ∈ [1,255]").
const MaxSeqLen = 255

// FastqRecord is a view into externally owned buffers, not an owner: Seq,
// Qual and Head are slices into a batch-level arena. Copying a FastqRecord
// value copies the descriptor, not the underlying bytes.
type FastqRecord struct {
	Seq  []byte
	Qual []byte // nil if the archive carries no quality stream
	Head []byte // nil unless headers are preserved

	// MinimPos is the 0-based offset of the record's signature within Seq,
	// valid only when Sig != the N-bin id.
	MinimPos uint16
	// AuxLen is the length of the paired mate, 0 for single-end records.
	AuxLen uint16

	Sig   signature.Code
	Flags Flags
}

// Len returns the sequence length.
func (r *FastqRecord) Len() int { return len(r.Seq) }

// HasQual reports whether the record carries a quality stream.
func (r *FastqRecord) HasQual() bool { return r.Qual != nil }

// HasHead reports whether the record carries a textual identifier.
func (r *FastqRecord) HasHead() bool { return r.Head != nil }

// IsReverse reports the IsReverseComplemented flag.
func (r *FastqRecord) IsReverse() bool { return r.Flags&IsReverseComplemented != 0 }

// IsSwapped reports the IsPairSwapped flag.
func (r *FastqRecord) IsSwapped() bool { return r.Flags&IsPairSwapped != 0 }

// ApplyReverseComplement flips Seq (in place) and Qual (reversed, in place)
// to their reverse-complement orientation and toggles
// IsReverseComplemented. MinimPos is left unchanged; callers recompute it
// with MirrorMinimPos.
func (r *FastqRecord) ApplyReverseComplement() {
	signature.ReverseComplement(r.Seq, r.Seq)
	if r.Qual != nil {
		reverseBytes(r.Qual)
	}
	n := len(r.Seq)
	// MinimPos mirrors around the read center; the signature occupies
	// [MinimPos, MinimPos+sigLen), whose length the caller already knows,
	// so the mirror is deferred to the caller (it must pass sigLen).
	_ = n
	r.Flags ^= IsReverseComplemented
}

// MirrorMinimPos recomputes MinimPos after a reverse-complement flip, given
// the signature length and original sequence length.
func MirrorMinimPos(pos uint16, sigLen uint8, seqLen int) uint16 {
	return uint16(seqLen - int(pos) - int(sigLen))
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// Batch is an arena owning the Seq/Qual/Head bytes for a set of records
// produced by one parse pass; records are descriptors into it and do not
// own memory individually (spec §3 "Lifecycles").
type Batch struct {
	Records []*FastqRecord
}
