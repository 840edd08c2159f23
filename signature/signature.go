// Package signature implements FaStore's canonical k-mer signature search:
// the minimizer scan that assigns each read to a bin (spec §4.1).
package signature

import "github.com/pkg/errors"

// Code is a 2L-bit encoded DNA k-mer, or the reserved N-bin id (4^L) when no
// valid signature could be found in a read.
type Code uint32

// Symbol order used throughout the package: A=0, C=1, G=2, T=3. N has no
// numeric code; reads containing N at a candidate position make that window
// ineligible.
const (
	baseA = 0
	baseC = 1
	baseG = 2
	baseT = 3
)

var complement = [256]byte{}

func init() {
	for i := range complement {
		complement[i] = 'N'
	}
	complement['A'], complement['a'] = 'T', 'T'
	complement['C'], complement['c'] = 'G', 'G'
	complement['G'], complement['g'] = 'C', 'C'
	complement['T'], complement['t'] = 'A', 'A'
}

// ReverseComplement writes the reverse complement of src into dst, which
// must be the same length as src. dst and src may overlap iff dst == src.
func ReverseComplement(dst, src []byte) {
	for i, j := 0, len(src)-1; i <= j; i, j = i+1, j-1 {
		a, b := src[i], src[j]
		dst[i], dst[j] = complement[b], complement[a]
	}
}

func baseCode(b byte) (byte, bool) {
	switch b {
	case 'A', 'a':
		return baseA, true
	case 'C', 'c':
		return baseC, true
	case 'G', 'g':
		return baseG, true
	case 'T', 't':
		return baseT, true
	default:
		return 0, false
	}
}

// Params bundles the minimizer search configuration (spec §3, §4.1 and the
// supplemented MinimizerFilteringParameters, SPEC_FULL.md §3).
type Params struct {
	// Len is the signature length L. Default 8.
	Len uint8
	// SkipZoneLen excludes the trailing SkipZoneLen bases of a read from the
	// minimizer scan.
	SkipZoneLen uint8
	// MaskCutoffBits is the number of low-order bits that must be zero for a
	// signature to be valid.
	MaskCutoffBits uint8

	// FilterLowQualitySignatures and LowQualityThreshold restore the
	// original's optional quality-aware filtering: a candidate window is
	// skipped if any base's quality value is below LowQualityThreshold.
	FilterLowQualitySignatures bool
	LowQualityThreshold        uint8
}

// DefaultParams matches MinimizerParameters::Default in the original source.
func DefaultParams() Params {
	return Params{Len: 8, SkipZoneLen: 0, MaskCutoffBits: 0}
}

// NBin returns the reserved signature id for reads with no valid signature.
func (p Params) NBin() Code {
	return Code(1) << (2 * p.Len)
}

// Total returns 4^L, the number of valid (non-N-bin) signature values.
func (p Params) Total() uint32 {
	return uint32(1) << (2 * p.Len)
}

// ValidityBitmap precomputes, for every code in [0, 4^L), whether it
// satisfies the validity invariant of spec §3:
//
//	(a) the low MaskCutoffBits bits are zero
//	(b) the top two symbols are not "AA*", nor are the top three "AAC"
//	(c) no internal dinucleotide (i.e. not anchored at position 0) is "AA"
//
// Condition (b) is a strict subset of (c) extended to position 0; we keep it
// as a separate, explicit check to mirror the original's separate treatment
// of the leading dinucleotide (see DESIGN.md, "signature validity").
type ValidityBitmap struct {
	params Params
	bits   []bool
}

// NewValidityBitmap builds the bitmap for the given parameters.
func NewValidityBitmap(p Params) *ValidityBitmap {
	total := p.Total()
	bits := make([]bool, total)
	mask := uint32(1)<<p.MaskCutoffBits - 1
	for code := uint32(0); code < total; code++ {
		if code&mask != 0 {
			continue
		}
		syms := decode(code, p.Len)
		if syms[0] == baseA && syms[1] == baseA {
			continue
		}
		if p.Len >= 3 && syms[0] == baseA && syms[1] == baseA && syms[2] == baseC {
			continue
		}
		valid := true
		for i := 1; i+1 < len(syms); i++ {
			if syms[i] == baseA && syms[i+1] == baseA {
				valid = false
				break
			}
		}
		bits[code] = valid
	}
	return &ValidityBitmap{params: p, bits: bits}
}

// Valid reports whether code is a valid signature.
func (v *ValidityBitmap) Valid(code Code) bool {
	if uint32(code) >= uint32(len(v.bits)) {
		return false
	}
	return v.bits[code]
}

func decode(code uint32, length uint8) []byte {
	syms := make([]byte, length)
	for i := int(length) - 1; i >= 0; i-- {
		syms[i] = byte(code & 3)
		code >>= 2
	}
	return syms
}

// Bases decodes code into its ACGT byte representation, most significant
// symbol first. Used to reconstruct the signature window omitted from the
// packed DNA stream (spec §4.2: "omitting the suffixLen bases at minimPos
// (implicit from signature id)").
func Bases(code Code, length uint8) []byte {
	syms := decode(uint32(code), length)
	out := make([]byte, length)
	letters := [4]byte{'A', 'C', 'G', 'T'}
	for i, s := range syms {
		out[i] = letters[s]
	}
	return out
}

// Reverse returns the reverse-complement signature of code under the same
// length, by reversing symbol order and complementing each 2-bit symbol
// (A<->T is 0<->3, C<->G is 1<->2, which is exactly 3-x).
func Reverse(code Code, length uint8) Code {
	var rev uint32
	c := uint32(code)
	for i := uint8(0); i < length; i++ {
		sym := c & 3
		c >>= 2
		rev = (rev << 2) | (3 - sym)
	}
	return Code(rev)
}

// Result is the outcome of a minimizer search over a single read.
type Result struct {
	Sig          Code
	Pos          uint16
	ReverseWins  bool // the winning signature came from the reverse complement
}

// ErrTooShort is returned when a read is shorter than Len+SkipZoneLen; spec
// §9 directs implementers to reject this as an input error.
var ErrTooShort = errors.New("signature: read shorter than signatureLen+skipZoneLen")

// FindMinimizer scans every length-L window of seq outside the trailing
// skip-zone and returns the lexicographically smallest valid signature, also
// checking the reverse complement, per spec §4.1. qual may be nil; if
// non-nil and Params.FilterLowQualitySignatures is set, windows containing a
// base below LowQualityThreshold are skipped.
func FindMinimizer(seq, qual []byte, p Params, vb *ValidityBitmap) (Result, error) {
	l := int(p.Len)
	if len(seq) < l+int(p.SkipZoneLen) {
		return Result{}, ErrTooShort
	}
	nCount := 0
	for _, b := range seq {
		if b == 'N' || b == 'n' {
			nCount++
		}
	}
	maxN := (len(seq) + 2) / 3 // ceil(seqLen/3)
	if nCount >= maxN {
		return Result{Sig: p.NBin()}, nil
	}

	fwdSig, fwdPos, fwdOK := bestWindow(seq, qual, p, vb)

	rc := make([]byte, len(seq))
	ReverseComplement(rc, seq)
	var rcQual []byte
	if qual != nil {
		rcQual = make([]byte, len(qual))
		for i, j := 0, len(qual)-1; j >= 0; i, j = i+1, j-1 {
			rcQual[i] = qual[j]
		}
	}
	rcSig, rcPos, rcOK := bestWindow(rc, rcQual, p, vb)

	switch {
	case !fwdOK && !rcOK:
		return Result{Sig: p.NBin()}, nil
	case fwdOK && (!rcOK || fwdSig <= rcSig):
		return Result{Sig: fwdSig, Pos: fwdPos, ReverseWins: false}, nil
	default:
		// Pos is reported on the forward strand, like fwdPos; callers mirror
		// it with record.MirrorMinimPos after flipping the read.
		return Result{Sig: rcSig, Pos: uint16(len(seq) - int(rcPos) - l), ReverseWins: true}, nil
	}
}

// bestWindow finds the smallest valid signature among every length-L window
// of seq (excluding the trailing skip zone).
func bestWindow(seq, qual []byte, p Params, vb *ValidityBitmap) (Code, uint16, bool) {
	l := int(p.Len)
	limit := len(seq) - l - int(p.SkipZoneLen)
	best := Code(1) << 31
	bestPos := 0
	found := false
	for start := 0; start <= limit; start++ {
		code, ok := encodeWindow(seq[start : start+l])
		if !ok {
			continue
		}
		if p.FilterLowQualitySignatures && qual != nil {
			if lowQuality(qual[start:start+l], p.LowQualityThreshold) {
				continue
			}
		}
		if !vb.Valid(code) {
			continue
		}
		if !found || code < best {
			best = code
			bestPos = start
			found = true
		}
	}
	return best, uint16(bestPos), found
}

func lowQuality(q []byte, threshold uint8) bool {
	for _, v := range q {
		if v < threshold {
			return true
		}
	}
	return false
}

func encodeWindow(w []byte) (Code, bool) {
	var code uint32
	for _, b := range w {
		c, ok := baseCode(b)
		if !ok {
			return 0, false
		}
		code = (code << 2) | uint32(c)
	}
	return Code(code), true
}
