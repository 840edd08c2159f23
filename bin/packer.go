package bin

import (
	"github.com/refresh-bio/fastore/qualcodec"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

// baseCode2Bit maps ACGT to 2-bit codes; N is handled out of band via the
// 3-bit path (spec §4.2 "dna: ... 2 bits (plain) or 3 bits (with N)").
func baseCode2Bit(b byte) (uint32, bool) {
	switch b {
	case 'A':
		return 0, true
	case 'C':
		return 1, true
	case 'G':
		return 2, true
	case 'T':
		return 3, true
	default:
		return 0, false
	}
}

var base2BitToByte = [4]byte{'A', 'C', 'G', 'T'}

// base3BitToByte extends base2BitToByte with N at code 4.
func base3BitToByte(code uint32) byte {
	if code == 4 {
		return 'N'
	}
	return base2BitToByte[code]
}

// PackedStreams holds the four bit-streams produced by the Packer (spec
// §4.2): meta, dna, qua and optionally head.
type PackedStreams struct {
	Meta *streamcodec.ByteBuffer
	Dna  *streamcodec.ByteBuffer
	Qua  *streamcodec.ByteBuffer
	Head *streamcodec.ByteBuffer
}

// Packer writes a bin's records into the four bit-streams (spec §4.2).
type Packer struct {
	settings BinPackSettings
	qcoder   qualcodec.Coder
	quaBuf   *streamcodec.ByteBuffer
}

// NewPacker creates a Packer against settings, using qcoder for the quality
// stream (may be nil if the bin carries no quality). quaBuf must be the same
// buffer qcoder was constructed against (qualcodec.New's buf argument),
// since qcoder writes there directly rather than through PackedStreams; pass
// nil along with a nil qcoder.
func NewPacker(settings BinPackSettings, qcoder qualcodec.Coder, quaBuf *streamcodec.ByteBuffer) *Packer {
	return &Packer{settings: settings, qcoder: qcoder, quaBuf: quaBuf}
}

// Pack serializes recs (already in bin order) into four streams.
func (p *Packer) Pack(recs []*record.FastqRecord) PackedStreams {
	quaBuf := p.quaBuf
	if quaBuf == nil {
		quaBuf = streamcodec.NewByteBuffer()
	}
	out := PackedStreams{
		Meta: streamcodec.NewByteBuffer(),
		Dna:  streamcodec.NewByteBuffer(),
		Qua:  quaBuf,
	}
	if p.settings.UsesHeaders {
		out.Head = streamcodec.NewByteBuffer()
	}

	metaBits := streamcodec.NewBitWriter(out.Meta)
	dnaBits := streamcodec.NewBitWriter(out.Dna)
	var headBits *streamcodec.BitWriter
	if out.Head != nil {
		headBits = streamcodec.NewBitWriter(out.Head)
	}

	for _, rec := range recs {
		p.packMeta(metaBits, rec)
		p.packDNA(dnaBits, rec)
		p.packQuality(rec)
		if headBits != nil {
			p.packHead(headBits, rec)
		}
	}
	metaBits.Flush()
	dnaBits.Flush()
	if headBits != nil {
		headBits.Flush()
	}
	if p.qcoder != nil {
		p.qcoder.End()
	}
	return out
}

func (p *Packer) packMeta(w *streamcodec.BitWriter, rec *record.FastqRecord) {
	if p.settings.SuffixLen > 0 {
		rev := uint32(0)
		if rec.IsReverse() {
			rev = 1
		}
		w.PutBits(rev, 1)
		w.PutBits(uint32(rec.MinimPos), 8)
	}
	if !p.settings.ConstLen {
		w.PutBits(uint32(rec.Len())-uint32(p.settings.MinLen), p.settings.BitsPerLen)
	}
}

func (p *Packer) packDNA(w *streamcodec.BitWriter, rec *record.FastqRecord) {
	hasN := false
	for _, b := range rec.Seq {
		if b != 'A' && b != 'C' && b != 'G' && b != 'T' {
			hasN = true
			break
		}
	}
	plain := uint32(0)
	if !hasN {
		plain = 1
	}
	w.PutBits(plain, 1)

	suffixStart := int(rec.MinimPos)
	suffixEnd := suffixStart + int(p.settings.SuffixLen)
	for i, b := range rec.Seq {
		if i >= suffixStart && i < suffixEnd {
			continue
		}
		if hasN {
			code, ok := baseCode2Bit(b)
			if !ok {
				w.PutBits(4, 3)
			} else {
				w.PutBits(code, 3)
			}
		} else {
			code, _ := baseCode2Bit(b)
			w.PutBits(code, 2)
		}
	}
}

func (p *Packer) packQuality(rec *record.FastqRecord) {
	if p.qcoder == nil || rec.Qual == nil {
		return
	}
	for i, q := range rec.Qual {
		p.qcoder.Encode(i, q)
	}
}

func (p *Packer) packHead(w *streamcodec.BitWriter, rec *record.FastqRecord) {
	head := rec.Head
	if len(head) > 0 && head[0] == '@' {
		head = head[1:]
	}
	w.PutBits(uint32(len(head)), 8)
	for _, b := range head {
		w.PutBits(uint32(b&0x7F), 7)
	}
}

// Unpacker is the inverse of Packer.
type Unpacker struct {
	settings BinPackSettings
	qcoder   qualcodec.Coder
}

// NewUnpacker creates an Unpacker against settings.
func NewUnpacker(settings BinPackSettings, qcoder qualcodec.Coder) *Unpacker {
	return &Unpacker{settings: settings, qcoder: qcoder}
}

// Unpack reconstructs count records from streams, all belonging to bin
// sig. hasQual controls whether the quality stream is consulted.
func (u *Unpacker) Unpack(streams PackedStreams, count int, sig signature.Code, hasQual bool) []*record.FastqRecord {
	metaBits := streamcodec.NewBitReader(streams.Meta)
	dnaBits := streamcodec.NewBitReader(streams.Dna)
	var headBits *streamcodec.BitReader
	if streams.Head != nil {
		headBits = streamcodec.NewBitReader(streams.Head)
	}

	recs := make([]*record.FastqRecord, count)
	for i := 0; i < count; i++ {
		rec := &record.FastqRecord{Sig: sig}
		u.unpackMeta(metaBits, rec)
		u.unpackDNA(dnaBits, rec)
		if hasQual && u.qcoder != nil {
			u.unpackQuality(rec)
		}
		if headBits != nil {
			u.unpackHead(headBits, rec)
		}
		recs[i] = rec
	}
	return recs
}

func (u *Unpacker) unpackMeta(r *streamcodec.BitReader, rec *record.FastqRecord) {
	if u.settings.SuffixLen > 0 {
		rev := r.GetBits(1)
		if rev == 1 {
			rec.Flags |= record.IsReverseComplemented
		}
		rec.MinimPos = uint16(r.GetBits(8))
	}
	length := int(u.settings.MinLen)
	if !u.settings.ConstLen {
		length += int(r.GetBits(u.settings.BitsPerLen))
	}
	rec.Seq = make([]byte, length)
}

func (u *Unpacker) unpackDNA(r *streamcodec.BitReader, rec *record.FastqRecord) {
	plain := r.GetBits(1) == 1
	suffixStart := int(rec.MinimPos)
	suffixEnd := suffixStart + int(u.settings.SuffixLen)
	for i := range rec.Seq {
		if i >= suffixStart && i < suffixEnd {
			continue
		}
		if plain {
			rec.Seq[i] = base2BitToByte[r.GetBits(2)]
		} else {
			rec.Seq[i] = base3BitToByte(r.GetBits(3))
		}
	}
	if u.settings.SuffixLen > 0 {
		bases := signature.Bases(rec.Sig, u.settings.SuffixLen)
		copy(rec.Seq[suffixStart:suffixEnd], bases)
	}
}

func (u *Unpacker) unpackQuality(rec *record.FastqRecord) {
	rec.Qual = make([]byte, len(rec.Seq))
	for i := range rec.Qual {
		rec.Qual[i] = u.qcoder.Decode(i)
	}
}

func (u *Unpacker) unpackHead(r *streamcodec.BitReader, rec *record.FastqRecord) {
	n := int(r.GetBits(8))
	head := make([]byte, 0, n+1)
	head = append(head, '@')
	for i := 0; i < n; i++ {
		head = append(head, byte(r.GetBits(7)))
	}
	rec.Head = head
}
