package archive

import (
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/qualcodec"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

// streamBufs holds one ByteBuffer per named stream for the block currently
// being encoded.
type streamBufs struct {
	m map[string]*streamcodec.ByteBuffer
}

func newStreamBufs() *streamBufs {
	s := &streamBufs{m: make(map[string]*streamcodec.ByteBuffer, len(StreamNames))}
	for _, name := range StreamNames {
		s.m[name] = streamcodec.NewByteBuffer()
	}
	return s
}

func (s *streamBufs) buf(name string) *streamcodec.ByteBuffer { return s.m[name] }

// Encoder serializes one bin's match forest into the fixed stream set and
// frames it as a blockio block (spec §4.4.3-§4.4.7).
type Encoder struct {
	cfg       binconfig.BinModuleConfig
	idSchema  *idcodec.Schema
	sigParams signature.Params
	lzP       lzmatch.Params
}

// NewEncoder creates an Encoder for one archive (shared across its blocks).
// lzP supplies the mismatch-cost threshold (MaxMismatchesLowCost) that
// classifies an LZ child as FullEncode (cheap, RLE-coded match bits) versus
// FullExpensive (range-coded), spec §4.4.3 item 2.
func NewEncoder(cfg binconfig.BinModuleConfig, idSchema *idcodec.Schema, lzP lzmatch.Params) *Encoder {
	return &Encoder{cfg: cfg, idSchema: idSchema, sigParams: cfg.Minimizer, lzP: lzP}
}

// wellSeeder is implemented by qualcodec's QVZ coder; other coders ignore
// the per-block reseed (spec §5: "WELL RNG ... re-seeded deterministically
// at the start of each block").
type wellSeeder interface{ SeedWell(seed uint32) }

// nodeRef names a node by the GraphEncodingContext it lives in plus its
// local index: a promoted subtree's nested GEC has its own index space, so a
// bare matchtree.NodeIndex cannot disambiguate a top-level node from a
// nested one sharing the same numeric index.
type nodeRef struct {
	gec *matchtree.GraphEncodingContext
	idx matchtree.NodeIndex
}

// blockCoders bundles the persistent, block-scoped sub-coders every node's
// encoding draws from. Unlike the per-record qcoder/idEnc (reset at each
// record boundary), these accumulate state across the whole block: the bit
// writers stay byte-misaligned between calls, the RLE/range coders carry
// run/probability state forward.
type blockCoders struct {
	hardW, letterXW, letterCW *streamcodec.BitWriter
	matchRLE, consensusRLE    *streamcodec.BinaryRLEEncoder
	matchRC                   *streamcodec.BinaryRangeEncoder
	matchProb                 *streamcodec.Prob
}

func newBlockCoders(bufs *streamBufs) *blockCoders {
	return &blockCoders{
		hardW:         streamcodec.NewBitWriter(bufs.buf(StreamHardReads)),
		letterXW:      streamcodec.NewBitWriter(bufs.buf(StreamLetterX)),
		letterCW:      streamcodec.NewBitWriter(bufs.buf(StreamLetterC)),
		matchRLE:      streamcodec.NewBinaryRLEEncoder(bufs.buf(StreamMatch)),
		consensusRLE:  streamcodec.NewBinaryRLEEncoder(bufs.buf(StreamConsensusMatch)),
		matchRC:       streamcodec.NewBinaryRangeEncoder(bufs.buf(StreamMatchExpensive)),
		matchProb:     streamcodec.NewProb(),
	}
}

func (c *blockCoders) end() {
	c.hardW.Flush()
	c.letterXW.Flush()
	c.letterCW.Flush()
	c.matchRLE.End()
	c.consensusRLE.End()
	c.matchRC.Flush()
}

// EncodeTree serializes gec (one bin's forest, signature sig) into a
// compressed block. blockSeed reseeds the QVZ WELL RNG so a decode
// reproduces identical quantizer choices regardless of thread count (spec
// §5); callers should pass a value unique to this block, e.g. a
// monotonically increasing part id.
func (e *Encoder) EncodeTree(gec *matchtree.GraphEncodingContext, sig signature.Code, codec blockio.Codec, blockSeed uint32) []byte {
	bufs := newStreamBufs()
	order := make(map[nodeRef]uint32)
	var recordsCount int
	var idEnc *idcodec.Encoder
	if e.idSchema != nil {
		idEnc = idcodec.NewEncoder(*e.idSchema, bufs.buf(StreamReadIDToken), bufs.buf(StreamReadIDValue))
	}
	qcoder := qualcodec.New(e.cfg.QualityParams, bufs.buf(StreamQuality), false)
	if ws, ok := qcoder.(wellSeeder); ok {
		ws.SeedWell(blockSeed)
	}
	coders := newBlockCoders(bufs)
	hasQual := e.cfg.QualityParams.Method != binconfig.QualityNone

	st := &encodeState{e: e, bufs: bufs, order: order, qcoder: qcoder, idEnc: idEnc, coders: coders, hasQual: hasQual, sig: sig}
	for _, root := range gec.Roots {
		n := st.encodeForest(gec, []matchtree.NodeIndex{root})
		recordsCount += n
	}
	coders.end()
	qcoder.End()

	h := blockio.RawBlockHeader{
		SignatureID:  uint32(sig),
		RecordsCount: uint32(recordsCount),
	}
	var minLen, maxLen uint16
	gec.Walk(func(idx matchtree.NodeIndex, _ int) {
		l := uint16(len(gec.Node(idx).Rec.Seq))
		if minLen == 0 || l < minLen {
			minLen = l
		}
		if l > maxLen {
			maxLen = l
		}
	})
	h.RecMinLen, h.RecMaxLen = minLen, maxLen

	streams := make([]blockio.Stream, len(StreamNames))
	for i, name := range StreamNames {
		streams[i] = blockio.Stream{Name: name, Data: bufs.buf(name).Bytes()}
	}
	return blockio.WriteBlock(h, streams, codec)
}

// encodeState carries the per-block mutable context through the recursive
// tree walk, so a promoted SubTree's nested forest can be encoded by the
// same code path as the top-level one (spec §4.4.3 point 5: "walked as if
// it were a fresh bin"), sharing the same node ordinal numbering (needed so
// LzId references stay unambiguous across the nesting boundary).
type encodeState struct {
	e       *Encoder
	bufs    *streamBufs
	order   map[nodeRef]uint32
	qcoder  qualcodec.Coder
	idEnc   *idcodec.Encoder
	coders  *blockCoders
	hasQual bool
	sig     signature.Code
}

// encodeForest walks roots (and their descendants) of gec in pre-order,
// writing every node's decorators, and returns the total record count
// (nodes plus their exact-match siblings).
func (st *encodeState) encodeForest(gec *matchtree.GraphEncodingContext, roots []matchtree.NodeIndex) int {
	count := 0
	var walk func(idx matchtree.NodeIndex)
	walk = func(idx matchtree.NodeIndex) {
		st.order[nodeRef{gec, idx}] = uint32(len(st.order))
		node := gec.Node(idx)
		count++
		st.encodeNode(gec, idx, node)
		if node.ExactMatches != nil {
			count += len(node.ExactMatches.Records)
		}
		for _, c := range node.Children {
			walk(c)
		}
	}
	for _, root := range roots {
		walk(root)
	}
	return count
}

// encodeNode writes one node's full emission: its flag-taxonomy tag (spec
// §4.4.3), type-specific payload, quality/identifier payload, any
// exact-match siblings, and — last, since it is a nested forest hanging off
// this node — any promoted SubTree.
func (st *encodeState) encodeNode(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex, node *matchtree.Node) {
	switch {
	case node.HasFlag(matchtree.HasContig) && node.Contig != nil:
		// encodeContigGroup writes the root's own payload itself, positioned
		// before its members' (decodeContigGroup reads the root's payload
		// before looping over members), so it must not be written again here.
		st.encodeContigGroup(node)
	case node.Type == matchtree.NodeLZ:
		st.encodeLZNode(gec, idx, node)
		st.encodeRecordPayload(node.Rec)
	default:
		st.encodeHardNode(node)
		st.encodeRecordPayload(node.Rec)
	}

	if node.ExactMatches != nil {
		for _, r := range node.ExactMatches.Records {
			st.bufs.buf(StreamFlag).WriteByte(byte(FlagReadIdentical))
			st.writeRev(r.IsReverse(), -1)
			st.encodeRecordPayload(r)
		}
	}

	if node.HasFlag(matchtree.HasSubTree) && node.SubTree != nil {
		st.encodeSubTree(node.SubTree)
	}
}

// writeRev appends the per-node Rev-stream entry: a reverse-orientation
// byte, plus the record's length when len >= 0 (omitted for exact-match
// siblings, whose length always equals their owner's).
func (st *encodeState) writeRev(reverse bool, length int) {
	rev := st.bufs.buf(StreamRev)
	if reverse {
		rev.WriteByte(1)
	} else {
		rev.WriteByte(0)
	}
	if length >= 0 {
		rev.PutUvarint(uint64(length))
	}
}

// baseMarker is a reserved HardReads/LetterC/LetterX symbol meaning "this
// position lies inside the read's minimizer window; reconstruct it from the
// signature instead" (spec §4.2's existing DNA-stream omission, applied to
// the archive's own persistent 3-bit alphabet).
const baseMarker = 5

// consensusUnset marks a never-written consensus position.
const consensusUnset = 6

func baseToSym(b byte) uint32 {
	switch b {
	case 'A':
		return 0
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	default:
		return 4 // N and anything else
	}
}

func symToBase(s uint32) byte {
	switch s {
	case 0:
		return 'A'
	case 1:
		return 'C'
	case 2:
		return 'G'
	case 3:
		return 'T'
	default:
		return 'N'
	}
}

// encodeHardNode writes a HARD node's full sequence (spec §4.4.3 item 1),
// replacing the bases inside its own minimizer window with baseMarker
// (reconstructed at decode via signature.Bases of the block's signature)
// whenever the record's signature is the block's own signature and its
// window lies inside the read.
func (st *encodeState) encodeHardNode(node *matchtree.Node) {
	st.bufs.buf(StreamFlag).WriteByte(byte(FlagReadDifficult))
	st.writeRev(node.Rec.IsReverse(), node.Rec.Len())

	sigLen := int(st.e.sigParams.Len)
	nbin := st.e.sigParams.NBin()
	markerStart, markerEnd := -1, -1
	if node.Rec.Sig == st.sig && node.Rec.Sig != nbin && sigLen > 0 && int(node.Rec.MinimPos)+sigLen <= len(node.Rec.Seq) {
		markerStart = int(node.Rec.MinimPos)
		markerEnd = markerStart + sigLen
	}
	w := st.coders.hardW
	for i, b := range node.Rec.Seq {
		if markerStart >= 0 && i >= markerStart && i < markerEnd {
			w.PutBits(baseMarker, 3)
		} else {
			w.PutBits(baseToSym(b), 3)
		}
	}
}

// encodeLZNode diffs a child against the parent record its LZParent
// pointer identifies (spec §4.4.3 item 2): ShiftOnly when the shifted
// overlap matches the parent exactly with no insertions, otherwise a
// per-position match/mismatch bitstream (RLE-coded when cheap,
// range-coded when the mismatch count is past the LZ classifier's
// low-cost threshold) plus the literal mismatch/insertion bases in LetterX.
func (st *encodeState) encodeLZNode(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex, node *matchtree.Node) {
	childSeq := node.Rec.Seq
	parentSeq := node.LZParent.Seq
	shift := int(node.Shift)
	rOff, cOff := offsets(shift)
	overlap := overlapLen(len(childSeq), len(parentSeq), rOff, cOff)

	matches := make([]bool, len(childSeq))
	mismatchTotal := 0
	for i := range childSeq {
		if i >= rOff && i < rOff+overlap && childSeq[i] == parentSeq[cOff+(i-rOff)] {
			matches[i] = true
			continue
		}
		mismatchTotal++
	}

	flagBuf := st.bufs.buf(StreamFlag)
	shiftOnly := mismatchTotal == 0 && rOff == 0 && overlap == len(childSeq)
	switch {
	case shiftOnly:
		flagBuf.WriteByte(byte(FlagShiftOnly))
	case mismatchTotal <= st.e.lzP.MaxMismatchesLowCost:
		flagBuf.WriteByte(byte(FlagFullEncode))
	default:
		flagBuf.WriteByte(byte(FlagFullExpensive))
	}
	st.writeRev(node.Rec.IsReverse(), node.Rec.Len())

	shiftBuf := st.bufs.buf(StreamShift)
	shiftBuf.PutUvarint(zigzag(int64(shift)))

	lzIDBuf := st.bufs.buf(StreamLzID)
	if parentOrd, ok := st.order[parentNodeRef(gec, idx, node)]; ok {
		lzIDBuf.PutUvarint(uint64(parentOrd))
	} else {
		lzIDBuf.PutUvarint(0)
	}

	if shiftOnly {
		return
	}
	expensive := mismatchTotal > st.e.lzP.MaxMismatchesLowCost
	for i, b := range childSeq {
		if expensive {
			if matches[i] {
				st.coders.matchRC.EncodeBit(st.coders.matchProb, 0)
			} else {
				st.coders.matchRC.EncodeBit(st.coders.matchProb, 1)
			}
		} else {
			st.coders.matchRLE.PutSymbol(matches[i])
		}
		if !matches[i] {
			st.coders.letterXW.PutBits(baseToSym(b), 3)
		}
	}
}

// parentNodeRef resolves node's LZ parent to the nodeRef the order map
// indexed it under. LZParent is a direct pointer into the same arena
// node.Parent already names, so gec.Node(node.Parent) always matches it.
func parentNodeRef(gec *matchtree.GraphEncodingContext, idx matchtree.NodeIndex, node *matchtree.Node) nodeRef {
	return nodeRef{gec, node.Parent}
}

func offsets(shift int) (rOff, cOff int) {
	if shift < 0 {
		return -shift, 0
	}
	return 0, shift
}

func overlapLen(childLen, parentLen, rOff, cOff int) int {
	o := min(childLen-rOff, parentLen-cOff)
	if o < 0 {
		return 0
	}
	return o
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// encodeContigGroup writes a consensus contig (spec §4.4.2, §4.4.3 item
// 3): the root reconstructs verbatim from the consensus (it is, by
// construction, exactly what seeded it), then each accepted member is
// emitted as a per-position match/mismatch bitstream against the shared
// consensus, with mismatching bases in LetterC.
func (st *encodeState) encodeContigGroup(node *matchtree.Node) {
	cd := node.Contig
	flagBuf := st.bufs.buf(StreamFlag)
	flagBuf.WriteByte(byte(FlagReadContigGroupStart))
	st.writeRev(node.Rec.IsReverse(), node.Rec.Len())

	csBuf := st.bufs.buf(StreamConsensusShift)
	csBuf.PutUvarint(zigzag(int64(cd.Offset)))
	csBuf.PutUvarint(uint64(len(cd.Consensus)))
	for _, b := range cd.Consensus {
		if b == 0 {
			st.coders.letterCW.PutBits(consensusUnset, 3)
		} else {
			st.coders.letterCW.PutBits(baseToSym(b), 3)
		}
	}
	st.encodeRecordPayload(node.Rec)

	for _, m := range cd.Members {
		flagBuf.WriteByte(byte(FlagReadContigGroupNext))
		st.writeRev(m.Reverse, len(m.Rec.Seq))
		csBuf.PutUvarint(zigzag(int64(m.ShiftDelta)))

		absShift := cd.Offset + int(m.ShiftDelta)
		for i, b := range m.Rec.Seq {
			pos := absShift + i
			if pos >= 0 && pos < len(cd.Consensus) && cd.Consensus[pos] == b {
				st.coders.consensusRLE.PutSymbol(true)
				continue
			}
			st.coders.consensusRLE.PutSymbol(false)
			st.coders.letterCW.PutBits(baseToSym(b), 3)
		}
		st.encodeRecordPayload(m.Rec)
	}
	flagBuf.WriteByte(byte(FlagReadGroupEnd))
}

// encodeSubTree recurses into a promoted subtree's nested forest (spec
// §4.3, §4.4.3 item 5-6), bracketed so the decoder knows exactly when the
// nested forest ends and control returns to the owning node's level. The
// nested root's TransTreeDecorator (attached by the rebinner,
// rebin.promoteTree) travels here rather than on the node itself, since the
// decorator describes the nested tree's own identity, not its attachment
// point.
func (st *encodeState) encodeSubTree(sub *matchtree.SubTree) {
	flagBuf := st.bufs.buf(StreamFlag)
	flagBuf.WriteByte(byte(FlagReadTreeGroupStart))

	ts := st.bufs.buf(StreamTreeShift)
	ts.PutUvarint(uint64(sub.MainSignaturePos))

	var tt matchtree.TransTreeDecorator
	if len(sub.GEC.Roots) > 0 {
		if got := sub.GEC.Node(sub.GEC.Roots[0]).TransTree; got != nil {
			tt = *got
		}
	}
	ts.PutUvarint(uint64(tt.SignatureID))
	ts.PutUvarint(uint64(tt.MainSignaturePos))
	ts.PutUvarint(uint64(tt.RecordCount))
	ts.WriteByte(tt.BitsClass)

	st.encodeForest(sub.GEC, sub.GEC.Roots)
	flagBuf.WriteByte(byte(FlagReadGroupEnd))
}

// encodeRecordPayload writes one record's quality and identifier into the
// already-selected coders. Start begins each record, per the
// qualcodec.Coder contract (resets QVZ's previous-value context at each
// read boundary); End runs once per block, in EncodeTree. Whether a quality stream exists at all is archive-wide
// config (binconfig.QualityParams.Method), not a per-record choice. When no
// idcodec.Schema exists yet (fastore_rebin's sidecar, written before the
// schema is built from a header sample), the raw header is length-prefixed
// directly into ReadIdValue instead of being silently dropped.
func (st *encodeState) encodeRecordPayload(rec *record.FastqRecord) {
	if st.hasQual && rec.Qual != nil {
		st.qcoder.Start()
		for i, q := range rec.Qual {
			st.qcoder.Encode(i, q)
		}
	}
	if st.idEnc != nil && rec.Head != nil {
		st.idEnc.Encode(rec.Head)
		return
	}
	if st.idEnc == nil {
		raw := st.bufs.buf(StreamReadIDValue)
		if rec.Head == nil {
			raw.WriteByte(0)
			return
		}
		raw.WriteByte(1)
		raw.PutUvarint(uint64(len(rec.Head)))
		raw.Write(rec.Head)
	}
}

func zigzag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
