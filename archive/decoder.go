package archive

import (
	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/qualcodec"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

// Decoder reconstructs match-tree forests from blocks produced by Encoder.
// It needs no lzmatch.Params: every node's encoding choice (ShiftOnly,
// FullEncode, FullExpensive) arrives explicit in the Flag stream, so decode
// never re-derives the cost threshold that produced it.
type Decoder struct {
	cfg      binconfig.BinModuleConfig
	idSchema *idcodec.Schema
}

// NewDecoder creates a Decoder mirroring NewEncoder's configuration.
func NewDecoder(cfg binconfig.BinModuleConfig, idSchema *idcodec.Schema) *Decoder {
	return &Decoder{cfg: cfg, idSchema: idSchema}
}

// blockDecoders mirrors blockCoders: the persistent, block-scoped readers
// every node's decoding draws from.
type blockDecoders struct {
	hardR, letterXR, letterCR *streamcodec.BitReader
	matchRLE, consensusRLE    *streamcodec.BinaryRLEDecoder
	matchRC                   *streamcodec.BinaryRangeDecoder
	matchProb                 *streamcodec.Prob
}

func newBlockDecoders(byName map[string]*streamcodec.ByteBuffer) *blockDecoders {
	return &blockDecoders{
		hardR:        streamcodec.NewBitReader(byName[StreamHardReads]),
		letterXR:     streamcodec.NewBitReader(byName[StreamLetterX]),
		letterCR:     streamcodec.NewBitReader(byName[StreamLetterC]),
		matchRLE:     streamcodec.NewBinaryRLEDecoder(byName[StreamMatch]),
		consensusRLE: streamcodec.NewBinaryRLEDecoder(byName[StreamConsensusMatch]),
		matchRC:      streamcodec.NewBinaryRangeDecoder(byName[StreamMatchExpensive]),
		matchProb:    streamcodec.NewProb(),
	}
}

// decodeState carries the per-block mutable context through the recursive
// descent, mirroring encodeState.
type decodeState struct {
	d       *Decoder
	byName  map[string]*streamcodec.ByteBuffer
	dec     *blockDecoders
	qcoder  qualcodec.Coder
	idDec   *idcodec.Decoder
	hasQual bool
	sig     signature.Code

	ord      uint32
	parentOf map[uint32]nodeRef
}

// DecodeBlock parses raw (one blockio block) back into a
// matchtree.GraphEncodingContext plus the bin signature it belongs to.
// blockSeed must match the seed Encoder.EncodeTree used for this block so
// QVZ's WELL RNG produces the same quantizer draws (spec §5).
func (d *Decoder) DecodeBlock(raw []byte, codec blockio.Codec, verbatim map[string]bool, blockSeed uint32) (*matchtree.GraphEncodingContext, signature.Code, error) {
	h, streams, err := blockio.ReadBlock(raw, StreamNames, codec, verbatim)
	if err != nil {
		return nil, 0, errors.Wrap(err, "archive: read block")
	}
	byName := make(map[string]*streamcodec.ByteBuffer, len(streams))
	for _, s := range streams {
		byName[s.Name] = streamcodec.NewByteBufferFrom(s.Data)
	}

	var idDec *idcodec.Decoder
	if d.idSchema != nil {
		idDec = idcodec.NewDecoder(*d.idSchema, byName[StreamReadIDToken], byName[StreamReadIDValue])
	}
	qcoder := qualcodec.New(d.cfg.QualityParams, byName[StreamQuality], true)
	if ws, ok := qcoder.(wellSeeder); ok {
		ws.SeedWell(blockSeed)
	}

	st := &decodeState{
		d:        d,
		byName:   byName,
		dec:      newBlockDecoders(byName),
		qcoder:   qcoder,
		idDec:    idDec,
		hasQual:  d.cfg.QualityParams.Method != binconfig.QualityNone,
		sig:      signature.Code(h.SignatureID),
		parentOf: map[uint32]nodeRef{},
	}

	gec := matchtree.NewGraphEncodingContext()
	if err := st.decodeLevel(gec, false); err != nil {
		return nil, 0, errors.Wrap(err, "archive: decode block")
	}
	return gec, st.sig, nil
}

// decodeLevel decodes one forest "level": the top-level block, or the
// contents of a nested SubTree group. It loops until the flag stream is
// exhausted (top level) or a FlagReadGroupEnd closes this level (nested).
func (st *decodeState) decodeLevel(gec *matchtree.GraphEncodingContext, nested bool) error {
	flagBuf := st.byName[StreamFlag]
	var lastReal matchtree.NodeIndex
	haveLast := false

	for {
		if flagBuf.Len() == 0 {
			if nested {
				return errors.New("archive: truncated subtree group")
			}
			return nil
		}
		fb, _ := flagBuf.ReadByte()
		switch NodeFlag(fb) {
		case FlagReadGroupEnd:
			if !nested {
				return errors.New("archive: unexpected group end")
			}
			return nil

		case FlagReadDifficult:
			idx := st.decodeHardNode(gec)
			gec.Roots = append(gec.Roots, idx)
			lastReal, haveLast = idx, true
			st.ord++

		case FlagShiftOnly, FlagFullEncode, FlagFullExpensive:
			idx, parentOrd, err := st.decodeLZNode(gec, NodeFlag(fb))
			if err != nil {
				return err
			}
			if p, ok := st.parentOf[parentOrd]; ok && p.gec == gec {
				gec.AddChild(p.idx, idx)
			} else {
				gec.Roots = append(gec.Roots, idx)
			}
			lastReal, haveLast = idx, true
			st.ord++

		case FlagReadIdentical:
			if !haveLast {
				return errors.New("archive: exact-match entry with no owner")
			}
			revByte, _ := st.byName[StreamRev].ReadByte()
			owner := gec.Node(lastReal)
			mrec := &record.FastqRecord{Seq: append([]byte(nil), owner.Rec.Seq...), Sig: st.sig}
			if revByte == 1 {
				mrec.Flags |= record.IsReverseComplemented
			}
			st.decodeRecordPayload(mrec)
			if owner.ExactMatches == nil {
				owner.ExactMatches = &matchtree.ExactMatchesGroup{}
			}
			owner.ExactMatches.Records = append(owner.ExactMatches.Records, mrec)
			owner.ExactMatches.Reverse = append(owner.ExactMatches.Reverse, revByte == 1)

		case FlagReadContigGroupStart:
			idx, err := st.decodeContigGroup(gec)
			if err != nil {
				return err
			}
			gec.Roots = append(gec.Roots, idx)
			lastReal, haveLast = idx, true
			st.ord++

		case FlagReadTreeGroupStart:
			if !haveLast {
				return errors.New("archive: subtree group with no owner")
			}
			nestedGEC, attachPos, err := st.decodeSubTree(gec)
			if err != nil {
				return err
			}
			gec.Node(lastReal).SubTree = &matchtree.SubTree{MainSignaturePos: uint16(attachPos), GEC: nestedGEC}
			gec.Node(lastReal).Flags |= matchtree.HasSubTree

		default:
			return errors.Errorf("archive: unknown flag byte %d", fb)
		}
	}
}

// readRev reads the per-node Rev-stream entry. length < 0 tells the caller
// no length follows (exact-match siblings use their owner's length).
func readRev(buf *streamcodec.ByteBuffer, hasLen bool) (reverse bool, length int) {
	b, _ := buf.ReadByte()
	if !hasLen {
		return b == 1, -1
	}
	l, _ := buf.Uvarint()
	return b == 1, int(l)
}

func (st *decodeState) decodeHardNode(gec *matchtree.GraphEncodingContext) matchtree.NodeIndex {
	revByte, length := readRev(st.byName[StreamRev], true)

	sigLen := int(st.d.cfg.Minimizer.Len)
	seq := make([]byte, length)
	markerStart := -1
	for i := range seq {
		sym := st.dec.hardR.GetBits(3)
		if sym == baseMarker {
			if markerStart < 0 {
				markerStart = i
			}
			continue
		}
		seq[i] = symToBase(sym)
	}

	rec := &record.FastqRecord{Seq: seq, Sig: st.sig}
	if revByte {
		rec.Flags |= record.IsReverseComplemented
	}
	if markerStart >= 0 && sigLen > 0 {
		rec.MinimPos = uint16(markerStart)
		bases := signature.Bases(st.sig, uint8(sigLen))
		copy(seq[markerStart:min(markerStart+sigLen, len(seq))], bases)
	}
	st.decodeRecordPayload(rec)

	idx := gec.AddNode(matchtree.Node{Rec: rec, Type: matchtree.NodeHard})
	st.parentOf[st.ord] = nodeRef{gec, idx}
	return idx
}

func (st *decodeState) decodeLZNode(gec *matchtree.GraphEncodingContext, flag NodeFlag) (matchtree.NodeIndex, uint32, error) {
	revByte, length := readRev(st.byName[StreamRev], true)
	shiftZZ, _ := st.byName[StreamShift].Uvarint()
	shift := int(unzigzag(shiftZZ))
	parentOrd64, _ := st.byName[StreamLzID].Uvarint()
	parentOrd := uint32(parentOrd64)

	pref, ok := st.parentOf[parentOrd]
	if !ok {
		return 0, 0, errors.Errorf("archive: LZ node references unknown parent ordinal %d", parentOrd)
	}
	parentSeq := pref.gec.Node(pref.idx).Rec.Seq

	rOff, cOff := offsets(shift)
	overlap := overlapLen(length, len(parentSeq), rOff, cOff)
	seq := make([]byte, length)

	switch flag {
	case FlagShiftOnly:
		for i := range seq {
			seq[i] = parentSeq[cOff+i]
		}
	case FlagFullEncode, FlagFullExpensive:
		for i := range seq {
			isOverlap := i >= rOff && i < rOff+overlap
			var match bool
			if flag == FlagFullExpensive {
				match = st.dec.matchRC.DecodeBit(st.dec.matchProb) == 0
			} else {
				match = st.dec.matchRLE.GetSym()
			}
			if isOverlap && match {
				seq[i] = parentSeq[cOff+(i-rOff)]
			} else {
				seq[i] = symToBase(st.dec.letterXR.GetBits(3))
			}
		}
	}

	rec := &record.FastqRecord{Seq: seq, Sig: st.sig}
	if revByte {
		rec.Flags |= record.IsReverseComplemented
	}
	st.decodeRecordPayload(rec)

	idx := gec.AddNode(matchtree.Node{Rec: rec, LZParent: parentSeqOwner(pref), Type: matchtree.NodeLZ, Shift: int16(shift)})
	st.parentOf[st.ord] = nodeRef{gec, idx}
	return idx, parentOrd, nil
}

func parentSeqOwner(ref nodeRef) *record.FastqRecord { return ref.gec.Node(ref.idx).Rec }

func (st *decodeState) decodeContigGroup(gec *matchtree.GraphEncodingContext) (matchtree.NodeIndex, error) {
	revByte, rootLen := readRev(st.byName[StreamRev], true)

	csBuf := st.byName[StreamConsensusShift]
	offsetZZ, _ := csBuf.Uvarint()
	offset := int(unzigzag(offsetZZ))
	consensusLen, _ := csBuf.Uvarint()

	consensus := make([]byte, consensusLen)
	for i := range consensus {
		sym := st.dec.letterCR.GetBits(3)
		if sym != consensusUnset {
			consensus[i] = symToBase(sym)
		}
	}

	rootSeq := make([]byte, rootLen)
	copy(rootSeq, consensus[offset:offset+rootLen])
	root := &record.FastqRecord{Seq: rootSeq, Sig: st.sig}
	if revByte {
		root.Flags |= record.IsReverseComplemented
	}
	st.decodeRecordPayload(root)

	cd := &matchtree.ContigDefinition{Consensus: consensus, Offset: offset}

	flagBuf := st.byName[StreamFlag]
	for {
		if flagBuf.Len() == 0 {
			return 0, errors.New("archive: truncated contig group")
		}
		fb, _ := flagBuf.ReadByte()
		if NodeFlag(fb) == FlagReadGroupEnd {
			break
		}
		if NodeFlag(fb) != FlagReadContigGroupNext {
			return 0, errors.Errorf("archive: unexpected flag %d inside contig group", fb)
		}
		mRev, mLen := readRev(st.byName[StreamRev], true)
		deltaZZ, _ := csBuf.Uvarint()
		delta := int(unzigzag(deltaZZ))
		absShift := offset + delta

		seq := make([]byte, mLen)
		for i := range seq {
			pos := absShift + i
			match := st.dec.consensusRLE.GetSym()
			if match && pos >= 0 && pos < len(consensus) {
				seq[i] = consensus[pos]
			} else {
				seq[i] = symToBase(st.dec.letterCR.GetBits(3))
			}
		}
		mrec := &record.FastqRecord{Seq: seq, Sig: st.sig}
		if mRev {
			mrec.Flags |= record.IsReverseComplemented
		}
		st.decodeRecordPayload(mrec)
		cd.Members = append(cd.Members, &matchtree.ContigMember{Rec: mrec, Reverse: mRev, ShiftDelta: int8(delta)})
	}

	idx := gec.AddNode(matchtree.Node{Rec: root, Type: matchtree.NodeHard, Flags: matchtree.HasContig, Contig: cd})
	st.parentOf[st.ord] = nodeRef{gec, idx}
	return idx, nil
}

func (st *decodeState) decodeSubTree(owner *matchtree.GraphEncodingContext) (nested *matchtree.GraphEncodingContext, attachPos uint64, err error) {
	ts := st.byName[StreamTreeShift]
	attachPos, _ = ts.Uvarint()
	sigID, _ := ts.Uvarint()
	mainPos, _ := ts.Uvarint()
	recCount, _ := ts.Uvarint()
	bitsClass, _ := ts.ReadByte()

	nested = matchtree.NewGraphEncodingContext()
	if err := st.decodeLevel(nested, true); err != nil {
		return nil, 0, err
	}
	if len(nested.Roots) > 0 {
		root := nested.Node(nested.Roots[0])
		root.TransTree = &matchtree.TransTreeDecorator{
			SignatureID:      uint32(sigID),
			MainSignaturePos: uint16(mainPos),
			RecordCount:      uint32(recCount),
			BitsClass:        bitsClass,
		}
		root.Flags |= matchtree.HasTransTree
	}
	return nested, attachPos, nil
}

func (st *decodeState) decodeRecordPayload(rec *record.FastqRecord) {
	if st.hasQual {
		st.qcoder.Start()
		rec.Qual = make([]byte, len(rec.Seq))
		for i := range rec.Qual {
			rec.Qual[i] = st.qcoder.Decode(i)
		}
	}
	if st.idDec != nil {
		rec.Head = st.idDec.Decode()
		return
	}
	// No schema was available at encode time (fastore_rebin's sidecar): the
	// header, if any, was written as a presence byte plus length-prefixed
	// raw bytes instead of token-coded.
	raw := st.byName[StreamReadIDValue]
	present, err := raw.ReadByte()
	if err != nil || present == 0 {
		return
	}
	n, _ := raw.Uvarint()
	head := make([]byte, n)
	_, _ = raw.Read(head)
	rec.Head = head
}
