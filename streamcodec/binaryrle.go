package streamcodec

// BinaryRLEEncoder encodes a stream of booleans as run lengths, one byte per
// run. Grounded bit-for-bit on the original's BinaryRleEncoder
// (rle/RleEncoder.h): a run of true is flushed every RleMax-RleOffset
// symbols, and any false symbol flushes the pending true-run (emitting a
// sentinel 0 only when no run was pending).
type BinaryRLEEncoder struct {
	out          *ByteBuffer
	currentCount uint32
}

const (
	binaryRleMax    = 255
	binaryRleOffset = 2
)

// NewBinaryRLEEncoder creates an encoder writing to out.
func NewBinaryRLEEncoder(out *ByteBuffer) *BinaryRLEEncoder {
	return &BinaryRLEEncoder{out: out}
}

// PutSymbol encodes one boolean.
func (e *BinaryRLEEncoder) PutSymbol(s bool) {
	if s {
		e.currentCount++
		if e.currentCount == binaryRleMax-binaryRleOffset {
			e.put(e.currentCount + binaryRleOffset)
			e.currentCount = 0
		}
		return
	}
	mismatch := e.currentCount > 0 && e.currentCount < binaryRleMax-binaryRleOffset
	if e.currentCount > 0 {
		e.put(e.currentCount + binaryRleOffset)
		e.currentCount = 0
	}
	if !mismatch {
		e.put(0)
	}
}

// End flushes any pending run.
func (e *BinaryRLEEncoder) End() {
	if e.currentCount > 0 {
		e.put(e.currentCount + binaryRleOffset)
		e.currentCount = 0
	}
}

func (e *BinaryRLEEncoder) put(v uint32) { _ = e.out.WriteByte(byte(v)) }

// BinaryRLEDecoder is the inverse of BinaryRLEEncoder.
type BinaryRLEDecoder struct {
	in           *ByteBuffer
	currentCount uint32
	onlyMatches  bool
	started      bool
}

// NewBinaryRLEDecoder creates a decoder reading from in.
func NewBinaryRLEDecoder(in *ByteBuffer) *BinaryRLEDecoder {
	d := &BinaryRLEDecoder{in: in}
	d.fetch()
	return d
}

// GetSym decodes the next boolean.
func (d *BinaryRLEDecoder) GetSym() bool {
	if d.currentCount > binaryRleOffset {
		d.currentCount--
		return true
	}
	if d.currentCount == 0 || (!d.onlyMatches && d.currentCount == binaryRleOffset) {
		d.fetch()
		return false
	}
	d.fetch()
	return d.GetSym()
}

func (d *BinaryRLEDecoder) fetch() {
	if d.in.Len() <= 0 {
		return
	}
	b, err := d.in.ReadByte()
	if err != nil {
		return
	}
	d.currentCount = uint32(b)
	d.onlyMatches = d.currentCount == binaryRleMax
}
