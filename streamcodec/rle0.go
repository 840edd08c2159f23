package streamcodec

// Rle0Encoder encodes a stream of uint32 symbols, run-length-collapsing
// zero runs into the two reserved escape bytes Rle0ASymbol/Rle0BSymbol.
// Grounded bit-for-bit on the original's Rle0Encoder (rle/RleEncoder.h):
// values are shifted up by RleOffset before being emitted so they never
// collide with the two escape bytes, and values that still don't fit a
// single byte escape into a 16- or 32-bit field.
type Rle0Encoder struct {
	out        *ByteBuffer
	prevSymbol uint32
}

const (
	rle0ASymbol  = 1
	rle0BSymbol  = 0
	rle0Offset   = 1
	rle0Max8Bit  = 255 - 2
	rle0Use16Bit = 0xFE
	rle0Use32Bit = 0xFF
)

// NewRle0Encoder creates an encoder writing to out.
func NewRle0Encoder(out *ByteBuffer) *Rle0Encoder {
	return &Rle0Encoder{out: out, prevSymbol: rle0BSymbol}
}

// PutSymbol encodes one symbol.
func (e *Rle0Encoder) PutSymbol(s uint32) {
	if s == 0 {
		switch e.prevSymbol {
		case rle0BSymbol:
			e.prevSymbol = rle0ASymbol
		case rle0ASymbol:
			_ = e.out.WriteByte(rle0BSymbol)
			e.prevSymbol = rle0BSymbol
		}
		return
	}
	if e.prevSymbol == rle0ASymbol {
		_ = e.out.WriteByte(rle0ASymbol)
		e.prevSymbol = rle0BSymbol
	}
	ss := s + rle0Offset
	switch {
	case ss < rle0Max8Bit:
		_ = e.out.WriteByte(byte(ss))
	case ss < (1<<16)-1:
		_ = e.out.WriteByte(rle0Use16Bit)
		_ = e.out.WriteByte(byte(ss))
		_ = e.out.WriteByte(byte(ss >> 8))
	default:
		_ = e.out.WriteByte(rle0Use32Bit)
		e.out.PutUint32(ss)
	}
}

// End flushes a pending lone zero.
func (e *Rle0Encoder) End() {
	if e.prevSymbol == rle0ASymbol {
		_ = e.out.WriteByte(rle0ASymbol)
	}
}

// Rle0Decoder is the inverse of Rle0Encoder.
type Rle0Decoder struct {
	in        *ByteBuffer
	curSymbol uint32
}

// NewRle0Decoder creates a decoder reading from in.
func NewRle0Decoder(in *ByteBuffer) *Rle0Decoder {
	return &Rle0Decoder{in: in, curSymbol: rle0Max8Bit}
}

// GetSym decodes the next symbol.
func (d *Rle0Decoder) GetSym() uint32 {
	switch d.curSymbol {
	case rle0BSymbol:
		d.curSymbol = rle0ASymbol
		return 0
	case rle0ASymbol:
		d.curSymbol = rle0Max8Bit
		return 0
	}
	d.curSymbol = d.fetch()
	if d.curSymbol != rle0ASymbol && d.curSymbol != rle0BSymbol {
		return d.curSymbol - rle0Offset
	}
	return d.GetSym()
}

func (d *Rle0Decoder) fetch() uint32 {
	if d.in.Len() <= 0 {
		return rle0BSymbol
	}
	b, err := d.in.ReadByte()
	if err != nil {
		return rle0BSymbol
	}
	if uint32(b) < rle0Use16Bit {
		return uint32(b)
	}
	if b == rle0Use16Bit {
		lo, _ := d.in.ReadByte()
		hi, _ := d.in.ReadByte()
		return uint32(lo) | uint32(hi)<<8
	}
	v, _ := d.in.Uint32()
	return v
}
