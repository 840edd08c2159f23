package blockio

import (
	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/streamcodec"
)

// StreamOrder fixes the order compressed buffers are concatenated in,
// matching the encoder's fixed stream order (spec §4.4.7).
type StreamOrder struct {
	Names []string
}

// RawBlockHeader is the fixed-size header preceding a compressed block
// (spec §4.4.7).
type RawBlockHeader struct {
	SignatureID      uint32
	RecordsCount     uint32
	RecMinLen        uint16
	RecMaxLen        uint16
	RawDnaStreamSize uint64
	RawIDStreamSize  uint64
	FooterOffset     uint64
	FooterSize       uint64
}

// Encode serializes h.
func (h RawBlockHeader) Encode(buf *streamcodec.ByteBuffer) {
	buf.PutUint32(h.SignatureID)
	buf.PutUint32(h.RecordsCount)
	buf.PutUint32(uint32(h.RecMinLen) | uint32(h.RecMaxLen)<<16)
	buf.PutUint32(uint32(h.RawDnaStreamSize))
	buf.PutUint32(uint32(h.RawDnaStreamSize >> 32))
	buf.PutUint32(uint32(h.RawIDStreamSize))
	buf.PutUint32(uint32(h.RawIDStreamSize >> 32))
	buf.PutUint32(uint32(h.FooterOffset))
	buf.PutUint32(uint32(h.FooterOffset >> 32))
	buf.PutUint32(uint32(h.FooterSize))
	buf.PutUint32(uint32(h.FooterSize >> 32))
}

// DecodeRawBlockHeader parses a RawBlockHeader from buf.
func DecodeRawBlockHeader(buf *streamcodec.ByteBuffer) (RawBlockHeader, error) {
	var h RawBlockHeader
	var lo, hi uint32
	var err error
	if h.SignatureID, err = buf.Uint32(); err != nil {
		return h, err
	}
	if h.RecordsCount, err = buf.Uint32(); err != nil {
		return h, err
	}
	lenWord, err := buf.Uint32()
	if err != nil {
		return h, err
	}
	h.RecMinLen = uint16(lenWord)
	h.RecMaxLen = uint16(lenWord >> 16)
	if lo, err = buf.Uint32(); err != nil {
		return h, err
	}
	if hi, err = buf.Uint32(); err != nil {
		return h, err
	}
	h.RawDnaStreamSize = uint64(lo) | uint64(hi)<<32
	if lo, err = buf.Uint32(); err != nil {
		return h, err
	}
	if hi, err = buf.Uint32(); err != nil {
		return h, err
	}
	h.RawIDStreamSize = uint64(lo) | uint64(hi)<<32
	if lo, err = buf.Uint32(); err != nil {
		return h, err
	}
	if hi, err = buf.Uint32(); err != nil {
		return h, err
	}
	h.FooterOffset = uint64(lo) | uint64(hi)<<32
	if lo, err = buf.Uint32(); err != nil {
		return h, err
	}
	if hi, err = buf.Uint32(); err != nil {
		return h, err
	}
	h.FooterSize = uint64(lo) | uint64(hi)<<32
	return h, nil
}

// BaseBlockFooter closes a compressed block with an integrity checksum
// (spec §4.4.7).
type BaseBlockFooter struct {
	Checksum uint64
}

func (f BaseBlockFooter) Encode(buf *streamcodec.ByteBuffer) {
	buf.PutUint32(uint32(f.Checksum))
	buf.PutUint32(uint32(f.Checksum >> 32))
}

func DecodeBaseBlockFooter(buf *streamcodec.ByteBuffer) (BaseBlockFooter, error) {
	lo, err := buf.Uint32()
	if err != nil {
		return BaseBlockFooter{}, err
	}
	hi, err := buf.Uint32()
	if err != nil {
		return BaseBlockFooter{}, err
	}
	return BaseBlockFooter{Checksum: uint64(lo) | uint64(hi)<<32}, nil
}

// Stream is one named buffer within a block, alongside whether it must
// bypass the back-end codec (spec §4.4.6).
type Stream struct {
	Name     string
	Data     []byte
	Verbatim bool
}

// WriteBlock compresses and frames streams in order, returning the
// serialized block (header ‖ work-size table ‖ comp-size table ‖ buffers
// ‖ footer).
func WriteBlock(h RawBlockHeader, streams []Stream, codec Codec) []byte {
	out := streamcodec.NewByteBuffer()
	h.Encode(out)

	compressed := make([][]byte, len(streams))
	for i, s := range streams {
		var c Codec = codec
		if s.Verbatim {
			c = VerbatimCodec{}
		}
		comp, err := c.Compress(s.Data)
		if err != nil {
			comp = s.Data
		}
		compressed[i] = comp
	}

	for _, s := range streams {
		out.PutUvarint(uint64(len(s.Data)))
	}
	for _, comp := range compressed {
		out.PutUvarint(uint64(len(comp)))
	}
	var body []byte
	for _, comp := range compressed {
		body = append(body, comp...)
	}
	_, _ = out.Write(body)

	BaseBlockFooter{Checksum: Checksum(body)}.Encode(out)
	return out.Bytes()
}

// ReadBlock parses and decompresses a block produced by WriteBlock. names
// must list the stream names in the same fixed order used at encode time.
func ReadBlock(raw []byte, names []string, codec Codec, verbatim map[string]bool) (RawBlockHeader, []Stream, error) {
	buf := streamcodec.NewByteBufferFrom(raw)
	h, err := DecodeRawBlockHeader(buf)
	if err != nil {
		return h, nil, err
	}
	workSizes := make([]uint64, len(names))
	for i := range names {
		workSizes[i], err = buf.Uvarint()
		if err != nil {
			return h, nil, err
		}
	}
	compSizes := make([]uint64, len(names))
	for i := range names {
		compSizes[i], err = buf.Uvarint()
		if err != nil {
			return h, nil, err
		}
	}

	streams := make([]Stream, len(names))
	var body []byte
	for i, name := range names {
		comp := make([]byte, compSizes[i])
		if _, err := buf.Read(comp); err != nil {
			return h, nil, errors.Wrapf(err, "blockio: stream %s", name)
		}
		body = append(body, comp...)
		c := codec
		isVerbatim := verbatim[name]
		if isVerbatim {
			c = VerbatimCodec{}
		}
		data, err := c.Decompress(comp, int(workSizes[i]))
		if err != nil {
			return h, nil, errors.Wrapf(err, "blockio: decompress %s", name)
		}
		streams[i] = Stream{Name: name, Data: data, Verbatim: isVerbatim}
	}

	footer, err := DecodeBaseBlockFooter(buf)
	if err != nil {
		return h, nil, err
	}
	if footer.Checksum != Checksum(body) {
		return h, nil, errors.New("blockio: block checksum mismatch")
	}
	return h, streams, nil
}
