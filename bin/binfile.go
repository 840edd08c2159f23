package bin

import (
	"io"

	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

// BinFileHeaderSize is the fixed size of BinFileHeader (spec §6).
const BinFileHeaderSize = 48

// BinFileHeader is the fixed header at byte 0 of the meta stream (spec §6).
type BinFileHeader struct {
	FooterOffset     uint64
	RecordsCount     uint64
	BlockCount       uint64
	FooterSize       uint64
	UsesHeaderStream bool
}

func (h BinFileHeader) encode() []byte {
	buf := streamcodec.NewByteBuffer()
	buf.PutUint32(uint32(h.FooterOffset))
	buf.PutUint32(uint32(h.FooterOffset >> 32))
	buf.PutUint32(uint32(h.RecordsCount))
	buf.PutUint32(uint32(h.RecordsCount >> 32))
	buf.PutUint32(uint32(h.BlockCount))
	buf.PutUint32(uint32(h.BlockCount >> 32))
	buf.PutUint32(uint32(h.FooterSize))
	buf.PutUint32(uint32(h.FooterSize >> 32))
	flag := byte(0)
	if h.UsesHeaderStream {
		flag = 1
	}
	_ = buf.WriteByte(flag)
	for i := 0; i < 7; i++ {
		_ = buf.WriteByte(0)
	}
	out := buf.Bytes()
	if len(out) != BinFileHeaderSize {
		panic("bin: header size mismatch")
	}
	return out
}

func decodeBinFileHeader(raw []byte) (BinFileHeader, error) {
	if len(raw) != BinFileHeaderSize {
		return BinFileHeader{}, errors.New("bin: short header")
	}
	buf := streamcodec.NewByteBufferFrom(raw)
	var h BinFileHeader
	lo, _ := buf.Uint32()
	hi, _ := buf.Uint32()
	h.FooterOffset = uint64(lo) | uint64(hi)<<32
	lo, _ = buf.Uint32()
	hi, _ = buf.Uint32()
	h.RecordsCount = uint64(lo) | uint64(hi)<<32
	lo, _ = buf.Uint32()
	hi, _ = buf.Uint32()
	h.BlockCount = uint64(lo) | uint64(hi)<<32
	lo, _ = buf.Uint32()
	hi, _ = buf.Uint32()
	h.FooterSize = uint64(lo) | uint64(hi)<<32
	flag, _ := buf.ReadByte()
	h.UsesHeaderStream = flag == 1
	return h, nil
}

// SubBinDescriptor is one occupied bin's footer entry (spec §4.2 point 3).
type SubBinDescriptor struct {
	Signature    signature.Code
	MetaSize     uint64
	DnaSize      uint64
	QuaSize      uint64
	RawDnaSize   uint64
	RecordsCount uint64
	HeadSize     uint64
	RawHeadSize  uint64

	MetaOffset uint64
	DnaOffset  uint64
	QuaOffset  uint64
	HeadOffset uint64
}

// BinFileFooter is written once at finish, after all block bodies.
type BinFileFooter struct {
	Config       binconfig.BinModuleConfig
	Occupied     []signature.Code
	Descriptors  []SubBinDescriptor
}

// BinFileWriter streams per-bin blocks to four underlying writers and
// assembles the footer on Finish (spec §4.2 "BinFileWriter/BinFileReader").
type BinFileWriter struct {
	meta, dna, qua, head io.Writer

	metaOff, dnaOff, quaOff, headOff uint64
	descriptors                      []SubBinDescriptor
	recordsTotal                     uint64
	blockCount                       uint64
	usesHeaders                      bool
}

// NewBinFileWriter creates a writer over the four bin-file streams. head
// may be nil if the archive does not preserve identifiers.
func NewBinFileWriter(meta, dna, qua, head io.Writer) (*BinFileWriter, error) {
	w := &BinFileWriter{meta: meta, dna: dna, qua: qua, head: head, usesHeaders: head != nil}
	placeholder := make([]byte, BinFileHeaderSize)
	if _, err := meta.Write(placeholder); err != nil {
		return nil, errors.Wrap(err, "bin: write header placeholder")
	}
	w.metaOff = BinFileHeaderSize
	return w, nil
}

// WriteBin appends one bin's already-packed streams and records its
// descriptor.
func (w *BinFileWriter) WriteBin(b *Bin, settings BinPackSettings, streams PackedStreams) error {
	desc := SubBinDescriptor{
		Signature:    b.Signature,
		RecordsCount: uint64(len(b.Records)),
		MetaOffset:   w.metaOff,
		DnaOffset:    w.dnaOff,
		QuaOffset:    w.quaOff,
		HeadOffset:   w.headOff,
	}
	n, err := w.meta.Write(streams.Meta.Bytes())
	if err != nil {
		return errors.Wrap(err, "bin: write meta")
	}
	desc.MetaSize = uint64(n)
	w.metaOff += uint64(n)

	n, err = w.dna.Write(streams.Dna.Bytes())
	if err != nil {
		return errors.Wrap(err, "bin: write dna")
	}
	desc.DnaSize = uint64(n)
	desc.RawDnaSize = desc.DnaSize
	w.dnaOff += uint64(n)

	n, err = w.qua.Write(streams.Qua.Bytes())
	if err != nil {
		return errors.Wrap(err, "bin: write qua")
	}
	desc.QuaSize = uint64(n)
	w.quaOff += uint64(n)

	if w.head != nil && streams.Head != nil {
		n, err = w.head.Write(streams.Head.Bytes())
		if err != nil {
			return errors.Wrap(err, "bin: write head")
		}
		desc.HeadSize = uint64(n)
		desc.RawHeadSize = desc.HeadSize
		w.headOff += uint64(n)
	}

	w.descriptors = append(w.descriptors, desc)
	w.recordsTotal += desc.RecordsCount
	w.blockCount++
	return nil
}

// Finish writes the footer to the meta stream and returns the final header
// together with its encoded bytes; the caller writes those bytes at offset 0
// of the meta file, over the placeholder NewBinFileWriter wrote.
func (w *BinFileWriter) Finish(cfg binconfig.BinModuleConfig) (BinFileHeader, []byte, error) {
	footerBuf := streamcodec.NewByteBuffer()
	encodeFooter(footerBuf, cfg, w.descriptors)
	footer := footerBuf.Bytes()
	if _, err := w.meta.Write(footer); err != nil {
		return BinFileHeader{}, nil, errors.Wrap(err, "bin: write footer")
	}

	h := BinFileHeader{
		FooterOffset:     w.metaOff,
		RecordsCount:     w.recordsTotal,
		BlockCount:       w.blockCount,
		FooterSize:       uint64(len(footer)),
		UsesHeaderStream: w.usesHeaders,
	}
	return h, h.encode(), nil
}

func encodeFooter(buf *streamcodec.ByteBuffer, cfg binconfig.BinModuleConfig, descs []SubBinDescriptor) {
	buf.PutUvarint(uint64(cfg.Minimizer.Len))
	buf.PutUvarint(uint64(cfg.QualityParams.Method))
	buf.PutUvarint(uint64(cfg.ArchiveType.ReadType))
	buf.PutUvarint(uint64(len(descs)))
	for _, d := range descs {
		buf.PutUint32(uint32(d.Signature))
		buf.PutUvarint(d.MetaSize)
		buf.PutUvarint(d.DnaSize)
		buf.PutUvarint(d.QuaSize)
		buf.PutUvarint(d.RawDnaSize)
		buf.PutUvarint(d.RecordsCount)
		buf.PutUvarint(d.HeadSize)
		buf.PutUvarint(d.RawHeadSize)
		buf.PutUvarint(d.MetaOffset)
		buf.PutUvarint(d.DnaOffset)
		buf.PutUvarint(d.QuaOffset)
		buf.PutUvarint(d.HeadOffset)
	}
}

func decodeFooter(buf *streamcodec.ByteBuffer) (BinFileFooter, error) {
	var f BinFileFooter
	sigLen, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	method, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	readType, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	f.Config.Minimizer.Len = uint8(sigLen)
	f.Config.QualityParams.Method = binconfig.QualityMethod(method)
	f.Config.ArchiveType.ReadType = binconfig.ReadType(readType)

	count, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	for i := uint64(0); i < count; i++ {
		var d SubBinDescriptor
		sig, err := buf.Uint32()
		if err != nil {
			return f, err
		}
		d.Signature = signature.Code(sig)
		if d.MetaSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.DnaSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.QuaSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.RawDnaSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.RecordsCount, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.HeadSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.RawHeadSize, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.MetaOffset, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.DnaOffset, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.QuaOffset, err = buf.Uvarint(); err != nil {
			return f, err
		}
		if d.HeadOffset, err = buf.Uvarint(); err != nil {
			return f, err
		}
		f.Occupied = append(f.Occupied, d.Signature)
		f.Descriptors = append(f.Descriptors, d)
	}
	return f, nil
}

// ReadBinFile parses a complete bin-file's meta blob (header + block meta +
// footer) and returns the footer describing every occupied bin.
func ReadBinFile(metaBlob []byte) (BinFileHeader, BinFileFooter, error) {
	if len(metaBlob) < BinFileHeaderSize {
		return BinFileHeader{}, BinFileFooter{}, errors.New("bin: truncated meta file")
	}
	h, err := decodeBinFileHeader(metaBlob[:BinFileHeaderSize])
	if err != nil {
		return h, BinFileFooter{}, err
	}
	if h.FooterOffset+h.FooterSize > uint64(len(metaBlob)) {
		return h, BinFileFooter{}, errors.New("bin: footer out of range")
	}
	footerBuf := streamcodec.NewByteBufferFrom(metaBlob[h.FooterOffset : h.FooterOffset+h.FooterSize])
	f, err := decodeFooter(footerBuf)
	return h, f, err
}
