package archive

import (
	"io"

	"github.com/pkg/errors"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

// FileHeaderSize is the fixed size of ArchiveFileHeader (spec §6).
const FileHeaderSize = 24

// FileHeader is the fixed 24-byte header at the start of an archive file.
type FileHeader struct {
	FooterOffset uint64
	FooterSize   uint64
}

func (h FileHeader) encode() []byte {
	buf := streamcodec.NewByteBuffer()
	buf.PutUint32(uint32(h.FooterOffset))
	buf.PutUint32(uint32(h.FooterOffset >> 32))
	buf.PutUint32(uint32(h.FooterSize))
	buf.PutUint32(uint32(h.FooterSize >> 32))
	for i := 0; i < 8; i++ {
		_ = buf.WriteByte(0)
	}
	return buf.Bytes()
}

func decodeFileHeader(raw []byte) (FileHeader, error) {
	if len(raw) != FileHeaderSize {
		return FileHeader{}, errors.New("archive: short file header")
	}
	buf := streamcodec.NewByteBufferFrom(raw)
	var h FileHeader
	lo, _ := buf.Uint32()
	hi, _ := buf.Uint32()
	h.FooterOffset = uint64(lo) | uint64(hi)<<32
	lo, _ = buf.Uint32()
	hi, _ = buf.Uint32()
	h.FooterSize = uint64(lo) | uint64(hi)<<32
	return h, nil
}

// Footer closes the archive with the block table plus the configuration
// needed to reopen every stream (spec §6): block sizes/offsets and
// signatures so blocks can be located and dispatched, the module
// configuration so the decoder selects the right quality/codec path, and
// the optional identifier schema when headers were preserved.
type Footer struct {
	Config     binconfig.BinModuleConfig
	Signatures []signature.Code
	BlockSizes []uint64
	IDSchema   *idcodec.Schema
}

func encodeIDSchema(buf *streamcodec.ByteBuffer, s *idcodec.Schema) {
	if s == nil {
		buf.PutUvarint(0)
		return
	}
	buf.PutUvarint(uint64(len(s.Fields)) + 1)
	for _, f := range s.Fields {
		_ = buf.WriteByte(byte(f.Kind))
		_ = buf.WriteByte(f.Separator)
		switch f.Kind {
		case idcodec.FieldConst:
			buf.PutUvarint(uint64(len(f.Const)))
			_, _ = buf.Write(f.Const)
		case idcodec.FieldNumeric:
			buf.PutUvarint(zigzag(f.MinValue))
			buf.PutUvarint(zigzag(f.MaxValue))
		case idcodec.FieldToken:
			buf.PutUvarint(uint64(len(f.Tokens)))
			for _, tok := range f.Tokens {
				buf.PutUvarint(uint64(len(tok)))
				_, _ = buf.Write(tok)
			}
		}
		if f.MateField {
			_ = buf.WriteByte(1)
		} else {
			_ = buf.WriteByte(0)
		}
	}
}

func decodeIDSchema(buf *streamcodec.ByteBuffer) (*idcodec.Schema, error) {
	countPlus1, err := buf.Uvarint()
	if err != nil {
		return nil, err
	}
	if countPlus1 == 0 {
		return nil, nil
	}
	n := countPlus1 - 1
	s := &idcodec.Schema{Fields: make([]idcodec.Field, n)}
	for i := uint64(0); i < n; i++ {
		kindByte, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		sep, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		f := idcodec.Field{Kind: idcodec.FieldKind(kindByte), Separator: sep}
		switch f.Kind {
		case idcodec.FieldConst:
			l, err := buf.Uvarint()
			if err != nil {
				return nil, err
			}
			f.Const = make([]byte, l)
			if _, err := buf.Read(f.Const); err != nil {
				return nil, err
			}
		case idcodec.FieldNumeric:
			minZZ, err := buf.Uvarint()
			if err != nil {
				return nil, err
			}
			maxZZ, err := buf.Uvarint()
			if err != nil {
				return nil, err
			}
			f.MinValue, f.MaxValue = unzigzag(minZZ), unzigzag(maxZZ)
		case idcodec.FieldToken:
			tn, err := buf.Uvarint()
			if err != nil {
				return nil, err
			}
			f.Tokens = make([][]byte, tn)
			for j := range f.Tokens {
				l, err := buf.Uvarint()
				if err != nil {
					return nil, err
				}
				tok := make([]byte, l)
				if _, err := buf.Read(tok); err != nil {
					return nil, err
				}
				f.Tokens[j] = tok
			}
		}
		mate, err := buf.ReadByte()
		if err != nil {
			return nil, err
		}
		f.MateField = mate == 1
		s.Fields[i] = f
	}
	return s, nil
}

func encodeFooter(buf *streamcodec.ByteBuffer, f Footer) {
	buf.PutUvarint(uint64(f.Config.Minimizer.Len))
	buf.PutUvarint(uint64(f.Config.QualityParams.Method))
	buf.PutUvarint(uint64(f.Config.ArchiveType.ReadType))
	buf.PutUvarint(uint64(len(f.Signatures)))
	for i, sig := range f.Signatures {
		buf.PutUint32(uint32(sig))
		buf.PutUvarint(f.BlockSizes[i])
	}
	encodeIDSchema(buf, f.IDSchema)
}

func decodeFooterBuf(buf *streamcodec.ByteBuffer) (Footer, error) {
	var f Footer
	l, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	f.Config.Minimizer.Len = uint8(l)
	m, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	f.Config.QualityParams.Method = binconfig.QualityMethod(m)
	rt, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	f.Config.ArchiveType.ReadType = binconfig.ReadType(rt)
	n, err := buf.Uvarint()
	if err != nil {
		return f, err
	}
	f.Signatures = make([]signature.Code, n)
	f.BlockSizes = make([]uint64, n)
	for i := uint64(0); i < n; i++ {
		sig, err := buf.Uint32()
		if err != nil {
			return f, err
		}
		f.Signatures[i] = signature.Code(sig)
		if f.BlockSizes[i], err = buf.Uvarint(); err != nil {
			return f, err
		}
	}
	f.IDSchema, err = decodeIDSchema(buf)
	return f, err
}

// Writer assembles a sequence of encoded blocks into a complete archive
// file: header placeholder, block bodies, footer, header backpatch (spec
// §6). Mirrors bin.BinFileWriter's shape one level up the format stack.
type Writer struct {
	out        io.Writer
	offset     uint64
	blockSizes []uint64
	signatures []signature.Code
}

// NewWriter creates a Writer over out, reserving the file-header placeholder.
func NewWriter(out io.Writer) (*Writer, error) {
	if _, err := out.Write(make([]byte, FileHeaderSize)); err != nil {
		return nil, errors.Wrap(err, "archive: write header placeholder")
	}
	return &Writer{out: out, offset: FileHeaderSize}, nil
}

// WriteBlock appends one encoded block for signature sig.
func (w *Writer) WriteBlock(sig signature.Code, block []byte) error {
	if _, err := w.out.Write(block); err != nil {
		return errors.Wrap(err, "archive: write block")
	}
	w.signatures = append(w.signatures, sig)
	w.blockSizes = append(w.blockSizes, uint64(len(block)))
	w.offset += uint64(len(block))
	return nil
}

// Finish writes the footer and returns the header bytes the caller must
// seek back and write at offset 0 (mirrors bin.BinFileWriter.Finish).
func (w *Writer) Finish(cfg binconfig.BinModuleConfig, idSchema *idcodec.Schema) ([]byte, error) {
	footerBuf := streamcodec.NewByteBuffer()
	encodeFooter(footerBuf, Footer{Config: cfg, Signatures: w.signatures, BlockSizes: w.blockSizes, IDSchema: idSchema})
	footer := footerBuf.Bytes()
	if _, err := w.out.Write(footer); err != nil {
		return nil, errors.Wrap(err, "archive: write footer")
	}
	h := FileHeader{FooterOffset: w.offset, FooterSize: uint64(len(footer))}
	return h.encode(), nil
}

// ReadFooter parses the footer out of a complete archive file's bytes.
func ReadFooter(full []byte) (FileHeader, Footer, error) {
	if len(full) < FileHeaderSize {
		return FileHeader{}, Footer{}, errors.New("archive: truncated file")
	}
	h, err := decodeFileHeader(full[:FileHeaderSize])
	if err != nil {
		return h, Footer{}, err
	}
	if h.FooterOffset+h.FooterSize > uint64(len(full)) {
		return h, Footer{}, errors.New("archive: footer out of range")
	}
	buf := streamcodec.NewByteBufferFrom(full[h.FooterOffset : h.FooterOffset+h.FooterSize])
	f, err := decodeFooterBuf(buf)
	return h, f, err
}

// BlockRanges returns the [start,end) byte range of each block within the
// file, in emission order, given the footer's BlockSizes.
func BlockRanges(f Footer) [][2]uint64 {
	ranges := make([][2]uint64, len(f.BlockSizes))
	off := uint64(FileHeaderSize)
	for i, sz := range f.BlockSizes {
		ranges[i] = [2]uint64{off, off + sz}
		off += sz
	}
	return ranges
}
