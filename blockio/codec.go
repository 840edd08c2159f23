// Package blockio implements the archive's buffer back-end (spec §4.4.6)
// and block/envelope layout (spec §4.4.7): compressing each of the
// stream buffers that wasn't already produced by an adaptive entropy coder,
// and framing the result behind RawBlockHeader/BaseBlockFooter.
//
// klauspost/compress is pinned at v1.7.1 by the teacher's go.mod, which
// predates that module's zstd package; the PPMd order-4 stand-in therefore
// targets klauspost/compress/flate (DEFLATE) instead. There is no ecosystem
// Go PPMd implementation; flate is the closest general-purpose block codec
// available from the pack's locked dependency set (see DESIGN.md,
// "blockio").
package blockio

import (
	"bytes"
	"io"

	"blainsmith.com/go/seahash"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// Codec compresses and decompresses one stream buffer.
type Codec interface {
	Compress(work []byte) ([]byte, error)
	Decompress(comp []byte, workSize int) ([]byte, error)
}

// PPMdCodec is the PPMd-order-4 stand-in (spec §4.4.6), backed by
// klauspost/compress/flate at best compression.
type PPMdCodec struct{}

// Compress flate-compresses work.
func (PPMdCodec) Compress(work []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		return nil, errors.Wrap(err, "blockio: flate writer")
	}
	if _, err := w.Write(work); err != nil {
		return nil, errors.Wrap(err, "blockio: flate write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "blockio: flate close")
	}
	return buf.Bytes(), nil
}

// Decompress flate-decompresses comp into a buffer of workSize bytes.
func (PPMdCodec) Decompress(comp []byte, workSize int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(comp))
	defer r.Close() // nolint: errcheck
	out := make([]byte, workSize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errors.Wrap(err, "blockio: flate read")
	}
	return out, nil
}

// FastCodec is a low-latency alternative back-end for streams where
// decode speed dominates compression ratio (SPEC_FULL.md's domain-stack
// wiring of github.com/golang/snappy).
type FastCodec struct{}

// Compress snappy-compresses work.
func (FastCodec) Compress(work []byte) ([]byte, error) {
	return snappy.Encode(nil, work), nil
}

// Decompress snappy-decompresses comp.
func (FastCodec) Decompress(comp []byte, workSize int) ([]byte, error) {
	out, err := snappy.Decode(make([]byte, 0, workSize), comp)
	if err != nil {
		return nil, errors.Wrap(err, "blockio: snappy decode")
	}
	return out, nil
}

// VerbatimCodec stores the buffer unchanged (spec §4.4.6's "passed through
// verbatim" path for already-entropy-coded streams).
type VerbatimCodec struct{}

func (VerbatimCodec) Compress(work []byte) ([]byte, error)            { return work, nil }
func (VerbatimCodec) Decompress(comp []byte, _ int) ([]byte, error)   { return comp, nil }

// Checksum computes the seahash digest of buf, used in BaseBlockFooter to
// detect silent corruption of a compressed block.
func Checksum(buf []byte) uint64 {
	h := seahash.New()
	_, _ = h.Write(buf)
	return h.Sum64()
}
