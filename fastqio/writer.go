package fastqio

import (
	"io"
	"strconv"

	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
)

var (
	newline = []byte{'\n'}
	atSign  = []byte{'@'}
	plus    = []byte{'+'}
)

// Writer emits FASTQ quartets, synthesizing headers when the source record
// carries none (spec §6: "@<signature>.<index>").
type Writer struct {
	w   io.Writer
	err error
}

// NewWriter creates a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteRaw writes a quartet exactly as given.
func (w *Writer) WriteRaw(r *Read) error {
	w.writeln(r.ID)
	w.writeln(r.Seq)
	w.writeln(r.Plus)
	w.writeln(r.Qual)
	return w.err
}

// WriteRecord writes a decoded record, reconstructing its textual header
// from rec.Head when present, else synthesizing "@<sig>.<index>".
func (w *Writer) WriteRecord(rec *record.FastqRecord, sig signature.Code, index int, qualityOffset byte) error {
	if rec.HasHead() {
		w.writeHeadLine(rec.Head)
	} else {
		w.writeln(append(append([]byte("@"), []byte(strconv.FormatUint(uint64(sig), 10))...), append([]byte("."), []byte(strconv.Itoa(index))...)...))
	}
	w.writeln(rec.Seq)
	w.writeln(plus)
	w.writeQual(rec.Qual, qualityOffset)
	return w.err
}

func (w *Writer) writeHeadLine(head []byte) {
	if w.err != nil {
		return
	}
	if len(head) == 0 || head[0] != '@' {
		if _, w.err = w.w.Write(atSign); w.err != nil {
			return
		}
	}
	w.writeln(head)
}

func (w *Writer) writeQual(qual []byte, offset byte) {
	if w.err != nil || qual == nil {
		return
	}
	buf := make([]byte, len(qual))
	for i, v := range qual {
		buf[i] = v + offset
	}
	w.writeln(buf)
}

func (w *Writer) writeln(line []byte) {
	if w.err != nil {
		return
	}
	if _, w.err = w.w.Write(line); w.err != nil {
		return
	}
	_, w.err = w.w.Write(newline)
}
