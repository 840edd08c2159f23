// Package idcodec implements the identifier-field tokenizer and schema of
// spec §4.2 point 5 and §6: splitting a FASTQ header into a sequence of
// fields separated by fixed punctuation, classifying each field as numeric,
// constant, or an enumerated token list, and coding each field's value
// against that classification through the stream pair ReadIdToken /
// ReadIdValue. Grounded on grailbio/bio's encoding/fastq header handling
// together with encoding/pam fieldio's schema-driven per-field column
// layout, generalized from BAM fields to free-form FASTQ identifiers.
package idcodec

import (
	"bytes"

	"github.com/refresh-bio/fastore/streamcodec"
)

// FieldKind classifies one identifier field (spec's {Const, Token, Raw}
// sum type, §4.4.8 "Polymorphic coders").
type FieldKind byte

const (
	// FieldConst: every record's value for this field is identical.
	FieldConst FieldKind = iota
	// FieldNumeric: values are decimal integers in [minValue, maxValue].
	FieldNumeric
	// FieldToken: values are drawn from a small enumerated token set.
	FieldToken
)

// Field describes one schema column.
type Field struct {
	Kind      FieldKind
	Separator byte // the punctuation byte preceding this field, 0 for the first
	Const     []byte
	MinValue  int64
	MaxValue  int64
	Tokens    [][]byte
	// MateField marks the field carrying the PE "/1" "/2" mate indicator
	// (spec §4.2 point 5's "one extra byte identifying which field...").
	MateField bool
}

// Schema is the ordered list of fields making up every record's identifier
// in one archive, built once from a representative sample and then shared
// read-only across workers (spec §5).
type Schema struct {
	Fields []Field
}

// tokenize splits head into alternating separator/value runs. The first
// field has Separator 0.
func tokenize(head []byte) (seps []byte, values [][]byte) {
	start := 0
	seps = append(seps, 0)
	for i := 0; i < len(head); i++ {
		if isSeparator(head[i]) {
			values = append(values, head[start:i])
			seps = append(seps, head[i])
			start = i + 1
		}
	}
	values = append(values, head[start:])
	return seps, values
}

func isSeparator(b byte) bool {
	switch b {
	case ':', '/', '.', '-', '_', ' ', '#':
		return true
	default:
		return false
	}
}

func isNumeric(v []byte) bool {
	if len(v) == 0 {
		return false
	}
	for _, b := range v {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

func parseInt(v []byte) int64 {
	var n int64
	for _, b := range v {
		n = n*10 + int64(b-'0')
	}
	return n
}

// BuildSchema infers a Schema from a sample of identifier lines, matching
// every sample against the same field count; lines with a differing field
// count are skipped and the schema falls back to treating every included
// field as FieldToken if no sample fits.
func BuildSchema(sample [][]byte) Schema {
	if len(sample) == 0 {
		return Schema{}
	}
	seps0, vals0 := tokenize(sample[0])
	n := len(vals0)
	columns := make([][][]byte, n)
	for i, v := range vals0 {
		columns[i] = [][]byte{v}
	}
	for _, head := range sample[1:] {
		_, vals := tokenize(head)
		if len(vals) != n {
			continue
		}
		for i, v := range vals {
			columns[i] = append(columns[i], v)
		}
	}

	fields := make([]Field, n)
	for i, col := range columns {
		f := Field{Separator: seps0[i]}
		allSame := true
		allNumeric := true
		tokenSet := map[string]bool{}
		var minV, maxV int64
		for j, v := range col {
			if !bytes.Equal(v, col[0]) {
				allSame = false
			}
			if !isNumeric(v) {
				allNumeric = false
			} else {
				n := parseInt(v)
				if j == 0 || n < minV {
					minV = n
				}
				if j == 0 || n > maxV {
					maxV = n
				}
			}
			tokenSet[string(v)] = true
		}
		switch {
		case allSame:
			f.Kind = FieldConst
			f.Const = append([]byte(nil), col[0]...)
		case allNumeric:
			f.Kind = FieldNumeric
			f.MinValue, f.MaxValue = minV, maxV
		default:
			f.Kind = FieldToken
			for t := range tokenSet {
				f.Tokens = append(f.Tokens, []byte(t))
			}
		}
		if isMateToken(col) {
			f.MateField = true
		}
		fields[i] = f
	}
	return Schema{Fields: fields}
}

// MateIndex returns the index of schema's mate field (spec §4.2 point 5),
// or -1 if no field was recognized as one.
func (s Schema) MateIndex() int {
	for i, f := range s.Fields {
		if f.MateField {
			return i
		}
	}
	return -1
}

// MateKey splits head into a pairing key — every field's value except the
// mate field's — and that record's own mate value ('1' or '2'). ok is
// false when the schema carries no mate field, or head doesn't tokenize to
// the field count the schema expects, so callers can fall back to treating
// the record as unpaired.
func (s Schema) MateKey(head []byte) (key string, mate byte, ok bool) {
	mi := s.MateIndex()
	if mi < 0 {
		return "", 0, false
	}
	_, vals := tokenize(head)
	if len(vals) != len(s.Fields) || len(vals[mi]) != 1 {
		return "", 0, false
	}
	var buf bytes.Buffer
	for i, f := range s.Fields {
		if i == mi {
			continue
		}
		if f.Separator != 0 {
			buf.WriteByte(f.Separator)
		}
		buf.Write(vals[i])
	}
	return buf.String(), vals[mi][0], true
}

func isMateToken(col [][]byte) bool {
	for _, v := range col {
		if len(v) != 1 || (v[0] != '1' && v[0] != '2') {
			return false
		}
	}
	return true
}

// Encoder writes field values against a Schema into the ReadIdToken /
// ReadIdValue stream pair (spec §4.4.3).
type Encoder struct {
	schema   Schema
	token    *streamcodec.ByteBuffer
	value    *streamcodec.ByteBuffer
	tokenIdx []map[string]uint32
}

// NewEncoder creates an Encoder against schema, writing to the given
// streams.
func NewEncoder(schema Schema, tokenStream, valueStream *streamcodec.ByteBuffer) *Encoder {
	e := &Encoder{schema: schema, token: tokenStream, value: valueStream}
	e.tokenIdx = make([]map[string]uint32, len(schema.Fields))
	for i, f := range schema.Fields {
		if f.Kind != FieldToken {
			continue
		}
		m := make(map[string]uint32, len(f.Tokens))
		for idx, t := range f.Tokens {
			m[string(t)] = uint32(idx)
		}
		e.tokenIdx[i] = m
	}
	return e
}

// Encode writes one identifier's field values, previously split by
// Schema-compatible tokenize.
func (e *Encoder) Encode(head []byte) {
	_, vals := tokenize(head)
	for i, f := range e.schema.Fields {
		if i >= len(vals) {
			continue
		}
		v := vals[i]
		switch f.Kind {
		case FieldConst:
			// nothing to store
		case FieldNumeric:
			e.value.PutUvarint(uint64(parseInt(v) - f.MinValue))
		case FieldToken:
			idx := e.tokenIdx[i][string(v)]
			e.token.PutUvarint(uint64(idx))
		}
	}
}

// Decoder reconstructs identifiers from a Schema and the ReadIdToken /
// ReadIdValue streams.
type Decoder struct {
	schema Schema
	token  *streamcodec.ByteBuffer
	value  *streamcodec.ByteBuffer
}

// NewDecoder creates a Decoder mirroring NewEncoder.
func NewDecoder(schema Schema, tokenStream, valueStream *streamcodec.ByteBuffer) *Decoder {
	return &Decoder{schema: schema, token: tokenStream, value: valueStream}
}

// Decode reconstructs one identifier line, separators included.
func (d *Decoder) Decode() []byte {
	var out []byte
	for i, f := range d.schema.Fields {
		if f.Separator != 0 {
			out = append(out, f.Separator)
		}
		switch f.Kind {
		case FieldConst:
			out = append(out, f.Const...)
		case FieldNumeric:
			delta, _ := d.value.Uvarint()
			out = appendInt(out, f.MinValue+int64(delta))
		case FieldToken:
			idx, _ := d.token.Uvarint()
			if int(idx) < len(f.Tokens) {
				out = append(out, f.Tokens[idx]...)
			}
		}
	}
	return out
}

func appendInt(dst []byte, v int64) []byte {
	if v == 0 {
		return append(dst, '0')
	}
	start := len(dst)
	for v > 0 {
		dst = append(dst, byte('0'+v%10))
		v /= 10
	}
	reverseFrom(dst, start)
	return dst
}

func reverseFrom(b []byte, start int) {
	i, j := start, len(b)-1
	for i < j {
		b[i], b[j] = b[j], b[i]
		i++
		j--
	}
}
