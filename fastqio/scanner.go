// Package fastqio implements the FASTQ text collaborator described in
// spec §6: tokenizing "@id/seq/+/qual" quartets and emitting them back out.
// It is deliberately thin — FASTQ parsing itself is out of scope for the
// compression core (spec §1) — grounded on grailbio/bio's
// encoding/fastq.Scanner/Writer.
package fastqio

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"
)

// Errors mirror encoding/fastq's sentinel set.
var (
	ErrShort      = errors.New("fastqio: short FASTQ record")
	ErrInvalid    = errors.New("fastqio: invalid FASTQ record")
	ErrDiscordant = errors.New("fastqio: discordant FASTQ pairs")
)

var errEOF = errors.New("fastqio: eof")

// Read is one raw FASTQ quartet, including the ID's leading '@' and the
// plus-line's leading '+'.
type Read struct {
	ID, Seq, Plus, Qual []byte
}

// Scanner reads FASTQ quartets from an io.Reader. Lines may be terminated by
// LF or CRLF. Scanner is not thread-safe.
type Scanner struct {
	b   *bufio.Scanner
	err error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 16<<20)
	return &Scanner{b: s}
}

func trimCR(b []byte) []byte {
	return bytes.TrimSuffix(b, []byte{'\r'})
}

// Scan reads the next quartet into read. It returns false at EOF or on
// error; call Err to distinguish the two.
func (s *Scanner) Scan(read *Read) bool {
	if s.err != nil {
		return false
	}
	if !s.scanLine(&read.ID) {
		return false
	}
	if len(read.ID) == 0 || read.ID[0] != '@' {
		s.err = ErrInvalid
		return false
	}
	if !s.scanLineShort(&read.Seq) {
		return false
	}
	if !s.scanLineShort(&read.Plus) {
		return false
	}
	if len(read.Plus) == 0 || read.Plus[0] != '+' {
		s.err = ErrInvalid
		return false
	}
	if !s.scanLineShort(&read.Qual) {
		return false
	}
	return true
}

func (s *Scanner) scanLine(dst *[]byte) bool {
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = errEOF
		}
		return false
	}
	*dst = append((*dst)[:0], trimCR(s.b.Bytes())...)
	return true
}

func (s *Scanner) scanLineShort(dst *[]byte) bool {
	if !s.b.Scan() {
		if s.err = s.b.Err(); s.err == nil {
			s.err = ErrShort
		}
		return false
	}
	*dst = append((*dst)[:0], trimCR(s.b.Bytes())...)
	return true
}

// Err returns the scan error, if any; io.EOF-equivalent termination reports
// nil.
func (s *Scanner) Err() error {
	if s.err == errEOF {
		return nil
	}
	return s.err
}

// PairScanner scans two FASTQ streams in lock-step.
type PairScanner struct {
	r1, r2 *Scanner
	err    error
}

// NewPairScanner creates a PairScanner over the two mate streams.
func NewPairScanner(m1, m2 io.Reader) *PairScanner {
	return &PairScanner{r1: NewScanner(m1), r2: NewScanner(m2)}
}

// Scan reads the next read pair.
func (p *PairScanner) Scan(r1, r2 *Read) bool {
	ok1 := p.r1.Scan(r1)
	ok2 := p.r2.Scan(r2)
	if ok1 != ok2 {
		p.err = ErrDiscordant
	}
	return ok1 && ok2
}

// Err returns the first scan error encountered by either mate scanner.
func (p *PairScanner) Err() error {
	if err := p.r1.Err(); err != nil {
		return err
	}
	if err := p.r2.Err(); err != nil {
		return err
	}
	return p.err
}

// firstNumericToken extracts the leading run of ASCII digits from an ID
// line, skipping the leading '@' and any non-digit prefix.
func firstNumericToken(id []byte) (string, bool) {
	i := 0
	for i < len(id) && !isDigit(id[i]) {
		i++
	}
	j := i
	for j < len(id) && isDigit(id[j]) {
		j++
	}
	if i == j {
		return "", false
	}
	return string(id[i:j]), true
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// Resync reports whether two mate identifiers agree on their first numeric
// token (SPEC_FULL.md §3, "PE dry-run resync path"); it reports false when
// either identifier has no numeric token. It is a pure comparison of the
// two IDs passed in and does not read from or reposition any scanner.
func Resync(id1, id2 []byte) bool {
	t1, ok1 := firstNumericToken(id1)
	t2, ok2 := firstNumericToken(id2)
	if !ok1 || !ok2 {
		return false
	}
	return t1 == t2
}
