package bin

import "math/bits"

// BinPackSettings configures the Packer for one bin (spec §4.2 "Packer").
type BinPackSettings struct {
	MinLen       uint16
	MaxLen       uint16
	ConstLen     bool
	BitsPerLen   uint8
	SuffixLen    uint8 // signature length for normal bins, 0 for the N-bin
	UsesHeaders  bool
}

// SettingsFor derives pack settings from a Bin (normal bin; suffixLen ==
// sigLen) or the N-bin (suffixLen == 0, passed explicitly).
func SettingsFor(b *Bin, sigLen uint8, isNBin bool, usesHeaders bool) BinPackSettings {
	s := BinPackSettings{MinLen: b.MinLen, MaxLen: b.MaxLen, UsesHeaders: usesHeaders}
	s.ConstLen = b.MinLen == b.MaxLen
	if !s.ConstLen {
		span := uint32(b.MaxLen - b.MinLen)
		s.BitsPerLen = uint8(bits.Len32(span))
	}
	if !isNBin {
		s.SuffixLen = sigLen
	}
	return s
}

// ChildSettings derives the paired-end mate settings (spec §4.2: "the mate
// is packed as an additional record using a child settings block with
// suffixLen=0 and usesHeaders=false").
func (s BinPackSettings) ChildSettings() BinPackSettings {
	c := s
	c.SuffixLen = 0
	c.UsesHeaders = false
	return c
}
