// Package binconfig holds the archive-wide configuration structures shared
// by every stage (spec §4.2 BinModuleConfig, §6 ArchiveType, and the
// supplemented fields of SPEC_FULL.md §3).
package binconfig

import "github.com/refresh-bio/fastore/signature"

// ReadType distinguishes single-end from paired-end archives.
type ReadType uint8

const (
	ReadSE ReadType = 0
	ReadPE ReadType = 1
)

// Default Phred quality offsets (original's ArchiveType::Default).
const (
	StandardQualityOffset  = 33
	Illumina64QualityOffset = 64
)

// ArchiveType records the read layout and quality-character encoding.
type ArchiveType struct {
	ReadType         ReadType
	QualityOffset    byte
	ReadsHaveHeaders bool
}

// DefaultArchiveType matches the original's defaults.
func DefaultArchiveType() ArchiveType {
	return ArchiveType{ReadType: ReadSE, QualityOffset: StandardQualityOffset}
}

// CategorizerParameters configures S1's small-bin deferral (spec §4.1).
type CategorizerParameters struct {
	// MinRecordsToStore is the threshold below which a bin is held in the
	// per-worker overflow buffer instead of being emitted. spec.md §4.1
	// documents a default of 64 (the original C++ default of 8 is
	// superseded — see DESIGN.md, "MinRecordsToStore default").
	MinRecordsToStore uint32
}

// DefaultCategorizerParameters returns spec.md's documented default.
func DefaultCategorizerParameters() CategorizerParameters {
	return CategorizerParameters{MinRecordsToStore: 64}
}

// QualityMethod enumerates the four quality-coding modes of spec §4.4.5.
type QualityMethod byte

const (
	QualityNone QualityMethod = iota
	QualityBinary
	QualityIllumina8
	QualityQVZ
)

// QualityCompressionParams configures the quality coder (spec §4.4.5).
type QualityCompressionParams struct {
	Method          QualityMethod
	BinaryThreshold uint8 // must be < 64; used only when Method == QualityBinary
}

// DefaultQualityCompressionParams disables binning.
func DefaultQualityCompressionParams() QualityCompressionParams {
	return QualityCompressionParams{Method: QualityNone}
}

// HeadersCompressionParams configures identifier preservation.
type HeadersCompressionParams struct {
	PreserveComments bool
}

// BinningType distinguishes a freshly categorized bin file (BIN_RECORDS)
// from one already carrying a rebinned match-tree structure with TransTree
// linkage (BIN_NODES) — SPEC_FULL.md §3.
type BinningType byte

const (
	BinRecords BinningType = iota
	BinNodes
)

// BinModuleConfig is the shared, immutable configuration of every stage
// (spec §4.2 point 1, §6). The bin-file and archive footers persist only
// Minimizer.Len, QualityParams.Method and ArchiveType.ReadType of it.
type BinModuleConfig struct {
	ArchiveType   ArchiveType
	CatParams     CategorizerParameters
	Minimizer     signature.Params
	MinFilter     struct{} // unused placeholder, not persisted; filtering lives in Minimizer
	QualityParams QualityCompressionParams
	HeaderParams  HeadersCompressionParams

	FastqBlockSize uint64
	BinningLevel   uint32
	BinningType    BinningType
}

// DefaultFastqBlockSize is 256MB, matching the original.
const DefaultFastqBlockSize = 1 << 28

// DefaultBinModuleConfig returns the archive-wide defaults.
func DefaultBinModuleConfig() BinModuleConfig {
	return BinModuleConfig{
		ArchiveType:    DefaultArchiveType(),
		CatParams:      DefaultCategorizerParameters(),
		Minimizer:      signature.DefaultParams(),
		QualityParams:  DefaultQualityCompressionParams(),
		FastqBlockSize: DefaultFastqBlockSize,
	}
}
