// Package archive implements FaStore's S4 archive writer/reader (spec
// §4.4.3-§4.4.7, §6): walking a bin's match forest into the fixed-order
// stream set, compressing each block, and assembling the archive file's
// header/footer. Grounded structurally on grailbio-bio's encoding/pam
// PAMShardIndex — a fixed file header pointing at a footer that lists
// per-shard descriptors, the same shape used here for per-block
// descriptors — generalized from PAM's column-major field streams to the
// match-tree decorator streams spec §4.4.3 names.
package archive

// Stream names, in the fixed order the encoder emits them and the decoder
// expects them (spec §4.4.3's decorator stream list).
const (
	StreamFlag            = "Flag"
	StreamLetterX         = "LetterX"
	StreamLetterC         = "LetterC"
	StreamRev             = "Rev"
	StreamHardReads       = "HardReads"
	StreamMatch           = "Match"
	StreamMatchExpensive  = "MatchExpensive"
	StreamConsensusMatch  = "ConsensusMatch"
	StreamLzID            = "LzId"
	StreamShift           = "Shift"
	StreamConsensusShift  = "ConsensusShift"
	StreamTreeShift       = "TreeShift"
	StreamQuality         = "Quality"
	StreamReadIDToken     = "ReadIdToken"
	StreamReadIDValue     = "ReadIdValue"
)

// StreamNames lists every stream in fixed wire order; blockio.ReadBlock
// needs this same slice to reconstruct a block without a name table.
var StreamNames = []string{
	StreamFlag, StreamLetterX, StreamLetterC, StreamRev,
	StreamHardReads, StreamMatch, StreamMatchExpensive, StreamConsensusMatch, StreamLzID,
	StreamShift, StreamConsensusShift, StreamTreeShift, StreamQuality,
	StreamReadIDToken, StreamReadIDValue,
}

// NodeFlag tags each entry in StreamFlag with the tree-walk emission
// contract of spec §4.4.3: a node's own kind, or a bracket/continuation
// marker for a contig or subtree group.
type NodeFlag byte

const (
	FlagReadDifficult NodeFlag = iota + 1 // HARD: full sequence, no parent reference
	FlagShiftOnly                         // LZ child: pure shift, zero mismatches, no insertions
	FlagFullEncode                        // LZ child: RLE-coded match bits, cheap mismatch count
	FlagFullExpensive                      // LZ child: range-coded match bits, dense mismatches
	FlagReadIdentical                     // exact-match sibling of the previously emitted node
	FlagReadContigGroupStart              // consensus contig root; group continues until GroupEnd
	FlagReadContigGroupNext               // one contig member, inside an open contig group
	FlagReadTreeGroupStart                // promoted subtree root; nested forest follows
	FlagReadGroupEnd                      // closes the innermost open contig or subtree group
)
