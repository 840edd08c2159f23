// fastore-rebin implements S3 of the FaStore pipeline (spec §4.3): reading
// the bin file fastore-bin produced, re-running the LZ classifier per bin,
// and either dispersing small trees into finer-grained bins or promoting
// large ones to a coarser parent signature, before writing the result back
// out in the same flat bin-file format for fastore-pack. CLI scaffolding
// follows _examples/grailbio-bio/cmd/bio-pileup/main.go.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/refresh-bio/fastore/archive"
	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/pipeline"
	"github.com/refresh-bio/fastore/qualcodec"
	"github.com/refresh-bio/fastore/rebin"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

var (
	inPrefix   = flag.String("i", "", "input bin-file prefix (reads <prefix>.bmeta/.bdna/.bqua/.bhead)")
	outPrefix  = flag.String("o", "", "output bin-file prefix")
	parity     = flag.Int("p", int(rebin.DefaultParams().Parity), "divisor exponent ℓ+1 a promoted tree's new signature is computed at")
	minExtract = flag.Int("x", 0, "minimum exact-match group size to extract before dispersal (accepted; this implementation disperses whole trees, see DESIGN.md)")
	minCat     = flag.Int("y", 0, "minimum record count for a dispersed group to skip small-bin deferral on re-categorization (accepted, see DESIGN.md)")
	minTree    = flag.Int("q", rebin.DefaultParams().MinTreeSize, "trees at or below this size are dispersed rather than promoted")
	encodeThr  = flag.Int("e", 0, "LZ encode-cost threshold (0 = auto, half the read length)")
	mismatch   = flag.Int("m", lzmatch.DefaultParams().MismatchCost, "LZ per-mismatch cost")
	shiftCost  = flag.Int("s", lzmatch.DefaultParams().ShiftCost, "LZ per-base shift cost")
	lzWindow   = flag.Int("w", lzmatch.DefaultParams().WindowSize, "LZ candidate window size")
	rightmost  = flag.Bool("r", false, "select the rightmost-signature node as a promoted tree's new root (default leftmost)")
	lowMemory  = flag.Bool("l", false, "low-memory mode (accepted; this implementation always holds one bin's forest in memory at a time, see DESIGN.md)")
	threadNum  = flag.Int("t", 1, "worker thread count")
	pairedEnd  = flag.Bool("z", false, "paired-end archive (widens the default LZ window, spec §4.4.1)")
	verbose    = flag.Bool("v", false, "verbose logging")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s {e|d} -i<prefix> -o<prefix> [options]\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()

	if len(os.Args) < 2 {
		log.Fatalf("missing mode argument: expected 'e' or 'd'")
	}
	mode := os.Args[1]
	// Flag parsing stops at the mode argument; parse the flags after it.
	_ = flag.CommandLine.Parse(os.Args[2:])
	if *inPrefix == "" || *outPrefix == "" {
		log.Fatalf("-i and -o prefixes are required")
	}
	log.Debug.Printf("fastore-rebin: mode=%s in=%s out=%s threads=%d verbose=%v min-extract=%d min-cat=%d low-memory=%v", mode, *inPrefix, *outPrefix, *threadNum, *verbose, *minExtract, *minCat, *lowMemory)

	var err error
	switch mode {
	case "e":
		err = encode()
	case "d":
		err = passthrough()
	default:
		log.Fatalf("unknown mode %q: expected 'e' or 'd'", mode)
	}
	if err != nil {
		log.Panicf("fastore-rebin: %v", err)
	}
	log.Debug.Printf("fastore-rebin: done")
}

func lzParams() lzmatch.Params {
	p := lzmatch.DefaultParams()
	if *pairedEnd {
		p = lzmatch.PairedParams()
	}
	p.MismatchCost = *mismatch
	p.ShiftCost = *shiftCost
	windowSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "w" {
			windowSet = true
		}
	})
	if windowSet || !*pairedEnd {
		p.WindowSize = *lzWindow
	}
	p.EncodeThreshold = *encodeThr
	return p
}

func rebinParams() rebin.Params {
	p := rebin.DefaultParams()
	p.Parity = uint8(*parity)
	p.MinTreeSize = *minTree
	if *rightmost {
		p.NewRootPolicy = rebin.RootRightmost
	}
	return p
}

// readBins loads prefix's bin-file into an in-memory map keyed by
// signature, the same per-descriptor unpack fastore-bin's decode mode
// performs, but stopping short of producing FASTQ text.
func readBins(prefix string) (map[signature.Code]*bin.Bin, binconfig.BinModuleConfig, error) {
	metaBlob, err := os.ReadFile(prefix + ".bmeta")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, err
	}
	dnaBlob, err := os.ReadFile(prefix + ".bdna")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, err
	}
	quaBlob, err := os.ReadFile(prefix + ".bqua")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, err
	}
	headBlob, _ := os.ReadFile(prefix + ".bhead")

	_, footer, err := bin.ReadBinFile(metaBlob)
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, err
	}
	cfg := footer.Config

	nbinID := cfg.Minimizer.NBin()
	bins := make(map[signature.Code]*bin.Bin, len(footer.Descriptors))
	for _, d := range footer.Descriptors {
		settings := bin.BinPackSettings{UsesHeaders: d.HeadSize > 0}
		if d.Signature != nbinID {
			settings.SuffixLen = cfg.Minimizer.Len
		}
		streams := bin.PackedStreams{
			Meta: streamcodec.NewByteBufferFrom(metaBlob[d.MetaOffset : d.MetaOffset+d.MetaSize]),
			Dna:  streamcodec.NewByteBufferFrom(dnaBlob[d.DnaOffset : d.DnaOffset+d.DnaSize]),
			Qua:  streamcodec.NewByteBufferFrom(quaBlob[d.QuaOffset : d.QuaOffset+d.QuaSize]),
		}
		if settings.UsesHeaders {
			streams.Head = streamcodec.NewByteBufferFrom(headBlob[d.HeadOffset : d.HeadOffset+d.HeadSize])
		}
		hasQual := cfg.QualityParams.Method != binconfig.QualityNone
		var qcoder qualcodec.Coder
		if hasQual {
			qcoder = qualcodec.New(cfg.QualityParams, streams.Qua, true)
		}
		unpacker := bin.NewUnpacker(settings, qcoder)
		recs := unpacker.Unpack(streams, int(d.RecordsCount), d.Signature, hasQual)

		b := &bin.Bin{Signature: d.Signature}
		for _, r := range recs {
			b.Records = append(b.Records, r)
			l := uint16(r.Len())
			if len(b.Records) == 1 || l < b.MinLen {
				b.MinLen = l
			}
			if len(b.Records) == 1 || l > b.MaxLen {
				b.MaxLen = l
			}
		}
		bins[d.Signature] = b
	}
	return bins, cfg, nil
}

func writeBins(prefix string, cfg binconfig.BinModuleConfig, groups map[signature.Code][]*record.FastqRecord) error {
	metaF, err := os.Create(prefix + ".bmeta")
	if err != nil {
		return err
	}
	defer metaF.Close() // nolint: errcheck
	dnaF, err := os.Create(prefix + ".bdna")
	if err != nil {
		return err
	}
	defer dnaF.Close() // nolint: errcheck
	quaF, err := os.Create(prefix + ".bqua")
	if err != nil {
		return err
	}
	defer quaF.Close() // nolint: errcheck

	usesHeaders := cfg.HeaderParams.PreserveComments
	var headW io.Writer
	if usesHeaders {
		headF, err := os.Create(prefix + ".bhead")
		if err != nil {
			return err
		}
		defer headF.Close() // nolint: errcheck
		headW = headF
	}

	bw, err := bin.NewBinFileWriter(metaF, dnaF, quaF, headW)
	if err != nil {
		return err
	}

	nbinID := cfg.Minimizer.NBin()
	for sig, recs := range groups {
		b := &bin.Bin{Signature: sig}
		for _, r := range recs {
			b.Records = append(b.Records, r)
			l := uint16(r.Len())
			if len(b.Records) == 1 || l < b.MinLen {
				b.MinLen = l
			}
			if len(b.Records) == 1 || l > b.MaxLen {
				b.MaxLen = l
			}
		}
		settings := bin.SettingsFor(b, cfg.Minimizer.Len, sig == nbinID, usesHeaders)
		quaBuf := streamcodec.NewByteBuffer()
		var qcoder qualcodec.Coder
		if cfg.QualityParams.Method != binconfig.QualityNone {
			qcoder = qualcodec.New(cfg.QualityParams, quaBuf, false)
		}
		packer := bin.NewPacker(settings, qcoder, quaBuf)
		streams := packer.Pack(b.Records)
		if err := bw.WriteBin(b, settings, streams); err != nil {
			return err
		}
	}

	h, headerBytes, err := bw.Finish(cfg)
	if err != nil {
		return err
	}
	if _, err := metaF.WriteAt(headerBytes, 0); err != nil {
		return err
	}
	log.Debug.Printf("fastore-rebin: wrote %d bins, %d records", h.BlockCount, h.RecordsCount)
	return nil
}

func encode() error {
	bins, cfg, err := readBins(*inPrefix)
	if err != nil {
		return err
	}

	p := pipeline.Params{
		ThreadNum: *threadNum,
		Cfg:       cfg,
		SigParams: cfg.Minimizer,
		RebinP:    rebinParams(),
		LzP:       lzParams(),
	}
	enc := pipeline.NewEncoder(p, nil)
	groups, promoted, err := enc.Rebin(context.Background(), bins)
	if err != nil {
		return err
	}
	if err := writeBins(*outPrefix, cfg, groups); err != nil {
		return err
	}
	return writeTransBins(*outPrefix, cfg, lzParams(), promoted)
}

// writeTransBins persists every promoted subtree across the fastore-rebin
// / fastore-pack process boundary, reusing archive.Encoder so a promoted
// tree's TransTree linkage (spec §4.3) survives the hand-off intact instead
// of being dissolved into the flat bin-file record list writeBins produces.
// No idcodec.Schema exists yet at rebin time, so each record's header
// travels as a length-prefixed raw blob (archive.Encoder's fallback path
// for a nil schema); fastore-pack re-encodes headers under its own schema
// once it has read the whole input and can build one.
func writeTransBins(prefix string, cfg binconfig.BinModuleConfig, lzP lzmatch.Params, promoted map[signature.Code][]*matchtree.GraphEncodingContext) error {
	total := 0
	for _, trees := range promoted {
		total += len(trees)
	}
	if total == 0 {
		return nil
	}
	f, err := os.Create(prefix + ".btrans")
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck

	enc := archive.NewEncoder(cfg, nil, lzP)
	var hdr [16]byte
	for sig, trees := range promoted {
		for i, gec := range trees {
			block := enc.EncodeTree(gec, sig, blockio.PPMdCodec{}, uint32(sig)+uint32(i))
			binary.LittleEndian.PutUint64(hdr[0:8], uint64(sig))
			binary.LittleEndian.PutUint64(hdr[8:16], uint64(len(block)))
			if _, err := f.Write(hdr[:]); err != nil {
				return err
			}
			if _, err := f.Write(block); err != nil {
				return err
			}
		}
	}
	log.Debug.Printf("fastore-rebin: wrote %d promoted subtrees to %s.btrans", total, prefix)
	return nil
}

// passthrough implements fastore-rebin's decode mode as an identity copy:
// S3 has no wire format of its own to invert (fastore-pack's decode mode
// consumes the .cdata archive S4 produced), so this just carries the
// bin-file quadruple and any .btrans sidecar through unchanged for
// whichever stage runs next.
func passthrough() error {
	for _, ext := range []string{".bmeta", ".bdna", ".bqua", ".bhead", ".btrans"} {
		src, err := os.Open(*inPrefix + ext)
		if err != nil {
			if (ext == ".bhead" || ext == ".btrans") && os.IsNotExist(err) {
				continue
			}
			return err
		}
		dst, err := os.Create(*outPrefix + ext)
		if err != nil {
			src.Close() // nolint: errcheck
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close() // nolint: errcheck
		dst.Close() // nolint: errcheck
		if err != nil {
			return err
		}
	}
	return nil
}
