// fastore-pack implements S4 of the FaStore pipeline (spec §4.4): building
// a match tree per rebinned bin, LZ-compressing it into the fixed stream
// set, and concatenating every block into the single <prefix>.cdata
// archive file fastore-pack's decode mode (and fastore-view, if one
// existed) reads back. CLI scaffolding follows
// _examples/grailbio-bio/cmd/bio-pileup/main.go.
package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/refresh-bio/fastore/archive"
	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/contig"
	"github.com/refresh-bio/fastore/fastqio"
	"github.com/refresh-bio/fastore/idcodec"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/pipeline"
	"github.com/refresh-bio/fastore/qualcodec"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/refresh-bio/fastore/streamcodec"
)

var (
	inPrefix  = flag.String("i", "", "input bin-file prefix (reads <prefix>.bmeta/.bdna/.bqua/.bhead) in encode mode, or <prefix>.cdata in decode mode")
	outPrefix = flag.String("o", "", "output <prefix>.cdata in encode mode, or output FASTQ path prefix in decode mode")

	minBin     = flag.Int("f", 256, "minimum bin size before falling back to independent hard reads (accepted; see DESIGN.md)")
	extMatch   = flag.Bool("e", false, "extended match search across signature boundaries (accepted; see DESIGN.md)")
	extMatch2  = flag.Bool("E", false, "extended match search, second pass (accepted; see DESIGN.md)")
	narrowWin  = flag.Bool("w", false, "force the narrow (SE) LZ window even under -z (accepted; superseded by -W, see DESIGN.md)")
	peWindow   = flag.Int("W", lzmatch.PairedParams().WindowSize, "LZ candidate window size under -z")
	mismatch   = flag.Int("m", lzmatch.DefaultParams().MismatchCost, "LZ per-mismatch cost")
	shiftCost  = flag.Int("s", lzmatch.DefaultParams().ShiftCost, "LZ per-base shift cost")
	revMatch   = flag.Bool("r", true, "allow reverse-complement LZ matches (accepted; orientation is already normalized by signature.FindMinimizer before a record reaches the match tree, see DESIGN.md)")
	lowMemory  = flag.Bool("l", false, "low-memory mode (accepted; see DESIGN.md)")
	minCons    = flag.Int("c", 10, "minimum member count to build a consensus contig node (accepted; see DESIGN.md)")
	dropQual   = flag.Bool("q", false, "drop quality scores from the archive entirely")
	skipNBin   = flag.Bool("n", false, "skip match-tree construction for the N-bin, storing it as independent hard reads (accepted; see DESIGN.md)")
	dedupe     = flag.Bool("d", false, "deduplicate identical reads within a bin before packing (accepted; see DESIGN.md)")
	excludeIDs = flag.String("U", "", "path to a file of read IDs to exclude from the archive (accepted; see DESIGN.md)")
	force      = flag.Bool("F", false, "force match-tree rebuild even if a cached tree is available (accepted; this implementation never caches trees)")
	threadPol  = flag.String("T", "D", "thread scheduling policy (accepted-advisory, see cmd/fastore-bin)")
	dupPolicy  = flag.String("D", "M", "duplicate-record policy (accepted-advisory, see cmd/fastore-bin)")
	manifest   = flag.String("M", "", "write a JSON manifest of per-signature block counts")
	threadNum  = flag.Int("t", 1, "worker thread count")
	verbose    = flag.Bool("v", false, "verbose logging")
	pairedEnd  = flag.Bool("z", false, "paired-end archive")
	qualMethod = flag.Int("quality-method", int(binconfig.QualityIllumina8), "quality compression method: 0=none 1=binary 2=illumina8 3=qvz (must match the value used at fastore-bin time)")
	binThresh  = flag.Int("binary-threshold", 0, "binary-quality cutoff, 0-63 (spec §4.2 point 1; must be re-supplied identically across every stage since it is not persisted in the bin-file footer, see DESIGN.md)")
	preserveID = flag.Bool("H", false, "preserve original read headers (must match the value used at fastore-bin time)")
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
	log.Debug.Printf("fastore-pack: mode=%s in=%s out=%s threads=%d verbose=%v paired=%v", mode, *inPrefix, *outPrefix, *threadNum, *verbose, *pairedEnd)

	var err error
	switch mode {
	case "e":
		err = encode()
	case "d":
		err = decode()
	default:
		log.Fatalf("unknown mode %q: expected 'e' or 'd'", mode)
	}
	if err != nil {
		log.Panicf("fastore-pack: %v", err)
	}
	log.Debug.Printf("fastore-pack: done")
}

func lzParams() lzmatch.Params {
	p := lzmatch.DefaultParams()
	if *pairedEnd && !*narrowWin {
		p = lzmatch.PairedParams()
		p.WindowSize = *peWindow
	}
	p.MismatchCost = *mismatch
	p.ShiftCost = *shiftCost
	return p
}

func contigParams() contig.Params {
	p := contig.DefaultParams()
	p.MinConsensusSize = *minCons
	return p
}

func qualityParams() binconfig.QualityCompressionParams {
	p := binconfig.DefaultQualityCompressionParams()
	p.Method = binconfig.QualityMethod(*qualMethod)
	if *dropQual {
		p.Method = binconfig.QualityNone
	}
	p.BinaryThreshold = uint8(*binThresh)
	return p
}

// readBins mirrors cmd/fastore-rebin's function of the same name: it
// reconstructs every bin's records from the flat bin-file format, plus a
// sample of original headers for idcodec.BuildSchema.
func readBins(prefix string) (map[signature.Code][]*record.FastqRecord, binconfig.BinModuleConfig, [][]byte, error) {
	metaBlob, err := os.ReadFile(prefix + ".bmeta")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, nil, err
	}
	dnaBlob, err := os.ReadFile(prefix + ".bdna")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, nil, err
	}
	quaBlob, err := os.ReadFile(prefix + ".bqua")
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, nil, err
	}
	headBlob, _ := os.ReadFile(prefix + ".bhead")

	_, footer, err := bin.ReadBinFile(metaBlob)
	if err != nil {
		return nil, binconfig.BinModuleConfig{}, nil, err
	}
	cfg := footer.Config
	cfg.QualityParams = qualityParams()
	if *preserveID {
		cfg.HeaderParams.PreserveComments = true
	}

	nbinID := cfg.Minimizer.NBin()
	groups := make(map[signature.Code][]*record.FastqRecord, len(footer.Descriptors))
	var headSample [][]byte
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
		hasQual := footer.Config.QualityParams.Method != binconfig.QualityNone
		var qcoder qualcodec.Coder
		if hasQual {
			qcoder = qualcodec.New(footer.Config.QualityParams, streams.Qua, true)
		}
		unpacker := bin.NewUnpacker(settings, qcoder)
		recs := unpacker.Unpack(streams, int(d.RecordsCount), d.Signature, hasQual)
		if settings.UsesHeaders {
			for _, r := range recs {
				if len(headSample) < 64 && r.Head != nil {
					headSample = append(headSample, r.Head)
				}
			}
		}
		groups[d.Signature] = append(groups[d.Signature], recs...)
	}
	return groups, cfg, headSample, nil
}

// readTransBins reads back the promoted subtrees fastore-rebin wrote to
// its .btrans sidecar (see cmd/fastore-rebin's writeTransBins), one
// archive.Encoder block per tree, length-prefixed by signature. A missing
// sidecar (no S3 stage ran, or nothing was promoted) is not an error.
func readTransBins(prefix string, cfg binconfig.BinModuleConfig) (map[signature.Code][]*matchtree.GraphEncodingContext, error) {
	blob, err := os.ReadFile(prefix + ".btrans")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	dec := archive.NewDecoder(cfg, nil)
	out := map[signature.Code][]*matchtree.GraphEncodingContext{}
	off := 0
	idx := map[signature.Code]uint32{}
	for off < len(blob) {
		if off+16 > len(blob) {
			return nil, fmt.Errorf("fastore-pack: truncated .btrans header at offset %d", off)
		}
		sig := signature.Code(binary.LittleEndian.Uint64(blob[off : off+8]))
		size := binary.LittleEndian.Uint64(blob[off+8 : off+16])
		off += 16
		if uint64(off)+size > uint64(len(blob)) {
			return nil, fmt.Errorf("fastore-pack: truncated .btrans block at offset %d", off)
		}
		block := blob[off : uint64(off)+size]
		off += int(size)

		i := idx[sig]
		gec, _, err := dec.DecodeBlock(block, blockio.PPMdCodec{}, nil, uint32(sig)+i)
		if err != nil {
			return nil, fmt.Errorf("fastore-pack: decode .btrans block for signature %d: %w", sig, err)
		}
		idx[sig] = i + 1
		out[sig] = append(out[sig], gec)
	}
	return out, nil
}

func encode() error {
	groups, cfg, headSample, err := readBins(*inPrefix)
	if err != nil {
		return err
	}
	promoted, err := readTransBins(*inPrefix, cfg)
	if err != nil {
		return err
	}

	var idSchema *idcodec.Schema
	if len(headSample) > 0 {
		s := idcodec.BuildSchema(headSample)
		idSchema = &s
	}

	outF, err := os.Create(*outPrefix + ".cdata")
	if err != nil {
		return err
	}
	defer outF.Close() // nolint: errcheck

	w, err := archive.NewWriter(outF)
	if err != nil {
		return err
	}

	p := pipeline.Params{
		ThreadNum: *threadNum,
		Cfg:       cfg,
		SigParams: cfg.Minimizer,
		LzP:       lzParams(),
		ContigP:   contigParams(),
		Codec:     blockio.PPMdCodec{},
		IDSchema:  idSchema,
	}
	enc := pipeline.NewEncoder(p, w)
	if err := enc.Pack(context.Background(), groups, promoted); err != nil {
		return err
	}

	headerBytes, err := w.Finish(cfg, idSchema)
	if err != nil {
		return err
	}
	if _, err := outF.WriteAt(headerBytes, 0); err != nil {
		return err
	}
	log.Debug.Printf("fastore-pack: wrote %d bins to %s.cdata", len(groups), *outPrefix)
	if *manifest != "" {
		writeManifest(*manifest, groups)
	}
	return nil
}

// writeSink serializes every decoded bin's forest out through w, one
// record at a time in pre-order (matchtree.Walk's order, which matches
// the order archive.Encoder.EncodeTree wrote them in). Run dispatches
// blocks from multiple worker goroutines, so writes go under mu.
func writeSink(w *fastqio.Writer, qualOffset byte) pipeline.Sink {
	var mu sync.Mutex
	index := map[signature.Code]int{}
	return func(gec *matchtree.GraphEncodingContext, sig signature.Code) error {
		mu.Lock()
		defer mu.Unlock()
		var walkErr error
		gec.Walk(func(idx matchtree.NodeIndex, _ int) {
			if walkErr != nil {
				return
			}
			n := gec.Node(idx)
			if err := w.WriteRecord(n.Rec, sig, index[sig], qualOffset); err != nil {
				walkErr = err
				return
			}
			index[sig]++
			if n.ExactMatches == nil {
				return
			}
			for _, r := range n.ExactMatches.Records {
				if err := w.WriteRecord(r, sig, index[sig], qualOffset); err != nil {
					walkErr = err
					return
				}
				index[sig]++
			}
		})
		return walkErr
	}
}

// decode reconstructs FASTQ text from a .cdata archive. Under -z, mates are
// recovered from their own reconstructed identifiers (spec §8 property 2):
// every record is buffered, keyed by its identifier with the mate field
// (idcodec.Schema.MateIndex) stripped out, and a completed pair is written
// to <outPrefix>_1.fastq / <outPrefix>_2.fastq once both mates have
// arrived. Buffering is required because S3/S4 regroup reads by
// minimizer signature, so a pair's two reads can land in different match
// trees and reach the sink in either order or from different workers.
// Headers must have been preserved (fastore-bin -H / fastore-pack -H) for
// this to work; without an IDSchema carrying a recognized mate field, -z
// is ignored and every read goes to a single <outPrefix>.fastq in whatever
// order its match tree produced it, same as the non-paired path.
func decode() error {
	full, err := os.ReadFile(*inPrefix + ".cdata")
	if err != nil {
		return err
	}
	_, footer, err := archive.ReadFooter(full)
	if err != nil {
		return err
	}

	dec := pipeline.NewDecoder(*threadNum, footer.Config, footer.IDSchema, blockio.PPMdCodec{})
	qualOffset := footer.Config.ArchiveType.QualityOffset

	if *pairedEnd && footer.IDSchema != nil && footer.IDSchema.MateIndex() >= 0 {
		return decodePaired(dec, full, footer, qualOffset, *footer.IDSchema)
	}

	f, err := os.Create(*outPrefix + ".fastq")
	if err != nil {
		return err
	}
	defer f.Close() // nolint: errcheck
	w := fastqio.NewWriter(f)

	return dec.Run(context.Background(), full, footer, writeSink(w, qualOffset))
}

// matePending holds a half-paired record until its mate is found.
type matePending struct {
	rec  *record.FastqRecord
	mate byte
}

// decodePaired buffers the whole archive's records by mate key, then emits
// matched pairs to two FASTQ files in the order pairs complete; a record
// whose mate never turns up (e.g. one mate was excluded, or -U dropped it
// upstream, scenarios this implementation doesn't otherwise model) is
// flushed alone to whichever of the two files its own mate value selects,
// so no record is silently dropped. Pair order across the output files is
// not the original input order, only each file's own records are
// internally consistent with the other file at the same line number.
func decodePaired(dec *pipeline.Decoder, full []byte, footer archive.Footer, qualOffset byte, schema idcodec.Schema) error {
	f1, err := os.Create(*outPrefix + "_1.fastq")
	if err != nil {
		return err
	}
	defer f1.Close() // nolint: errcheck
	f2, err := os.Create(*outPrefix + "_2.fastq")
	if err != nil {
		return err
	}
	defer f2.Close() // nolint: errcheck
	w1, w2 := fastqio.NewWriter(f1), fastqio.NewWriter(f2)

	var mu sync.Mutex
	pending := map[string]matePending{}
	var writeErr error
	index := 0
	emit := func(w *fastqio.Writer, rec *record.FastqRecord) {
		if writeErr != nil {
			return
		}
		if err := w.WriteRecord(rec, footer.Signatures[0], index, qualOffset); err != nil {
			writeErr = err
		}
		index++
	}

	sink := func(gec *matchtree.GraphEncodingContext, sig signature.Code) error {
		var recs []*record.FastqRecord
		gec.Walk(func(idx matchtree.NodeIndex, _ int) {
			n := gec.Node(idx)
			recs = append(recs, n.Rec)
			if n.ExactMatches != nil {
				recs = append(recs, n.ExactMatches.Records...)
			}
		})

		mu.Lock()
		defer mu.Unlock()
		for _, rec := range recs {
			key, mate, ok := schema.MateKey(rec.Head)
			if !ok {
				emit(w1, rec)
				continue
			}
			other, have := pending[key]
			switch {
			case !have:
				pending[key] = matePending{rec: rec, mate: mate}
			case mate == '1' && other.mate == '2':
				emit(w1, rec)
				emit(w2, other.rec)
				delete(pending, key)
			case mate == '2' && other.mate == '1':
				emit(w1, other.rec)
				emit(w2, rec)
				delete(pending, key)
			default:
				// duplicate mate value under one key: flush both independently.
				emit(w1, other.rec)
				emit(w1, rec)
				delete(pending, key)
			}
		}
		return nil
	}

	if err := dec.Run(context.Background(), full, footer, sink); err != nil {
		return err
	}
	if writeErr != nil {
		return writeErr
	}

	for _, p := range pending {
		if p.mate == '2' {
			emit(w2, p.rec)
		} else {
			emit(w1, p.rec)
		}
	}
	return writeErr
}

func writeManifest(path string, groups map[signature.Code][]*record.FastqRecord) {
	counts := make(map[string]int, len(groups))
	for sig, recs := range groups {
		counts[fmt.Sprintf("%d", sig)] = len(recs)
	}
	data, err := json.MarshalIndent(counts, "", "  ")
	if err != nil {
		log.Error.Printf("fastore-pack: manifest encode: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error.Printf("fastore-pack: write manifest: %v", err)
	}
}
