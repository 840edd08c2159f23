package pipeline

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/refresh-bio/fastore/archive"
	"github.com/refresh-bio/fastore/bin"
	"github.com/refresh-bio/fastore/binconfig"
	"github.com/refresh-bio/fastore/blockio"
	"github.com/refresh-bio/fastore/lzmatch"
	"github.com/refresh-bio/fastore/matchtree"
	"github.com/refresh-bio/fastore/rebin"
	"github.com/refresh-bio/fastore/record"
	"github.com/refresh-bio/fastore/signature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqFor(i int) []byte {
	bases := []byte("ACGT")
	out := make([]byte, 20)
	for j := range out {
		out[j] = bases[(i+j)%4]
	}
	return out
}

func TestEncoderRunConservesRecords(t *testing.T) {
	sigParams := signature.DefaultParams()
	cfg := binconfig.DefaultBinModuleConfig()
	cfg.Minimizer = sigParams

	bins := map[signature.Code]*bin.Bin{}
	total := 0
	for sig := signature.Code(1); sig <= 5; sig++ {
		b := &bin.Bin{Signature: sig}
		for i := 0; i < 6; i++ {
			b.Records = append(b.Records, &record.FastqRecord{Seq: seqFor(int(sig) + i), Sig: sig})
			total++
		}
		bins[sig] = b
	}

	var out bytes.Buffer
	w, err := archive.NewWriter(&out)
	require.NoError(t, err)

	p := Params{
		ThreadNum: 3,
		Cfg:       cfg,
		SigParams: sigParams,
		RebinP:    rebin.DefaultParams(),
		LzP:       lzmatch.DefaultParams(),
		Codec:     blockio.PPMdCodec{},
	}
	enc := NewEncoder(p, w)
	require.NoError(t, enc.Run(context.Background(), bins))

	headerBytes, err := w.Finish(cfg, nil)
	require.NoError(t, err)
	full := append(append([]byte(nil), headerBytes...), out.Bytes()[archive.FileHeaderSize:]...)

	_, footer, err := archive.ReadFooter(full)
	require.NoError(t, err)
	require.NotEmpty(t, footer.Signatures)

	dec := NewDecoder(3, cfg, nil, blockio.PPMdCodec{})
	var gotCount int
	var mu sync.Mutex
	err = dec.Run(context.Background(), full, footer, func(gec *matchtree.GraphEncodingContext, sig signature.Code) error {
		mu.Lock()
		defer mu.Unlock()
		gec.Walk(func(idx matchtree.NodeIndex, _ int) {
			n := gec.Node(idx)
			gotCount++
			if n.ExactMatches != nil {
				gotCount += len(n.ExactMatches.Records)
			}
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, total, gotCount)
}
