package compress

import (
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/b0platform/b0/cmn"
)

// lz4CompressorPool pools lz4.Compressor instances, which carry internal
// hash-table state worth reusing across calls.
var lz4CompressorPool = sync.Pool{New: func() any { return &lz4.Compressor{} }}

func lz4Compress(p []byte, level int) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(p)))
	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	// the block-level API exposes only the fast compressor, so level is
	// ignored: every level compresses the same way.
	n, err := lc.CompressBlock(p, dst)
	if err != nil {
		return nil, cmn.NewErrEnvelopeEncode("lz4: " + err.Error())
	}
	if n == 0 {
		// incompressible input: lz4 block format signals this by writing
		// nothing: fall back to storing it raw behind a 0 flag byte (a
		// compressed block gets a 1) so Decompress can tell the two apart.
		return append([]byte{0}, p...), nil
	}
	return append([]byte{1}, dst[:n]...), nil
}

func lz4Decompress(p []byte, expectedSize int) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}
	flag, body := p[0], p[1:]
	if flag == 0 {
		out := make([]byte, len(body))
		copy(out, body)
		return out, nil
	}
	dst := make([]byte, expectedSize)
	n, err := lz4.UncompressBlock(body, dst)
	if err != nil {
		return nil, cmn.NewErrEnvelopeDecode("lz4: " + err.Error())
	}
	return dst[:n], nil
}
