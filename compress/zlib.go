package compress

import (
	"bytes"
	"compress/zlib"
	"io"

	"github.com/b0platform/b0/cmn"
)

// zlibCompress/zlibDecompress wrap the standard library's DEFLATE/zlib
// codec; no third-party zlib library is wired in for this algorithm,
// see DESIGN.md.
func zlibCompress(p []byte, level int) ([]byte, error) {
	if level == DefaultLevel {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, cmn.NewErrEnvelopeEncode("zlib: " + err.Error())
	}
	if _, err := w.Write(p); err != nil {
		return nil, cmn.NewErrEnvelopeEncode("zlib: " + err.Error())
	}
	if err := w.Close(); err != nil {
		return nil, cmn.NewErrEnvelopeEncode("zlib: " + err.Error())
	}
	return buf.Bytes(), nil
}

func zlibDecompress(p []byte, expectedSize int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(p))
	if err != nil {
		return nil, cmn.NewErrEnvelopeDecode("zlib: " + err.Error())
	}
	defer r.Close()
	out := make([]byte, 0, max(expectedSize, 64))
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, cmn.NewErrEnvelopeDecode("zlib: " + err.Error())
	}
	return buf.Bytes(), nil
}
