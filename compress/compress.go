// Package compress is the pluggable compression registry: a name keyed
// map of pure compress/decompress function pairs. The empty algorithm
// name is the identity codec; an unknown name fails with
// cmn.ErrUnsupportedCompression.
//
// Codecs are picked by string name at setup time, the same dispatch
// shape a transport layer uses to choose a wire codec.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package compress

import "github.com/b0platform/b0/cmn"

const (
	None = ""
	Zlib = "zlib"
	LZ4  = "lz4"

	// DefaultLevel selects the algorithm's own notion of "default".
	DefaultLevel = -1
)

type (
	CompressFunc   func(p []byte, level int) ([]byte, error)
	DecompressFunc func(p []byte, expectedSize int) ([]byte, error)

	Codec struct {
		Compress   CompressFunc
		Decompress DecompressFunc
	}
)

var registry = map[string]Codec{
	None: {Compress: identityCompress, Decompress: identityDecompress},
	Zlib: {Compress: zlibCompress, Decompress: zlibDecompress},
	LZ4:  {Compress: lz4Compress, Decompress: lz4Decompress},
}

// Lookup returns the codec for algo, or cmn.ErrUnsupportedCompression.
func Lookup(algo string) (Codec, error) {
	c, ok := registry[algo]
	if !ok {
		return Codec{}, cmn.NewErrUnsupportedCompression(algo)
	}
	return c, nil
}

// Register adds or overrides a codec by name, for plugins outside this
// package: zlib and lz4 are the built-in set, not a closed one.
func Register(name string, c Codec) { registry[name] = c }

func identityCompress(p []byte, _ int) ([]byte, error) { return p, nil }

func identityDecompress(p []byte, _ int) ([]byte, error) { return p, nil }
