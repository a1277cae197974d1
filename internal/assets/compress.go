package assets

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Encoding names as used in Content-Encoding.
const (
	EncodingGzip = "gzip"
	EncodingZstd = "zstd"
)

var encodingExt = map[string]string{
	EncodingGzip: ".gz",
	EncodingZstd: ".zst",
}

// EncodingForExt returns the content encoding of a precompressed file
// extension, or "" when ext is not one.
func EncodingForExt(ext string) string {
	for enc, e := range encodingExt {
		if e == ext {
			return enc
		}
	}
	return ""
}

// Precompress writes path+".gz" and path+".zst" next to path and returns
// the encodings written.
func Precompress(path string, data []byte) ([]string, error) {
	gz, err := gzipBytes(data)
	if err != nil {
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	if err := WriteFileAtomic(path+encodingExt[EncodingGzip], gz); err != nil {
		return nil, err
	}

	zs, err := zstdBytes(data)
	if err != nil {
		return nil, fmt.Errorf("zstd %s: %w", path, err)
	}
	if err := WriteFileAtomic(path+encodingExt[EncodingZstd], zs); err != nil {
		return nil, err
	}

	return []string{EncodingGzip, EncodingZstd}, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// zstdEncoder is shared; EncodeAll is safe for concurrent use.
var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))

func zstdBytes(data []byte) ([]byte, error) {
	if zstdEncoder == nil {
		return nil, fmt.Errorf("zstd encoder unavailable")
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}
