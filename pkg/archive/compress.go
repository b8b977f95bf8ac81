package archive

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// Algorithm names a compression algorithm
type Algorithm string

const (
	// None stores bodies as-is
	None Algorithm = "none"
	// Gzip compresses with gzip
	Gzip Algorithm = "gzip"
	// Zstd compresses with zstandard
	Zstd Algorithm = "zstd"
	// LZ4 compresses with the lz4 frame format
	LZ4 Algorithm = "lz4"
)

// Compressor compresses archive bodies. Implementations are safe for
// concurrent use.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
	// Extension is appended to object keys, e.g. ".gz"
	Extension() string
}

// NewCompressor returns the compressor for algo. An empty algo means None.
func NewCompressor(algo Algorithm) (Compressor, error) {
	switch algo {
	case "", None:
		return noneCompressor{}, nil
	case Gzip:
		return newGzipCompressor(), nil
	case Zstd:
		return newZstdCompressor()
	case LZ4:
		return newLZ4Compressor(), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported compression algorithm: %s", algo)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(data []byte) ([]byte, error)   { return data, nil }
func (noneCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
func (noneCompressor) Algorithm() Algorithm                   { return None }
func (noneCompressor) Extension() string                      { return "" }

type gzipCompressor struct {
	writerPool sync.Pool
}

func newGzipCompressor() *gzipCompressor {
	gc := &gzipCompressor{}
	gc.writerPool.New = func() interface{} {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	}
	return gc
}

func (gc *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gc.writerPool.Get().(*gzip.Writer)
	defer gc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "gzip compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "gzip compress")
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "gzip decompress")
	}
	defer r.Close()
	return readAll(r, "gzip decompress")
}

func (gc *gzipCompressor) Algorithm() Algorithm { return Gzip }
func (gc *gzipCompressor) Extension() string    { return ".gz" }

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCompressor() (*zstdCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "zstd decoder")
	}
	return &zstdCompressor{encoder: enc, decoder: dec}, nil
}

// EncodeAll and DecodeAll are safe for concurrent use
func (zc *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return zc.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := zc.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "zstd decompress")
	}
	return out, nil
}

func (zc *zstdCompressor) Algorithm() Algorithm { return Zstd }
func (zc *zstdCompressor) Extension() string    { return ".zst" }

type lz4Compressor struct {
	writerPool sync.Pool
}

func newLZ4Compressor() *lz4Compressor {
	lc := &lz4Compressor{}
	lc.writerPool.New = func() interface{} {
		return lz4.NewWriter(nil)
	}
	return lc
}

func (lc *lz4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lc.writerPool.Get().(*lz4.Writer)
	defer lc.writerPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "lz4 compress")
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	return readAll(lz4.NewReader(bytes.NewReader(data)), "lz4 decompress")
}

func (lc *lz4Compressor) Algorithm() Algorithm { return LZ4 }
func (lc *lz4Compressor) Extension() string    { return ".lz4" }

func readAll(r io.Reader, op string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil { //nolint:gosec // G110: archive bodies are our own API responses
		return nil, errors.Wrap(err, errors.ErrorTypeFile, op)
	}
	return buf.Bytes(), nil
}
