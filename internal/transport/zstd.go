package transport

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding name of the zstd compressor.
const CompressorName = "zstd"

// zstd.Encoder and zstd.Decoder are safe for concurrent use; one of each
// serves every stream.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
	encoding.RegisterCompressor(compressor{})
}

// compressor adapts the shared zstd codec to encoding.Compressor. Messages
// are whole batches, so both directions work on complete buffers.
type compressor struct{}

func (compressor) Name() string { return CompressorName }

func (compressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return &zstdWriter{w: w}, nil
}

func (compressor) Decompress(r io.Reader) (io.Reader, error) {
	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(out), nil
}

type zstdWriter struct {
	w   io.Writer
	buf bytes.Buffer
}

func (z *zstdWriter) Write(p []byte) (int, error) {
	return z.buf.Write(p)
}

func (z *zstdWriter) Close() error {
	_, err := z.w.Write(zstdEncoder.EncodeAll(z.buf.Bytes(), nil))
	return err
}
