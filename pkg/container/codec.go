package container

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"github.com/dd0wney/cluso-arbor/pkg/fields"
)

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstd coders are safe for concurrent EncodeAll/DecodeAll and costly to
// build, so one pair serves the process.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func compress(c Codec, raw []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return raw, nil
	case CodecSnappy:
		return snappy.Encode(nil, raw), nil
	case CodecZstd:
		enc, _, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("unknown codec %d", c)
}

func decompress(c Codec, data []byte) ([]byte, error) {
	switch c {
	case CodecNone:
		return data, nil
	case CodecSnappy:
		return snappy.Decode(nil, data)
	case CodecZstd:
		_, dec, err := zstdCoders()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)
	}
	return nil, fmt.Errorf("unknown codec %d", c)
}

// encodeArray serialises a[i:j] little-endian.
func encodeArray(a fields.Array, i, j int) []byte {
	width := a.DType.Size()
	buf := make([]byte, (j-i)*width)
	for k := i; k < j; k++ {
		off := (k - i) * width
		switch a.DType {
		case fields.Int64:
			binary.LittleEndian.PutUint64(buf[off:], uint64(a.I64[k]))
		case fields.Float32:
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(a.F32[k]))
		case fields.Float64:
			binary.LittleEndian.PutUint64(buf[off:], math.Float64bits(a.F64[k]))
		}
	}
	return buf
}

// decodeInto writes the elements in raw into dst starting at element at.
func decodeInto(dst fields.Array, at int, raw []byte) error {
	width := dst.DType.Size()
	if width == 0 || len(raw)%width != 0 {
		return fmt.Errorf("chunk of %d bytes is not a whole number of %s elements", len(raw), dst.DType)
	}
	n := len(raw) / width
	if at+n > dst.Len() {
		return fmt.Errorf("chunk overflows dataset: %d+%d > %d", at, n, dst.Len())
	}
	for k := 0; k < n; k++ {
		off := k * width
		switch dst.DType {
		case fields.Int64:
			dst.I64[at+k] = int64(binary.LittleEndian.Uint64(raw[off:]))
		case fields.Float32:
			dst.F32[at+k] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
		case fields.Float64:
			dst.F64[at+k] = math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))
		}
	}
	return nil
}
