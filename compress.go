package ewf

import (
	"bytes"
	"compress/zlib"
	"io"
)

// CompressionLevel selects the deflate effort used for chunk payloads and
// the zlib framing of header/header2/xheader sections.
type CompressionLevel uint8

const (
	CompressionNone CompressionLevel = 0
	CompressionFast CompressionLevel = 1
	CompressionBest CompressionLevel = 2
	// compressionUnknown never appears on the wire; it exists only so
	// setters can reject it.
	compressionUnknown CompressionLevel = 0xff
)

func (l CompressionLevel) valid() bool {
	switch l {
	case CompressionNone, CompressionFast, CompressionBest:
		return true
	default:
		return false
	}
}

func (l CompressionLevel) flateLevel() int {
	switch l {
	case CompressionFast:
		return 1
	case CompressionBest:
		return 9
	default:
		return 6
	}
}

// zlibCompress deflate-encodes buf with zlib framing at the given level.
// The trailing 4 bytes of the returned stream are the zlib (Adler-32)
// checksum, which doubles as the chunk's CRC for compressed chunks.
func zlibCompress(buf []byte, level CompressionLevel) ([]byte, error) {
	var out bytes.Buffer
	w, err := zlib.NewWriterLevel(&out, level.flateLevel())
	if err != nil {
		return nil, wrapErr("zlibCompress", KindCompressionFailure, err)
	}
	if _, err := w.Write(buf); err != nil {
		return nil, wrapErr("zlibCompress", KindCompressionFailure, err)
	}
	if err := w.Close(); err != nil {
		return nil, wrapErr("zlibCompress", KindCompressionFailure, err)
	}
	return out.Bytes(), nil
}

// zlibDecompress inflates a zlib-framed chunk or header payload.
func zlibDecompress(buf []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, wrapErr("zlibDecompress", KindDecompressionFailure, err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapErr("zlibDecompress", KindDecompressionFailure, err)
	}
	return out, nil
}

// isEmptyBlock reports whether buf is every byte equal (e.g. all-zero).
// Such chunks are compressed even when global compression is off, since a
// deflate stream of a uniform block is reliably smaller than the raw data.
func isEmptyBlock(buf []byte) bool {
	if len(buf) == 0 {
		return true
	}
	first := buf[0]
	for _, b := range buf[1:] {
		if b != first {
			return false
		}
	}
	return true
}
