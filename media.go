package ewf

import (
	"math"

	"github.com/google/uuid"
)

// MediaType is the acquired device class.
type MediaType uint8

const (
	MediaTypeRemovable    MediaType = 0x00
	MediaTypeFixed        MediaType = 0x01
	MediaTypeOptical      MediaType = 0x03
	MediaTypeLogicalFiles MediaType = 0x0e
	MediaTypeMemory       MediaType = 0x10
)

// MediaFlags are the bit field described in spec.md §3.
type MediaFlags uint8

const (
	MediaFlagImage    MediaFlags = 0x01
	MediaFlagPhysical MediaFlags = 0x02
	MediaFlagFastbloc MediaFlags = 0x04
	MediaFlagTableau  MediaFlags = 0x08
)

// volumePayloadSize is the fixed 1052-byte volume/data section payload
//, distinct from the teacher's over-long struct.
const volumePayloadSize = 1052

// MediaValues holds the immutable-after-first-write media description
//.
type MediaValues struct {
	MediaType          MediaType
	MediaFlags         MediaFlags
	SectorsPerChunk    uint32
	BytesPerSector     uint32
	NumberOfSectors    uint64
	NumberOfChunks     uint32
	CompressionLevel   CompressionLevel
	ErrorGranularity   uint32
	SetIdentifier      [16]byte
	CHSCylinders       uint32
	CHSHeads           uint32
	CHSSectors         uint32
	PALMVolumeStartSec uint32
	SMARTLogsStartSec  uint32
}

// ChunkSize returns sectors_per_chunk × bytes_per_sector.
func (m MediaValues) ChunkSize() uint32 {
	return m.SectorsPerChunk * m.BytesPerSector
}

// MediaSize returns number_of_sectors × bytes_per_sector.
func (m MediaValues) MediaSize() uint64 {
	return m.NumberOfSectors * uint64(m.BytesPerSector)
}

// validate checks that bytes_per_sector and sectors_per_chunk are
// non-zero, that chunk_size fits in int32, that media_size fits within
// chunk_size*(2^32-1), and that the compression level is recognized. It
// does not check number_of_chunks against media_size.
func (m MediaValues) validate() error {
	if m.BytesPerSector == 0 || m.SectorsPerChunk == 0 {
		return newErr("MediaValues.validate", KindInvalidArgument,
			"bytes_per_sector and sectors_per_chunk must be non-zero")
	}
	chunkSize := uint64(m.SectorsPerChunk) * uint64(m.BytesPerSector)
	if chunkSize > math.MaxInt32 {
		return newErr("MediaValues.validate", KindValueOutOfBounds,
			"chunk_size %d exceeds INT32_MAX", chunkSize)
	}
	mediaSize := m.MediaSize()
	maxMediaSize := chunkSize * (uint64(math.MaxUint32))
	if mediaSize > maxMediaSize {
		return newErr("MediaValues.validate", KindValueOutOfBounds,
			"media_size %d exceeds chunk_size*2^32-1 bound", mediaSize)
	}
	if !m.CompressionLevel.valid() {
		return newErr("MediaValues.validate", KindInvalidArgument,
			"invalid compression level %d", m.CompressionLevel)
	}
	return nil
}

// expectedChunkCount computes number_of_chunks from media_size and
// chunk_size, satisfying spec.md §8 invariant 6:
// chunk_size*number_of_chunks >= media_size and
// chunk_size*(number_of_chunks-1) < media_size.
func expectedChunkCount(mediaSize uint64, chunkSize uint32) uint32 {
	if chunkSize == 0 {
		return 0
	}
	n := mediaSize / uint64(chunkSize)
	if mediaSize%uint64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

// newSetIdentifier generates a fresh acquisition GUID, shared by every segment of one acquisition.
func newSetIdentifier() [16]byte {
	id := uuid.New()
	var out [16]byte
	copy(out[:], id[:])
	return out
}

// encode serialises MediaValues into the 1052-byte volume/data payload
//, shared by the `volume` and `data` section forms.
func (m MediaValues) encode() []byte {
	buf := make([]byte, volumePayloadSize)
	buf[0] = byte(m.MediaType)
	putUint32(buf[4:8], m.NumberOfChunks)
	putUint32(buf[8:12], m.SectorsPerChunk)
	putUint32(buf[12:16], m.BytesPerSector)
	putUint64(buf[16:24], m.NumberOfSectors)
	putUint32(buf[24:28], m.CHSCylinders)
	putUint32(buf[28:32], m.CHSHeads)
	putUint32(buf[32:36], m.CHSSectors)
	buf[36] = byte(m.MediaFlags)
	putUint32(buf[40:44], m.PALMVolumeStartSec)
	putUint32(buf[48:52], m.SMARTLogsStartSec)
	buf[52] = byte(m.CompressionLevel)
	putUint32(buf[56:60], m.ErrorGranularity)
	copy(buf[64:80], m.SetIdentifier[:])
	// buf[1043:1048] (signature) is left zeroed: readers treat an empty
	// signature as a valid legacy volume/data payload.
	putUint32(buf[1048:1052], adler32Of(buf[0:1048]))
	return buf
}

// decodeMediaValues parses a 1052-byte volume/data payload, validating its
// trailing Adler-32.
func decodeMediaValues(buf []byte) (MediaValues, error) {
	if len(buf) != volumePayloadSize {
		return MediaValues{}, newErr("decodeMediaValues", KindCorruptSection,
			"volume/data payload is %d bytes, want %d", len(buf), volumePayloadSize)
	}
	want := adler32Of(buf[0:1048])
	got := getUint32(buf[1048:1052])
	if want != got {
		return MediaValues{}, newErr("decodeMediaValues", KindChecksumMismatch,
			"volume/data checksum mismatch: have %#x want %#x", got, want)
	}
	m := MediaValues{
		MediaType:          MediaType(buf[0]),
		NumberOfChunks:     getUint32(buf[4:8]),
		SectorsPerChunk:    getUint32(buf[8:12]),
		BytesPerSector:     getUint32(buf[12:16]),
		NumberOfSectors:    getUint64(buf[16:24]),
		CHSCylinders:       getUint32(buf[24:28]),
		CHSHeads:           getUint32(buf[28:32]),
		CHSSectors:         getUint32(buf[32:36]),
		MediaFlags:         MediaFlags(buf[36]),
		PALMVolumeStartSec: getUint32(buf[40:44]),
		SMARTLogsStartSec:  getUint32(buf[48:52]),
		CompressionLevel:   CompressionLevel(buf[52]),
		ErrorGranularity:   getUint32(buf[56:60]),
	}
	copy(m.SetIdentifier[:], buf[64:80])
	return m, nil
}

// consistent reports whether two media-values readings (e.g. from a
// `volume` section and a later `data` section in the same segment) agree
// on the fields common to both, per spec.md §4.3 ("validated for
// consistency when both appear").
func (m MediaValues) consistent(other MediaValues) bool {
	return m.SectorsPerChunk == other.SectorsPerChunk &&
		m.BytesPerSector == other.BytesPerSector &&
		m.NumberOfSectors == other.NumberOfSectors &&
		m.MediaType == other.MediaType
}
