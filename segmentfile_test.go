package ewf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileHeaderRoundTripEWF1(t *testing.T) {
	buf := encodeFileHeader(7, false, [16]byte{})
	assert.Len(t, buf, fileHeaderSize)

	num, isEWF2, err := decodeFileHeader(buf)
	assert.NoError(t, err)
	assert.EqualValues(t, 7, num)
	assert.False(t, isEWF2)
}

func TestFileHeaderRoundTripEWF2(t *testing.T) {
	var id [16]byte
	id[0] = 0xaa
	buf := encodeFileHeader(2, true, id)
	assert.Len(t, buf, evf2HeaderSize)

	num, isEWF2, err := decodeFileHeader(buf)
	assert.NoError(t, err)
	assert.EqualValues(t, 2, num)
	assert.True(t, isEWF2)
}

func TestDecodeFileHeaderRejectsUnknownSignature(t *testing.T) {
	buf := make([]byte, fileHeaderSize)
	copy(buf, []byte("NOTREAL\x00"))
	_, _, err := decodeFileHeader(buf)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupported, e.Kind)
}

func TestReadSegmentParsesHeaderAndVolume(t *testing.T) {
	dir := t.TempDir()
	pool := NewFileIOPool(4)
	defer pool.Close()

	table := NewSegmentTable(dir+"/image", pool, FormatEnCase6)
	header := NewValueTable()
	header.Set(KeyCaseNumber, "case-99")
	media := MediaValues{MediaType: MediaTypeFixed, SectorsPerChunk: 64, BytesPerSector: 512, NumberOfSectors: 128}
	offsets := NewOffsetTable(0)

	w := newSegmentWriter(pool, table, media, header, FormatEnCase6, defaultSegmentFileSize, offsets)
	assert.NoError(t, w.openSegment())
	assert.NoError(t, w.beginChunksSection(0))
	assert.NoError(t, w.appendChunk(0, []byte("chunkdata"), crc32Of([]byte("chunkdata")), false, true))
	assert.NoError(t, w.closeChunksSection(true))
	assert.NoError(t, w.writeDone(nil, nil, nil, nil))

	sf, _ := table.Get(0)
	ps, err := readSegment(pool, sf.handle, 0)
	assert.NoError(t, err)
	assert.NotNil(t, ps.media)
	assert.EqualValues(t, 64, ps.media.SectorsPerChunk)
	caseNumber, ok := ps.header.Get(KeyCaseNumber)
	assert.True(t, ok)
	assert.Equal(t, "case-99", caseNumber)
	assert.True(t, ps.isLast)
	assert.Len(t, ps.chunkGroups, 1)
}
