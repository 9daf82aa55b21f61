package ewf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmentWriterStateProgression(t *testing.T) {
	dir := t.TempDir()
	pool := NewFileIOPool(4)
	defer pool.Close()

	table := NewSegmentTable(dir+"/image", pool, FormatEnCase6)
	media := MediaValues{MediaType: MediaTypeFixed, SectorsPerChunk: 64, BytesPerSector: 512}
	header := NewValueTable()
	offsets := NewOffsetTable(0)

	w := newSegmentWriter(pool, table, media, header, FormatEnCase6, defaultSegmentFileSize, offsets)
	assert.Equal(t, writerInitial, w.state)

	assert.NoError(t, w.openSegment())
	assert.Equal(t, writerHeadersWritten, w.state)

	assert.NoError(t, w.beginChunksSection(0))
	assert.Equal(t, writerInChunksSection, w.state)

	assert.NoError(t, w.appendChunk(0, []byte("payload-bytes"), 0xaabbccdd, false, true))
	assert.NoError(t, w.closeChunksSection(true))
	assert.Equal(t, writerBetweenChunksSections, w.state)

	assert.NoError(t, w.writeDone(nil, nil, nil, nil))
	assert.Equal(t, writerClosed, w.state)
}

func TestEncodeTablePayloadHeaderChecksum(t *testing.T) {
	dir := t.TempDir()
	pool := NewFileIOPool(4)
	defer pool.Close()

	table := NewSegmentTable(dir+"/image", pool, FormatEnCase6)
	media := MediaValues{SectorsPerChunk: 64, BytesPerSector: 512}
	w := newSegmentWriter(pool, table, media, NewValueTable(), FormatEnCase6, defaultSegmentFileSize, NewOffsetTable(0))
	assert.NoError(t, w.openSegment())
	assert.NoError(t, w.beginChunksSection(0))
	assert.NoError(t, w.appendChunk(0, []byte("abc"), 1, false, true))
	assert.NoError(t, w.appendChunk(1, []byte("defgh"), 2, true, true))

	payload := w.encodeTablePayload()
	count := getUint32(payload[0:4])
	assert.EqualValues(t, 2, count)
	checksum := getUint32(payload[32:36])
	assert.Equal(t, adler32Of(payload[0:32]), checksum)

	entry0 := decodeTableRawEntry(getUint32(payload[36:40]))
	assert.False(t, entry0.compressed)
	entry1 := decodeTableRawEntry(getUint32(payload[40:44]))
	assert.True(t, entry1.compressed)
}
