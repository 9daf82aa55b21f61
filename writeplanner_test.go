package ewf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSegmentFileSizeRejectsTooSmall(t *testing.T) {
	err := validateSegmentFileSize(100, 32768)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindValueOutOfBounds, e.Kind)
}

func TestValidateSegmentFileSizeAcceptsRoomy(t *testing.T) {
	err := validateSegmentFileSize(64*1024*1024, 32768)
	assert.NoError(t, err)
}

func TestValidateSegmentFileSizeUsesTheArgumentJustPassed(t *testing.T) {
	// Regression for the source bug: the validation
	// must react to whatever chunk size and segment size are passed this
	// call, not a value cached from a previous call.
	chunkSize := uint32(32768)
	assert.NoError(t, validateSegmentFileSize(64*1024*1024, chunkSize))
	err := validateSegmentFileSize(10, chunkSize)
	assert.Error(t, err)
}

func TestChunksSectionFull(t *testing.T) {
	w := newWriteIOHandle()
	w.sectionChunkCount = 10
	assert.True(t, w.chunksSectionFull(10))
	assert.False(t, w.chunksSectionFull(11))
	assert.False(t, w.chunksSectionFull(0)) // 0 = unbounded
}

func TestOnChunkWrittenAdvancesCounters(t *testing.T) {
	w := newWriteIOHandle()
	w.onChunkWritten(32772)
	assert.EqualValues(t, 1, w.sectionChunkCount)
	assert.EqualValues(t, 1, w.segmentChunkCount)
	assert.EqualValues(t, 1, w.totalChunkCount)
	assert.EqualValues(t, 32772, w.writeCount)
}

func TestOnChunksSectionClosedResetsSectionCounters(t *testing.T) {
	w := newWriteIOHandle()
	w.onChunkWritten(100)
	w.onChunksSectionClosed()
	assert.EqualValues(t, 0, w.sectionChunkCount)
	assert.True(t, w.createChunksSection)
	assert.EqualValues(t, 1, w.segmentChunkCount) // survives a chunks-section close
}

func TestChunksPerSectionLimitCapsAtFormatMaximum(t *testing.T) {
	assert.EqualValues(t, 16375, chunksPerSectionLimit(FormatEnCase5, 1000000))
	assert.EqualValues(t, 500, chunksPerSectionLimit(FormatEnCase5, 500))
	assert.EqualValues(t, 0, chunksPerSectionLimit(FormatEWFX, 0))
}
