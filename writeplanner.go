package ewf

// writeIOHandle tracks the running counters a write session needs to
// decide when a chunks section or a segment file is full. It is the Go analogue of libewf_write_io_handle's counters
// (original_source/libewf/libewf_write.c), renamed to the nouns this
// package already uses elsewhere.
type writeIOHandle struct {
	inputWriteCount uint64 // bytes of input media data; no write-path method updates it
	writeCount      uint64 // bytes actually written to segment files

	chunksSectionOffset     int64  // start offset of the open chunks section, -1 if none open
	chunksSectionWriteCount int64  // bytes written into the open chunks section
	sectionChunkCount       uint32 // chunks written into the open chunks section
	segmentChunkCount       uint32 // chunks written into the current segment file
	totalChunkCount         uint32 // chunks written through this planner; Handle starts a new planner with each segment file

	chunksSectionNumber int  // 1-based index of the open chunks section within its segment
	createChunksSection bool // true once a new chunks section must be opened before the next chunk
	writeFinalized      bool // finalize marker; Finalize tracks completion in Handle.finalized and does not set it
}

func newWriteIOHandle() *writeIOHandle {
	return &writeIOHandle{chunksSectionOffset: -1, createChunksSection: true}
}

// maxChunksPerSegment estimates how many chunks fit in one segment file
// given its target size, mirroring libewf_write_io_handle's
// calculate_chunks_per_segment: reserve room for the file header, the
// volume/data/header sections (segment 1 only) and the closing
// sections, then divide the remainder by the worst-case per-chunk cost
//.
func maxChunksPerSegment(segmentFileSize int64, chunkSize uint32, isFirstSegment bool) uint32 {
	if segmentFileSize <= 0 || chunkSize == 0 {
		return 0
	}
	overhead := int64(sectionDescriptorSize * 4) // sectors+table+table2+done/next
	if isFirstSegment {
		overhead += fileHeaderSize + int64(sectionDescriptorSize)*3 + volumePayloadSize
	}
	available := segmentFileSize - overhead
	if available <= 0 {
		return 0
	}
	perChunk := int64(chunkSize) + 4 // chunk bytes plus trailing CRC
	n := available / perChunk
	if n <= 0 {
		return 0
	}
	return uint32(n)
}

// chunksPerSectionLimit returns the smaller of the format's hard table
// cap and a caller-supplied soft target.
func chunksPerSectionLimit(format Format, softTarget uint32) uint32 {
	hard := maxChunksPerSection(format)
	if hard == 0 {
		return softTarget
	}
	if softTarget == 0 || softTarget > hard {
		return hard
	}
	return softTarget
}

// chunksSectionFull reports whether the open chunks section has reached
// its chunk-count limit.
func (w *writeIOHandle) chunksSectionFull(limit uint32) bool {
	return limit > 0 && w.sectionChunkCount >= limit
}

// segmentFull reports whether the current segment has reached its
// planned chunk-count budget, as estimated by maxChunksPerSegment from
// the handle's current segmentFileSize. It does not look at the live file
// offset, so compressed chunks do not raise the budget. The size argument
// itself is validated by validateSegmentFileSize, not here.
func (w *writeIOHandle) segmentFull(segmentFileSize int64, chunkSize uint32, isFirstSegment bool) bool {
	max := maxChunksPerSegment(segmentFileSize, chunkSize, isFirstSegment)
	return max > 0 && w.segmentChunkCount >= max
}

// validateSegmentFileSize enforces spec.md §8's bound on segment_file_size
// (it must be large enough to hold at least the file header, one chunks
// section and one chunk). Unlike the buggy original, it always checks the
// value just passed in.
func validateSegmentFileSize(segmentFileSize int64, chunkSize uint32) error {
	minimum := int64(fileHeaderSize) + int64(sectionDescriptorSize)*3 + int64(chunkSize) + 4
	if segmentFileSize < minimum {
		return newErr("validateSegmentFileSize", KindValueOutOfBounds,
			"segment_file_size %d is below the minimum %d for chunk_size %d", segmentFileSize, minimum, chunkSize)
	}
	return nil
}

// onChunkWritten advances the running counters after one chunk has been
// appended to the open chunks section.
func (w *writeIOHandle) onChunkWritten(n int64) {
	w.writeCount += uint64(n)
	w.chunksSectionWriteCount += n
	w.sectionChunkCount++
	w.segmentChunkCount++
	w.totalChunkCount++
}

// onChunksSectionClosed resets the per-section counters and marks that a
// fresh chunks section must be opened before the next chunk.
func (w *writeIOHandle) onChunksSectionClosed() {
	w.chunksSectionOffset = -1
	w.chunksSectionWriteCount = 0
	w.sectionChunkCount = 0
	w.chunksSectionNumber++
	w.createChunksSection = true
}

// onSegmentClosed resets the per-segment chunk counter for the next
// segment file.
func (w *writeIOHandle) onSegmentClosed() {
	w.segmentChunkCount = 0
	w.chunksSectionNumber = 0
}
