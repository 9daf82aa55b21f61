package ewf

// writerState enumerates the segment-writer state machine from spec.md
// §4.4, named the way the teacher repo's companion WAL writer states a
// block-fill/flush cycle (ongniud-wal/seg.go): each state only accepts
// the handful of calls valid from it, and every transition is explicit.
type writerState int

const (
	writerInitial writerState = iota
	writerHeadersWritten
	writerInChunksSection
	writerBetweenChunksSections
	writerClosed
)

// segmentWriter drives one SegmentTable through the open/append/rollover/
// close lifecycle of a write session. It holds no
// knowledge of the public API's validation; callers (Handle) are
// responsible for calling methods only when doing so is legal.
type segmentWriter struct {
	pool    *FileIOPool
	table   *SegmentTable
	planner *writeIOHandle

	media        MediaValues
	header       *ValueTable
	format       Format
	segmentSize  int64
	softSection  uint32 // caller's soft target for chunks-per-section, 0 = format default

	state      writerState
	cur        *segmentFile
	curOffset  int64 // write cursor within the current segment file
	tableFirst int   // chunk index the currently-open chunks section starts at
	tableChunk []tableRawEntry
	sectorsStart int64

	offsets *OffsetTable
}

func newSegmentWriter(pool *FileIOPool, table *SegmentTable, media MediaValues, header *ValueTable, format Format, segmentFileSize int64, offsets *OffsetTable) *segmentWriter {
	return &segmentWriter{
		pool:        pool,
		table:       table,
		planner:     newWriteIOHandle(),
		media:       media,
		header:      header,
		format:      format,
		segmentSize: segmentFileSize,
		state:       writerInitial,
		offsets:     offsets,
	}
}

// openSegment creates the next segment file and writes its file header,
// and (for the first segment only) the header/header2/xheader and
// volume/data sections.
func (w *segmentWriter) openSegment() error {
	idx, sf, err := w.table.createNext()
	if err != nil {
		return err
	}
	w.cur = sf
	isEWF2 := w.format == FormatEWFX
	hdr := encodeFileHeader(uint16(sf.number), isEWF2, w.media.SetIdentifier)
	if _, err := w.pool.WriteAt(sf.handle, hdr, 0); err != nil {
		return err
	}
	w.curOffset = int64(len(hdr))

	if idx == 0 {
		if err := w.writeHeaderSections(); err != nil {
			return err
		}
		if err := w.writeVolumeSection(); err != nil {
			return err
		}
	}
	w.planner.onSegmentClosed()
	w.state = writerHeadersWritten
	return nil
}

func (w *segmentWriter) writeSection(typ string, payload []byte) error {
	desc := sectionDescriptor{Type: typ, Size: uint64(sectionDescriptorSize + len(payload))}
	next := w.curOffset + int64(desc.Size)
	desc.NextOffset = uint64(next)
	buf := append(desc.encode(), payload...)
	if _, err := w.pool.WriteAt(w.cur.handle, buf, w.curOffset); err != nil {
		return err
	}
	w.cur.sections.append(typ, w.curOffset, next)
	w.curOffset = next
	return nil
}

func (w *segmentWriter) writeHeaderSections() error {
	level := w.media.CompressionLevel
	headerPayload, err := encodeHeader(w.header, level)
	if err != nil {
		return err
	}
	if err := w.writeSection(sectionHeader, headerPayload); err != nil {
		return err
	}
	header2Payload, err := encodeHeader2(w.header, level)
	if err != nil {
		return err
	}
	if err := w.writeSection(sectionHeader2, header2Payload); err != nil {
		return err
	}
	xheaderPayload, err := encodeXHeader(w.header)
	if err != nil {
		return err
	}
	return w.writeSection(sectionXHeader, xheaderPayload)
}

func (w *segmentWriter) writeVolumeSection() error {
	return w.writeSection(sectionVolume, w.media.encode())
}

// beginChunksSection opens a `sectors` region and remembers the running
// chunk index it starts at, deferring the table/table2 emission until
// the section closes.
func (w *segmentWriter) beginChunksSection(firstChunkIndex int) error {
	w.tableFirst = firstChunkIndex
	w.tableChunk = w.tableChunk[:0]
	w.planner.chunksSectionOffset = w.curOffset
	w.sectorsStart = w.curOffset + sectionDescriptorSize
	// The sectors section descriptor's size/next_offset are patched in
	// closeChunksSection once the total payload length is known; reserve
	// the descriptor bytes now so chunk offsets are stable.
	placeholder := sectionDescriptor{Type: sectionSectors}
	buf := placeholder.encode()
	if _, err := w.pool.WriteAt(w.cur.handle, buf, w.curOffset); err != nil {
		return err
	}
	w.curOffset += sectionDescriptorSize
	w.planner.createChunksSection = false
	w.state = writerInChunksSection
	return nil
}

// appendChunk writes one (already compressed-or-not) chunk payload,
// plus its trailing CRC unless hasTrailer is false (an EWF-S01
// compressed chunk, whose checksum is the zlib stream's own trailing
// Adler-32 rather than a separate field), and records a raw table entry
// for it.
func (w *segmentWriter) appendChunk(chunkIndex int, payload []byte, crc uint32, compressed, hasTrailer bool) error {
	relOffset := uint32(w.curOffset - w.sectorsStart)
	var buf []byte
	if hasTrailer {
		buf = make([]byte, len(payload)+4)
		copy(buf, payload)
		putUint32(buf[len(payload):], crc)
	} else {
		buf = payload
	}
	n, err := w.pool.WriteAt(w.cur.handle, buf, w.curOffset)
	if err != nil {
		return err
	}
	// Size spans the whole on-disk chunk entry, payload plus its trailing
	// CRC, matching how fillFromTablePayload derives it from the gap
	// between consecutive table offsets.
	w.offsets.insert(chunkIndex, ChunkDescriptor{
		SegmentIndex: w.table.Count() - 1,
		FileOffset:   uint64(w.curOffset),
		Size:         uint32(len(buf)),
		Flags:        flagsFor(compressed),
	})
	w.tableChunk = append(w.tableChunk, tableRawEntry{offset: relOffset, compressed: compressed})
	w.curOffset += int64(n)
	w.planner.onChunkWritten(int64(n))
	return nil
}

func flagsFor(compressed bool) ChunkFlags {
	if compressed {
		return ChunkCompressed
	}
	return 0
}

// closeChunksSection patches the `sectors` descriptor now that its size
// is known, then writes the `table` and (unless suppressed) `table2`
// mirror sections.
func (w *segmentWriter) closeChunksSection(writeTable2 bool) error {
	sectorsEnd := w.curOffset
	sectorsSize := uint64(sectorsEnd - w.planner.chunksSectionOffset)
	desc := sectionDescriptor{Type: sectionSectors, Size: sectorsSize, NextOffset: uint64(sectorsEnd)}
	if _, err := w.pool.WriteAt(w.cur.handle, desc.encode(), w.planner.chunksSectionOffset); err != nil {
		return err
	}
	w.cur.sections.append(sectionSectors, w.planner.chunksSectionOffset, sectorsEnd)

	tablePayload := w.encodeTablePayload()
	if err := w.writeSection(sectionTable, tablePayload); err != nil {
		return err
	}
	if writeTable2 {
		if err := w.writeSection(sectionTable2, tablePayload); err != nil {
			return err
		}
	}
	w.planner.onChunksSectionClosed()
	w.state = writerBetweenChunksSections
	return nil
}

// encodeTablePayload builds a `table`/`table2` section body: a 36-byte
// header (count, padding, base_offset, 16 reserved bytes, checksum), the
// raw 32-bit entries, and a trailing Adler-32 over just the entries, per
// spec.md §6.1 ("count x u32 LE entry ... u32 LE adler32_of_entries").
func (w *segmentWriter) encodeTablePayload() []byte {
	header := make([]byte, 36)
	putUint32(header[0:4], uint32(len(w.tableChunk)))
	putUint64(header[8:16], uint64(w.sectorsStart))
	putUint32(header[32:36], adler32Of(header[0:32]))

	body := make([]byte, len(w.tableChunk)*4)
	for i, e := range w.tableChunk {
		putUint32(body[i*4:i*4+4], encodeTableRawEntry(e))
	}
	trailer := make([]byte, 4)
	putUint32(trailer, adler32Of(body))

	out := make([]byte, 0, len(header)+len(body)+len(trailer))
	out = append(out, header...)
	out = append(out, body...)
	out = append(out, trailer...)
	return out
}

// writeNext writes the `next` section linking to the next segment file,
// used when a segment fills before the acquisition is done.
func (w *segmentWriter) writeNext() error {
	return w.writeSection(sectionNext, nil)
}

// writeDone writes hash/digest/xhash/error2/session — each "as
// applicable" per spec.md §4.9 — followed by the terminal `done` section.
// hash/digest may be nil if hashing was disabled; sessions/acquiryErrs may
// be nil or empty if the acquisition recorded neither.
func (w *segmentWriter) writeDone(hash, digest *ValueTable, sessions, acquiryErrs *SectorRangeTable) error {
	if hash != nil {
		if err := w.writeSection(sectionHash, encodeHash(hash)); err != nil {
			return err
		}
	}
	if digest != nil {
		if err := w.writeSection(sectionDigest, encodeDigest(digest)); err != nil {
			return err
		}
	}
	if hash != nil {
		xhashPayload, err := encodeXHash(hash)
		if err != nil {
			return err
		}
		if err := w.writeSection(sectionXHash, xhashPayload); err != nil {
			return err
		}
	}
	if acquiryErrs != nil && acquiryErrs.Len() > 0 {
		if err := w.writeSection(sectionError2, encodeSectorRangeTable(acquiryErrs)); err != nil {
			return err
		}
	}
	if sessions != nil && sessions.Len() > 0 {
		if err := w.writeSection(sectionSession, encodeSectorRangeTable(sessions)); err != nil {
			return err
		}
	}
	if err := w.writeSection(sectionDone, nil); err != nil {
		return err
	}
	w.state = writerClosed
	return nil
}
