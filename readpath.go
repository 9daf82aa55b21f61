package ewf

// chunkCache holds exactly one decompressed chunk. Sequential
// reads, the dominant access pattern for forensic images, hit it on
// every call after the first; random access simply never benefits from
// more than the chunk currently being read.
type chunkCache struct {
	index int
	valid bool
	data  []byte
}

func (c *chunkCache) get(index int) ([]byte, bool) {
	if c.valid && c.index == index {
		return c.data, true
	}
	return nil, false
}

func (c *chunkCache) put(index int, data []byte) {
	c.index = index
	c.valid = true
	c.data = data
}

// reader drives chunk-addressed reads across the base segment table, the
// delta-segment table and the offset table, with CRC verification and
// wipe-on-error recovery.
type reader struct {
	pool     *FileIOPool
	segments *SegmentTable
	deltas   *DeltaSegmentTable
	offsets  *OffsetTable
	media    MediaValues
	errs     *SectorRangeTable
	cache    chunkCache
	log      notifier

	// format selects spec.md §3's per-format compressed-chunk checksum
	// layout: EWF-S01 carries none (the zlib stream's own trailing
	// Adler-32 is the CRC), every other format appends an explicit
	// CRC-32 trailer. Zero value (FormatEWF) takes the trailer branch.
	format Format

	// wipeOnError selects spec.md §7's policy for a CRC-failed chunk: zero
	// the plaintext (true, the default) or surface the raw, possibly
	// corrupt bytes (false). Either way the sector range is recorded in
	// errs.
	wipeOnError bool

	pos int64 // logical byte offset into the media
}

func newReader(pool *FileIOPool, segments *SegmentTable, deltas *DeltaSegmentTable, offsets *OffsetTable, media MediaValues, errs *SectorRangeTable) *reader {
	return &reader{pool: pool, segments: segments, deltas: deltas, offsets: offsets, media: media, errs: errs, wipeOnError: true}
}

// Seek repositions the logical read cursor.
func (r *reader) Seek(offset int64) error {
	if offset < 0 || uint64(offset) > r.media.MediaSize() {
		return newErr("reader.Seek", KindValueOutOfBounds, "offset %d out of range", offset)
	}
	r.pos = offset
	return nil
}

// readChunk fetches chunk index's decompressed bytes, consulting the
// cache first, and verifying its CRC.
func (r *reader) readChunk(index int) ([]byte, error) {
	if data, ok := r.cache.get(index); ok {
		return data, nil
	}
	d, ok := r.offsets.lookup(index)
	if !ok {
		return nil, newErr("reader.readChunk", KindMissingSection, "chunk %d has no offset-table entry", index)
	}

	var payload []byte
	var storedCRC uint32
	var err error
	if d.delta() {
		payload, storedCRC, err = readDeltaChunk(r.pool, r.deltas, d)
	} else {
		sf, ok := r.segments.Get(d.SegmentIndex)
		if !ok {
			return nil, newErr("reader.readChunk", KindMissingSection, "unknown segment index %d", d.SegmentIndex)
		}
		raw := make([]byte, d.Size)
		_, err = r.pool.ReadAt(sf.handle, raw, int64(d.FileOffset))
		if err == nil {
			if d.compressed() && r.format == FormatSMART {
				// no separate trailer: the zlib stream carries its own Adler-32.
				payload = raw
			} else {
				payload, storedCRC = raw[:len(raw)-4], getUint32(raw[len(raw)-4:])
			}
		}
	}
	if err != nil {
		return nil, err
	}

	var plain []byte
	if d.compressed() {
		if r.format != FormatSMART && !d.delta() && crc32Of(payload) != storedCRC {
			r.markChunkCRCError(index)
			return nil, newErr("reader.readChunk", KindChecksumMismatch,
				"chunk %d failed compressed-payload CRC verification", index)
		}
		plain, err = zlibDecompress(payload)
		if err != nil {
			r.markChunkCRCError(index)
			return nil, err
		}
	} else {
		plain = payload
		if crc32Of(plain) != storedCRC {
			r.markChunkCRCError(index)
			if r.wipeOnError {
				return zeroedChunk(int(r.media.ChunkSize())), newErr("reader.readChunk", KindChecksumMismatch,
					"chunk %d failed CRC verification", index)
			}
			return plain, newErr("reader.readChunk", KindChecksumMismatch,
				"chunk %d failed CRC verification", index)
		}
	}
	r.cache.put(index, plain)
	return plain, nil
}

// markChunkCRCError records the chunk's sector range in the CRC-error
// table.
func (r *reader) markChunkCRCError(index int) {
	r.log.warnf("readpath", "event", "crc_mismatch", "chunk", index)
	if r.errs == nil || r.media.SectorsPerChunk == 0 {
		return
	}
	firstSector := uint64(index) * uint64(r.media.SectorsPerChunk)
	r.errs.AddCRCError(firstSector, uint64(r.media.SectorsPerChunk))
}

func zeroedChunk(n int) []byte { return make([]byte, n) }

// ReadAt reads len(p) bytes starting at off. A chunk that fails
// verification does not abort the read: its CRC-error range is recorded
// (via readChunk) and it reads as zeroes, or as its raw bytes when
// wipeOnError is false and the chunk is uncompressed.
func (r *reader) ReadAt(p []byte, off int64) (int, error) {
	chunkSize := int64(r.media.ChunkSize())
	if chunkSize == 0 {
		return 0, newErr("reader.ReadAt", KindStateViolation, "media values not initialized")
	}
	total := 0
	for total < len(p) {
		abs := off + int64(total)
		if uint64(abs) >= r.media.MediaSize() {
			break
		}
		idx := int(abs / chunkSize)
		within := int(abs % chunkSize)
		chunk, err := r.readChunk(idx)
		var data []byte
		if err != nil {
			if ewfErr, ok := err.(*Error); ok && ewfErr.Kind == KindChecksumMismatch {
				data = chunk // already wiped or raw, per wipeOnError
				if data == nil {
					// a compressed chunk that failed verification has no plaintext
					data = zeroedChunk(int(chunkSize))
				}
			} else {
				return total, err
			}
		} else {
			data = chunk
		}
		n := copy(p[total:], data[within:])
		total += n
	}
	return total, nil
}

// Read implements the streaming read used by Handle.Read, advancing the
// logical cursor.
func (r *reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}
