package ewf

// deltaChunkHeaderSize is the fixed header of a `delta_chunk` section
// payload: chunk number, chunk size, padding, checksum.
const deltaChunkHeaderSize = 4 + 4 + 4 + 4

// writeDeltaChunk appends a replacement chunk to the current DWF,
// rolling to a new delta segment file if the active one has reached its
// configured size. It returns the ChunkDescriptor to install in the OffsetTable
// in place of the original, base-segment entry.
func writeDeltaChunk(pool *FileIOPool, table *DeltaSegmentTable, chunkIndex int, payload []byte, crc uint32) (ChunkDescriptor, error) {
	idx, sf, err := table.current()
	if err != nil {
		return ChunkDescriptor{}, err
	}
	size, err := pool.Size(sf.handle)
	if err != nil {
		return ChunkDescriptor{}, err
	}
	if size == 0 {
		hdr := encodeFileHeader(uint16(sf.number), false, [16]byte{})
		if _, err := pool.WriteAt(sf.handle, hdr, 0); err != nil {
			return ChunkDescriptor{}, err
		}
		size = int64(len(hdr))
	}

	body := make([]byte, deltaChunkHeaderSize+len(payload))
	putUint32(body[0:4], uint32(chunkIndex))
	putUint32(body[4:8], uint32(len(payload)))
	putUint32(body[12:16], crc)
	copy(body[deltaChunkHeaderSize:], payload)

	desc := sectionDescriptor{Type: sectionDeltaChunk, Size: uint64(sectionDescriptorSize + len(body))}
	desc.NextOffset = uint64(size) + desc.Size
	buf := append(desc.encode(), body...)
	off, err := pool.Append(sf.handle, buf)
	if err != nil {
		return ChunkDescriptor{}, err
	}
	sf.sections.append(sectionDeltaChunk, off, off+int64(len(buf)))

	return ChunkDescriptor{
		SegmentIndex: idx,
		FileOffset:   uint64(off) + sectionDescriptorSize + deltaChunkHeaderSize,
		Size:         uint32(len(payload)),
		Flags:        ChunkDelta,
	}, nil
}

// readDeltaChunk reads back a chunk written by writeDeltaChunk, given the
// descriptor it returned. Unlike a base-segment chunk, a delta chunk's
// CRC lives in the delta_chunk section's own header rather than
// trailing the payload, so this returns the two separately.
func readDeltaChunk(pool *FileIOPool, table *DeltaSegmentTable, d ChunkDescriptor) (payload []byte, crc uint32, err error) {
	sf, ok := table.Get(d.SegmentIndex)
	if !ok {
		return nil, 0, newErr("readDeltaChunk", KindMissingSection, "unknown delta segment index %d", d.SegmentIndex)
	}
	crcBuf := make([]byte, 4)
	crcOffset := int64(d.FileOffset) - deltaChunkHeaderSize + 12
	if _, err = pool.ReadAt(sf.handle, crcBuf, crcOffset); err != nil {
		return nil, 0, err
	}
	payload = make([]byte, d.Size)
	if _, err = pool.ReadAt(sf.handle, payload, int64(d.FileOffset)); err != nil {
		return nil, 0, err
	}
	return payload, getUint32(crcBuf), nil
}
