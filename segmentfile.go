package ewf

import "bytes"

// fileHeaderSize is the 13-byte EWF1 file header.
const fileHeaderSize = 13

// evf2HeaderSize is the EWF2 file header: the 13-byte common prefix plus
// a 16-byte set-identifier carried at open time.
const evf2HeaderSize = fileHeaderSize + 16

var ewf1Signature = [8]byte{'E', 'V', 'F', 0x09, 0x0d, 0x0a, 0xff, 0x00}
var ewf2Signature = [8]byte{'E', 'V', 'F', '2', 0x0d, 0x0a, 0x81, 0x00}

// encodeFileHeader builds the 13-byte (EWF1) or 29-byte (EWF2) segment
// file header.
func encodeFileHeader(segmentNumber uint16, isEWF2 bool, setID [16]byte) []byte {
	if !isEWF2 {
		buf := make([]byte, fileHeaderSize)
		copy(buf[0:8], ewf1Signature[:])
		buf[8] = 1
		putUint16(buf[9:11], segmentNumber)
		return buf
	}
	buf := make([]byte, evf2HeaderSize)
	copy(buf[0:8], ewf2Signature[:])
	buf[8] = 1
	putUint16(buf[9:11], segmentNumber)
	copy(buf[13:29], setID[:])
	return buf
}

// decodeFileHeader validates the signature and extracts the segment
// number.
func decodeFileHeader(buf []byte) (segmentNumber uint16, isEWF2 bool, err error) {
	if len(buf) < fileHeaderSize {
		return 0, false, newErr("decodeFileHeader", KindCorruptSection, "file header too short")
	}
	switch {
	case bytes.Equal(buf[0:8], ewf1Signature[:]):
		isEWF2 = false
	case bytes.Equal(buf[0:8], ewf2Signature[:]):
		isEWF2 = true
	default:
		return 0, false, newErr("decodeFileHeader", KindUnsupported, "unrecognized EWF signature")
	}
	segmentNumber = getUint16(buf[9:11])
	return segmentNumber, isEWF2, nil
}

func fileHeaderLen(isEWF2 bool) int64 {
	if isEWF2 {
		return evf2HeaderSize
	}
	return fileHeaderSize
}

// parsedChunksGroup is one "sectors" region plus the table that describes
// it.
type parsedChunksGroup struct {
	firstChunk       int
	sectorsBase      int64
	sectorsEnd       int64 // end offset of this group's own `sectors` section, for sizing its last chunk
	tableSectionOffset int64
	table2SectionOffset int64 // -1 if no table2 mirror was written (EWF-S01/EnCase1)
}

// parsedSegment is everything readSegment gathers walking one
// segment file's section list.
type parsedSegment struct {
	segmentNumber uint16
	isEWF2        bool
	sections      sectionList
	header        *ValueTable
	hash          *ValueTable
	digest        *ValueTable
	media         *MediaValues
	sessions      *SectorRangeTable
	acquiryErrors *SectorRangeTable
	chunkGroups   []parsedChunksGroup
	isLast        bool // terminated with `done`, not `next`
	chunkCountAfter int // running chunk index after this segment's last table, the firstChunkBase for the next segment
}

// readSegment walks a segment file's section list from the file header
// onward, dispatching each known section type. It does
// not itself populate the OffsetTable; callers combine parsedSegment.
// chunkGroups with the raw table/table2 payloads (read separately, since
// they need the segment's file handle to seek) to fill offset-table
// entries.
func readSegment(pool *FileIOPool, h poolHandle, firstChunkBase int) (*parsedSegment, error) {
	size, err := pool.Size(h)
	if err != nil {
		return nil, err
	}
	headerBuf := make([]byte, evf2HeaderSize)
	n, err := pool.ReadAt(h, headerBuf[:fileHeaderSize], 0)
	if err != nil || n < fileHeaderSize {
		return nil, wrapErr("readSegment", KindIoFailure, err)
	}
	segNum, isEWF2, err := decodeFileHeader(headerBuf[:fileHeaderSize])
	if err != nil {
		return nil, err
	}
	offset := fileHeaderLen(isEWF2)

	ps := &parsedSegment{segmentNumber: segNum, isEWF2: isEWF2}
	nextChunkIndex := firstChunkBase
	var pendingSectorsStart int64 = -1
	var pendingSectorsEnd int64 = -1
	ra := pool.ReaderAt(h)

	for {
		if offset < 0 || offset >= size {
			break
		}
		desc, err := readSectionAt(ra, offset)
		if err != nil {
			return nil, err
		}
		payloadStart := offset + sectionDescriptorSize
		payloadSize := int64(desc.Size) - sectionDescriptorSize
		if payloadSize < 0 {
			return nil, newErr("readSegment", KindCorruptSection, "section %q has negative payload size", desc.Type)
		}
		ps.sections.append(desc.Type, offset, offset+int64(desc.Size))

		switch desc.Type {
		case sectionHeader:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if ps.header == nil {
				if v, err := decodeHeader(payload); err == nil {
					ps.header = v
				}
			}
		case sectionHeader2:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeHeader2(payload); err == nil {
				ps.header = v // header2 takes priority over header
			}
		case sectionXHeader:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeXHeader(payload); err == nil {
				ps.header = v // xheader takes priority over header2/header
			}
		case sectionVolume, sectionDisk, sectionData:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			mv, err := decodeMediaValues(payload)
			if err != nil {
				return nil, err
			}
			if ps.media != nil && !ps.media.consistent(mv) {
				return nil, newErr("readSegment", KindCorruptSection, "volume/data sections disagree")
			}
			ps.media = &mv
		case sectionSectors:
			pendingSectorsStart = payloadStart
			pendingSectorsEnd = offset + int64(desc.Size)
		case sectionTable, sectionTable2:
			if desc.Type == sectionTable {
				countBuf := make([]byte, 4)
				if _, err := pool.ReadAt(h, countBuf, payloadStart); err != nil {
					return nil, wrapErr("readSegment", KindIoFailure, err)
				}
				count := int(getUint32(countBuf))
				ps.chunkGroups = append(ps.chunkGroups, parsedChunksGroup{
					firstChunk:         nextChunkIndex,
					sectorsBase:        pendingSectorsStart,
					sectorsEnd:         pendingSectorsEnd,
					tableSectionOffset: offset,
					table2SectionOffset: -1,
				})
				nextChunkIndex += count
			} else if len(ps.chunkGroups) > 0 {
				// table2 immediately follows its table within the same
				// chunks section; associate it with the group just opened.
				ps.chunkGroups[len(ps.chunkGroups)-1].table2SectionOffset = offset
			}
		case sectionHash:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeHash(payload); err == nil {
				ps.hash = v
			}
		case sectionDigest:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeDigest(payload); err == nil {
				ps.digest = v
			}
		case sectionXHash:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeXHeader(payload); err == nil {
				ps.hash = v
			}
		case sectionSession:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeSectorRangeTable(payload); err == nil {
				ps.sessions = v
			}
		case sectionError2:
			payload := make([]byte, payloadSize)
			if _, err := pool.ReadAt(h, payload, payloadStart); err != nil {
				return nil, wrapErr("readSegment", KindIoFailure, err)
			}
			if v, err := decodeSectorRangeTable(payload); err == nil {
				ps.acquiryErrors = v
			}
		case sectionDone:
			ps.isLast = true
		case sectionNext:
			ps.isLast = false
		}

		if desc.Type == sectionDone {
			break
		}
		if desc.NextOffset == uint64(offset) || desc.NextOffset == 0 {
			break
		}
		offset = int64(desc.NextOffset)
	}
	ps.chunkCountAfter = nextChunkIndex
	if ps.media == nil {
		return nil, newErr("readSegment", KindMissingSection, "no volume/data section found")
	}
	return ps, nil
}

// readTablePayload reads and decodes a `table`/`table2` section's raw
// entry array. It reads exactly the entry count the table header states,
// with no per-format cap and no check of that count against the
// section's size. validateEntries controls
// whether the trailing entries checksum is enforced: the primary table
// must decode cleanly, but a corrupt table2 mirror is exactly what the
// primary/secondary compare-and-repair step (spec.md §4.5) exists to
// detect, so its entries checksum is informational only.
func readTablePayload(pool *FileIOPool, h poolHandle, sectionOffset int64, validateEntries bool) (baseOffset uint64, entries []uint32, err error) {
	headerBuf := make([]byte, 36)
	payloadStart := sectionOffset + sectionDescriptorSize
	if _, err = pool.ReadAt(h, headerBuf, payloadStart); err != nil {
		return 0, nil, wrapErr("readTablePayload", KindIoFailure, err)
	}
	count := getUint32(headerBuf[0:4])
	baseOffset = getUint64(headerBuf[8:16])
	headerChecksum := getUint32(headerBuf[32:36])
	if adler32Of(headerBuf[0:32]) != headerChecksum {
		return 0, nil, newErr("readTablePayload", KindChecksumMismatch, "table header checksum mismatch")
	}
	entryBytes := make([]byte, int64(count)*4)
	if len(entryBytes) > 0 {
		if _, err = pool.ReadAt(h, entryBytes, payloadStart+36); err != nil {
			return 0, nil, wrapErr("readTablePayload", KindIoFailure, err)
		}
	}
	entries = make([]uint32, count)
	for i := range entries {
		entries[i] = getUint32(entryBytes[i*4 : i*4+4])
	}
	if validateEntries && len(entryBytes) > 0 {
		trailer := make([]byte, 4)
		if _, err = pool.ReadAt(h, trailer, payloadStart+36+int64(len(entryBytes))); err == nil {
			if want, got := adler32Of(entryBytes), getUint32(trailer); want != got {
				return 0, nil, newErr("readTablePayload", KindChecksumMismatch,
					"table entries checksum mismatch: have %#x want %#x", got, want)
			}
		}
	}
	return baseOffset, entries, nil
}
