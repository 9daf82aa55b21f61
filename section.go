package ewf

import (
	"io"
)

// sectionDescriptorSize is the fixed 76-byte on-disk section descriptor
//: 16-byte type tag, 8-byte next_offset, 8-byte size,
// 40 reserved bytes, 4-byte Adler-32.
const sectionDescriptorSize = 76

// Well-known section type tags.
const (
	sectionHeader  = "header"
	sectionHeader2 = "header2"
	sectionXHeader = "xheader"
	sectionVolume  = "volume"
	sectionDisk    = "disk"
	sectionData    = "data"
	sectionSectors = "sectors"
	sectionTable   = "table"
	sectionTable2  = "table2"
	sectionNext    = "next"
	sectionDone    = "done"
	sectionHash    = "hash"
	sectionDigest  = "digest"
	sectionXHash   = "xhash"
	sectionError2     = "error2"
	sectionSession    = "session"
	sectionDeltaChunk = "delta_chunk"
)

// sectionDescriptor is the in-memory form of the 76-byte on-disk section
// header.
type sectionDescriptor struct {
	Type       string
	NextOffset uint64
	Size       uint64
}

// encode serialises the descriptor with its trailing Adler-32, computed
// over the preceding 72 bytes of the descriptor (type+next_offset+size+
// reserved), as laid out in spec.md §6.1.
func (s sectionDescriptor) encode() []byte {
	buf := make([]byte, sectionDescriptorSize)
	copy(buf[0:16], nulPad(s.Type, 16))
	putUint64(buf[16:24], s.NextOffset)
	putUint64(buf[24:32], s.Size)
	// buf[32:72] reserved, left zero.
	putUint32(buf[72:76], adler32Of(buf[0:72]))
	return buf
}

// decodeSection parses a 76-byte section descriptor and validates its
// checksum.
func decodeSection(buf []byte) (sectionDescriptor, error) {
	if len(buf) != sectionDescriptorSize {
		return sectionDescriptor{}, newErr("decodeSection", KindCorruptSection,
			"short section descriptor: %d bytes", len(buf))
	}
	want := adler32Of(buf[0:72])
	got := getUint32(buf[72:76])
	if want != got {
		return sectionDescriptor{}, newErr("decodeSection", KindChecksumMismatch,
			"section descriptor checksum mismatch: have %#x want %#x", got, want)
	}
	return sectionDescriptor{
		Type:       nulTrim(buf[0:16]),
		NextOffset: getUint64(buf[16:24]),
		Size:       getUint64(buf[24:32]),
	}, nil
}

// sectionListEntry records one section's position within a segment file,
// forming the segment's "linked list of sections in file order"
//.
type sectionListEntry struct {
	Type       string
	StartOffset int64
	EndOffset   int64
}

// sectionList is the ordered, non-overlapping list of sections parsed or
// written for one segment file (testable property 3, spec.md §8).
type sectionList struct {
	entries []sectionListEntry
}

func (l *sectionList) append(typ string, start, end int64) {
	l.entries = append(l.entries, sectionListEntry{Type: typ, StartOffset: start, EndOffset: end})
}

func (l *sectionList) last() (sectionListEntry, bool) {
	if len(l.entries) == 0 {
		return sectionListEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// end returns the end offset of the last section, i.e. the current
// logical end of the segment file.
func (l *sectionList) end() int64 {
	e, ok := l.last()
	if !ok {
		return 0
	}
	return e.EndOffset
}

// findLast returns the most recent section of the given type, used to
// locate the segment 1 volume/data section for the in-place rewrite
// Finalize performs once the final media size is known.
func (l *sectionList) findLast(typ string) (sectionListEntry, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Type == typ {
			return l.entries[i], true
		}
	}
	return sectionListEntry{}, false
}

// readSectionAt reads and validates the section descriptor at offset off
// in r, which must support ReadAt (segment files are opened for random
// access via the file-IO pool).
func readSectionAt(r io.ReaderAt, off int64) (sectionDescriptor, error) {
	buf := make([]byte, sectionDescriptorSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		return sectionDescriptor{}, wrapErr("readSectionAt", KindIoFailure, err)
	}
	return decodeSection(buf)
}
