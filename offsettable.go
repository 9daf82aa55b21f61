package ewf

// ChunkFlags mark per-chunk state.
type ChunkFlags uint8

const (
	ChunkCompressed ChunkFlags = 0x01
	ChunkTainted    ChunkFlags = 0x02
	ChunkCorrupted  ChunkFlags = 0x04
	ChunkMissing    ChunkFlags = 0x08
	ChunkDelta      ChunkFlags = 0x80
)

// ChunkDescriptor locates one chunk's bytes within a segment file
//. SegmentIndex is a non-owning reference into the
// segment table's arena.
type ChunkDescriptor struct {
	SegmentIndex int
	FileOffset   uint64
	Size         uint32
	Flags        ChunkFlags
}

func (d ChunkDescriptor) compressed() bool { return d.Flags&ChunkCompressed != 0 }
func (d ChunkDescriptor) delta() bool      { return d.Flags&ChunkDelta != 0 }

// ErrorTolerance selects how the offset table reacts to a primary/
// secondary disagreement.
type ErrorTolerance int

const (
	ErrorToleranceStrict ErrorTolerance = iota
	ErrorToleranceCompensate
)

// OffsetTable is the flat, chunk-indexed array described in spec.md §3
// ("Offset table"). It owns ChunkDescriptor values; segment files are
// owned separately by the SegmentTable and referenced by index only.
type OffsetTable struct {
	entries []ChunkDescriptor
}

// NewOffsetTable preallocates capacity, growing geometrically thereafter
// as spec.md §3 describes ("capacity grown geometrically").
func NewOffsetTable(hint int) *OffsetTable {
	return &OffsetTable{entries: make([]ChunkDescriptor, 0, hint)}
}

func (t *OffsetTable) Len() int { return len(t.entries) }

// insert records chunk i's descriptor, growing the backing array
// geometrically if needed.
func (t *OffsetTable) insert(i int, d ChunkDescriptor) {
	if i < len(t.entries) {
		t.entries[i] = d
		return
	}
	for len(t.entries) <= i {
		if cap(t.entries) == len(t.entries) {
			grown := make([]ChunkDescriptor, len(t.entries), growCap(cap(t.entries)))
			copy(grown, t.entries)
			t.entries = grown
		}
		t.entries = append(t.entries, ChunkDescriptor{})
	}
	t.entries[i] = d
}

func growCap(c int) int {
	if c == 0 {
		return 64
	}
	return c * 2
}

// lookup returns chunk i's descriptor.
func (t *OffsetTable) lookup(i int) (ChunkDescriptor, bool) {
	if i < 0 || i >= len(t.entries) {
		return ChunkDescriptor{}, false
	}
	return t.entries[i], true
}

// markTainted flags chunk i TAINTED, used when the primary/secondary
// tables disagree under ErrorToleranceCompensate.
func (t *OffsetTable) markTainted(i int) {
	if i >= 0 && i < len(t.entries) {
		t.entries[i].Flags |= ChunkTainted
	}
}

// compare diffs the primary table against a secondary table built from a
// chunks section's table2 mirror, returning the index of the first
// chunk that disagrees, or -1 if they agree on every chunk both tables
// cover.
func compare(primary, secondary *OffsetTable) int {
	n := secondary.Len()
	if primary.Len() < n {
		n = primary.Len()
	}
	for i := 0; i < n; i++ {
		a, _ := primary.lookup(i)
		b, _ := secondary.lookup(i)
		if a.FileOffset != b.FileOffset || a.Size != b.Size || a.compressed() != b.compressed() {
			return i
		}
	}
	return -1
}

// reconcile applies spec.md §4.5's tie-break policy: under compensate,
// keep the primary and mark divergent chunks TAINTED; under strict,
// surface a TableMismatch error.
func reconcile(primary, secondary *OffsetTable, tolerance ErrorTolerance) error {
	idx := compare(primary, secondary)
	if idx < 0 {
		return nil
	}
	if tolerance == ErrorToleranceStrict {
		return newErr("reconcile", KindTableMismatch,
			"primary/secondary offset tables diverge at chunk %d", idx)
	}
	for i := idx; i < primary.Len() && i < secondary.Len(); i++ {
		a, _ := primary.lookup(i)
		b, _ := secondary.lookup(i)
		if a.FileOffset != b.FileOffset || a.Size != b.Size || a.compressed() != b.compressed() {
			primary.markTainted(i)
		}
	}
	return nil
}

// tableRawEntry is one raw 32-bit `table`/`table2` entry: bit 31 marks
// compressed, bits 0-30 are the offset relative to the section's
// base_offset.
type tableRawEntry struct {
	offset     uint32
	compressed bool
}

func decodeTableRawEntry(raw uint32) tableRawEntry {
	return tableRawEntry{offset: raw &^ 0x80000000, compressed: raw&0x80000000 != 0}
}

func encodeTableRawEntry(e tableRawEntry) uint32 {
	v := e.offset &^ 0x80000000
	if e.compressed {
		v |= 0x80000000
	}
	return v
}

// fillFromTablePayload populates descriptors for chunks [firstChunk,
// firstChunk+len(raw)) from a table/table2 entry array, deriving each
// chunk's size from the gap to the next entry (or to chunksSectionEnd
// for the last one), per spec.md §4.3:
// "size[i] = entry[i+1].offset - entry[i].offset ... The last chunk of a
// table uses the chunks-section's end offset."
func (t *OffsetTable) fillFromTablePayload(firstChunk int, baseOffset uint64, raw []uint32, segmentIndex int, chunksSectionEnd uint64) {
	entries := make([]tableRawEntry, len(raw))
	for i, r := range raw {
		entries[i] = decodeTableRawEntry(r)
	}
	for i, e := range entries {
		fileOffset := baseOffset + uint64(e.offset)
		var next uint64
		if i+1 < len(entries) {
			next = baseOffset + uint64(entries[i+1].offset)
		} else {
			next = chunksSectionEnd
		}
		size := uint32(0)
		if next > fileOffset {
			size = uint32(next - fileOffset)
		}
		flags := ChunkFlags(0)
		if e.compressed {
			flags |= ChunkCompressed
		}
		t.insert(firstChunk+i, ChunkDescriptor{
			SegmentIndex: segmentIndex,
			FileOffset:   fileOffset,
			Size:         size,
			Flags:        flags,
		})
	}
}
