package ewf

import "fmt"

// FileType distinguishes a regular EWF segment from a logical (LWF) one
// or a delta-write (DWF) override file.
type FileType int

const (
	FileTypeEWF FileType = iota
	FileTypeLWF
	FileTypeDWF
)

// Format selects the on-disk dialect, which drives filename-extension
// cycling and per-segment limits.
type Format int

const (
	FormatEWF Format = iota
	FormatEnCase1
	FormatEnCase2
	FormatEnCase3
	FormatEnCase4
	FormatEnCase5
	FormatEnCase6
	FormatEnCase7
	FormatLinen5
	FormatLinen6
	FormatSMART
	FormatFTK
	FormatLVF
	FormatEWFX
)

// maxChunksPerSection returns the per-format table-entry cap"); 0 means unbounded (EWFX, EnCase1
// in the table-count sense described for extended formats).
func maxChunksPerSection(f Format) uint32 {
	switch f {
	case FormatEWFX, FormatEnCase1:
		return 0
	case FormatEnCase6, FormatEnCase7:
		return 65534
	default:
		return 16375
	}
}

// formatWritesTable2 reports whether the format mirrors `table` with a
// `table2` redundancy section, per spec.md §4.4: "except EWF-S01/
// EnCase1, a table2 mirror for redundancy".
func formatWritesTable2(f Format) bool {
	return f != FormatSMART && f != FormatEnCase1
}

// maxSegmentsFor returns the maximum number of segment files the format
// allows: EWF-S01 up to 4831, EWF-E01 up to 14295.
func maxSegmentsFor(f Format) int {
	if f == FormatSMART {
		return 4831
	}
	return 14295
}

// segmentFile is one physical segment (or delta segment) file plus its
// parsed metadata. It is owned exclusively
// by the SegmentTable/DeltaSegmentTable arena; chunk descriptors only
// reference it by index.
type segmentFile struct {
	handle       poolHandle
	filename     string
	fileType     FileType
	number       int
	sections     sectionList
	numberOfChunks int
}

// SegmentTable is the ordered array of segment-file handles described in
// spec.md §3 ("Segment table"). Entry indices here are 0-based internally;
// the on-disk/segment-number convention (1-based) is handled at the call
// site that creates filenames.
type SegmentTable struct {
	basename string
	pool     *FileIOPool
	format   Format
	segments []*segmentFile
}

func NewSegmentTable(basename string, pool *FileIOPool, format Format) *SegmentTable {
	return &SegmentTable{basename: basename, pool: pool, format: format}
}

func (t *SegmentTable) Count() int { return len(t.segments) }

func (t *SegmentTable) Get(i int) (*segmentFile, bool) {
	if i < 0 || i >= len(t.segments) {
		return nil, false
	}
	return t.segments[i], true
}

// segmentExtension returns the three-character extension for segment
// number n (1-based) under the given format, implementing the cycling
// rule from original_source/libewf/libewf_segment_table.c: the last
// letter increments fastest and wraps the first letter up on overflow,
// recomputed purely from n.
func segmentExtension(n int, format Format) (string, error) {
	if n < 1 {
		return "", newErr("segmentExtension", KindInvalidArgument, "segment number must be >= 1")
	}
	prefix := "E"
	switch format {
	case FormatSMART:
		prefix = "s"
	case FormatLVF:
		prefix = "L"
	}
	if n <= 99 {
		return fmt.Sprintf("%s%02d", prefix, n), nil
	}
	// n=100 -> first two-letter extension AA, cycling the second letter
	// fastest across A-Z (skipping the already-used digit range).
	idx := n - 100
	first := idx / (26 * 26)
	rem := idx % (26 * 26)
	second := rem / 26
	third := rem % 26
	firstLetter := firstExtensionLetter(prefix) + byte(first)
	return fmt.Sprintf("%c%c%c", firstLetter, 'A'+second, 'A'+third), nil
}

func firstExtensionLetter(prefix string) byte {
	if prefix == "s" {
		return 's'
	}
	return 'E'
}

// segmentFilename builds the full path for segment number n.
func (t *SegmentTable) segmentFilename(n int) (string, error) {
	ext, err := segmentExtension(n, t.format)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", t.basename, ext), nil
}

// createNext opens (creating if needed) the next segment file and
// appends it to the table, returning its 0-based index.
func (t *SegmentTable) createNext() (int, *segmentFile, error) {
	number := len(t.segments) + 1
	if number > maxSegmentsFor(t.format) {
		return 0, nil, newErr("SegmentTable.createNext", KindValueOutOfBounds,
			"segment count %d exceeds format limit", number)
	}
	name, err := t.segmentFilename(number)
	if err != nil {
		return 0, nil, err
	}
	h, err := t.pool.Open(name, osCreateRW)
	if err != nil {
		return 0, nil, err
	}
	sf := &segmentFile{handle: h, filename: name, fileType: FileTypeEWF, number: number}
	t.segments = append(t.segments, sf)
	return len(t.segments) - 1, sf, nil
}

// openExisting registers an already-existing segment file path (used
// when opening a pre-acquired image for read or delta-write).
func (t *SegmentTable) openExisting(path string, flag int) (int, *segmentFile, error) {
	h, err := t.pool.Open(path, flag)
	if err != nil {
		return 0, nil, err
	}
	sf := &segmentFile{handle: h, filename: path, fileType: FileTypeEWF, number: len(t.segments) + 1}
	t.segments = append(t.segments, sf)
	return len(t.segments) - 1, sf, nil
}

// DeltaSegmentTable parallels SegmentTable for DWF (delta-write) files
//.
type DeltaSegmentTable struct {
	basename string
	pool     *FileIOPool
	segments []*segmentFile
	maxSize  int64
}

func NewDeltaSegmentTable(basename string, pool *FileIOPool, maxSize int64) *DeltaSegmentTable {
	return &DeltaSegmentTable{basename: basename, pool: pool, maxSize: maxSize}
}

func (t *DeltaSegmentTable) Count() int { return len(t.segments) }

func (t *DeltaSegmentTable) Get(i int) (*segmentFile, bool) {
	if i < 0 || i >= len(t.segments) {
		return nil, false
	}
	return t.segments[i], true
}

// current returns the DWF currently being appended to, creating the
// first one if none exists.
func (t *DeltaSegmentTable) current() (int, *segmentFile, error) {
	if len(t.segments) == 0 {
		return t.createNext()
	}
	last := len(t.segments) - 1
	size, err := t.pool.Size(t.segments[last].handle)
	if err != nil {
		return 0, nil, err
	}
	if t.maxSize > 0 && size >= t.maxSize {
		return t.createNext()
	}
	return last, t.segments[last], nil
}

func (t *DeltaSegmentTable) createNext() (int, *segmentFile, error) {
	number := len(t.segments) + 1
	name := fmt.Sprintf("%s.d%02d", t.basename, number)
	h, err := t.pool.Open(name, osCreateRW)
	if err != nil {
		return 0, nil, err
	}
	sf := &segmentFile{handle: h, filename: name, fileType: FileTypeDWF, number: number}
	t.segments = append(t.segments, sf)
	return len(t.segments) - 1, sf, nil
}
