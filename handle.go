package ewf

import (
	"strings"

	"github.com/go-kit/log"
)

// Mode selects whether a Handle was opened for reading an existing image
// or for acquiring a new one.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// Option configures a Handle opened with Create. The functional-options
// idiom is used here since the setter surface is large enough that
// positional constructor arguments would be unreadable.
type Option func(*Handle)

func WithFormat(f Format) Option               { return func(h *Handle) { h.format = f } }
func WithCompressionLevel(l CompressionLevel) Option {
	return func(h *Handle) { h.media.CompressionLevel = l }
}
func WithErrorTolerance(t ErrorTolerance) Option { return func(h *Handle) { h.tolerance = t } }
func WithSegmentFileSize(n int64) Option         { return func(h *Handle) { h.segmentFileSize = n } }
func WithDeltaSegmentFileSize(n int64) Option    { return func(h *Handle) { h.deltaSegmentFileSize = n } }
func WithLogger(l log.Logger) Option             { return func(h *Handle) { h.log = newNotifier(l) } }
func WithPoolCapacity(n int) Option              { return func(h *Handle) { h.poolCapacity = n } }

// WithWipeOnError selects spec.md §7's read-time recovery policy for a
// CRC-failed chunk: zero the plaintext (true, the default) rather than
// surface the raw corrupt bytes.
func WithWipeOnError(wipe bool) Option { return func(h *Handle) { h.wipeOnError = wipe } }

// WithCompressEmptyBlock controls spec.md §4.2's empty-block detector:
// when true (the default) an all-equal-byte chunk is compressed even if
// compression_level is none.
func WithCompressEmptyBlock(b bool) Option { return func(h *Handle) { h.compressEmptyBlock = b } }

// Handle is the single public entry point into an EWF acquisition,
// stitching the byte codec, file pool, compression codec, section
// framing, media values, header/hash tables, offset table, segment
// table and write planner into one object. The Handle owns every other
// component and nothing outlives it.
type Handle struct {
	mode Mode
	log  notifier

	pool         *FileIOPool
	poolCapacity int
	segments     *SegmentTable
	deltas       *DeltaSegmentTable
	offsets      *OffsetTable
	sessions     *SectorRangeTable
	acquiryErrs  *SectorRangeTable
	crcErrs      *SectorRangeTable

	media  MediaValues
	header *ValueTable
	hash   *ValueTable
	digest *ValueTable

	format    Format
	tolerance ErrorTolerance

	segmentFileSize      int64
	deltaSegmentFileSize int64

	writer *segmentWriter
	reader *reader

	valuesInitialized bool // true once the first chunk has been written; media/header setters reject after this
	bytesWritten         uint64 // media bytes accepted by Write, used by Finalize to size a streaming acquisition
	mediaSizeKnownAtOpen bool
	aborted              bool
	closed               bool
	finalized            bool

	wipeOnError        bool
	compressEmptyBlock bool
}

const defaultSegmentFileSize = 1024 * 1024 * 1024 // 1 GiB, matches the historical EnCase default segment size
const defaultDeltaSegmentFileSize = defaultSegmentFileSize

// segmentBasename strips the trailing three-character segment extension (e.g.
// ".E01", ".s01", ".L01") from the first segment file path, so that a
// Handle opened for read derives the same basename Create would have
// used, and new delta segment files land next to the base image rather
// than as "<path>.d01" suffixed onto the full first-segment filename.
func segmentBasename(path string) string {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return path
	}
	ext := path[dot+1:]
	if len(ext) == 3 {
		return path[:dot]
	}
	return path
}

// Create opens a new Handle for acquiring media into segment files named
// basename.E01, basename.E02, ....
func Create(basename string, opts ...Option) (*Handle, error) {
	h := &Handle{
		mode:                 ModeWrite,
		log:                  newNotifier(nil),
		format:               FormatEnCase6,
		tolerance:            ErrorToleranceCompensate,
		segmentFileSize:      defaultSegmentFileSize,
		deltaSegmentFileSize: defaultDeltaSegmentFileSize,
		header:               NewValueTable(),
		hash:                 NewValueTable(),
		digest:               NewValueTable(),
		sessions:             NewSectorRangeTable(),
		acquiryErrs:          NewSectorRangeTable(),
		crcErrs:              NewSectorRangeTable(),
		media:                MediaValues{MediaType: MediaTypeFixed, SectorsPerChunk: 64, BytesPerSector: 512},
		wipeOnError:          true,
		compressEmptyBlock:   true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pool = NewFileIOPool(h.poolCapacity)
	h.segments = NewSegmentTable(basename, h.pool, h.format)
	h.deltas = NewDeltaSegmentTable(basename, h.pool, h.deltaSegmentFileSize)
	h.offsets = NewOffsetTable(1024)
	h.media.SetIdentifier = newSetIdentifier()
	return h, nil
}

// Open parses every segment file in paths, in the order given, and
// returns a read-only Handle. Segment files not listed in paths are not
// discovered by following the `next` section chain.
func Open(paths []string, opts ...Option) (*Handle, error) {
	if len(paths) == 0 {
		return nil, newErr("Open", KindInvalidArgument, "at least one segment file path is required")
	}
	h := &Handle{
		mode:        ModeRead,
		log:         newNotifier(nil),
		tolerance:   ErrorToleranceCompensate,
		header:      NewValueTable(),
		hash:        NewValueTable(),
		digest:      NewValueTable(),
		sessions:    NewSectorRangeTable(),
		acquiryErrs: NewSectorRangeTable(),
		crcErrs:     NewSectorRangeTable(),
		wipeOnError: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pool = NewFileIOPool(h.poolCapacity)
	basename := segmentBasename(paths[0])
	h.segments = NewSegmentTable(basename, h.pool, h.format)
	h.deltas = NewDeltaSegmentTable(basename, h.pool, h.deltaSegmentFileSize)
	h.offsets = NewOffsetTable(1024)

	nextChunk := 0
	for _, path := range paths {
		flag := osReadOnly
		idx, sf, err := h.segments.openExisting(path, flag)
		if err != nil {
			return nil, err
		}
		ps, err := readSegment(h.pool, sf.handle, nextChunk)
		if err != nil {
			return nil, err
		}
		if ps.header != nil {
			h.header = ps.header
		}
		if ps.hash != nil {
			h.hash = ps.hash
		}
		if ps.digest != nil {
			h.digest = ps.digest
		}
		if ps.media != nil {
			h.media = *ps.media
		}
		if ps.sessions != nil {
			h.sessions = ps.sessions
		}
		if ps.acquiryErrors != nil {
			h.acquiryErrs = ps.acquiryErrors
		}
		for _, group := range ps.chunkGroups {
			baseOffset, raw, err := readTablePayload(h.pool, sf.handle, group.tableSectionOffset, true)
			if err != nil {
				return nil, err
			}
			chunksSectionEnd := uint64(group.sectorsEnd)
			h.offsets.fillFromTablePayload(group.firstChunk, baseOffset, raw, idx, chunksSectionEnd)

			if group.table2SectionOffset >= 0 {
				baseOffset2, raw2, err := readTablePayload(h.pool, sf.handle, group.table2SectionOffset, false)
				if err != nil {
					return nil, err
				}
				secondary := NewOffsetTable(len(raw2))
				secondary.fillFromTablePayload(group.firstChunk, baseOffset2, raw2, idx, chunksSectionEnd)
				primaryView := OffsetTable{entries: h.offsets.entries[group.firstChunk : group.firstChunk+len(raw)]}
				secondaryView := OffsetTable{entries: secondary.entries[group.firstChunk : group.firstChunk+len(raw2)]}
				if err := reconcile(&primaryView, &secondaryView, h.tolerance); err != nil {
					return nil, err
				}
			}
		}
		nextChunk = ps.chunkCountAfter
	}
	if err := h.media.validate(); err != nil {
		return nil, err
	}
	h.mediaSizeKnownAtOpen = true
	h.valuesInitialized = true
	h.reader = newReader(h.pool, h.segments, h.deltas, h.offsets, h.media, h.crcErrs)
	h.reader.wipeOnError = h.wipeOnError
	h.reader.log = h.log
	h.reader.format = h.format
	return h, nil
}

// --- getters/setters ---

func (h *Handle) GetMediaType() MediaType   { return h.media.MediaType }
func (h *Handle) GetMediaFlags() MediaFlags { return h.media.MediaFlags }
func (h *Handle) GetMediaSize() uint64      { return h.media.MediaSize() }
func (h *Handle) GetChunkSize() uint32      { return h.media.ChunkSize() }
func (h *Handle) GetFormat() Format         { return h.format }
func (h *Handle) GetCompressionLevel() CompressionLevel { return h.media.CompressionLevel }
func (h *Handle) GetGUID() [16]byte         { return h.media.SetIdentifier }

// SetGUID overrides the acquisition's set_identifier. Create already
// generates one via newSetIdentifier; this exists for callers re-creating
// a set of segment files that must share an existing acquisition's GUID.
func (h *Handle) SetGUID(id [16]byte) error {
	if err := h.requireNotInitialized("SetGUID"); err != nil {
		return err
	}
	h.media.SetIdentifier = id
	return nil
}

func (h *Handle) requireNotInitialized(op string) error {
	if h.valuesInitialized {
		return newErr(op, KindStateViolation, "media values are immutable once the first chunk has been written")
	}
	return nil
}

// SetMediaType sets the acquired device class.
func (h *Handle) SetMediaType(t MediaType) error {
	if err := h.requireNotInitialized("SetMediaType"); err != nil {
		return err
	}
	h.media.MediaType = t
	return nil
}

// SetMediaSize sets the total media size in bytes, deriving
// number_of_sectors from bytes_per_sector.
func (h *Handle) SetMediaSize(size uint64) error {
	if err := h.requireNotInitialized("SetMediaSize"); err != nil {
		return err
	}
	if h.media.BytesPerSector == 0 {
		return newErr("SetMediaSize", KindStateViolation, "bytes_per_sector must be set before media_size")
	}
	h.media.NumberOfSectors = size / uint64(h.media.BytesPerSector)
	h.media.NumberOfChunks = expectedChunkCount(size, h.media.ChunkSize())
	h.mediaSizeKnownAtOpen = size > 0
	return nil
}

// SetSectorsPerChunk sets the chunk granularity.
func (h *Handle) SetSectorsPerChunk(n uint32) error {
	if err := h.requireNotInitialized("SetSectorsPerChunk"); err != nil {
		return err
	}
	h.media.SectorsPerChunk = n
	return nil
}

// SetBytesPerSector sets the sector size.
func (h *Handle) SetBytesPerSector(n uint32) error {
	if err := h.requireNotInitialized("SetBytesPerSector"); err != nil {
		return err
	}
	h.media.BytesPerSector = n
	return nil
}

// SetCompressionLevel rejects the unknown sentinel outright; some legacy
// tools silently accept it and fall back to a default level, which hides
// a caller mistake rather than surfacing it.
func (h *Handle) SetCompressionLevel(l CompressionLevel) error {
	if err := h.requireNotInitialized("SetCompressionLevel"); err != nil {
		return err
	}
	if !l.valid() {
		return newErr("SetCompressionLevel", KindInvalidArgument, "compression level %d is not a recognized value", l)
	}
	h.media.CompressionLevel = l
	return nil
}

// SetFormat selects the on-disk dialect.
func (h *Handle) SetFormat(f Format) error {
	if err := h.requireNotInitialized("SetFormat"); err != nil {
		return err
	}
	h.format = f
	return nil
}

// SetSegmentFileSize sets the target segment size, validating the
// argument just passed in rather than a stale cached value.
func (h *Handle) SetSegmentFileSize(n int64) error {
	if err := validateSegmentFileSize(n, h.media.ChunkSize()); err != nil {
		return err
	}
	h.segmentFileSize = n
	return nil
}

func (h *Handle) SetDeltaSegmentFileSize(n int64) error {
	if n <= 0 {
		return newErr("SetDeltaSegmentFileSize", KindInvalidArgument, "delta segment size must be positive")
	}
	h.deltaSegmentFileSize = n
	h.deltas.maxSize = n
	return nil
}

// GetHeaderValue / SetHeaderValue expose the ordered header table
//.
func (h *Handle) GetHeaderValue(key string) (string, bool) { return h.header.Get(key) }
func (h *Handle) SetHeaderValue(key, value string) error {
	if err := h.requireNotInitialized("SetHeaderValue"); err != nil {
		return err
	}
	h.header.Set(key, value)
	return nil
}

func (h *Handle) GetHashValue(key string) (string, bool) { return h.hash.Get(key) }
func (h *Handle) SetHashValue(key, value string) error {
	h.hash.Set(key, value)
	return nil
}

// GetMD5Hash / SetMD5Hash are the spec's named convenience (spec.md §6.2
// get/set_md5_hash) over the generic hash-value table, for the digest
// every format carries.
func (h *Handle) GetMD5Hash() (string, bool)      { return h.GetHashValue(KeyMD5) }
func (h *Handle) SetMD5Hash(hexDigest string) error { return h.SetHashValue(KeyMD5, hexDigest) }

// ParseHeaderValues returns the header-value table as stored; ValueTable
// already holds canonical keys, so nothing is re-derived. It fails only
// when no header table is present.
func (h *Handle) ParseHeaderValues() (*ValueTable, error) {
	if h.header == nil {
		return nil, newErr("ParseHeaderValues", KindMissingSection, "no header section has been read")
	}
	return h.header, nil
}

// ParseHashValues returns the hash-value table (MD5/SHA-1 digests) as
// stored; nothing is re-derived. It fails only when no hash table is present.
func (h *Handle) ParseHashValues() (*ValueTable, error) {
	if h.hash == nil {
		return nil, newErr("ParseHashValues", KindMissingSection, "no hash section has been read")
	}
	return h.hash, nil
}

// --- read/write/seek/close ---

// Seek repositions the logical read cursor; a write handle rejects it.
func (h *Handle) Seek(offset int64) error {
	if h.mode != ModeRead || h.reader == nil {
		return newErr("Seek", KindUnsupported, "seek is only supported on a read handle")
	}
	return h.reader.Seek(offset)
}

// Read reads from the current cursor position.
func (h *Handle) Read(p []byte) (int, error) {
	if h.mode != ModeRead || h.reader == nil {
		return 0, newErr("Read", KindUnsupported, "handle is not open for reading")
	}
	return h.reader.Read(p)
}

// ReadAt reads len(p) bytes at the given media offset without disturbing
// the cursor.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	if h.mode != ModeRead || h.reader == nil {
		return 0, newErr("ReadAt", KindUnsupported, "handle is not open for reading")
	}
	return h.reader.ReadAt(p, off)
}

// RewriteChunk overwrites chunkOffset..chunkOffset+len(data) within chunk
// chunkIndex, per spec.md §4.7: the new chunk is never written in place.
// The surrounding plaintext is read back from the base image (or a prior
// delta), the edit applied, and the whole chunk appended to the current
// delta segment file (DWF) with a fresh CRC. The offset-table entry is
// repointed at the DWF with the DELTA flag set; the original .E0x files
// are never touched.
func (h *Handle) RewriteChunk(chunkIndex int, chunkOffset int, data []byte) error {
	if h.mode != ModeRead || h.reader == nil {
		return newErr("RewriteChunk", KindUnsupported, "a delta write requires an open image (use Open)")
	}
	if chunkIndex < 0 || chunkIndex >= h.offsets.Len() {
		return newErr("RewriteChunk", KindValueOutOfBounds, "chunk %d is out of range", chunkIndex)
	}
	chunkSize := int(h.media.ChunkSize())
	if chunkOffset < 0 || chunkOffset+len(data) > chunkSize {
		return newErr("RewriteChunk", KindValueOutOfBounds,
			"edit [%d,%d) overflows chunk_size %d", chunkOffset, chunkOffset+len(data), chunkSize)
	}

	plain, err := h.reader.readChunk(chunkIndex)
	if err != nil {
		if ewfErr, ok := err.(*Error); !ok || ewfErr.Kind != KindChecksumMismatch {
			return err
		}
	}
	edited := make([]byte, chunkSize)
	copy(edited, plain)
	copy(edited[chunkOffset:], data)

	desc, err := writeDeltaChunk(h.pool, h.deltas, chunkIndex, edited, crc32Of(edited))
	if err != nil {
		return err
	}
	h.offsets.insert(chunkIndex, desc)
	h.reader.cache = chunkCache{} // invalidate: the edited chunk may be cached stale
	return nil
}

// Write appends acquired media bytes, splitting them into chunk-sized
// pieces, compressing/empty-detecting each, and rolling segments and
// chunks sections as the write planner demands.
func (h *Handle) Write(p []byte) (int, error) {
	if h.mode != ModeWrite {
		return 0, newErr("Write", KindUnsupported, "handle is not open for writing")
	}
	if h.aborted {
		return 0, newErr("Write", KindAborted, "acquisition was aborted")
	}
	if err := h.media.validate(); err != nil {
		return 0, err
	}
	if h.writer == nil {
		h.writer = newSegmentWriter(h.pool, h.segments, h.media, h.header, h.format, h.segmentFileSize, h.offsets)
	}
	h.valuesInitialized = true

	chunkSize := int(h.media.ChunkSize())
	written := 0
	for written < len(p) {
		end := written + chunkSize
		if end > len(p) {
			end = len(p)
		}
		if err := h.writeChunk(p[written:end]); err != nil {
			return written, err
		}
		h.bytesWritten += uint64(end - written)
		written = end
	}
	return written, nil
}

func (h *Handle) writeChunk(plain []byte) error {
	w := h.writer
	if w.state == writerInitial {
		if err := w.openSegment(); err != nil {
			return err
		}
	}
	if w.planner.createChunksSection {
		if err := w.beginChunksSection(h.offsets.Len()); err != nil {
			return err
		}
	}

	level := h.media.CompressionLevel
	forceCompress := h.compressEmptyBlock && isEmptyBlock(plain)
	var payload []byte
	var crc uint32
	compressed := false
	hasTrailer := true
	if level != CompressionNone || forceCompress {
		compLevel := level
		if forceCompress && level == CompressionNone {
			compLevel = CompressionFast
		}
		compressedPayload, err := zlibCompress(plain, compLevel)
		if err == nil && len(compressedPayload) < len(plain) {
			payload = compressedPayload
			compressed = true
			// EWF-S01 carries no separate chunk checksum for a compressed
			// chunk: the zlib stream's own trailing Adler-32 is the CRC.
			// Every other format appends an explicit CRC-32 of the
			// compressed bytes, same as an uncompressed chunk's trailer.
			if h.format == FormatSMART {
				hasTrailer = false
			} else {
				crc = crc32Of(compressedPayload)
			}
		}
	}
	if !compressed {
		payload = plain
		crc = crc32Of(plain)
	}

	index := h.offsets.Len()
	if err := w.appendChunk(index, payload, crc, compressed, hasTrailer); err != nil {
		return err
	}

	limit := chunksPerSectionLimit(h.format, 0)
	if w.planner.chunksSectionFull(limit) {
		h.log.debugf("segmentwriter", "event", "chunks_section_full", "chunks", w.planner.sectionChunkCount)
		if err := w.closeChunksSection(formatWritesTable2(h.format)); err != nil {
			return err
		}
	}
	if w.planner.segmentFull(h.segmentFileSize, h.media.ChunkSize(), h.segments.Count() == 1) {
		h.log.debugf("segmentwriter", "event", "segment_full", "segment", h.segments.Count())
		if w.state == writerInChunksSection {
			if err := w.closeChunksSection(formatWritesTable2(h.format)); err != nil {
				return err
			}
		}
		if err := w.writeNext(); err != nil {
			return err
		}
		h.writer = newSegmentWriter(h.pool, h.segments, h.media, h.header, h.format, h.segmentFileSize, h.offsets)
	}
	return nil
}

// Finalize closes out the acquisition: flushes any still-open chunks
// section, writes the hash/digest and `done` sections, and — if the
// media size was not known when Create was called — rewrites the
// segment 1 volume/data section in place now that number_of_chunks and
// number_of_sectors are finally known.
func (h *Handle) Finalize() error {
	if h.mode != ModeWrite {
		return newErr("Finalize", KindUnsupported, "handle is not open for writing")
	}
	if h.finalized {
		return nil
	}
	if h.writer == nil {
		return newErr("Finalize", KindStateViolation, "no data was written")
	}
	w := h.writer
	if w.state == writerInChunksSection {
		if err := w.closeChunksSection(formatWritesTable2(h.format)); err != nil {
			return err
		}
	}
	if err := w.writeDone(h.hash, h.digest, h.sessions, h.acquiryErrs); err != nil {
		return err
	}
	if !h.mediaSizeKnownAtOpen {
		h.media.NumberOfChunks = uint32(h.offsets.Len())
		bytesPerSector := uint64(h.media.BytesPerSector)
		h.media.NumberOfSectors = (h.bytesWritten + bytesPerSector - 1) / bytesPerSector
		if first, ok := h.segments.Get(0); ok {
			if desc, ok := first.sections.findLast(sectionVolume); ok {
				payload := h.media.encode()
				if _, err := h.pool.WriteAt(first.handle, payload, desc.StartOffset+sectionDescriptorSize); err != nil {
					return err
				}
			}
		}
	}
	h.finalized = true
	h.log.debugf("handle", "event", "finalized", "chunks", h.offsets.Len())
	return nil
}

// AddSession records a logical acquisition-pass boundary (spec.md §6.2
// add_session), emitted as a `session` section on Finalize.
func (h *Handle) AddSession(firstSector, sectorCount uint64) error {
	if h.mode != ModeWrite {
		return newErr("AddSession", KindUnsupported, "sessions are only recorded on a write handle")
	}
	h.sessions.AddSession(firstSector, sectorCount)
	return nil
}

// AddAcquiryError records a run of sectors the acquisition tool could not
// read from the source device (spec.md §6.2 add_acquiry_error), emitted
// as an `error2` section on Finalize.
func (h *Handle) AddAcquiryError(firstSector, sectorCount uint64) error {
	if h.mode != ModeWrite {
		return newErr("AddAcquiryError", KindUnsupported, "acquisition errors are only recorded on a write handle")
	}
	h.acquiryErrs.AddAcquiryError(firstSector, sectorCount)
	return nil
}

// AddCRCError records a run of sectors as known-bad without requiring a
// verification read, mirroring spec.md §6.2's add_crc_error (the same
// table readChunk populates automatically on a verification failure).
func (h *Handle) AddCRCError(firstSector, sectorCount uint64) error {
	h.crcErrs.AddCRCError(firstSector, sectorCount)
	return nil
}

// Sessions, AcquiryErrors and CRCErrors expose the sector-range tables
// spec.md §6.2's add_* operations populate, for caller inspection after a
// read or a finalized write.
func (h *Handle) Sessions() *SectorRangeTable      { return h.sessions }
func (h *Handle) AcquiryErrors() *SectorRangeTable { return h.acquiryErrs }
func (h *Handle) CRCErrors() *SectorRangeTable      { return h.crcErrs }

// SignalAbort requests that any in-progress Write stop at the next chunk
// boundary.
func (h *Handle) SignalAbort() {
	h.aborted = true
	h.log.warnf("handle", "event", "abort_signaled")
}

// Close releases every open file descriptor. If the handle is in write
// mode and data was written but never finalized, it finalizes first, per
// "close, which first invokes finalize if the handle is in write mode and
// not yet finalized."
func (h *Handle) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true
	if h.mode == ModeWrite && h.writer != nil && !h.finalized {
		if err := h.Finalize(); err != nil {
			return err
		}
	}
	return h.pool.Close()
}
