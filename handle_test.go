package ewf

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
)

func TestHandleWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir+"/image", WithFormat(FormatEnCase6), WithCompressionLevel(CompressionFast))
	assert.NoError(t, err)

	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(64))
	assert.NoError(t, h.SetHeaderValue(KeyCaseNumber, "case-042"))

	media := bytes.Repeat([]byte("ACQUIRE"), 20000) // several chunks worth
	n, err := h.Write(media)
	assert.NoError(t, err)
	assert.Equal(t, len(media), n)

	assert.NoError(t, h.SetHashValue(KeyMD5, "d41d8cd98f00b204e9800998ecf8427e"))
	assert.NoError(t, h.Finalize())
	assert.NoError(t, h.Close())

	name, extErr := segmentExtension(1, FormatEnCase6)
	assert.NoError(t, extErr)
	path := dir + "/image." + name

	readHandle, err := Open([]string{path})
	assert.NoError(t, err)
	defer readHandle.Close()

	caseNumber, ok := readHandle.GetHeaderValue(KeyCaseNumber)
	assert.True(t, ok)
	assert.Equal(t, "case-042", caseNumber)

	// media_size is whole sectors: the 140000 bytes written occupy 274
	// sectors of 512 bytes.
	assert.EqualValues(t, 274*512, readHandle.GetMediaSize())

	buf := make([]byte, len(media))
	_, err = readHandle.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, media, buf)
}

func TestHandleRejectsSetAfterFirstWrite(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir + "/image")
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(64))

	_, err = h.Write(bytes.Repeat([]byte{0x41}, 4096))
	assert.NoError(t, err)

	err = h.SetBytesPerSector(4096)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindStateViolation, e.Kind)
}

func TestHandleGUIDAndMD5HashConvenience(t *testing.T) {
	h, err := Create(t.TempDir() + "/image")
	assert.NoError(t, err)

	var id [16]byte
	id[0], id[15] = 0xaa, 0xbb
	assert.NoError(t, h.SetGUID(id))
	assert.Equal(t, id, h.GetGUID())

	assert.NoError(t, h.SetMD5Hash("d41d8cd98f00b204e9800998ecf8427e"))
	md5, ok := h.GetMD5Hash()
	assert.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", md5)
}

func TestHandleRejectsUnknownCompressionLevel(t *testing.T) {
	h, err := Create(t.TempDir() + "/image")
	assert.NoError(t, err)
	err = h.SetCompressionLevel(compressionUnknown)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindInvalidArgument, e.Kind)
}

func TestHandleRewriteChunkWritesDeltaSegment(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir+"/image", WithFormat(FormatEnCase6))
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(1))

	media := bytes.Repeat([]byte{0x41}, 512*3) // 3 chunks
	_, err = h.Write(media)
	assert.NoError(t, err)
	assert.NoError(t, h.Finalize())
	assert.NoError(t, h.Close())

	name, extErr := segmentExtension(1, FormatEnCase6)
	assert.NoError(t, extErr)
	path := dir + "/image." + name

	readHandle, err := Open([]string{path})
	assert.NoError(t, err)
	defer readHandle.Close()

	replacement := bytes.Repeat([]byte{0x42}, 512)
	assert.NoError(t, readHandle.RewriteChunk(1, 0, replacement))

	buf := make([]byte, 512)
	_, err = readHandle.ReadAt(buf, 512)
	assert.NoError(t, err)
	assert.Equal(t, replacement, buf)

	// untouched chunks still read back their original bytes.
	buf0 := make([]byte, 512)
	_, err = readHandle.ReadAt(buf0, 0)
	assert.NoError(t, err)
	assert.Equal(t, media[:512], buf0)

	if _, err := os.Stat(dir + "/image.d01"); err != nil {
		t.Fatalf("expected a delta segment file to be created: %v", err)
	}
}

func TestHandleOpenRepairsCorruptedTable2UnderCompensate(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir+"/image", WithFormat(FormatEnCase6))
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(1))

	media := bytes.Repeat([]byte{0x41}, 512*2) // 2 chunks
	_, err = h.Write(media)
	assert.NoError(t, err)
	assert.NoError(t, h.Finalize())
	assert.NoError(t, h.Close())

	name, extErr := segmentExtension(1, FormatEnCase6)
	assert.NoError(t, extErr)
	path := dir + "/image." + name

	// Corrupt the first table2 entry's offset so it disagrees with the
	// primary table, simulating spec.md §8 scenario 5.
	pool := NewFileIOPool(1)
	fh, err := pool.Open(path, osCreateRW)
	assert.NoError(t, err)
	ps, err := readSegment(pool, fh, 0)
	assert.NoError(t, err)
	assert.Len(t, ps.chunkGroups, 1)
	table2Offset := ps.chunkGroups[0].table2SectionOffset
	assert.GreaterOrEqual(t, table2Offset, int64(0))
	entriesStart := table2Offset + sectionDescriptorSize + 36
	garbage := make([]byte, 4)
	putUint32(garbage, 0xdeadbeef)
	_, err = pool.WriteAt(fh, garbage, entriesStart)
	assert.NoError(t, err)
	assert.NoError(t, pool.Close())

	readHandle, err := Open([]string{path}, func(h *Handle) { h.tolerance = ErrorToleranceCompensate })
	assert.NoError(t, err)
	defer readHandle.Close()

	d0, ok := readHandle.offsets.lookup(0)
	assert.True(t, ok)
	assert.True(t, d0.Flags&ChunkTainted != 0)

	// the primary-derived bytes are still returned for the tainted chunk.
	buf := make([]byte, 512)
	_, err = readHandle.ReadAt(buf, 0)
	assert.NoError(t, err)
	assert.Equal(t, media[:512], buf)
}

func TestHandleSessionsAndAcquiryErrorsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir+"/image", WithFormat(FormatEnCase6))
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(1))

	media := bytes.Repeat([]byte{0x41}, 512*4)
	_, err = h.Write(media)
	assert.NoError(t, err)

	assert.NoError(t, h.AddSession(0, 2))
	assert.NoError(t, h.AddAcquiryError(2, 1))
	assert.NoError(t, h.Finalize())
	assert.NoError(t, h.Close())

	name, extErr := segmentExtension(1, FormatEnCase6)
	assert.NoError(t, extErr)
	path := dir + "/image." + name

	readHandle, err := Open([]string{path})
	assert.NoError(t, err)
	defer readHandle.Close()

	assert.Equal(t, 1, readHandle.Sessions().Len())
	session, ok := readHandle.Sessions().At(0)
	assert.True(t, ok)
	assert.Equal(t, SectorRange{FirstSector: 0, SectorCount: 2}, session)

	assert.Equal(t, 1, readHandle.AcquiryErrors().Len())
	acqErr, ok := readHandle.AcquiryErrors().At(0)
	assert.True(t, ok)
	assert.Equal(t, SectorRange{FirstSector: 2, SectorCount: 1}, acqErr)
}

func TestHandleAddSessionRejectedOnReadHandle(t *testing.T) {
	dir := t.TempDir()
	h, err := Create(dir+"/image", WithFormat(FormatEnCase6))
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(1))
	_, err = h.Write(bytes.Repeat([]byte{0x41}, 512))
	assert.NoError(t, err)
	assert.NoError(t, h.Finalize())
	assert.NoError(t, h.Close())

	name, extErr := segmentExtension(1, FormatEnCase6)
	assert.NoError(t, extErr)
	readHandle, err := Open([]string{dir + "/image." + name})
	assert.NoError(t, err)
	defer readHandle.Close()

	err = readHandle.AddSession(0, 1)
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindUnsupported, e.Kind)
}

func TestHandleSignalAbortStopsWrites(t *testing.T) {
	h, err := Create(t.TempDir() + "/image")
	assert.NoError(t, err)
	assert.NoError(t, h.SetBytesPerSector(512))
	assert.NoError(t, h.SetSectorsPerChunk(64))
	h.SignalAbort()

	_, err = h.Write([]byte("anything"))
	var e *Error
	assert.ErrorAs(t, err, &e)
	assert.Equal(t, KindAborted, e.Kind)
}

func TestHandleSignalAbortLogsThroughInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	h, err := Create(t.TempDir()+"/image", WithLogger(log.NewLogfmtLogger(&buf)))
	assert.NoError(t, err)

	h.SignalAbort()
	assert.Contains(t, buf.String(), "abort_signaled")
	assert.True(t, strings.Contains(buf.String(), "component=handle"))
}
