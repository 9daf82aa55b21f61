package ewf

import (
	"io"
	"os"
	"sync"
)

// defaultPoolCapacity bounds how many segment files the pool keeps open
// at once.
const defaultPoolCapacity = 64

// Common pool open flags used by the segment/delta-segment tables.
const (
	osCreateRW   = os.O_RDWR | os.O_CREATE
	osReadOnly   = os.O_RDONLY
)

// poolHandle identifies one segment file to the pool. Callers must not
// assume the underlying *os.File stays open or identical across calls
//.
type poolHandle int

// FileIOPool opens/closes/reads/writes/seeks across N segment files,
// transparently closing and reopening to stay under its descriptor
// budget. The pool is not internally synchronized
// unless the host explicitly builds it that way — this implementation
// does synchronize internally so it is always safe to share, which is a
// superset of the spec's minimum requirement.
type FileIOPool struct {
	mu       sync.Mutex
	capacity int
	files    map[poolHandle]*pooledFile
	lru      []poolHandle
	next     poolHandle
}

type pooledFile struct {
	path   string
	flag   int
	fd     *os.File // nil when evicted
	offset int64    // logical offset, preserved across evict/reopen
}

func NewFileIOPool(capacity int) *FileIOPool {
	if capacity <= 0 {
		capacity = defaultPoolCapacity
	}
	return &FileIOPool{capacity: capacity, files: make(map[poolHandle]*pooledFile)}
}

// Open registers path and returns a handle. It never touches the
// filesystem: the file is opened (and created, if flag includes
// os.O_CREATE) lazily on first use, so a bad path surfaces as an error
// from the first read, write or size call rather than from Open.
func (p *FileIOPool) Open(path string, flag int) (poolHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h := p.next
	p.next++
	p.files[h] = &pooledFile{path: path, flag: flag}
	return h, nil
}

func (p *FileIOPool) ensureOpen(h poolHandle) (*pooledFile, error) {
	pf, ok := p.files[h]
	if !ok {
		return nil, newErr("FileIOPool", KindInvalidArgument, "unknown pool handle")
	}
	if pf.fd != nil {
		p.touch(h)
		return pf, nil
	}
	if len(p.lru) >= p.capacity {
		p.evictOldest()
	}
	fd, err := os.OpenFile(pf.path, pf.flag, 0o644)
	if err != nil {
		return nil, wrapErr("FileIOPool.ensureOpen", KindIoFailure, err)
	}
	if _, err := fd.Seek(pf.offset, io.SeekStart); err != nil {
		fd.Close()
		return nil, wrapErr("FileIOPool.ensureOpen", KindIoFailure, err)
	}
	pf.fd = fd
	p.lru = append(p.lru, h)
	return pf, nil
}

func (p *FileIOPool) touch(h poolHandle) {
	for i, v := range p.lru {
		if v == h {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			break
		}
	}
	p.lru = append(p.lru, h)
}

func (p *FileIOPool) evictOldest() {
	if len(p.lru) == 0 {
		return
	}
	h := p.lru[0]
	p.lru = p.lru[1:]
	if pf, ok := p.files[h]; ok && pf.fd != nil {
		if off, err := pf.fd.Seek(0, io.SeekCurrent); err == nil {
			pf.offset = off
		}
		pf.fd.Close()
		pf.fd = nil
	}
}

// ReadAt reads len(buf) bytes from handle h at offset off.
func (p *FileIOPool) ReadAt(h poolHandle, buf []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf, err := p.ensureOpen(h)
	if err != nil {
		return 0, err
	}
	n, err := pf.fd.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return n, wrapErr("FileIOPool.ReadAt", KindIoFailure, err)
	}
	return n, nil
}

// WriteAt writes buf to handle h at offset off.
func (p *FileIOPool) WriteAt(h poolHandle, buf []byte, off int64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf, err := p.ensureOpen(h)
	if err != nil {
		return 0, err
	}
	n, err := pf.fd.WriteAt(buf, off)
	if err != nil {
		return n, wrapErr("FileIOPool.WriteAt", KindIoFailure, err)
	}
	return n, nil
}

// Append writes buf at the current end of the file and returns the
// offset it was written at.
func (p *FileIOPool) Append(h poolHandle, buf []byte) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf, err := p.ensureOpen(h)
	if err != nil {
		return 0, err
	}
	off, err := pf.fd.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, wrapErr("FileIOPool.Append", KindIoFailure, err)
	}
	if _, err := pf.fd.WriteAt(buf, off); err != nil {
		return 0, wrapErr("FileIOPool.Append", KindIoFailure, err)
	}
	return off, nil
}

// Size returns the current size of the segment file behind h.
func (p *FileIOPool) Size(h poolHandle) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pf, err := p.ensureOpen(h)
	if err != nil {
		return 0, err
	}
	info, err := pf.fd.Stat()
	if err != nil {
		return 0, wrapErr("FileIOPool.Size", KindIoFailure, err)
	}
	return info.Size(), nil
}

// poolReaderAt adapts one pool handle to io.ReaderAt, for call sites
// (readSectionAt and friends) that want plain random-access reads
// without threading the handle through every call.
type poolReaderAt struct {
	pool *FileIOPool
	h    poolHandle
}

func (r poolReaderAt) ReadAt(buf []byte, off int64) (int, error) {
	return r.pool.ReadAt(r.h, buf, off)
}

// ReaderAt returns an io.ReaderAt bound to handle h.
func (p *FileIOPool) ReaderAt(h poolHandle) io.ReaderAt {
	return poolReaderAt{pool: p, h: h}
}

// Path returns the filesystem path registered for h.
func (p *FileIOPool) Path(h poolHandle) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pf, ok := p.files[h]; ok {
		return pf.path
	}
	return ""
}

// Close closes every open descriptor the pool holds.
func (p *FileIOPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for _, pf := range p.files {
		if pf.fd != nil {
			if err := pf.fd.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			pf.fd = nil
		}
	}
	p.lru = nil
	return firstErr
}
