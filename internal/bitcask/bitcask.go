// Package bitcask implements a persistent, embedded, single-node
// key/value store following Basho's Bitcask design: an append-only,
// log-structured on-disk layout paired with a complete in-memory keydir
// mapping every live key to the location of its latest value.
package bitcask

import (
	"os"
	"sync"
	"time"
)

// Bitcask is a single-writer, append-only key/value store bound to one
// directory. The zero value is not usable; construct with Open.
type Bitcask struct {
	mu  sync.RWMutex
	dir string
	opt *Options

	wlock *writeLock

	files  map[int64]*dataFile
	active *dataFile

	kd *keydir

	closed bool
}

// Open opens (creating if absent) a Bitcask store rooted at dir. Only one
// process may hold the directory open at a time; a second Open from a live
// process fails with a Locked error.
func Open(dir string, opts ...Option) (*Bitcask, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, newError("open", KindIOError, dir, 0, err)
	}

	ids, err := discoverDataFiles(dir)
	if err != nil {
		return nil, err
	}

	nextID := int64(1)
	if len(ids) > 0 {
		nextID = ids[len(ids)-1] + 1
	}

	wlock, err := acquireWriteLock(dir, dataFileBaseName(nextID))
	if err != nil {
		return nil, err
	}

	db := &Bitcask{
		dir:   dir,
		opt:   o,
		wlock: wlock,
		files: make(map[int64]*dataFile),
		kd:    newKeydir(),
	}

	for _, id := range ids {
		df, err := openImmutable(dir, id)
		if err != nil {
			db.closeFilesOnFailure()
			wlock.release()
			return nil, err
		}
		db.files[id] = df

		if hintPresent(dir, id) && loadHintFile(hintFileName(dir, id), id, db.kd) {
			o.Logger.Infow("recovered from hint file", "file_id", id)
			continue
		}

		o.Logger.Warnw("hint file missing or invalid, rebuilding from data file", "file_id", id)
		if err := scanDataFile(df, db.kd); err != nil {
			db.closeFilesOnFailure()
			wlock.release()
			return nil, err
		}
	}

	active, err := createActive(dir, nextID)
	if err != nil {
		db.closeFilesOnFailure()
		wlock.release()
		return nil, err
	}
	db.files[nextID] = active
	db.active = active

	return db, nil
}

func (db *Bitcask) closeFilesOnFailure() {
	for _, f := range db.files {
		f.closeAll()
	}
}

// Put stores value under key, overwriting any existing value. The new
// entry always wins on the next Get regardless of durability mode.
func (db *Bitcask) Put(key, value []byte) error {
	if len(key) > 1<<16 {
		return kindError("put", KindInvalidKey)
	}
	if uint64(len(value)) >= 1<<63 {
		return kindError("put", KindInvalidValue)
	}
	if isTombstone(value) {
		return kindError("put", KindInvalidValue)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kindError("put", KindIOError)
	}

	return db.append(key, value, false)
}

// append writes one data-file entry (live or tombstone) to the active
// file, updates its paired hint file, and reflects the change into the
// keydir. Callers must hold db.mu for writing.
func (db *Bitcask) append(key, value []byte, tombstone bool) error {
	ts := uint32(time.Now().Unix())

	buf, total, err := encodeDataEntry(key, value, ts)
	if err != nil {
		return err
	}

	if err := db.rolloverIfNeeded(int64(total)); err != nil {
		return err
	}

	offset := db.active.size
	if _, err := db.active.w.Write(buf); err != nil {
		return newError("put", KindIOError, db.active.dataPath, offset, err)
	}
	db.active.size += int64(total)

	if db.opt.Sync {
		if err := db.syncActive(); err != nil {
			return err
		}
	}

	hintEntry := encodeHintEntry(ts, key, uint32(total), uint64(offset), tombstone)
	if _, err := db.active.hw.Write(hintEntry); err != nil {
		return newError("put", KindIOError, db.active.hintPath, offset, err)
	}
	db.active.hintCRC.Write(hintEntry)

	if tombstone {
		db.kd.delete(key)
	} else {
		db.kd.put(key, hint{fileID: db.active.id, position: offset, size: uint32(total), timestamp: ts})
	}

	return nil
}

func (db *Bitcask) syncActive() error {
	if db.opt.FileSyncMode == FsyncMode {
		if err := db.active.w.Sync(); err != nil {
			return newError("put", KindIOError, db.active.dataPath, 0, err)
		}
		return nil
	}
	// FlushMode: os.File has no userspace buffer of its own (writes go
	// straight to the kernel via the write(2) syscall), so there is
	// nothing additional to flush here beyond what Write already did;
	// this branch exists to make the two durability modes symmetric and
	// to document where a buffered writer's Flush() would go if one were
	// introduced.
	return nil
}

// rolloverIfNeeded seals the active file and opens a new one if appending
// addBytes more would exceed Options.MaxFileBytes.
func (db *Bitcask) rolloverIfNeeded(addBytes int64) error {
	if db.active.size == 0 || db.active.size+addBytes <= db.opt.MaxFileBytes {
		return nil
	}

	if err := db.sealActive(); err != nil {
		return err
	}

	nextID := db.active.id + 1
	for id := range db.files {
		if id >= nextID {
			nextID = id + 1
		}
	}
	active, err := createActive(db.dir, nextID)
	if err != nil {
		return err
	}
	db.files[nextID] = active
	db.active = active

	db.opt.Logger.Infow("rolled over to new active file", "file_id", nextID)
	return nil
}

// sealActive finalizes the current active file's hint trailer and closes
// its append handles, turning it into an ordinary immutable file.
func (db *Bitcask) sealActive() error {
	trailer := encodeHintTrailer(db.active.hintCRC.Sum32())
	if _, err := db.active.hw.Write(trailer); err != nil {
		return newError("close", KindIOError, db.active.hintPath, 0, err)
	}
	return db.active.seal()
}

// Get returns the current value for key, or a NotFound error if the key
// is absent (or was deleted).
func (db *Bitcask) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	h, ok := db.kd.get(key)
	if !ok {
		return nil, kindError("get", KindNotFound)
	}

	df, ok := db.files[h.fileID]
	if !ok {
		return nil, newError("get", KindCorruption, "", h.position, nil)
	}

	buf := make([]byte, h.size)
	if _, err := df.r.ReadAt(buf, h.position); err != nil {
		return nil, newError("get", KindIOError, df.dataPath, h.position, err)
	}

	_, _, ksz, _, err := decodeDataHeader(buf)
	if err != nil {
		return nil, newError("get", KindCorruption, df.dataPath, h.position, err)
	}

	value := make([]byte, len(buf)-dataHeaderSize-int(ksz))
	copy(value, buf[dataHeaderSize+int(ksz):])
	return value, nil
}

// Delete removes key by appending a tombstone entry. Deleting a key that
// does not exist is a no-op, matching the map-like surface's idempotence.
func (db *Bitcask) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kindError("delete", KindIOError)
	}
	if !db.kd.contains(key) {
		return nil
	}
	return db.append(key, tombstonePrefix, true)
}

// Contains reports whether key currently has a live value. It never
// touches disk.
func (db *Bitcask) Contains(key []byte) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kd.contains(key)
}

// Len returns the number of live (non-tombstone) keys.
func (db *Bitcask) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kd.len()
}

// Keys returns every live key. It never touches disk.
func (db *Bitcask) Keys() [][]byte {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.kd.keys()
}

// Close finalizes the active hint file, flushes and closes every open file
// handle, and releases the directory's write lock. Close is idempotent.
func (db *Bitcask) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var firstErr error
	if err := db.sealActive(); err != nil && firstErr == nil {
		firstErr = err
	}
	for _, f := range db.files {
		if err := f.closeAll(); err != nil && firstErr == nil {
			firstErr = newError("close", KindIOError, f.dataPath, 0, err)
		}
	}
	if err := db.wlock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
