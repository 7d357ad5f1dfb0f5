package bitcask

import (
	"os"
	"path/filepath"
)

// Merge compacts every immutable data file into a single new data+hint
// file pair containing only the latest live value for each key still
// resident in one of those files, then atomically swaps the old files out
// for the new one. At most one merge runs per directory at a
// time, guarded by bitcask.merge.lock.
func (db *Bitcask) Merge() error {
	mlock, err := acquireMergeLock(db.dir)
	if err != nil {
		return err
	}
	defer mlock.release()

	type candidate struct {
		key []byte
		h   hint
	}

	db.mu.RLock()
	if db.closed {
		db.mu.RUnlock()
		return kindError("merge", KindIOError)
	}
	activeID := db.active.id
	var candidates []candidate
	oldIDs := map[int64]struct{}{}
	for _, k := range db.kd.keys() {
		h, _ := db.kd.get(k)
		if h.fileID == activeID {
			continue
		}
		candidates = append(candidates, candidate{key: k, h: h})
		oldIDs[h.fileID] = struct{}{}
	}
	files := make(map[int64]*dataFile, len(db.files))
	for id, f := range db.files {
		files[id] = f
	}
	db.mu.RUnlock()

	if len(candidates) == 0 {
		db.opt.Logger.Infow("merge: nothing to compact")
		return nil
	}

	db.mu.Lock()
	mergeID := activeID
	for id := range db.files {
		if id > mergeID {
			mergeID = id
		}
	}
	mergeID++
	db.files[mergeID] = &dataFile{id: mergeID} // reserve the id against concurrent rollover
	db.mu.Unlock()

	staging, err := os.MkdirTemp(db.dir, "bitcask-merge-*")
	if err != nil {
		return newError("merge", KindIOError, db.dir, 0, err)
	}
	defer os.RemoveAll(staging)

	dataBuf := make([]byte, 0, 4096)
	builder := &hintBuilder{}
	fresh := make(map[string]hint, len(candidates))

	var offset int64
	for _, c := range candidates {
		src, ok := files[c.h.fileID]
		if !ok {
			continue
		}
		raw := make([]byte, c.h.size)
		if _, err := src.r.ReadAt(raw, c.h.position); err != nil {
			return newError("merge", KindIOError, src.dataPath, c.h.position, err)
		}
		_, ts, _, _, err := decodeDataHeader(raw)
		if err != nil {
			return newError("merge", KindCorruption, src.dataPath, c.h.position, err)
		}

		dataBuf = append(dataBuf, raw...)
		builder.add(ts, c.key, c.h.size, uint64(offset), false)
		fresh[string(c.key)] = hint{fileID: mergeID, position: offset, size: c.h.size, timestamp: ts}
		offset += int64(c.h.size)
	}

	stagingData := filepath.Join(staging, dataFileBaseName(mergeID))
	if err := os.WriteFile(stagingData, dataBuf, 0o644); err != nil {
		return newError("merge", KindIOError, stagingData, 0, err)
	}

	finalData := dataFileName(db.dir, mergeID)
	if err := os.Rename(stagingData, finalData); err != nil {
		return newError("merge", KindIOError, finalData, 0, err)
	}
	if err := builder.writeAtomic(hintFileName(db.dir, mergeID)); err != nil {
		return err
	}

	merged, err := openImmutable(db.dir, mergeID)
	if err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	db.files[mergeID] = merged
	for _, c := range candidates {
		current, ok := db.kd.get(c.key)
		if !ok {
			continue // deleted since the snapshot was taken
		}
		if current.fileID != c.h.fileID || current.position != c.h.position || current.timestamp != c.h.timestamp {
			continue // overwritten since the snapshot was taken; leave it alone
		}
		db.kd.put(c.key, fresh[string(c.key)])
	}

	for id := range oldIDs {
		if db.fileStillReferenced(id) {
			continue
		}
		old, ok := db.files[id]
		if !ok {
			continue
		}
		old.closeAll()
		os.Remove(old.dataPath)
		os.Remove(old.hintPath)
		delete(db.files, id)
	}

	db.opt.Logger.Infow("merge: compacted", "new_file_id", mergeID, "keys", len(fresh))
	return nil
}

// fileStillReferenced reports whether any live keydir entry still points
// at fileID. Callers must hold db.mu.
func (db *Bitcask) fileStillReferenced(fileID int64) bool {
	for _, k := range db.kd.keys() {
		h, _ := db.kd.get(k)
		if h.fileID == fileID {
			return true
		}
	}
	return false
}
