package bitcask

import (
	"bytes"
	"hash/crc32"
	"os"

	"github.com/natefinch/atomic"
)

// hintBuilder accumulates hint records for a single data-file scan/rewrite
// so the caller can seal it with a trailer and flush it to disk in one
// atomic write.
type hintBuilder struct {
	buf bytes.Buffer
}

func (b *hintBuilder) add(ts uint32, key []byte, total uint32, offset uint64, tombstone bool) {
	b.buf.Write(encodeHintEntry(ts, key, total, offset, tombstone))
}

// writeAtomic seals the builder with a trailer record covering the CRC of
// everything written so far, then materializes the hint file via
// rename-into-place so a crash never leaves a torn hint file on disk.
func (b *hintBuilder) writeAtomic(path string) error {
	body := b.buf.Bytes()
	trailer := encodeHintTrailer(crc32.ChecksumIEEE(body))

	var out bytes.Buffer
	out.Grow(len(body) + len(trailer))
	out.Write(body)
	out.Write(trailer)

	if err := atomic.WriteFile(path, bytes.NewReader(out.Bytes())); err != nil {
		return newError("hint", KindIOError, path, 0, err)
	}
	return nil
}

// loadHintFile validates a hint file's trailer CRC and, on success, streams
// its entries into kd (a tombstone entry is not loaded and removes its key
// from kd unless a later entry in the same file re-adds it). Returns false if
// the hint is missing, malformed, or fails CRC, in which case the caller
// must fall back to scanning the paired data file.
func loadHintFile(path string, fileID int64, kd *keydir) (ok bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if len(data) < hintEntrySize {
		return false
	}

	body, trailer := data[:len(data)-hintEntrySize], data[len(data)-hintEntrySize:]

	_, _, storedCRC, offset, _, err := decodeHintHeader(trailer)
	if err != nil || offset != hintTrailerOffset {
		return false
	}
	if crc32.ChecksumIEEE(body) != storedCRC {
		return false
	}

	staged := newKeydir()
	var dead [][]byte
	rest := body
	for len(rest) > 0 {
		if len(rest) < hintEntrySize {
			return false
		}
		ts, ksz, total, off, tombstone, err := decodeHintHeader(rest[:hintEntrySize])
		if err != nil {
			return false
		}
		rest = rest[hintEntrySize:]
		if len(rest) < int(ksz) {
			return false
		}
		key := rest[:ksz]
		rest = rest[ksz:]

		if tombstone {
			staged.delete(key)
			dead = append(dead, key)
		} else {
			staged.put(key, hint{fileID: fileID, position: int64(off), size: total, timestamp: ts})
		}
	}

	for _, key := range dead {
		kd.delete(key)
	}
	for _, key := range staged.keys() {
		h, _ := staged.get(key)
		kd.put(key, h)
	}
	return true
}
