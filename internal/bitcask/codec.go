package bitcask

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// dataHeaderSize is the fixed portion of a data-file entry:
// crc(4) + ts(4) + ksz(2) + vsz(4).
const dataHeaderSize = 14

// hintEntrySize is the fixed portion of a hint-file record:
// ts(4) + ksz(2) + total(4) + tomb|offset(8).
const hintEntrySize = 18

// hintTrailerOffset is the sentinel written into the hint trailer's offset
// field: the maximum 63-bit value, marking end-of-file.
const hintTrailerOffset = uint64(0x7FFFFFFFFFFFFFFF)

// tombBit is the high bit of the 8-byte tomb|offset hint field.
const tombBit = uint64(1) << 63

// tombstonePrefix marks a data-file entry as a deletion marker.
var tombstonePrefix = []byte("bitcask_tombstone")

type dataEntry struct {
	crc       uint32
	timestamp uint32
	ksz       uint16
	vsz       uint32
	key       []byte
	value     []byte
}

// encodeDataEntry packs key/value/ts into the on-disk data-file record
// layout (crc|ts|ksz|vsz|key|value, all big-endian) and returns the bytes
// plus the total entry size.
func encodeDataEntry(key, value []byte, ts uint32) ([]byte, int, error) {
	if len(key) > 1<<16 {
		return nil, 0, kindError("encode", KindInvalidKey)
	}
	if uint64(len(value)) >= 1<<63 {
		return nil, 0, kindError("encode", KindInvalidValue)
	}

	var tail bytes.Buffer
	tail.Grow(dataHeaderSize - 4 + len(key) + len(value))
	binary.Write(&tail, binary.BigEndian, ts)
	binary.Write(&tail, binary.BigEndian, uint16(len(key)))
	binary.Write(&tail, binary.BigEndian, uint32(len(value)))
	tail.Write(key)
	tail.Write(value)

	crc := crc32.ChecksumIEEE(tail.Bytes())

	var out bytes.Buffer
	out.Grow(4 + tail.Len())
	binary.Write(&out, binary.BigEndian, crc)
	out.Write(tail.Bytes())

	return out.Bytes(), out.Len(), nil
}

// decodeDataHeader parses the fixed 14-byte data-file header.
func decodeDataHeader(b []byte) (crc uint32, ts uint32, ksz uint16, vsz uint32, err error) {
	if len(b) < dataHeaderSize {
		return 0, 0, 0, 0, kindError("decode", KindCorruption)
	}
	crc = binary.BigEndian.Uint32(b[0:4])
	ts = binary.BigEndian.Uint32(b[4:8])
	ksz = binary.BigEndian.Uint16(b[8:10])
	vsz = binary.BigEndian.Uint32(b[10:14])
	return crc, ts, ksz, vsz, nil
}

// verifyDataCRC recomputes CRC32 over header[4:]||key||value and compares
// it against the stored crc.
func verifyDataCRC(crc uint32, header []byte, key, value []byte) bool {
	h := crc32.NewIEEE()
	h.Write(header[4:])
	h.Write(key)
	h.Write(value)
	return h.Sum32() == crc
}

func isTombstone(value []byte) bool {
	return bytes.HasPrefix(value, tombstonePrefix)
}

// encodeHintEntry packs a hint-file record: ts|ksz|total|tomb|offset|key.
func encodeHintEntry(ts uint32, key []byte, total uint32, offset uint64, tombstone bool) []byte {
	packed := offset
	if tombstone {
		packed |= tombBit
	}

	var buf bytes.Buffer
	buf.Grow(hintEntrySize + len(key))
	binary.Write(&buf, binary.BigEndian, ts)
	binary.Write(&buf, binary.BigEndian, uint16(len(key)))
	binary.Write(&buf, binary.BigEndian, total)
	binary.Write(&buf, binary.BigEndian, packed)
	buf.Write(key)
	return buf.Bytes()
}

// decodeHintHeader parses the fixed 18-byte hint record header (without
// the trailing key bytes).
func decodeHintHeader(b []byte) (ts uint32, ksz uint16, total uint32, offset uint64, tombstone bool, err error) {
	if len(b) < hintEntrySize {
		return 0, 0, 0, 0, false, kindError("decode", KindCorruption)
	}
	ts = binary.BigEndian.Uint32(b[0:4])
	ksz = binary.BigEndian.Uint16(b[4:6])
	total = binary.BigEndian.Uint32(b[6:10])
	packed := binary.BigEndian.Uint64(b[10:18])
	tombstone = packed&tombBit != 0
	offset = packed &^ tombBit
	return ts, ksz, total, offset, tombstone, nil
}

// encodeHintTrailer packs the sentinel trailer record: ts=0, ksz=0,
// total=crc32(body), offset=hintTrailerOffset.
func encodeHintTrailer(bodyCRC uint32) []byte {
	var buf bytes.Buffer
	buf.Grow(hintEntrySize)
	binary.Write(&buf, binary.BigEndian, uint32(0))
	binary.Write(&buf, binary.BigEndian, uint16(0))
	binary.Write(&buf, binary.BigEndian, bodyCRC)
	binary.Write(&buf, binary.BigEndian, hintTrailerOffset)
	return buf.Bytes()
}
