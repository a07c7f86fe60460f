package miniext

import (
	"encoding/binary"

	"github.com/zhukovaskychina/miniext/server/miniext/dataconfig"
)

// metaHeaderSize is the on-page size of a metadata page's header:
// next_meta_addr (u64), pos (u32), num_entries (u32).
const metaHeaderSize = 8 + 4 + 4

// entryFixedSize is the on-page size of a metadata entry excluding its
// variable-length start_key: extent_addr (u64), start_key_length (u16),
// end_key_length (u16), released (u8), and the fixed-size end_key slot.
// end_key is fixed-size because it is written after the entry is
// appended, once the batch's next allocation defines this extent's
// upper bound; a variable-length field cannot be grown in place on an
// append-only page without shifting every entry after it.
const entryFixedSize = 8 + 2 + 2 + 1 + dataconfig.MaxInlineKeySize

// entryWorstCaseSize is entryFixedSize plus a start_key at its maximum
// length; fit-before-append checks are always made against this, not
// an entry's actual size, so the check does not need to know the key
// up front.
const entryWorstCaseSize = entryFixedSize + dataconfig.MaxInlineKeySize

type metaEntry struct {
	extentAddr  uint64
	startKeyLen uint16
	endKeyLen   uint16
	released    bool
	endKey      [dataconfig.MaxInlineKeySize]byte
	startKey    []byte
}

func (e *metaEntry) size() int {
	return entryFixedSize + int(e.startKeyLen)
}

func (e *metaEntry) EndKey() []byte {
	return e.endKey[:e.endKeyLen]
}

// encodeEntry writes e at the start of buf. buf must have room for at
// least e.size() bytes.
func encodeEntry(buf []byte, e *metaEntry) {
	binary.LittleEndian.PutUint64(buf[0:8], e.extentAddr)
	binary.LittleEndian.PutUint16(buf[8:10], e.startKeyLen)
	binary.LittleEndian.PutUint16(buf[10:12], e.endKeyLen)
	if e.released {
		buf[12] = 1
	} else {
		buf[12] = 0
	}
	copy(buf[13:13+dataconfig.MaxInlineKeySize], e.endKey[:])
	copy(buf[13+dataconfig.MaxInlineKeySize:13+dataconfig.MaxInlineKeySize+int(e.startKeyLen)], e.startKey)
}

// decodeEntry reads one entry starting at the head of buf. Entries
// cannot be random-accessed by index; callers walk sequentially,
// advancing by the returned entry's size() each time.
func decodeEntry(buf []byte) metaEntry {
	var e metaEntry
	e.extentAddr = binary.LittleEndian.Uint64(buf[0:8])
	e.startKeyLen = binary.LittleEndian.Uint16(buf[8:10])
	e.endKeyLen = binary.LittleEndian.Uint16(buf[10:12])
	e.released = buf[12] != 0
	copy(e.endKey[:], buf[13:13+dataconfig.MaxInlineKeySize])
	start := 13 + dataconfig.MaxInlineKeySize
	e.startKey = append([]byte(nil), buf[start:start+int(e.startKeyLen)]...)
	return e
}

type metaHeader struct {
	nextMetaAddr uint64
	pos          uint32
	numEntries   uint32
}

func readHeader(data []byte) metaHeader {
	return metaHeader{
		nextMetaAddr: binary.LittleEndian.Uint64(data[0:8]),
		pos:          binary.LittleEndian.Uint32(data[8:12]),
		numEntries:   binary.LittleEndian.Uint32(data[12:16]),
	}
}

func writeHeader(data []byte, h metaHeader) {
	binary.LittleEndian.PutUint64(data[0:8], h.nextMetaAddr)
	binary.LittleEndian.PutUint32(data[8:12], h.pos)
	binary.LittleEndian.PutUint32(data[12:16], h.numEntries)
}

// writeEntryEndKey backfills the end_key of the entry at entryOffset in
// place. This is safe on an append-only page only because end_key has a
// fixed-size slot: no later entry needs to move.
func writeEntryEndKey(data []byte, entryOffset int, endKey []byte) {
	binary.LittleEndian.PutUint16(data[entryOffset+10:entryOffset+12], uint16(len(endKey)))
	slot := data[entryOffset+13 : entryOffset+13+dataconfig.MaxInlineKeySize]
	for i := range slot {
		slot[i] = 0
	}
	copy(slot, endKey)
}

func writeEntryReleased(data []byte, entryOffset int, released bool) {
	if released {
		data[entryOffset+12] = 1
	} else {
		data[entryOffset+12] = 0
	}
}
