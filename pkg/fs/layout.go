package fs

import "math"

// Volume geometry. These values are fixed: they determine the on-disk layout
// and changing any of them makes existing volumes unreadable.
const (
	// MaxFiles is the number of inode slots
	MaxFiles = 5

	// MaxBlocks is the number of data blocks and of allocation table slots
	MaxBlocks = 10

	// BlockSize is the size of one data block in bytes
	BlockSize = 128

	// NameLen is the maximum file name length in bytes
	NameLen = 11

	// MaxFileSize is the largest size the int16 size field can record
	MaxFileSize = math.MaxInt16
)

// none marks an absent chain slot or block index.
const none = -1

// Metadata region layout, big-endian:
//
//	MaxFiles  x { name [NameLen]byte, size int16, first int16 }
//	MaxBlocks x int32 blockIndex
//	MaxBlocks x int32 next
//	MaxBlocks x bool  free (1 = free)
const (
	inodeRecordSize = NameLen + 2 + 2

	inodeTableOffset = 0
	blockIndexOffset = inodeTableOffset + MaxFiles*inodeRecordSize
	nextOffset       = blockIndexOffset + MaxBlocks*4
	freeListOffset   = nextOffset + MaxBlocks*4

	// MetadataSize is the length of the metadata region at offset 0
	MetadataSize = freeListOffset + MaxBlocks

	// DataSize is the length of the data region following the metadata
	DataSize = MaxBlocks * BlockSize

	// MinDeviceSize is the smallest device that can hold a volume
	MinDeviceSize = MetadataSize + DataSize
)

// blockOffset returns the device offset of data block i.
func blockOffset(block int32) int64 {
	return MetadataSize + int64(block)*BlockSize
}

// blocksFor returns ceil(n / BlockSize).
func blocksFor(n int) int {
	return (n + BlockSize - 1) / BlockSize
}
