package fs

import (
	"encoding/binary"
	"strings"
)

// Metadata is the in-memory form of the metadata region: the inode table,
// the allocation table and the free-block table.
//
// Chain slots and blocks are addressed by index; -1 means none. A chain slot
// is free iff BlockIndex is -1. FreeBlock[i] is false iff exactly one chain
// slot holds block i.
type Metadata struct {
	Inodes     [MaxFiles]Inode
	BlockIndex [MaxBlocks]int32
	Next       [MaxBlocks]int32
	FreeBlock  [MaxBlocks]bool
}

// NewMetadata returns the tables of a freshly formatted volume.
func NewMetadata() *Metadata {
	m := &Metadata{}
	for i := range m.Inodes {
		m.Inodes[i].clear()
	}
	for i := 0; i < MaxBlocks; i++ {
		m.BlockIndex[i] = none
		m.Next[i] = none
		m.FreeBlock[i] = true
	}
	return m
}

// EncodeMetadata serializes m into a MetadataSize-byte buffer.
//
// Names are zero padded to NameLen bytes. Integers are big-endian.
func EncodeMetadata(m *Metadata) []byte {
	buf := make([]byte, MetadataSize)

	off := inodeTableOffset
	for _, ino := range m.Inodes {
		copy(buf[off:off+NameLen], ino.Name)
		binary.BigEndian.PutUint16(buf[off+NameLen:], uint16(ino.Size))
		binary.BigEndian.PutUint16(buf[off+NameLen+2:], uint16(ino.First))
		off += inodeRecordSize
	}

	for i := 0; i < MaxBlocks; i++ {
		binary.BigEndian.PutUint32(buf[blockIndexOffset+i*4:], uint32(m.BlockIndex[i]))
		binary.BigEndian.PutUint32(buf[nextOffset+i*4:], uint32(m.Next[i]))
		if m.FreeBlock[i] {
			buf[freeListOffset+i] = 1
		}
	}

	return buf
}

// DecodeMetadata parses a metadata region produced by EncodeMetadata.
//
// Names are trimmed of padding and surrounding whitespace; an empty name
// decodes as a free slot. Any index outside [-1, MaxBlocks) or a negative
// size is reported as ErrCorrupt so that a foreign file cannot drive the
// allocator out of bounds.
func DecodeMetadata(buf []byte) (*Metadata, error) {
	if len(buf) < MetadataSize {
		return nil, errCorrupt("metadata region is %d bytes, need %d", len(buf), MetadataSize)
	}

	m := NewMetadata()

	off := inodeTableOffset
	for i := range m.Inodes {
		name := strings.TrimFunc(string(buf[off:off+NameLen]), func(r rune) bool {
			return r <= ' '
		})
		size := int16(binary.BigEndian.Uint16(buf[off+NameLen:]))
		first := int16(binary.BigEndian.Uint16(buf[off+NameLen+2:]))
		off += inodeRecordSize

		if name == "" {
			continue
		}
		if size < 0 {
			return nil, errCorrupt("inode %d: negative size %d", i, size)
		}
		if !validIndex(int32(first)) {
			return nil, errCorrupt("inode %d: chain head %d out of range", i, first)
		}
		m.Inodes[i] = Inode{Name: name, Size: size, First: first}
	}

	for i := 0; i < MaxBlocks; i++ {
		m.BlockIndex[i] = int32(binary.BigEndian.Uint32(buf[blockIndexOffset+i*4:]))
		m.Next[i] = int32(binary.BigEndian.Uint32(buf[nextOffset+i*4:]))
		m.FreeBlock[i] = buf[freeListOffset+i] != 0

		if !validIndex(m.BlockIndex[i]) {
			return nil, errCorrupt("chain slot %d: block index %d out of range", i, m.BlockIndex[i])
		}
		if !validIndex(m.Next[i]) {
			return nil, errCorrupt("chain slot %d: next %d out of range", i, m.Next[i])
		}
	}

	return m, nil
}

func validIndex(i int32) bool {
	return i >= none && i < MaxBlocks
}
