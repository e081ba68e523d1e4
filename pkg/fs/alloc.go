package fs

// findFreeChainSlot returns the first chain slot with no block, or -1.
func (m *Metadata) findFreeChainSlot() int32 {
	for i := int32(0); i < MaxBlocks; i++ {
		if m.BlockIndex[i] == none {
			return i
		}
	}
	return none
}

// findFreeBlock returns the first free data block, or -1.
func (m *Metadata) findFreeBlock() int32 {
	for i := int32(0); i < MaxBlocks; i++ {
		if m.FreeBlock[i] {
			return i
		}
	}
	return none
}

// chainLength counts the slots of the chain starting at head.
//
// The walk stops after MaxBlocks steps so a cyclic chain read from a damaged
// volume cannot loop forever.
func (m *Metadata) chainLength(head int32) int {
	n := 0
	for slot := head; slot != none && n < MaxBlocks; slot = m.Next[slot] {
		n++
	}
	return n
}

// chainBlocks returns the data blocks of the chain starting at head, in order.
func (m *Metadata) chainBlocks(head int32) []int32 {
	var blocks []int32
	for slot := head; slot != none && len(blocks) < MaxBlocks; slot = m.Next[slot] {
		blocks = append(blocks, m.BlockIndex[slot])
	}
	return blocks
}

// usage returns the number of used data blocks and used chain slots.
func (m *Metadata) usage() (blocks, slots int) {
	for i := 0; i < MaxBlocks; i++ {
		if !m.FreeBlock[i] {
			blocks++
		}
		if m.BlockIndex[i] != none {
			slots++
		}
	}
	return blocks, slots
}

// available returns how many blocks and chain slots a file whose chain starts
// at head could use: the free ones plus the ones it already owns.
func (m *Metadata) available(head int32) (blocks, slots int) {
	owned := m.chainLength(head)
	usedBlocks, usedSlots := m.usage()
	return MaxBlocks - usedBlocks + owned, MaxBlocks - usedSlots + owned
}

// releaseChain frees every slot of the chain starting at head, zero-filling
// each block on the device. A head of -1 is a no-op.
//
// Caller must hold fs.mu exclusively.
func (fs *FileSystem) releaseChain(head int32) error {
	var zero [BlockSize]byte

	for slot, steps := head, 0; slot != none && steps < MaxBlocks; steps++ {
		block := fs.meta.BlockIndex[slot]
		next := fs.meta.Next[slot]

		if block != none {
			if err := fs.writeAt("block release", zero[:], blockOffset(block)); err != nil {
				return err
			}
			fs.meta.FreeBlock[block] = true
		}

		fs.meta.BlockIndex[slot] = none
		fs.meta.Next[slot] = none
		slot = next
	}
	return nil
}

// buildChain allocates ceil(len(data)/BlockSize) slot/block pairs first-fit,
// writes data into the blocks in order and links the slots.
//
// Returns the head slot, or -1 for empty data. The caller must have checked
// capacity: running out of slots or blocks here is reported as ErrNoSpace.
//
// Caller must hold fs.mu exclusively.
func (fs *FileSystem) buildChain(data []byte) (int32, error) {
	head, prev := int32(none), int32(none)

	for off := 0; off < len(data); off += BlockSize {
		slot := fs.meta.findFreeChainSlot()
		block := fs.meta.findFreeBlock()
		if slot == none || block == none {
			return head, &StoreError{Code: ErrNoSpace, Message: "file too large"}
		}

		fs.meta.FreeBlock[block] = false
		fs.meta.BlockIndex[slot] = block
		fs.meta.Next[slot] = none

		end := min(off+BlockSize, len(data))
		if err := fs.writeAt("block write", data[off:end], blockOffset(block)); err != nil {
			return head, err
		}

		if prev != none {
			fs.meta.Next[prev] = slot
		} else {
			head = slot
		}
		prev = slot
	}

	return head, nil
}
