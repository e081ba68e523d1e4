package fs

// Inode is one entry of the inode table.
//
// A slot is free iff Name is empty; a free slot has Size 0 and First none.
type Inode struct {
	// Name is the file name, or "" for a free slot
	Name string

	// Size is the file length in bytes
	Size int16

	// First is the head of the file's chain in the allocation table,
	// or -1 for an empty file
	First int16
}

// IsFree reports whether the inode slot is unused.
func (n Inode) IsFree() bool {
	return n.Name == ""
}

func (n *Inode) clear() {
	*n = Inode{First: none}
}

// ValidateName checks that name can be stored in an inode.
//
// A valid name is 1 to NameLen bytes long, contains no space, and every byte
// is printable ASCII (32..126).
func ValidateName(name string) error {
	if name == "" || len(name) > NameLen {
		return errInvalidName(name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == ' ' || c < 32 || c > 126 {
			return errInvalidName(name)
		}
	}
	return nil
}

// findInode returns the slot holding name, or -1.
func (m *Metadata) findInode(name string) int {
	for i := range m.Inodes {
		if !m.Inodes[i].IsFree() && m.Inodes[i].Name == name {
			return i
		}
	}
	return none
}

// findFreeInode returns the first free slot, or -1.
func (m *Metadata) findFreeInode() int {
	for i := range m.Inodes {
		if m.Inodes[i].IsFree() {
			return i
		}
	}
	return none
}
