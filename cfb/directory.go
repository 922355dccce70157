package cfb

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Type classifies a directory entry.
type Type byte

const (
	TypeUnallocated Type = 0
	TypeStorage     Type = 1
	TypeStream      Type = 2
	TypeRoot        Type = 5
)

// noEntry marks an absent sibling or child link.
const noEntry = 0xFFFFFFFF

// Entry is a single node of the container's directory tree: either a
// storage (directory-like) or a stream (leaf byte blob).
type Entry struct {
	ID   uint32
	Name string
	Type Type
	Size uint64

	left, right, child uint32
	startSector        uint32
}

// IsStorage reports whether the entry can hold child entries.
func (e *Entry) IsStorage() bool {
	return e.Type == TypeStorage || e.Type == TypeRoot
}

var utf16Decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (f *File) readDirectory(firstSector uint32) error {
	// The directory chain length is unknown up front; bound it by the FAT.
	chain, err := f.walkChain(firstSector, f.fat, len(f.fat))
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}

	perSector := f.sectorSize / dirEntrySize
	f.dir = make([]Entry, 0, len(chain)*perSector)
	for _, s := range chain {
		buf, err := f.sector(s)
		if err != nil {
			return fmt.Errorf("directory sector %d: %w", s, err)
		}
		for i := 0; i < perSector; i++ {
			rec := buf[i*dirEntrySize : (i+1)*dirEntrySize]
			entry, err := parseDirEntry(rec, uint32(len(f.dir)))
			if err != nil {
				return err
			}
			if f.sectorSize == 512 {
				// Version 3 writers only maintain the low 32 bits of the
				// stream size; the high dword may hold garbage.
				entry.Size &= 0xFFFFFFFF
			}
			f.dir = append(f.dir, entry)
		}
	}
	return nil
}

func parseDirEntry(rec []byte, id uint32) (Entry, error) {
	typ := Type(rec[66])
	if typ == TypeUnallocated {
		return Entry{ID: id, Type: TypeUnallocated}, nil
	}

	nameLen := int(binary.LittleEndian.Uint16(rec[64:66]))
	if nameLen < 2 || nameLen > 64 || nameLen%2 != 0 {
		return Entry{}, formatErrorf(-1, "directory entry %d: invalid name length %d", id, nameLen)
	}
	nameBytes, err := utf16Decoder.NewDecoder().Bytes(rec[:nameLen-2])
	if err != nil {
		return Entry{}, formatErrorf(-1, "directory entry %d: undecodable name: %v", id, err)
	}

	size := binary.LittleEndian.Uint64(rec[120:128])

	return Entry{
		ID:          id,
		Name:        string(nameBytes),
		Type:        typ,
		Size:        size,
		left:        binary.LittleEndian.Uint32(rec[68:72]),
		right:       binary.LittleEndian.Uint32(rec[72:76]),
		child:       binary.LittleEndian.Uint32(rec[76:80]),
		startSector: binary.LittleEndian.Uint32(rec[116:120]),
	}, nil
}

// Root returns the container's root storage entry.
func (f *File) Root() *Entry {
	for i := range f.dir {
		if f.dir[i].Type == TypeRoot {
			return &f.dir[i]
		}
	}
	return nil
}

// Children enumerates the direct children of a storage entry in tree
// order. Sibling links form a binary tree per storage; the in-order walk
// here yields the container's natural enumeration order. Corrupt links
// (out of range, or a cycle) are a format error, never an endless walk.
func (f *File) Children(e *Entry) ([]*Entry, error) {
	if e == nil || !e.IsStorage() {
		return nil, formatErrorf(-1, "entry is not a storage")
	}

	var out []*Entry
	visited := make(map[uint32]bool)
	var stack []uint32

	node := e.child
	for node != noEntry || len(stack) > 0 {
		for node != noEntry {
			entry, err := f.entryAt(node, e.Name)
			if err != nil {
				return nil, err
			}
			if visited[node] {
				return nil, formatErrorf(-1, "storage %q: cyclic sibling tree at entry %d", e.Name, node)
			}
			visited[node] = true
			stack = append(stack, node)
			node = entry.left
		}

		node = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		entry := &f.dir[node]
		if entry.Type != TypeUnallocated {
			out = append(out, entry)
		}
		node = entry.right
	}
	return out, nil
}

// Child looks up a direct child of a storage by name. The second return
// value is false when no such child exists.
func (f *File) Child(e *Entry, name string) (*Entry, bool, error) {
	children, err := f.Children(e)
	if err != nil {
		return nil, false, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, true, nil
		}
	}
	return nil, false, nil
}

func (f *File) entryAt(id uint32, storage string) (*Entry, error) {
	if int(id) >= len(f.dir) {
		return nil, formatErrorf(-1, "storage %q: sibling link to entry %d outside directory (%d entries)", storage, id, len(f.dir))
	}
	return &f.dir[id], nil
}
