// Package msgtest builds synthetic compound file containers in memory
// so parser tests do not depend on binary fixtures.
package msgtest

import (
	"encoding/binary"
	"unicode/utf16"
)

const (
	maxRegSector = 0xFFFFFFFA
	fatSector    = 0xFFFFFFFD
	endOfChain   = 0xFFFFFFFE
	freeSector   = 0xFFFFFFFF
	noEntry      = 0xFFFFFFFF

	miniSectorSize = 64
	miniCutoff     = 4096
	dirEntrySize   = 128
)

// Stream is one named stream inside a storage.
type Stream struct {
	Name string
	Data []byte
}

// Storage is a named container of streams and child storages.
type Storage struct {
	Name     string
	Storages []*Storage
	Streams  []*Stream
}

// AddStorage appends and returns a child storage.
func (s *Storage) AddStorage(name string) *Storage {
	child := &Storage{Name: name}
	s.Storages = append(s.Storages, child)
	return child
}

// AddStream appends a stream with the given payload.
func (s *Storage) AddStream(name string, data []byte) {
	s.Streams = append(s.Streams, &Stream{Name: name, Data: data})
}

// Builder assembles a complete container image.
type Builder struct {
	root       Storage
	sectorSize int
}

// NewBuilder returns a builder producing version 3 containers
// (512-byte sectors).
func NewBuilder() *Builder {
	return &Builder{sectorSize: 512}
}

// NewBuilderV4 returns a builder producing version 4 containers
// (4096-byte sectors).
func NewBuilderV4() *Builder {
	return &Builder{sectorSize: 4096}
}

// Root returns the root storage.
func (b *Builder) Root() *Storage {
	return &b.root
}

type dirEntry struct {
	name        string
	typ         byte
	left        uint32
	right       uint32
	child       uint32
	startSector uint32
	size        uint64
	stream      *Stream
}

// Bytes serializes the container.
func (b *Builder) Bytes() []byte {
	entries := b.flatten()

	// Small streams share the mini stream; their chains live in the
	// mini FAT.
	var miniStream []byte
	var miniFAT []uint32
	for _, e := range entries {
		if e.typ != 2 || e.stream == nil {
			continue
		}
		data := e.stream.Data
		e.size = uint64(len(data))
		if len(data) == 0 {
			e.startSector = endOfChain
			continue
		}
		if len(data) >= miniCutoff {
			continue // placed in regular sectors below
		}

		start := len(miniFAT)
		count := (len(data) + miniSectorSize - 1) / miniSectorSize
		for i := 0; i < count; i++ {
			if i == count-1 {
				miniFAT = append(miniFAT, endOfChain)
			} else {
				miniFAT = append(miniFAT, uint32(start+i+1))
			}
		}
		e.startSector = uint32(start)
		miniStream = append(miniStream, pad(data, count*miniSectorSize)...)
	}

	dirSectors := sectorCount(len(entries)*dirEntrySize, b.sectorSize)
	miniFATSectors := sectorCount(len(miniFAT)*4, b.sectorSize)
	miniStreamSectors := sectorCount(len(miniStream), b.sectorSize)

	// Sector layout: directory, mini FAT, mini stream, large streams,
	// FAT sectors last.
	next := uint32(0)
	firstDir := next
	next += uint32(dirSectors)

	firstMiniFAT := uint32(endOfChain)
	if miniFATSectors > 0 {
		firstMiniFAT = next
		next += uint32(miniFATSectors)
	}

	firstMiniStream := uint32(endOfChain)
	if miniStreamSectors > 0 {
		firstMiniStream = next
		next += uint32(miniStreamSectors)
	}

	type largeRun struct {
		entry *dirEntry
		start uint32
		count int
	}
	var larges []largeRun
	for _, e := range entries {
		if e.typ != 2 || e.stream == nil || len(e.stream.Data) < miniCutoff {
			continue
		}
		count := sectorCount(len(e.stream.Data), b.sectorSize)
		e.startSector = next
		larges = append(larges, largeRun{entry: e, start: next, count: count})
		next += uint32(count)
	}

	// Root entry owns the mini stream.
	entries[0].startSector = firstMiniStream
	entries[0].size = uint64(len(miniStream))

	entriesPerFAT := b.sectorSize / 4
	dataSectors := int(next)
	fatCount := 0
	for (dataSectors+fatCount+entriesPerFAT-1)/entriesPerFAT > fatCount {
		fatCount++
	}
	firstFAT := next
	totalSectors := dataSectors + fatCount

	fat := make([]uint32, fatCount*entriesPerFAT)
	for i := range fat {
		fat[i] = freeSector
	}
	chain := func(start uint32, count int) {
		for i := 0; i < count; i++ {
			if i == count-1 {
				fat[int(start)+i] = endOfChain
			} else {
				fat[int(start)+i] = start + uint32(i) + 1
			}
		}
	}
	chain(firstDir, dirSectors)
	if miniFATSectors > 0 {
		chain(firstMiniFAT, miniFATSectors)
	}
	if miniStreamSectors > 0 {
		chain(firstMiniStream, miniStreamSectors)
	}
	for _, run := range larges {
		chain(run.start, run.count)
	}
	for i := 0; i < fatCount; i++ {
		fat[int(firstFAT)+i] = fatSector
	}

	// Assemble the image. The header occupies one full sector.
	out := make([]byte, (totalSectors+1)*b.sectorSize)
	b.writeHeader(out, headerFields{
		numFAT:       uint32(fatCount),
		firstDir:     firstDir,
		numDirSec:    uint32(dirSectors),
		firstMiniFAT: firstMiniFAT,
		numMiniFAT:   uint32(miniFATSectors),
		fatSectors:   fatRange(firstFAT, fatCount),
	})

	sectorAt := func(id uint32) []byte {
		off := (int(id) + 1) * b.sectorSize
		return out[off : off+b.sectorSize]
	}

	dirData := make([]byte, dirSectors*b.sectorSize)
	for i, e := range entries {
		writeDirEntry(dirData[i*dirEntrySize:], e)
	}
	for i := 0; i < dirSectors; i++ {
		copy(sectorAt(firstDir+uint32(i)), dirData[i*b.sectorSize:])
	}

	if miniFATSectors > 0 {
		miniFATData := make([]byte, miniFATSectors*b.sectorSize)
		for i := range miniFATData {
			miniFATData[i] = 0xFF
		}
		for i, v := range miniFAT {
			binary.LittleEndian.PutUint32(miniFATData[i*4:], v)
		}
		for i := 0; i < miniFATSectors; i++ {
			copy(sectorAt(firstMiniFAT+uint32(i)), miniFATData[i*b.sectorSize:])
		}
	}

	if miniStreamSectors > 0 {
		padded := pad(miniStream, miniStreamSectors*b.sectorSize)
		for i := 0; i < miniStreamSectors; i++ {
			copy(sectorAt(firstMiniStream+uint32(i)), padded[i*b.sectorSize:])
		}
	}

	for _, run := range larges {
		padded := pad(run.entry.stream.Data, run.count*b.sectorSize)
		for i := 0; i < run.count; i++ {
			copy(sectorAt(run.start+uint32(i)), padded[i*b.sectorSize:])
		}
	}

	for i := 0; i < fatCount; i++ {
		sector := sectorAt(firstFAT + uint32(i))
		for j := 0; j < entriesPerFAT; j++ {
			binary.LittleEndian.PutUint32(sector[j*4:], fat[i*entriesPerFAT+j])
		}
	}

	return out
}

// flatten assigns directory IDs depth-first and links sibling chains
// through the right pointers, which keeps enumeration in insertion
// order.
func (b *Builder) flatten() []*dirEntry {
	entries := []*dirEntry{{
		name:        "Root Entry",
		typ:         5,
		left:        noEntry,
		right:       noEntry,
		child:       noEntry,
		startSector: endOfChain,
	}}

	var place func(parent uint32, s *Storage)
	place = func(parent uint32, s *Storage) {
		var prev *dirEntry
		link := func(e *dirEntry, id uint32) {
			if prev == nil {
				entries[parent].child = id
			} else {
				prev.right = id
			}
			prev = e
		}

		for _, stream := range s.Streams {
			e := &dirEntry{
				name:        stream.Name,
				typ:         2,
				left:        noEntry,
				right:       noEntry,
				child:       noEntry,
				startSector: endOfChain,
				stream:      stream,
			}
			entries = append(entries, e)
			link(e, uint32(len(entries)-1))
		}
		for _, child := range s.Storages {
			e := &dirEntry{
				name:        child.Name,
				typ:         1,
				left:        noEntry,
				right:       noEntry,
				child:       noEntry,
				startSector: endOfChain,
			}
			entries = append(entries, e)
			id := uint32(len(entries) - 1)
			link(e, id)
			place(id, child)
		}
	}

	place(0, &b.root)
	return entries
}

type headerFields struct {
	numFAT       uint32
	firstDir     uint32
	numDirSec    uint32
	firstMiniFAT uint32
	numMiniFAT   uint32
	fatSectors   []uint32
}

func (b *Builder) writeHeader(out []byte, h headerFields) {
	copy(out, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})

	le := binary.LittleEndian
	le.PutUint16(out[24:], 0x003E) // minor version
	major, shift := uint16(3), uint16(9)
	if b.sectorSize == 4096 {
		major, shift = 4, 12
	}
	le.PutUint16(out[26:], major)
	le.PutUint16(out[28:], 0xFFFE) // byte order
	le.PutUint16(out[30:], shift)
	le.PutUint16(out[32:], 6) // mini sector shift
	if major == 4 {
		le.PutUint32(out[40:], h.numDirSec)
	}
	le.PutUint32(out[44:], h.numFAT)
	le.PutUint32(out[48:], h.firstDir)
	le.PutUint32(out[56:], miniCutoff)
	le.PutUint32(out[60:], h.firstMiniFAT)
	le.PutUint32(out[64:], h.numMiniFAT)
	le.PutUint32(out[68:], endOfChain) // first DIFAT sector
	le.PutUint32(out[72:], 0)          // DIFAT sector count

	for i := 0; i < 109; i++ {
		v := uint32(freeSector)
		if i < len(h.fatSectors) {
			v = h.fatSectors[i]
		}
		le.PutUint32(out[76+i*4:], v)
	}
}

func writeDirEntry(out []byte, e *dirEntry) {
	le := binary.LittleEndian

	units := utf16.Encode([]rune(e.name))
	if len(units) > 31 {
		units = units[:31]
	}
	for i, u := range units {
		le.PutUint16(out[i*2:], u)
	}
	le.PutUint16(out[64:], uint16((len(units)+1)*2))
	out[66] = e.typ
	out[67] = 1 // black
	le.PutUint32(out[68:], e.left)
	le.PutUint32(out[72:], e.right)
	le.PutUint32(out[76:], e.child)
	le.PutUint32(out[116:], e.startSector)
	le.PutUint64(out[120:], e.size)
}

func sectorCount(n, sectorSize int) int {
	return (n + sectorSize - 1) / sectorSize
}

func pad(data []byte, size int) []byte {
	if len(data) >= size {
		return data
	}
	out := make([]byte, size)
	copy(out, data)
	return out
}

func fatRange(first uint32, count int) []uint32 {
	out := make([]uint32, count)
	for i := range out {
		out[i] = first + uint32(i)
	}
	return out
}
