// Package cfb reads compound file binary (CFB/OLE2) containers, the
// sector-based filesystem-in-a-file format that Outlook .msg files are
// stored in.
//
// The container is parsed fully into an in-memory directory arena, but
// stream contents are only materialized when ReadStream is called, so a
// large attachment does not cost memory until it is actually needed.
package cfb

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Signature is the fixed 8-byte magic every compound file starts with.
var Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// Special FAT sector values.
const (
	maxRegSector = 0xFFFFFFFA
	difatSector  = 0xFFFFFFFC
	fatSector    = 0xFFFFFFFD
	endOfChain   = 0xFFFFFFFE
	freeSector   = 0xFFFFFFFF
)

const (
	headerSize     = 512
	dirEntrySize   = 128
	miniSectorSize = 64
)

// FormatError reports a malformed or corrupted container. Offset is the
// byte position the problem was detected at, or -1 when it does not map
// to a single position (e.g. a cyclic sector chain).
type FormatError struct {
	Reason string
	Offset int64
}

func (e *FormatError) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("cfb: %s (offset %d)", e.Reason, e.Offset)
	}
	return fmt.Sprintf("cfb: %s", e.Reason)
}

func formatErrorf(offset int64, format string, args ...any) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}

// File is a parsed compound file container.
type File struct {
	data []byte

	sectorSize      int
	miniStreamStart uint32
	miniCutoff      uint32

	fat     []uint32
	miniFAT []uint32

	// Directory entry arena, indexed by entry id. Chain walks go through
	// these ids instead of pointers so corrupt sibling links stay bounded.
	dir []Entry

	// Regular-FAT chain of the mini stream (owned by the root entry).
	miniChain []uint32
}

// Open parses data as a compound file. The input slice is retained and
// must not be modified while the File is in use.
func Open(data []byte) (*File, error) {
	if len(data) < len(Signature) || !bytes.Equal(data[:8], Signature) {
		return nil, formatErrorf(0, "missing compound file signature")
	}
	if len(data) < headerSize {
		return nil, formatErrorf(int64(len(data)), "truncated header: %d bytes", len(data))
	}

	if bo := binary.LittleEndian.Uint16(data[28:30]); bo != 0xFFFE {
		return nil, formatErrorf(28, "unsupported byte order marker 0x%04X", bo)
	}

	sectorShift := binary.LittleEndian.Uint16(data[30:32])
	if sectorShift != 9 && sectorShift != 12 {
		return nil, formatErrorf(30, "unsupported sector shift %d", sectorShift)
	}
	if miniShift := binary.LittleEndian.Uint16(data[32:34]); miniShift != 6 {
		return nil, formatErrorf(32, "unsupported mini sector shift %d", miniShift)
	}

	f := &File{
		data:       data,
		sectorSize: 1 << sectorShift,
		miniCutoff: binary.LittleEndian.Uint32(data[56:60]),
	}

	numFAT := binary.LittleEndian.Uint32(data[44:48])
	firstDir := binary.LittleEndian.Uint32(data[48:52])
	firstMiniFAT := binary.LittleEndian.Uint32(data[60:64])
	numMiniFAT := binary.LittleEndian.Uint32(data[64:68])
	firstDIFAT := binary.LittleEndian.Uint32(data[68:72])
	numDIFAT := binary.LittleEndian.Uint32(data[72:76])

	if err := f.readFAT(numFAT, firstDIFAT, numDIFAT); err != nil {
		return nil, err
	}
	if err := f.readMiniFAT(firstMiniFAT, numMiniFAT); err != nil {
		return nil, err
	}
	if err := f.readDirectory(firstDir); err != nil {
		return nil, err
	}

	root := f.Root()
	if root == nil {
		return nil, formatErrorf(-1, "no root entry")
	}
	f.miniStreamStart = root.startSector
	if root.Size > 0 {
		chain, err := f.walkChain(root.startSector, f.fat, f.sectorsFor(root.Size, f.sectorSize))
		if err != nil {
			return nil, fmt.Errorf("mini stream: %w", err)
		}
		f.miniChain = chain
	}

	return f, nil
}

// SectorSize returns the container's sector size (512 or 4096).
func (f *File) SectorSize() int { return f.sectorSize }

// readFAT collects the FAT sector list from the header DIFAT entries and
// any DIFAT overflow sectors, then loads the FAT itself.
func (f *File) readFAT(numFAT, firstDIFAT, numDIFAT uint32) error {
	var fatSectors []uint32
	for i := 0; i < 109; i++ {
		s := binary.LittleEndian.Uint32(f.data[76+i*4 : 80+i*4])
		if s == freeSector || s == endOfChain {
			break
		}
		fatSectors = append(fatSectors, s)
	}

	// DIFAT overflow sectors chain through their own last entry.
	perSector := f.sectorSize/4 - 1
	visited := make(map[uint32]bool)
	sector := firstDIFAT
	for i := uint32(0); sector <= maxRegSector; i++ {
		if i >= numDIFAT+1 || visited[sector] {
			return formatErrorf(-1, "cyclic DIFAT chain at sector %d", sector)
		}
		visited[sector] = true
		buf, err := f.sector(sector)
		if err != nil {
			return err
		}
		for j := 0; j < perSector; j++ {
			s := binary.LittleEndian.Uint32(buf[j*4 : j*4+4])
			if s == freeSector || s == endOfChain {
				break
			}
			fatSectors = append(fatSectors, s)
		}
		sector = binary.LittleEndian.Uint32(buf[perSector*4:])
	}

	if uint32(len(fatSectors)) < numFAT {
		return formatErrorf(44, "header declares %d FAT sectors, found %d", numFAT, len(fatSectors))
	}
	fatSectors = fatSectors[:numFAT]

	entries := f.sectorSize / 4
	f.fat = make([]uint32, 0, len(fatSectors)*entries)
	for _, s := range fatSectors {
		buf, err := f.sector(s)
		if err != nil {
			return fmt.Errorf("FAT sector %d: %w", s, err)
		}
		for j := 0; j < entries; j++ {
			f.fat = append(f.fat, binary.LittleEndian.Uint32(buf[j*4:j*4+4]))
		}
	}
	return nil
}

func (f *File) readMiniFAT(first, count uint32) error {
	if first > maxRegSector || count == 0 {
		return nil
	}
	chain, err := f.walkChain(first, f.fat, int(count))
	if err != nil {
		return fmt.Errorf("mini FAT: %w", err)
	}
	entries := f.sectorSize / 4
	f.miniFAT = make([]uint32, 0, len(chain)*entries)
	for _, s := range chain {
		buf, err := f.sector(s)
		if err != nil {
			return fmt.Errorf("mini FAT sector %d: %w", s, err)
		}
		for j := 0; j < entries; j++ {
			f.miniFAT = append(f.miniFAT, binary.LittleEndian.Uint32(buf[j*4:j*4+4]))
		}
	}
	return nil
}

// sector returns the raw bytes of a regular sector. Sector 0 starts
// right after the header region, which occupies one full sector.
func (f *File) sector(id uint32) ([]byte, error) {
	if id > maxRegSector {
		return nil, formatErrorf(-1, "reference to special sector 0x%08X", id)
	}
	start := (int64(id) + 1) * int64(f.sectorSize)
	end := start + int64(f.sectorSize)
	if end > int64(len(f.data)) {
		return nil, formatErrorf(start, "sector %d beyond end of file", id)
	}
	return f.data[start:end], nil
}

// walkChain follows a FAT (or mini FAT) chain from start, failing on
// out-of-range references and on cycles. max bounds the walk; a chain
// longer than the allocation table itself is always corrupt.
func (f *File) walkChain(start uint32, fat []uint32, max int) ([]uint32, error) {
	if max > len(fat) {
		max = len(fat)
	}
	chain := make([]uint32, 0, max)
	visited := make(map[uint32]bool, max)
	for s := start; s != endOfChain; {
		if s > maxRegSector {
			return nil, formatErrorf(-1, "chain references special sector 0x%08X", s)
		}
		if int(s) >= len(fat) {
			return nil, formatErrorf(-1, "chain references sector %d outside allocation table (%d entries)", s, len(fat))
		}
		if visited[s] {
			return nil, formatErrorf(-1, "cyclic chain revisits sector %d", s)
		}
		if len(chain) >= max {
			return nil, formatErrorf(-1, "chain from sector %d exceeds %d sectors", start, max)
		}
		visited[s] = true
		chain = append(chain, s)
		s = fat[s]
	}
	return chain, nil
}

func (f *File) sectorsFor(size uint64, sectorSize int) int {
	return int((size + uint64(sectorSize) - 1) / uint64(sectorSize))
}

// ReadStream materializes the full content of a stream entry. Streams
// smaller than the mini stream cutoff live in the root entry's mini
// stream; everything else is chained through the regular FAT.
func (f *File) ReadStream(e *Entry) ([]byte, error) {
	if e == nil || e.Type != TypeStream {
		return nil, formatErrorf(-1, "entry is not a stream")
	}
	if e.Size == 0 {
		return nil, nil
	}

	if e.Size < uint64(f.miniCutoff) {
		return f.readMiniStream(e)
	}

	want := f.sectorsFor(e.Size, f.sectorSize)
	chain, err := f.walkChain(e.startSector, f.fat, want)
	if err != nil {
		return nil, fmt.Errorf("stream %q: %w", e.Name, err)
	}
	if len(chain) < want {
		return nil, formatErrorf(-1, "stream %q: chain holds %d sectors, size %d needs %d", e.Name, len(chain), e.Size, want)
	}

	out := make([]byte, 0, e.Size)
	remaining := e.Size
	for _, s := range chain {
		buf, err := f.sector(s)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", e.Name, err)
		}
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		out = append(out, buf[:n]...)
		remaining -= n
	}
	return out, nil
}

func (f *File) readMiniStream(e *Entry) ([]byte, error) {
	want := f.sectorsFor(e.Size, miniSectorSize)
	chain, err := f.walkChain(e.startSector, f.miniFAT, want)
	if err != nil {
		return nil, fmt.Errorf("mini stream %q: %w", e.Name, err)
	}
	if len(chain) < want {
		return nil, formatErrorf(-1, "mini stream %q: chain holds %d sectors, size %d needs %d", e.Name, len(chain), e.Size, want)
	}

	out := make([]byte, 0, e.Size)
	remaining := e.Size
	for _, s := range chain {
		buf, err := f.miniSector(s)
		if err != nil {
			return nil, fmt.Errorf("mini stream %q: %w", e.Name, err)
		}
		n := uint64(len(buf))
		if n > remaining {
			n = remaining
		}
		out = append(out, buf[:n]...)
		remaining -= n
	}
	return out, nil
}

// miniSector maps a mini sector id into the root entry's mini stream,
// which is itself chained through the regular FAT.
func (f *File) miniSector(id uint32) ([]byte, error) {
	offset := int(id) * miniSectorSize
	perSector := f.sectorSize / miniSectorSize
	idx := offset / f.sectorSize
	if idx >= len(f.miniChain) {
		return nil, formatErrorf(-1, "mini sector %d outside mini stream", id)
	}
	buf, err := f.sector(f.miniChain[idx])
	if err != nil {
		return nil, err
	}
	within := (int(id) % perSector) * miniSectorSize
	return buf[within : within+miniSectorSize], nil
}
