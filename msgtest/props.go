package msgtest

import (
	"encoding/binary"
	"fmt"
	"time"
	"unicode/utf16"
)

// MAPI property type codes, mirrored for fixture construction.
const (
	TypeInt16   = 0x0002
	TypeInt32   = 0x0003
	TypeFloat64 = 0x0005
	TypeBoolean = 0x000B
	TypeInt64   = 0x0014
	TypeString8 = 0x001E
	TypeUnicode = 0x001F
	TypeTime    = 0x0040
	TypeBinary  = 0x0102
)

// Property stream header sizes.
const (
	HeaderTopLevel   = 32
	HeaderEmbedded   = 24
	HeaderAttachment = 8
	HeaderRecipient  = 8
)

// UTF16Bytes encodes s as UTF-16LE without a terminator.
func UTF16Bytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}

// Filetime converts t to 100ns ticks since 1601-01-01.
func Filetime(t time.Time) uint64 {
	const epochDelta = 11644473600
	return uint64(t.Unix()+epochDelta)*10_000_000 + uint64(t.Nanosecond()/100)
}

// SubstreamName returns the companion stream name for a tag and type.
func SubstreamName(tag, typ uint16) string {
	return fmt.Sprintf("__substg1.0_%04X%04X", tag, typ)
}

// PropStream accumulates property records for one storage and writes the
// fixed stream plus companion streams.
type PropStream struct {
	storage *Storage
	header  int
	records []byte
}

// NewProps starts a property stream for storage with the given header
// size.
func NewProps(storage *Storage, headerSize int) *PropStream {
	return &PropStream{storage: storage, header: headerSize}
}

// AddRecord appends a raw 16-byte record.
func (p *PropStream) AddRecord(typ, tag uint16, value [8]byte) {
	rec := make([]byte, 16)
	binary.LittleEndian.PutUint16(rec[0:], typ)
	binary.LittleEndian.PutUint16(rec[2:], tag)
	binary.LittleEndian.PutUint32(rec[4:], 0x06) // readable | writable
	copy(rec[8:], value[:])
	p.records = append(p.records, rec...)
}

func (p *PropStream) AddInt32(tag uint16, v int32) {
	var value [8]byte
	binary.LittleEndian.PutUint32(value[:4], uint32(v))
	p.AddRecord(TypeInt32, tag, value)
}

func (p *PropStream) AddInt64(tag uint16, v int64) {
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], uint64(v))
	p.AddRecord(TypeInt64, tag, value)
}

func (p *PropStream) AddBool(tag uint16, v bool) {
	var value [8]byte
	if v {
		value[0] = 1
	}
	p.AddRecord(TypeBoolean, tag, value)
}

func (p *PropStream) AddTime(tag uint16, t time.Time) {
	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], Filetime(t))
	p.AddRecord(TypeTime, tag, value)
}

// AddUnicode writes a UTF-16 string property: the companion stream
// carries the raw bytes, the record declares the size with terminator.
func (p *PropStream) AddUnicode(tag uint16, s string) {
	raw := UTF16Bytes(s)
	p.AddVar(TypeUnicode, tag, uint32(len(raw)+2), raw)
}

// AddString8 writes an 8-bit string property from pre-encoded bytes.
func (p *PropStream) AddString8(tag uint16, raw []byte) {
	p.AddVar(TypeString8, tag, uint32(len(raw)+1), raw)
}

func (p *PropStream) AddBinary(tag uint16, data []byte) {
	p.AddVar(TypeBinary, tag, uint32(len(data)), data)
}

// AddVar writes a variable-length property with an explicit declared
// size, so tests can produce deliberate mismatches.
func (p *PropStream) AddVar(typ, tag uint16, declared uint32, streamData []byte) {
	var value [8]byte
	binary.LittleEndian.PutUint32(value[:4], declared)
	p.AddRecord(typ, tag, value)
	p.storage.AddStream(SubstreamName(tag, typ), streamData)
}

// AddVarRecordOnly declares a variable-length property without writing
// its companion stream.
func (p *PropStream) AddVarRecordOnly(typ, tag uint16, declared uint32) {
	var value [8]byte
	binary.LittleEndian.PutUint32(value[:4], declared)
	p.AddRecord(typ, tag, value)
}

// Finish writes the accumulated records as the storage's property
// stream.
func (p *PropStream) Finish() {
	data := make([]byte, p.header+len(p.records))
	copy(data[p.header:], p.records)
	p.storage.AddStream("__properties_version1.0", data)
}

// AddRecipient adds a recipient sub-storage. recipType follows
// PR_RECIPIENT_TYPE: 1 to, 2 cc, 3 bcc.
func AddRecipient(root *Storage, index int, name, addr string, recipType int32) {
	s := root.AddStorage(fmt.Sprintf("__recip_version1.0_#%08X", index))
	ps := NewProps(s, HeaderRecipient)
	ps.AddUnicode(0x3001, name)
	ps.AddUnicode(0x39FE, addr)
	ps.AddInt32(0x0C15, recipType)
	ps.Finish()
}

// AddAttachment adds a by-value attachment sub-storage.
func AddAttachment(root *Storage, index int, longName, mimeType string, data []byte) {
	s := root.AddStorage(fmt.Sprintf("__attach_version1.0_#%08X", index))
	ps := NewProps(s, HeaderAttachment)
	ps.AddInt32(0x3705, 1) // by value
	if longName != "" {
		ps.AddUnicode(0x3707, longName)
	}
	if mimeType != "" {
		ps.AddUnicode(0x370E, mimeType)
	}
	ps.AddBinary(0x3701, data)
	ps.Finish()
}

// AddEmbeddedMessage adds an embedded-message attachment and returns the
// nested message storage so the caller can populate it.
func AddEmbeddedMessage(root *Storage, index int) *Storage {
	s := root.AddStorage(fmt.Sprintf("__attach_version1.0_#%08X", index))
	ps := NewProps(s, HeaderAttachment)
	ps.AddInt32(0x3705, 5) // embedded message
	var value [8]byte
	ps.AddRecord(0x000D, 0x3701, value)
	ps.Finish()
	return s.AddStorage("__substg1.0_3701000D")
}

// SimpleMessage builds a complete minimal message container: subject,
// sender, timestamp, plain-text body, one recipient.
func SimpleMessage() *Builder {
	b := NewBuilder()
	root := b.Root()

	ps := NewProps(root, HeaderTopLevel)
	ps.AddUnicode(0x0037, "Quarterly numbers")
	ps.AddUnicode(0x0C1A, "Ada Example")
	ps.AddUnicode(0x5D01, "ada@example.com")
	ps.AddTime(0x0039, time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC))
	ps.AddUnicode(0x1000, "Please find the numbers attached.\r\n")
	ps.Finish()

	AddRecipient(root, 0, "Grace Example", "grace@example.com", 1)
	return b
}
