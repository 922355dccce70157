// properties.go decodes the MAPI property streams of a message, recipient,
// or attachment storage into typed property values.

package msg

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dhcgn/msg-to-eml/cfb"
)

const propertiesStreamName = "__properties_version1.0"

// Property stream header sizes per storage kind (MS-OXMSG).
const (
	headerTopLevel   = 32
	headerEmbedded   = 24
	headerAttachment = 8
	headerRecipient  = 8
)

// PropertyType is a MAPI property type code.
type PropertyType uint16

const (
	TypeInt16    PropertyType = 0x0002
	TypeInt32    PropertyType = 0x0003
	TypeFloat32  PropertyType = 0x0004
	TypeFloat64  PropertyType = 0x0005
	TypeBoolean  PropertyType = 0x000B
	TypeObject   PropertyType = 0x000D
	TypeInt64    PropertyType = 0x0014
	TypeString8  PropertyType = 0x001E
	TypeUnicode  PropertyType = 0x001F
	TypeTime     PropertyType = 0x0040
	TypeGUID     PropertyType = 0x0048
	TypeBinary   PropertyType = 0x0102
	multiFlag    PropertyType = 0x1000
)

// IsMulti reports whether the type is a multi-valued variant.
func (t PropertyType) IsMulti() bool { return t&multiFlag != 0 }

// Base strips the multi-value flag.
func (t PropertyType) Base() PropertyType { return t &^ multiFlag }

// isVariable reports whether values of the type live in a companion
// stream instead of the fixed 16-byte record.
func (t PropertyType) isVariable() bool {
	switch t.Base() {
	case TypeString8, TypeUnicode, TypeBinary, TypeObject, TypeGUID:
		return true
	}
	return t.IsMulti()
}

// Property is a single decoded (tag, type, value) triple. Exactly one of
// the value fields is meaningful, selected by Type; the accessor methods
// on PropertySet are the usual way in.
type Property struct {
	Tag  uint16
	Type PropertyType

	Int   int64
	Float float64
	Bool  bool
	Str   string
	Time  time.Time
	Bytes []byte

	// Multi-valued variants.
	Strs  []string
	Blobs [][]byte
}

// PropertyError reports corrupted property data: a missing companion
// stream, or a declared length that disagrees with the stream's size.
type PropertyError struct {
	Tag    uint16
	Type   PropertyType
	Reason string
}

func (e *PropertyError) Error() string {
	return fmt.Sprintf("msg: property 0x%04X (type 0x%04X): %s", e.Tag, uint16(e.Type), e.Reason)
}

// EncodingError reports a text payload that cannot be decoded under the
// resolved code page or charset.
type EncodingError struct {
	Tag      uint16
	CodePage int
	Reason   string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("msg: property 0x%04X: undecodable text (code page %d): %s", e.Tag, e.CodePage, e.Reason)
}

// PropertySet is the decoded property mapping of one storage. Unknown
// tags are retained so callers can ignore them selectively.
type PropertySet struct {
	props    map[uint16]*Property
	codePage int
}

// Get returns the property for tag, or nil.
func (ps *PropertySet) Get(tag uint16) *Property {
	return ps.props[tag]
}

// Len returns the number of decoded properties.
func (ps *PropertySet) Len() int { return len(ps.props) }

// Tags returns all property tags in ascending order.
func (ps *PropertySet) Tags() []uint16 {
	tags := make([]uint16, 0, len(ps.props))
	for tag := range ps.props {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// CodePage returns the code page used for 8-bit strings.
func (ps *PropertySet) CodePage() int { return ps.codePage }

// String returns the string value of tag, or "".
func (ps *PropertySet) String(tag uint16) string {
	if p := ps.Get(tag); p != nil {
		return p.Str
	}
	return ""
}

// Bytes returns the binary value of tag, or nil.
func (ps *PropertySet) Bytes(tag uint16) []byte {
	if p := ps.Get(tag); p != nil {
		return p.Bytes
	}
	return nil
}

// Int returns the integer value of tag; ok is false when the property is
// absent or not of an integer kind.
func (ps *PropertySet) Int(tag uint16) (int64, bool) {
	p := ps.Get(tag)
	if p == nil {
		return 0, false
	}
	switch p.Type.Base() {
	case TypeInt16, TypeInt32, TypeInt64:
		return p.Int, true
	case TypeBoolean:
		if p.Bool {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// Time returns the timestamp value of tag, or the zero time.
func (ps *PropertySet) Time(tag uint16) time.Time {
	if p := ps.Get(tag); p != nil && p.Type.Base() == TypeTime {
		return p.Time
	}
	return time.Time{}
}

// rawRecord is one 16-byte fixed record before value materialization.
type rawRecord struct {
	tag   uint16
	typ   PropertyType
	value [8]byte
}

// decodeProperties reads the property stream of storage plus the
// companion streams of its variable-length properties.
func decodeProperties(f *cfb.File, storage *cfb.Entry, headerSize int) (*PropertySet, error) {
	entry, ok, err := f.Child(storage, propertiesStreamName)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &PropertyError{Reason: fmt.Sprintf("storage %q has no property stream", storage.Name)}
	}
	data, err := f.ReadStream(entry)
	if err != nil {
		return nil, err
	}
	if len(data) < headerSize {
		return nil, &PropertyError{Reason: fmt.Sprintf("property stream of %q shorter than its %d-byte header", storage.Name, headerSize)}
	}

	records := make([]rawRecord, 0, (len(data)-headerSize)/16)
	for off := headerSize; off+16 <= len(data); off += 16 {
		rec := rawRecord{
			typ: PropertyType(binary.LittleEndian.Uint16(data[off : off+2])),
			tag: binary.LittleEndian.Uint16(data[off+2 : off+4]),
		}
		copy(rec.value[:], data[off+8:off+16])
		records = append(records, rec)
	}

	ps := &PropertySet{
		props:    make(map[uint16]*Property, len(records)),
		codePage: resolveCodePage(records),
	}

	for _, rec := range records {
		prop, err := materialize(f, storage, rec, ps.codePage)
		if err != nil {
			return nil, err
		}
		ps.props[prop.Tag] = prop
	}
	return ps, nil
}

// resolveCodePage finds the 8-bit string code page from the fixed records
// before any string is decoded. PR_MESSAGE_CODEPAGE wins over
// PR_INTERNET_CPID; Windows-1252 is the fallback.
func resolveCodePage(records []rawRecord) int {
	cp := 0
	for _, rec := range records {
		if rec.typ.Base() != TypeInt32 {
			continue
		}
		v := int(int32(binary.LittleEndian.Uint32(rec.value[:4])))
		switch rec.tag {
		case tagMessageCodePage:
			return v
		case tagInternetCodePage:
			cp = v
		}
	}
	if cp == 0 {
		cp = defaultCodePage
	}
	return cp
}

func materialize(f *cfb.File, storage *cfb.Entry, rec rawRecord, codePage int) (*Property, error) {
	p := &Property{Tag: rec.tag, Type: rec.typ}

	if !rec.typ.isVariable() {
		switch rec.typ {
		case TypeInt16:
			p.Int = int64(int16(binary.LittleEndian.Uint16(rec.value[:2])))
		case TypeInt32:
			p.Int = int64(int32(binary.LittleEndian.Uint32(rec.value[:4])))
		case TypeInt64:
			p.Int = int64(binary.LittleEndian.Uint64(rec.value[:]))
		case TypeFloat32:
			p.Float = float64(math.Float32frombits(binary.LittleEndian.Uint32(rec.value[:4])))
		case TypeFloat64:
			p.Float = math.Float64frombits(binary.LittleEndian.Uint64(rec.value[:]))
		case TypeBoolean:
			p.Bool = rec.value[0] != 0
		case TypeTime:
			p.Time = filetimeToTime(int64(binary.LittleEndian.Uint64(rec.value[:])))
		default:
			// Unknown fixed type: keep the raw record value.
			p.Bytes = append([]byte(nil), rec.value[:]...)
		}
		return p, nil
	}

	if rec.typ.Base() == TypeObject {
		// Object properties point at a sub-storage (an embedded message
		// or OLE object), not a companion stream; the attachment
		// resolver descends into it separately.
		return p, nil
	}

	declared := int(binary.LittleEndian.Uint32(rec.value[:4]))
	raw, err := readCompanion(f, storage, rec, declared)
	if err != nil {
		return nil, err
	}

	if rec.typ.IsMulti() {
		return materializeMulti(f, storage, rec, raw, codePage)
	}

	switch rec.typ {
	case TypeUnicode:
		s, err := decodeUnicode(raw)
		if err != nil {
			return nil, &EncodingError{Tag: rec.tag, CodePage: codePage, Reason: err.Error()}
		}
		p.Str = s
	case TypeString8:
		s, err := decodeString8(raw, codePage)
		if err != nil {
			return nil, &EncodingError{Tag: rec.tag, CodePage: codePage, Reason: err.Error()}
		}
		p.Str = s
	default:
		p.Bytes = raw
	}
	return p, nil
}

// readCompanion loads the variable-length value stream named after the
// tag and type, enforcing that the declared length matches the stream.
// String sizes declared in the fixed record include the terminating null
// that the companion stream itself does not carry.
func readCompanion(f *cfb.File, storage *cfb.Entry, rec rawRecord, declared int) ([]byte, error) {
	name := substreamName(rec.tag, rec.typ)
	entry, ok, err := f.Child(storage, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &PropertyError{Tag: rec.tag, Type: rec.typ, Reason: fmt.Sprintf("companion stream %q missing", name)}
	}
	raw, err := f.ReadStream(entry)
	if err != nil {
		return nil, err
	}

	want := declared
	switch rec.typ {
	case TypeUnicode:
		want -= 2
	case TypeString8:
		want--
	}
	if len(raw) != want && len(raw) != declared {
		return nil, &PropertyError{
			Tag:  rec.tag,
			Type: rec.typ,
			Reason: fmt.Sprintf("declared length %d disagrees with stream size %d", declared, len(raw)),
		}
	}
	if len(raw) > want && want >= 0 {
		raw = raw[:want]
	}
	return raw, nil
}

func materializeMulti(f *cfb.File, storage *cfb.Entry, rec rawRecord, lengths []byte, codePage int) (*Property, error) {
	p := &Property{Tag: rec.tag, Type: rec.typ}
	base := rec.typ.Base()

	// Fixed-width elements are packed directly into the companion stream.
	if size := fixedElementSize(base); size > 0 {
		for off := 0; off+size <= len(lengths); off += size {
			p.Blobs = append(p.Blobs, lengths[off:off+size])
		}
		return p, nil
	}

	// Variable elements: the companion stream is a length table and each
	// element lives in its own "-%08X" suffixed stream.
	entrySize := 4
	if base == TypeBinary || base == TypeObject {
		entrySize = 8
	}
	count := len(lengths) / entrySize
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s-%08X", substreamName(rec.tag, rec.typ), i)
		entry, ok, err := f.Child(storage, name)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &PropertyError{Tag: rec.tag, Type: rec.typ, Reason: fmt.Sprintf("element stream %q missing", name)}
		}
		raw, err := f.ReadStream(entry)
		if err != nil {
			return nil, err
		}
		switch base {
		case TypeUnicode:
			s, err := decodeUnicode(raw)
			if err != nil {
				return nil, &EncodingError{Tag: rec.tag, CodePage: codePage, Reason: err.Error()}
			}
			p.Strs = append(p.Strs, s)
		case TypeString8:
			s, err := decodeString8(raw, codePage)
			if err != nil {
				return nil, &EncodingError{Tag: rec.tag, CodePage: codePage, Reason: err.Error()}
			}
			p.Strs = append(p.Strs, s)
		default:
			p.Blobs = append(p.Blobs, raw)
		}
	}
	return p, nil
}

func fixedElementSize(t PropertyType) int {
	switch t {
	case TypeInt16:
		return 2
	case TypeInt32, TypeFloat32:
		return 4
	case TypeFloat64, TypeInt64, TypeTime:
		return 8
	case TypeGUID:
		return 16
	}
	return 0
}

func substreamName(tag uint16, typ PropertyType) string {
	return fmt.Sprintf("__substg1.0_%04X%04X", tag, uint16(typ))
}

// filetimeToTime converts 100-nanosecond ticks since 1601-01-01 UTC.
func filetimeToTime(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	const epochDelta = 11644473600 // seconds between 1601 and 1970
	secs := ticks/10_000_000 - epochDelta
	nsec := (ticks % 10_000_000) * 100
	return time.Unix(secs, nsec).UTC()
}
