// rtf.go decompresses PR_RTF_COMPRESSED payloads (MS-OXRTFCP). The
// stream is either LZ77-style compressed against a fixed seeded
// dictionary ("LZFu") or stored raw behind the same header ("MELA").

package msg

import (
	"encoding/binary"
	"errors"
)

const (
	rtfCompressed   = 0x75465A4C // "LZFu"
	rtfUncompressed = 0x414C454D // "MELA"
)

// ErrInvalidRTF is returned for a malformed compressed-RTF stream.
var ErrInvalidRTF = errors.New("msg: invalid compressed RTF stream")

// rtfSeedDict is the fixed dictionary seed defined by MS-OXRTFCP. It
// fills positions 0-206 of the 4096-byte ring before decompression, and
// the write cursor starts right after it.
var rtfSeedDict = []byte(
	"{\\rtf1\\ansi\\mac\\deff0\\deftab720{\\fonttbl;}" +
		"{\\f0\\fnil \\froman \\fswiss \\fmodern \\fscript " +
		"\\fdecor MS Sans SerifSymbolArialTimes New Roman" +
		"Courier{\\colortbl\\red0\\green0\\blue0\r\n\\par " +
		"\\pard\\plain\\f0\\fs20\\b\\i\\u\\tab\\tx",
)

const rtfDictSize = 4096

// maxRTFSize caps the output allocation so a crafted header cannot
// request an absurd buffer. Real message bodies are far smaller.
const maxRTFSize = 64 << 20

// DecompressRTF expands a PR_RTF_COMPRESSED byte stream into raw RTF.
func DecompressRTF(data []byte) ([]byte, error) {
	if len(data) < 16 {
		return nil, ErrInvalidRTF
	}

	rawSize := int(binary.LittleEndian.Uint32(data[4:8]))
	magic := binary.LittleEndian.Uint32(data[8:12])
	if rawSize < 0 || rawSize > maxRTFSize {
		return nil, ErrInvalidRTF
	}

	switch magic {
	case rtfUncompressed:
		body := data[16:]
		if rawSize < len(body) {
			body = body[:rawSize]
		}
		return append([]byte(nil), body...), nil
	case rtfCompressed:
		return expandLZFu(data[16:], rawSize)
	default:
		return nil, ErrInvalidRTF
	}
}

func expandLZFu(input []byte, rawSize int) ([]byte, error) {
	dict := make([]byte, rtfDictSize)
	copy(dict, rtfSeedDict)
	cursor := len(rtfSeedDict)

	out := make([]byte, 0, rawSize)
	pos := 0

	for pos < len(input) && len(out) < rawSize {
		// Control byte: one bit per following token, LSB first.
		// 1 = dictionary reference, 0 = literal.
		control := input[pos]
		pos++

		for bit := 0; bit < 8 && pos < len(input) && len(out) < rawSize; bit++ {
			if control&(1<<bit) == 0 {
				b := input[pos]
				pos++
				out = append(out, b)
				dict[cursor] = b
				cursor = (cursor + 1) % rtfDictSize
				continue
			}

			if pos+1 >= len(input) {
				return nil, ErrInvalidRTF
			}
			// 12-bit dictionary offset, 4-bit run length (biased by 2).
			offset := int(input[pos])<<4 | int(input[pos+1])>>4
			length := int(input[pos+1]&0x0F) + 2
			pos += 2

			// A reference to the current cursor terminates the stream.
			if offset == cursor {
				return out, nil
			}

			for i := 0; i < length && len(out) < rawSize; i++ {
				b := dict[(offset+i)%rtfDictSize]
				out = append(out, b)
				dict[cursor] = b
				cursor = (cursor + 1) % rtfDictSize
			}
		}
	}

	return out, nil
}
