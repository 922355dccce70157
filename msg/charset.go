// charset.go maps Windows code page numbers onto text decoders for the
// 8-bit string properties.

package msg

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// defaultCodePage is the fallback when a message declares no code page.
const defaultCodePage = 1252 // Windows-1252

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// codePageEncodings covers the code pages that show up in real-world
// Outlook messages. Unlisted pages fall back to Windows-1252 rather than
// failing: a wrong single-byte mapping is still readable, a hard error
// loses the message.
var codePageEncodings = map[int]encoding.Encoding{
	437:   charmap.CodePage437,
	850:   charmap.CodePage850,
	852:   charmap.CodePage852,
	866:   charmap.CodePage866,
	874:   charmap.Windows874,
	932:   japanese.ShiftJIS,
	936:   simplifiedchinese.GBK,
	949:   korean.EUCKR,
	950:   traditionalchinese.Big5,
	1250:  charmap.Windows1250,
	1251:  charmap.Windows1251,
	1252:  charmap.Windows1252,
	1253:  charmap.Windows1253,
	1254:  charmap.Windows1254,
	1255:  charmap.Windows1255,
	1256:  charmap.Windows1256,
	1257:  charmap.Windows1257,
	1258:  charmap.Windows1258,
	20866: charmap.KOI8R,
	21866: charmap.KOI8U,
	28591: charmap.ISO8859_1,
	28592: charmap.ISO8859_2,
	28595: charmap.ISO8859_5,
	28597: charmap.ISO8859_7,
	28599: charmap.ISO8859_9,
	28605: charmap.ISO8859_15,
	65001: unicode.UTF8,
}

func encodingForCodePage(cp int) encoding.Encoding {
	if enc, ok := codePageEncodings[cp]; ok {
		return enc
	}
	return charmap.Windows1252
}

// decodeUnicode converts a UTF-16LE payload to a string. An odd byte
// count cannot be valid UTF-16 and is reported rather than truncated.
func decodeUnicode(raw []byte) (string, error) {
	if len(raw)%2 != 0 {
		return "", fmt.Errorf("odd UTF-16 payload length %d", len(raw))
	}
	out, err := utf16le.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return trimNulls(string(out)), nil
}

// DecodeText converts a text payload stored under a Windows code page
// into a Go string. The MIME writer uses it to re-encode HTML bodies as
// UTF-8.
func DecodeText(raw []byte, codePage int) (string, error) {
	return decodeString8(raw, codePage)
}

// decodeString8 converts an 8-bit payload using the message code page.
func decodeString8(raw []byte, codePage int) (string, error) {
	out, err := encodingForCodePage(codePage).NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return trimNulls(string(out)), nil
}

func trimNulls(s string) string {
	for len(s) > 0 && s[len(s)-1] == 0 {
		s = s[:len(s)-1]
	}
	return s
}
