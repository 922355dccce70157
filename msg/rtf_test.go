package msg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func compressedHeader(rawSize int, magic uint32, payload []byte) []byte {
	out := make([]byte, 16+len(payload))
	binary.LittleEndian.PutUint32(out[0:], uint32(12+len(payload)))
	binary.LittleEndian.PutUint32(out[4:], uint32(rawSize))
	binary.LittleEndian.PutUint32(out[8:], magic)
	// CRC left zero; readers are lenient about it.
	copy(out[16:], payload)
	return out
}

func TestDecompressRTFUncompressed(t *testing.T) {
	body := []byte(`{\rtf1 stored raw}`)
	data := compressedHeader(len(body), rtfUncompressed, body)

	got, err := DecompressRTF(data)
	if err != nil {
		t.Fatalf("DecompressRTF() error = %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("DecompressRTF() = %q, want %q", got, body)
	}
}

func TestDecompressRTFLiterals(t *testing.T) {
	// Two control groups of pure literals.
	text := []byte("Hello RTF!")
	var payload []byte
	payload = append(payload, 0x00)
	payload = append(payload, text[:8]...)
	payload = append(payload, 0x00)
	payload = append(payload, text[8:]...)

	data := compressedHeader(len(text), rtfCompressed, payload)
	got, err := DecompressRTF(data)
	if err != nil {
		t.Fatalf("DecompressRTF() error = %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Errorf("DecompressRTF() = %q, want %q", got, text)
	}
}

func TestDecompressRTFDictionaryReference(t *testing.T) {
	// The seed dictionary starts with "{\rtf1\ansi"; reference offset 0,
	// run length 11, then the cursor-reference terminator. After 11
	// output bytes the cursor sits at 207+11 = 218.
	payload := []byte{
		0x03,       // two reference tokens
		0x00, 0x09, // offset 0, length 9+2
		0x0D, 0xA0, // offset 218 == cursor: terminator
	}

	data := compressedHeader(11, rtfCompressed, payload)
	got, err := DecompressRTF(data)
	if err != nil {
		t.Fatalf("DecompressRTF() error = %v", err)
	}
	if want := []byte(`{\rtf1\ansi`); !bytes.Equal(got, want) {
		t.Errorf("DecompressRTF() = %q, want %q", got, want)
	}
}

func TestDecompressRTFInvalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte{0x01, 0x02}},
		{"bad magic", compressedHeader(4, 0xDEADBEEF, []byte("body"))},
		{"truncated reference", compressedHeader(100, rtfCompressed, []byte{0x01, 0x00})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecompressRTF(tt.data); !errors.Is(err, ErrInvalidRTF) {
				t.Errorf("DecompressRTF() error = %v, want ErrInvalidRTF", err)
			}
		})
	}
}

func TestRTFToHTML(t *testing.T) {
	rtf := []byte(`{\rtf1\ansi\fromhtml1{\*\htmltag2 <html>}{\*\htmltag50 <p>}Visible \htmlrtf \par hidden\htmlrtf0  text{\*\htmltag58 </p>}{\*\htmltag3 </html>}}`)

	got := RTFToHTML(rtf)
	want := "<html><p>Visible  text</p></html>"
	if string(got) != want {
		t.Errorf("RTFToHTML() = %q, want %q", got, want)
	}
}

func TestRTFToHTMLNotEncapsulated(t *testing.T) {
	if got := RTFToHTML([]byte(`{\rtf1\ansi plain rich text}`)); got != nil {
		t.Errorf("RTFToHTML() = %q, want nil", got)
	}
}

func TestRTFToText(t *testing.T) {
	rtf := []byte(`{\rtf1\ansi{\fonttbl{\f0 Arial;}}Line one\par Line two\tab tabbed \'e9 accent}`)

	got := RTFToText(rtf, 1252)
	want := "Line one\nLine two\ttabbed é accent"
	if got != want {
		t.Errorf("RTFToText() = %q, want %q", got, want)
	}
}

func TestRTFToTextUnicodeEscape(t *testing.T) {
	rtf := []byte(`{\rtf1\uc1 caf\u233 e!}`)

	got := RTFToText(rtf, 1252)
	if got != "café!" {
		t.Errorf("RTFToText() = %q, want café!", got)
	}
}
