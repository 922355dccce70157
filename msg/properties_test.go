package msg_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/dhcgn/msg-to-eml/cfb"
	"github.com/dhcgn/msg-to-eml/msg"
	"github.com/dhcgn/msg-to-eml/msgtest"
)

func readProps(t *testing.T, build func(*msgtest.PropStream)) (*msg.Message, error) {
	t.Helper()
	b := msgtest.NewBuilder()
	ps := msgtest.NewProps(b.Root(), msgtest.HeaderTopLevel)
	ps.AddUnicode(0x0037, "fixture")
	build(ps)
	ps.Finish()

	f, err := cfb.Open(b.Bytes())
	if err != nil {
		t.Fatalf("cfb.Open() error = %v", err)
	}
	return msg.Read(f)
}

func TestFixedTypes(t *testing.T) {
	sent := time.Date(2023, 11, 2, 17, 4, 5, 0, time.UTC)

	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddInt32(0x0017, 2)
		ps.AddInt64(0x0E08, 123456789012)
		ps.AddBool(0x0E1F, true)
		ps.AddTime(0x0039, sent)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if m.Importance != 2 {
		t.Errorf("int32 importance = %d, want 2", m.Importance)
	}
	if v, ok := m.Properties.Int(0x0E08); !ok || v != 123456789012 {
		t.Errorf("int64 = %d, %t", v, ok)
	}
	if p := m.Properties.Get(0x0E1F); p == nil || !p.Bool {
		t.Error("bool property lost")
	}
	if !m.Sent.Equal(sent) {
		t.Errorf("Sent = %v, want %v", m.Sent, sent)
	}
}

func TestUnknownTagsRetained(t *testing.T) {
	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddUnicode(0x80F0, "custom named property")
		ps.AddInt32(0x6001, 42)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got := m.Properties.String(0x80F0); got != "custom named property" {
		t.Errorf("unknown unicode tag = %q", got)
	}
	if v, ok := m.Properties.Int(0x6001); !ok || v != 42 {
		t.Errorf("unknown int tag = %d, %t", v, ok)
	}
}

func TestString8UsesMessageCodePage(t *testing.T) {
	// "привет" in Windows-1251.
	cp1251 := []byte{0xEF, 0xF0, 0xE8, 0xE2, 0xE5, 0xF2}

	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddInt32(0x3FFD, 1251)
		ps.AddString8(0x1000, cp1251)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if m.Properties.CodePage() != 1251 {
		t.Errorf("CodePage() = %d, want 1251", m.Properties.CodePage())
	}
	if m.BodyText != "привет" {
		t.Errorf("BodyText = %q, want привет", m.BodyText)
	}
}

func TestMessageCodePageWinsOverInternet(t *testing.T) {
	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddInt32(0x3FDE, 65001)
		ps.AddInt32(0x3FFD, 1252)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if m.Properties.CodePage() != 1252 {
		t.Errorf("CodePage() = %d, want 1252", m.Properties.CodePage())
	}
	// The HTML code page still follows PR_INTERNET_CPID.
	if m.HTMLCodePage != 65001 {
		t.Errorf("HTMLCodePage = %d, want 65001", m.HTMLCodePage)
	}
}

func TestMissingCompanionStream(t *testing.T) {
	_, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddVarRecordOnly(msgtest.TypeUnicode, 0x0E04, 12)
	})

	var pe *msg.PropertyError
	if !errors.As(err, &pe) {
		t.Fatalf("Read() error = %v, want *PropertyError", err)
	}
}

func TestDeclaredLengthMismatch(t *testing.T) {
	_, err := readProps(t, func(ps *msgtest.PropStream) {
		// Declares 100 bytes but the stream holds 6.
		ps.AddVar(msgtest.TypeUnicode, 0x0E04, 100, msgtest.UTF16Bytes("abc"))
	})

	var pe *msg.PropertyError
	if !errors.As(err, &pe) {
		t.Fatalf("Read() error = %v, want *PropertyError", err)
	}
}

func TestOddUnicodePayload(t *testing.T) {
	_, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddVar(msgtest.TypeUnicode, 0x0E04, 7, []byte{0x61, 0x00, 0x62, 0x00, 0x63})
	})

	var ee *msg.EncodingError
	if !errors.As(err, &ee) {
		t.Fatalf("Read() error = %v, want *EncodingError", err)
	}
}

func TestBinaryProperty(t *testing.T) {
	payload := bytes.Repeat([]byte{0xDE, 0xAD}, 100)

	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddBinary(0x0E09, payload)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(m.Properties.Bytes(0x0E09), payload) {
		t.Error("binary property round-trip mismatch")
	}
}

func TestTerminatorTolerated(t *testing.T) {
	// Some writers keep the null terminator in the companion stream;
	// the declared size then matches the stream exactly.
	raw := msgtest.UTF16Bytes("with null")
	withNull := append(append([]byte(nil), raw...), 0x00, 0x00)

	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddVar(msgtest.TypeUnicode, 0x0E04, uint32(len(withNull)), withNull)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := m.Properties.String(0x0E04); got != "with null" {
		t.Errorf("String() = %q, want %q", got, "with null")
	}
}

func TestFiletimeConversion(t *testing.T) {
	// 2020-01-01 00:00:00 UTC as a FILETIME tick count.
	want := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := msgtest.Filetime(want)

	var value [8]byte
	binary.LittleEndian.PutUint64(value[:], ticks)

	m, err := readProps(t, func(ps *msgtest.PropStream) {
		ps.AddRecord(msgtest.TypeTime, 0x0039, value)
	})
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !m.Sent.Equal(want) {
		t.Errorf("Sent = %v, want %v", m.Sent, want)
	}
}
