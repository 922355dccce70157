package eml

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"

	"github.com/dhcgn/msg-to-eml/msg"
)

func baseMessage() *msg.Message {
	return &msg.Message{
		Subject:    "Test message",
		SenderName: "Ada Example",
		SenderAddr: "ada@example.com",
		Sent:       time.Date(2024, 3, 14, 9, 26, 53, 0, time.UTC),
		MessageID:  "<fixture@example.com>",
		Importance: 1,
		Recipients: []msg.Recipient{
			{Name: "Grace Example", Addr: "grace@example.com", Role: msg.RoleTo},
		},
		BodyText: "plain body\r\n",
	}
}

func parse(t *testing.T, raw []byte) *message.Entity {
	t.Helper()
	e, err := message.Read(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("message.Read() error = %v", err)
	}
	return e
}

func TestWriteSinglePart(t *testing.T) {
	out, err := Write(baseMessage())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	mediaType, _, err := e.Header.ContentType()
	if err != nil {
		t.Fatalf("ContentType() error = %v", err)
	}
	if mediaType != "text/plain" {
		t.Errorf("media type = %q, want text/plain", mediaType)
	}
	if got := e.Header.Get("Mime-Version"); got != "1.0" {
		t.Errorf("MIME-Version = %q", got)
	}
	if got := e.Header.Get("Subject"); got != "Test message" {
		t.Errorf("Subject = %q", got)
	}
	if got := e.Header.Get("Message-Id"); !strings.Contains(got, "fixture@example.com") {
		t.Errorf("Message-Id = %q", got)
	}

	body, err := io.ReadAll(e.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "plain body") {
		t.Errorf("body = %q", body)
	}
}

func TestWriteAlternative(t *testing.T) {
	m := baseMessage()
	m.BodyHTML = []byte("<html><body><b>rich</b></body></html>")

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	mediaType, _, _ := e.Header.ContentType()
	if mediaType != "multipart/alternative" {
		t.Fatalf("media type = %q, want multipart/alternative", mediaType)
	}

	var types []string
	mr := e.MultipartReader()
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("NextPart() error = %v", err)
		}
		mt, _, _ := part.Header.ContentType()
		types = append(types, mt)
	}

	want := []string{"text/plain", "text/html"}
	if len(types) != len(want) {
		t.Fatalf("part types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("part %d = %q, want %q (html must come last)", i, types[i], want[i])
		}
	}
}

func TestWriteMixedWithAttachment(t *testing.T) {
	payload := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xFF, 0x80}

	m := baseMessage()
	m.Attachments = []*msg.Attachment{{
		LongName: "doc.pdf",
		MIMEType: "application/pdf",
		Method:   msg.AttachByValue,
		Data:     payload,
	}}

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	mediaType, _, _ := e.Header.ContentType()
	if mediaType != "multipart/mixed" {
		t.Fatalf("media type = %q, want multipart/mixed", mediaType)
	}

	mr := e.MultipartReader()

	first, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	if mt, _, _ := first.Header.ContentType(); mt != "text/plain" {
		t.Errorf("first part = %q, want text/plain", mt)
	}

	second, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	mt, params, _ := second.Header.ContentType()
	if mt != "application/pdf" {
		t.Errorf("attachment type = %q", mt)
	}
	if params["name"] != "doc.pdf" {
		t.Errorf("attachment name = %q", params["name"])
	}

	// message.Read decodes the base64 transfer encoding.
	got, err := io.ReadAll(second.Body)
	if err != nil {
		t.Fatalf("read attachment: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("attachment bytes = %x, want %x", got, payload)
	}
}

func TestWriteEmbeddedMessage(t *testing.T) {
	inner := baseMessage()
	inner.Subject = "inner"

	m := baseMessage()
	m.Attachments = []*msg.Attachment{{
		Method:   msg.AttachEmbeddedMsg,
		Embedded: inner,
	}}

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	mr := e.MultipartReader()
	if _, err := mr.NextPart(); err != nil {
		t.Fatalf("body part: %v", err)
	}
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("embedded part: %v", err)
	}
	if mt, _, _ := part.Header.ContentType(); mt != "message/rfc822" {
		t.Fatalf("embedded type = %q, want message/rfc822", mt)
	}

	nested, err := message.Read(part.Body)
	if err != nil {
		t.Fatalf("read nested message: %v", err)
	}
	if got := nested.Header.Get("Subject"); got != "inner" {
		t.Errorf("nested Subject = %q, want inner", got)
	}
}

func TestWriteTransportHeadersWin(t *testing.T) {
	m := baseMessage()
	m.TransportHeaders = "Received: from relay.example.net\r\n" +
		"From: Wire Sender <wire@example.net>\r\n" +
		"Subject: wire subject\r\n" +
		"Content-Type: text/plain; charset=windows-1252\r\n" +
		"Message-Id: <wire@example.net>\r\n" +
		"Date: Thu, 14 Mar 2024 10:26:53 +0100\r\n"

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	if got := e.Header.Get("Subject"); got != "wire subject" {
		t.Errorf("Subject = %q, want the wire header value", got)
	}
	if got := e.Header.Get("From"); !strings.Contains(got, "wire@example.net") {
		t.Errorf("From = %q, want the wire header value", got)
	}
	if got := e.Header.Get("Received"); !strings.Contains(got, "relay.example.net") {
		t.Errorf("Received = %q", got)
	}

	// Structural headers are always regenerated, never copied.
	mediaType, params, _ := e.Header.ContentType()
	if mediaType != "text/plain" || params["charset"] == "windows-1252" {
		t.Errorf("Content-Type = %q %v, want regenerated utf-8 part", mediaType, params)
	}
}

func TestWriteImportanceHeaders(t *testing.T) {
	m := baseMessage()
	m.Importance = 2

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	e := parse(t, out)
	if got := e.Header.Get("X-Priority"); got != "1 (Highest)" {
		t.Errorf("X-Priority = %q", got)
	}
	if got := e.Header.Get("Importance"); got != "High" {
		t.Errorf("Importance = %q", got)
	}
}

func TestWriteGeneratesMessageID(t *testing.T) {
	m := baseMessage()
	m.MessageID = ""

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	e := parse(t, out)
	if got := e.Header.Get("Message-Id"); got == "" {
		t.Error("Message-Id missing, want a generated one")
	}
}

func TestWriteRTFOnlyBody(t *testing.T) {
	m := baseMessage()
	m.BodyText = ""
	m.BodyRTF = []byte(`{\rtf1\ansi Rich only body\par}`)
	m.HTMLCodePage = 1252

	out, err := Write(m)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	e := parse(t, out)
	mediaType, _, _ := e.Header.ContentType()
	if mediaType != "multipart/alternative" {
		t.Fatalf("media type = %q, want multipart/alternative", mediaType)
	}

	mr := e.MultipartReader()
	first, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart() error = %v", err)
	}
	if mt, _, _ := first.Header.ContentType(); mt != "text/plain" {
		t.Fatalf("first part = %q, want text/plain fallback", mt)
	}
	body, _ := io.ReadAll(first.Body)
	if !strings.Contains(string(body), "Rich only body") {
		t.Errorf("fallback text = %q", body)
	}
}
