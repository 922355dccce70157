// Package eml serializes an assembled message into a standards-compliant
// RFC 5322/MIME document.
//
// Structure rules: body format alternatives nest under
// multipart/alternative (plain first, HTML last); any attachments force
// a multipart/mixed root with the body (or body alternatives) as its
// first child. Binary attachments travel base64-encoded, nested
// messages as message/rfc822 with their payload verbatim.
package eml

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/msg-to-eml/msg"
)

const defaultAttachmentType = "application/octet-stream"

// part is one leaf of the output document, fully materialized before
// serialization so boundary tokens can be checked against its content.
type part struct {
	mediaType string
	params    map[string]string
	encoding  string // Content-Transfer-Encoding, "" for none
	extra     map[string]string
	content   []byte
}

// Write serializes a message into a complete, self-contained mail
// document. The result needs no external state to be parsed.
func Write(m *msg.Message) ([]byte, error) {
	header, err := buildHeader(m)
	if err != nil {
		return nil, err
	}

	bodies := bodyParts(m)
	attachments, err := attachmentParts(m)
	if err != nil {
		return nil, err
	}

	// Every boundary must be absent from every part payload; newBoundary
	// checks candidates against this corpus.
	var corpus [][]byte
	for _, p := range append(append([]part{}, bodies...), attachments...) {
		corpus = append(corpus, p.content)
	}

	var buf bytes.Buffer
	switch {
	case len(attachments) > 0:
		mixed := newBoundary(corpus)
		alt := ""
		if len(bodies) > 1 {
			alt = newBoundary(append(corpus, []byte(mixed)))
		}
		header.SetContentType("multipart/mixed", map[string]string{"boundary": mixed})
		w, err := createWriter(&buf, &header)
		if err != nil {
			return nil, err
		}
		if err := writeBodies(w, bodies, alt); err != nil {
			return nil, err
		}
		for _, p := range attachments {
			if err := writePart(w, p); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

	case len(bodies) > 1:
		alt := newBoundary(corpus)
		header.SetContentType("multipart/alternative", map[string]string{"boundary": alt})
		w, err := createWriter(&buf, &header)
		if err != nil {
			return nil, err
		}
		for _, p := range bodies {
			if err := writePart(w, p); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

	default:
		p := bodies[0]
		header.SetContentType(p.mediaType, p.params)
		if p.encoding != "" {
			header.Set("Content-Transfer-Encoding", p.encoding)
		}
		w, err := createWriter(&buf, &header)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(p.content); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func createWriter(buf *bytes.Buffer, header *mail.Header) (*message.Writer, error) {
	header.Set("MIME-Version", "1.0")
	w, err := message.CreateWriter(buf, header.Header)
	if err != nil {
		return nil, fmt.Errorf("write message header: %w", err)
	}
	return w, nil
}

// writeBodies emits the body content into w: a multipart/alternative
// child when several formats exist, a single part otherwise.
func writeBodies(w *message.Writer, bodies []part, altBoundary string) error {
	if len(bodies) == 1 {
		return writePart(w, bodies[0])
	}

	var h message.Header
	h.SetContentType("multipart/alternative", map[string]string{"boundary": altBoundary})
	alt, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	for _, p := range bodies {
		if err := writePart(alt, p); err != nil {
			return err
		}
	}
	return alt.Close()
}

func writePart(w *message.Writer, p part) error {
	var h message.Header
	h.SetContentType(p.mediaType, p.params)
	if p.encoding != "" {
		h.Set("Content-Transfer-Encoding", p.encoding)
	}
	for key, value := range p.extra {
		h.Set(key, value)
	}
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := pw.Write(p.content); err != nil {
		return err
	}
	return pw.Close()
}

// bodyParts collects every body format the message carries, in
// alternative order: plain text first, HTML (the preferred rendering)
// last. A message whose only body is compressed RTF still yields a
// readable text part.
func bodyParts(m *msg.Message) []part {
	var parts []part

	text := m.BodyText
	if text == "" && len(m.BodyRTF) > 0 && m.BodyHTML == nil {
		text = msg.RTFToText(m.BodyRTF, m.HTMLCodePage)
	}

	html := m.BodyHTML
	if html == nil && len(m.BodyRTF) > 0 {
		html = msg.RTFToHTML(m.BodyRTF)
	} else if html != nil {
		if decoded, err := msg.DecodeText(html, m.HTMLCodePage); err == nil {
			html = []byte(decoded)
		}
	}

	if text != "" || (html == nil && len(m.BodyRTF) == 0) {
		parts = append(parts, part{
			mediaType: "text/plain",
			params:    map[string]string{"charset": "utf-8"},
			encoding:  "quoted-printable",
			content:   []byte(text),
		})
	}
	if len(m.BodyRTF) > 0 {
		parts = append(parts, part{
			mediaType: "application/rtf",
			params:    map[string]string{"name": "body.rtf"},
			encoding:  "base64",
			content:   m.BodyRTF,
		})
	}
	if html != nil {
		parts = append(parts, part{
			mediaType: "text/html",
			params:    map[string]string{"charset": "utf-8"},
			encoding:  "quoted-printable",
			content:   html,
		})
	}
	return parts
}

func attachmentParts(m *msg.Message) ([]part, error) {
	var parts []part
	for i, a := range m.Attachments {
		if a.IsMessage() {
			payload, err := Write(a.Embedded)
			if err != nil {
				return nil, fmt.Errorf("embedded message %d: %w", i, err)
			}
			name := attachmentName(a, i)
			parts = append(parts, part{
				mediaType: "message/rfc822",
				extra: map[string]string{
					"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": name}),
				},
				content: payload,
			})
			continue
		}

		name := attachmentName(a, i)
		disposition := "attachment"
		extra := map[string]string{}
		if a.ContentID != "" {
			extra["Content-Id"] = "<" + strings.Trim(a.ContentID, "<>") + ">"
			disposition = "inline"
		}
		extra["Content-Disposition"] = mime.FormatMediaType(disposition, map[string]string{"filename": name})

		parts = append(parts, part{
			mediaType: contentTypeFor(a, name),
			params:    map[string]string{"name": name},
			encoding:  "base64",
			extra:     extra,
			content:   a.Data,
		})
	}
	return parts, nil
}

// attachmentName returns the display filename, generating a sequential
// one for unnamed attachments.
func attachmentName(a *msg.Attachment, index int) string {
	if name := a.Filename(); name != "" {
		return name
	}
	if a.IsMessage() {
		if subject := strings.TrimSpace(a.Embedded.Subject); subject != "" {
			return sanitizeFilename(subject) + ".eml"
		}
		return fmt.Sprintf("attachment-%d.eml", index+1)
	}
	ext := a.Extension
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("attachment-%d%s", index+1, ext)
}

// contentTypeFor prefers the recorded MIME tag, then the filename
// extension, then the octet-stream default.
func contentTypeFor(a *msg.Attachment, name string) string {
	if a.MIMEType != "" {
		return a.MIMEType
	}
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			// Strip any charset parameter; the payload is opaque bytes.
			if i := strings.IndexByte(ct, ';'); i >= 0 {
				ct = ct[:i]
			}
			return ct
		}
	}
	return defaultAttachmentType
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

func messageHeader(th textproto.Header) message.Header {
	return message.Header{Header: th}
}
