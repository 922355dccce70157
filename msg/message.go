// Package msg assembles a semantic mail message from the property
// storages of an Outlook .msg compound container: headers, body
// variants, recipients, attachments, and recursively embedded messages.
package msg

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dhcgn/msg-to-eml/cfb"
)

// MAPI property tags consumed during assembly.
const (
	tagImportance           = 0x0017
	tagSubject              = 0x0037
	tagClientSubmitTime     = 0x0039
	tagSentRepresentingName = 0x0042
	tagSentRepresentingAddr = 0x0065
	tagTransportHeaders     = 0x007D
	tagSenderName           = 0x0C1A
	tagSenderAddrType       = 0x0C1E
	tagSenderAddr           = 0x0C1F
	tagRecipientType        = 0x0C15
	tagDeliveryTime         = 0x0E06
	tagBody                 = 0x1000
	tagRTFCompressed        = 0x1009
	tagBodyHTML             = 0x1013
	tagInternetMessageID    = 0x1035
	tagDisplayName          = 0x3001
	tagAddrType             = 0x3002
	tagEmailAddress         = 0x3003
	tagAttachData           = 0x3701
	tagAttachExtension      = 0x3703
	tagAttachShortName      = 0x3704
	tagAttachMethod         = 0x3705
	tagAttachLongName       = 0x3707
	tagAttachMimeTag        = 0x370E
	tagAttachContentID      = 0x3712
	tagSMTPAddress          = 0x39FE
	tagSenderSMTPAddress    = 0x5D01
	tagInternetCodePage     = 0x3FDE
	tagMessageCodePage      = 0x3FFD
)

// Sub-storage name prefixes (MS-OXMSG).
const (
	recipientPrefix  = "__recip_version1.0_#"
	attachmentPrefix = "__attach_version1.0_#"
	embeddedStorage  = "__substg1.0_3701000D"
)

// MaxEmbedDepth bounds how deep message-in-message attachments may nest.
const MaxEmbedDepth = 8

// ErrNestingTooDeep is returned when embedded messages nest beyond
// MaxEmbedDepth.
var ErrNestingTooDeep = errors.New("msg: embedded message nesting exceeds depth limit")

// AssemblyError reports a container whose properties carry no message
// identity at all (no subject, no sender, no timestamp).
type AssemblyError struct {
	Reason string
}

func (e *AssemblyError) Error() string {
	return "msg: " + e.Reason
}

// Role classifies a recipient.
type Role int

const (
	RoleTo Role = iota
	RoleCc
	RoleBcc
)

func (r Role) String() string {
	switch r {
	case RoleCc:
		return "cc"
	case RoleBcc:
		return "bcc"
	}
	return "to"
}

// Recipient is a single addressee in original composition order.
type Recipient struct {
	Name string
	Addr string
	Role Role
}

// Message is the assembled semantic message.
type Message struct {
	Subject    string
	SenderName string
	SenderAddr string

	Sent     time.Time
	Received time.Time

	// TransportHeaders is the verbatim RFC 822 header block when the
	// source preserved one. It takes precedence for header
	// reconstruction over the discrete properties above.
	TransportHeaders string

	MessageID  string
	Importance int // 0 low, 1 normal, 2 high

	Recipients []Recipient

	BodyText string
	BodyHTML []byte // raw bytes in HTMLCodePage
	BodyRTF  []byte // decompressed RTF

	// HTMLCodePage is the code page of BodyHTML (PR_INTERNET_CPID).
	HTMLCodePage int

	Attachments []*Attachment

	// Properties holds every decoded property, including tags the
	// assembler does not interpret.
	Properties *PropertySet
}

// Read assembles the message stored in an opened compound container.
func Read(f *cfb.File) (*Message, error) {
	return readMessage(f, f.Root(), 0)
}

func readMessage(f *cfb.File, storage *cfb.Entry, depth int) (*Message, error) {
	if depth > MaxEmbedDepth {
		return nil, fmt.Errorf("%w (limit %d)", ErrNestingTooDeep, MaxEmbedDepth)
	}

	headerSize := headerTopLevel
	if depth > 0 {
		headerSize = headerEmbedded
	}
	ps, err := decodeProperties(f, storage, headerSize)
	if err != nil {
		return nil, err
	}

	m := &Message{
		Subject:          ps.String(tagSubject),
		SenderName:       ps.String(tagSenderName),
		SenderAddr:       senderAddress(ps),
		Sent:             ps.Time(tagClientSubmitTime),
		Received:         ps.Time(tagDeliveryTime),
		TransportHeaders: ps.String(tagTransportHeaders),
		MessageID:        ps.String(tagInternetMessageID),
		Importance:       1,
		BodyText:         ps.String(tagBody),
		BodyHTML:         htmlBody(ps),
		HTMLCodePage:     htmlCodePage(ps),
		Properties:       ps,
	}

	if imp, ok := ps.Int(tagImportance); ok {
		m.Importance = int(imp)
	}
	if m.SenderName == "" {
		m.SenderName = ps.String(tagSentRepresentingName)
	}

	if !m.hasIdentity() {
		return nil, &AssemblyError{Reason: "message carries no identifying metadata (subject, sender, or timestamp)"}
	}

	if compressed := ps.Bytes(tagRTFCompressed); len(compressed) > 0 {
		// A broken RTF stream only loses the RTF body variant; the
		// message itself stays convertible.
		if rtf, err := DecompressRTF(compressed); err == nil {
			m.BodyRTF = rtf
		}
	}

	children, err := f.Children(storage)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		switch {
		case child.IsStorage() && strings.HasPrefix(child.Name, recipientPrefix):
			r, err := readRecipient(f, child)
			if err != nil {
				return nil, err
			}
			m.Recipients = append(m.Recipients, r)
		case child.IsStorage() && strings.HasPrefix(child.Name, attachmentPrefix):
			a, err := readAttachment(f, child, depth)
			if err != nil {
				return nil, err
			}
			m.Attachments = append(m.Attachments, a)
		}
	}

	return m, nil
}

func (m *Message) hasIdentity() bool {
	return m.Subject != "" || m.SenderName != "" || m.SenderAddr != "" ||
		!m.Sent.IsZero() || !m.Received.IsZero()
}

// Sender returns the best display form of the sender.
func (m *Message) Sender() (name, addr string) {
	return m.SenderName, m.SenderAddr
}

// Date returns the message timestamp, preferring the submit time.
func (m *Message) Date() time.Time {
	if !m.Sent.IsZero() {
		return m.Sent
	}
	return m.Received
}

// RecipientsWithRole returns the recipients of one role, preserving
// their relative order.
func (m *Message) RecipientsWithRole(role Role) []Recipient {
	var out []Recipient
	for _, r := range m.Recipients {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// senderAddress prefers the resolved SMTP address over the raw MAPI
// address, which may be an X.500 DN for Exchange-internal senders.
func senderAddress(ps *PropertySet) string {
	if addr := ps.String(tagSenderSMTPAddress); addr != "" {
		return addr
	}
	addr := ps.String(tagSenderAddr)
	if addr == "" {
		addr = ps.String(tagSentRepresentingAddr)
	}
	if typ := ps.String(tagSenderAddrType); typ != "" && !strings.EqualFold(typ, "SMTP") && !strings.Contains(addr, "@") {
		return ""
	}
	return addr
}

// htmlBody handles PR_HTML stored either as binary or as a string
// property, depending on the writer.
func htmlBody(ps *PropertySet) []byte {
	p := ps.Get(tagBodyHTML)
	if p == nil {
		return nil
	}
	if len(p.Bytes) > 0 {
		return p.Bytes
	}
	if p.Str != "" {
		return []byte(p.Str)
	}
	return nil
}

func htmlCodePage(ps *PropertySet) int {
	if cp, ok := ps.Int(tagInternetCodePage); ok && cp > 0 {
		return int(cp)
	}
	return defaultCodePage
}

func readRecipient(f *cfb.File, storage *cfb.Entry) (Recipient, error) {
	ps, err := decodeProperties(f, storage, headerRecipient)
	if err != nil {
		return Recipient{}, err
	}

	r := Recipient{
		Name: ps.String(tagDisplayName),
		Addr: ps.String(tagSMTPAddress),
	}
	if r.Addr == "" {
		r.Addr = ps.String(tagEmailAddress)
	}

	// PR_RECIPIENT_TYPE: 1 = to, 2 = cc, 3 = bcc. Anything else,
	// including its absence, is treated as a primary recipient.
	if typ, ok := ps.Int(tagRecipientType); ok {
		switch typ {
		case 2:
			r.Role = RoleCc
		case 3:
			r.Role = RoleBcc
		}
	}
	return r, nil
}
