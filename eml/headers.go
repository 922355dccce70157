// headers.go reconstructs the top-level header block: verbatim transport
// headers when the source preserved them, synthesized from discrete
// properties otherwise.

package eml

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"

	"github.com/dhcgn/msg-to-eml/msg"
)

// contentHeaders are always owned by the rebuilt MIME structure and are
// stripped from a verbatim transport-header block.
var contentHeaders = []string{
	"Content-Type",
	"Content-Transfer-Encoding",
	"Content-Disposition",
	"Content-Id",
	"Mime-Version",
}

// buildHeader produces the output message's top-level header.
func buildHeader(m *msg.Message) (mail.Header, error) {
	if strings.TrimSpace(m.TransportHeaders) != "" {
		return headerFromTransport(m)
	}
	return synthesizeHeader(m)
}

// headerFromTransport keeps the original wire headers verbatim (their
// exact values and relative order are authoritative) and only fills in
// identity headers the block happens to lack.
func headerFromTransport(m *msg.Message) (mail.Header, error) {
	block := strings.ReplaceAll(m.TransportHeaders, "\r\n", "\n")
	block = strings.ReplaceAll(block, "\n", "\r\n")
	if !strings.HasSuffix(block, "\r\n") {
		block += "\r\n"
	}
	block += "\r\n"

	th, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(block)))
	if err != nil {
		return mail.Header{}, fmt.Errorf("parse transport headers: %w", err)
	}

	for _, key := range contentHeaders {
		th.Del(key)
	}

	h := mail.Header{Header: messageHeader(th)}

	if !h.Has("Date") {
		h.SetDate(messageDate(m))
	}
	if !h.Has("From") {
		if from := senderAddresses(m); len(from) > 0 {
			h.SetAddressList("From", from)
		}
	}
	if !h.Has("Subject") && m.Subject != "" {
		h.SetSubject(m.Subject)
	}
	if !h.Has("Message-Id") {
		if err := setMessageID(&h, m); err != nil {
			return mail.Header{}, err
		}
	}
	return h, nil
}

// synthesizeHeader builds headers from the discrete MAPI properties.
func synthesizeHeader(m *msg.Message) (mail.Header, error) {
	var h mail.Header

	h.SetDate(messageDate(m))
	if from := senderAddresses(m); len(from) > 0 {
		h.SetAddressList("From", from)
	}
	setRecipientHeader(&h, "To", m.RecipientsWithRole(msg.RoleTo))
	setRecipientHeader(&h, "Cc", m.RecipientsWithRole(msg.RoleCc))
	setRecipientHeader(&h, "Bcc", m.RecipientsWithRole(msg.RoleBcc))
	if m.Subject != "" {
		h.SetSubject(m.Subject)
	}
	if err := setMessageID(&h, m); err != nil {
		return mail.Header{}, err
	}

	// PR_IMPORTANCE: 0 low, 1 normal, 2 high. Normal stays implicit.
	switch m.Importance {
	case 0:
		h.Set("X-Priority", "5 (Lowest)")
		h.Set("Importance", "Low")
	case 2:
		h.Set("X-Priority", "1 (Highest)")
		h.Set("Importance", "High")
	}

	return h, nil
}

func setMessageID(h *mail.Header, m *msg.Message) error {
	if id := strings.Trim(strings.TrimSpace(m.MessageID), "<>"); id != "" {
		h.SetMessageID(id)
		return nil
	}
	if err := h.GenerateMessageID(); err != nil {
		return fmt.Errorf("generate message id: %w", err)
	}
	return nil
}

func messageDate(m *msg.Message) time.Time {
	if d := m.Date(); !d.IsZero() {
		return d
	}
	// A message can be identified by subject/sender alone; the Date
	// header is still mandatory in the output.
	return time.Now()
}

func senderAddresses(m *msg.Message) []*mail.Address {
	name, addr := m.Sender()
	if addr == "" && name == "" {
		return nil
	}
	if addr == "" {
		// Name-only sender: an address-less mailbox is not
		// representable, use the name as an unroutable local part.
		return []*mail.Address{{Name: name, Address: "unknown@localhost"}}
	}
	return []*mail.Address{{Name: name, Address: addr}}
}

func setRecipientHeader(h *mail.Header, key string, recipients []msg.Recipient) {
	var addrs []*mail.Address
	for _, r := range recipients {
		if r.Addr == "" && r.Name == "" {
			continue
		}
		addr := r.Addr
		if addr == "" {
			addr = "unknown@localhost"
		}
		addrs = append(addrs, &mail.Address{Name: r.Name, Address: addr})
	}
	if len(addrs) > 0 {
		h.SetAddressList(key, addrs)
	}
}
