// attachment.go resolves attachment sub-storages: opaque payloads and
// recursively embedded messages.

package msg

import (
	"github.com/dhcgn/msg-to-eml/cfb"
)

// PR_ATTACH_METHOD values.
const (
	AttachByValue     = 1
	AttachEmbeddedMsg = 5
	AttachOLE         = 6
)

// Attachment is a single attachment entry. Payload bytes are owned by
// the containing Message and are never transcoded.
type Attachment struct {
	ShortName string // 8.3 filename (PR_ATTACH_FILENAME)
	LongName  string // long filename (PR_ATTACH_LONG_FILENAME)
	Extension string // including the dot, when recorded
	MIMEType  string // PR_ATTACH_MIME_TAG, may be empty
	ContentID string // for cid: references in HTML bodies
	Method    int

	Data []byte

	// Embedded is the decoded nested message when the attachment is
	// itself a message rather than an opaque blob.
	Embedded *Message
}

// IsMessage reports whether the attachment is a nested message.
func (a *Attachment) IsMessage() bool { return a.Embedded != nil }

// Filename returns the best available display name, or "".
func (a *Attachment) Filename() string {
	if a.LongName != "" {
		return a.LongName
	}
	return a.ShortName
}

func readAttachment(f *cfb.File, storage *cfb.Entry, depth int) (*Attachment, error) {
	ps, err := decodeProperties(f, storage, headerAttachment)
	if err != nil {
		return nil, err
	}

	a := &Attachment{
		ShortName: ps.String(tagAttachShortName),
		LongName:  ps.String(tagAttachLongName),
		Extension: ps.String(tagAttachExtension),
		MIMEType:  ps.String(tagAttachMimeTag),
		ContentID: ps.String(tagAttachContentID),
		Method:    AttachByValue,
	}
	if method, ok := ps.Int(tagAttachMethod); ok {
		a.Method = int(method)
	}

	if a.Method == AttachEmbeddedMsg {
		sub, ok, err := f.Child(storage, embeddedStorage)
		if err != nil {
			return nil, err
		}
		if !ok || !sub.IsStorage() {
			return nil, &PropertyError{Tag: tagAttachData, Type: TypeObject, Reason: "embedded message storage missing"}
		}
		embedded, err := readMessage(f, sub, depth+1)
		if err != nil {
			return nil, err
		}
		a.Embedded = embedded
		return a, nil
	}

	a.Data = ps.Bytes(tagAttachData)
	return a, nil
}
