package output

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/msg-to-eml/model"
)

type Bundle string

const (
	BundleNone Bundle = "none"
	BundleMbox Bundle = "mbox"
	BundleZip  Bundle = "zip"
)

// destination receives finished documents. Implementations are not
// safe for concurrent use; the sink serializes access.
type destination interface {
	add(src model.Source, eml []byte) error
	close() error
}

func newDestination(opts Options) (destination, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	switch opts.Bundle {
	case BundleMbox:
		return newMboxDest(filepath.Join(opts.Dir, "converted.mbox"))
	case BundleZip:
		return newZipDest(filepath.Join(opts.Dir, "converted.zip"))
	default:
		return &fileDest{dir: opts.Dir, used: make(map[string]bool)}, nil
	}
}

// fileDest writes one .eml per source, renaming on collisions.
type fileDest struct {
	dir  string
	used map[string]bool
}

func (d *fileDest) add(src model.Source, eml []byte) error {
	name := d.claim(emlName(src.Path))
	return os.WriteFile(filepath.Join(d.dir, name), eml, 0o644)
}

func (d *fileDest) close() error { return nil }

func (d *fileDest) claim(name string) string {
	if !d.used[name] {
		d.used[name] = true
		return name
	}
	base := strings.TrimSuffix(name, ".eml")
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d.eml", base, i)
		if !d.used[candidate] {
			d.used[candidate] = true
			return candidate
		}
	}
}

type mboxDest struct {
	file   *os.File
	writer *mboxlib.Writer
}

func newMboxDest(path string) (*mboxDest, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create mbox: %w", err)
	}
	return &mboxDest{file: file, writer: mboxlib.NewWriter(file)}, nil
}

func (d *mboxDest) add(src model.Source, eml []byte) error {
	from, date := envelopeLine(eml, src.ModTime)
	mw, err := d.writer.CreateMessage(from, date)
	if err != nil {
		return fmt.Errorf("mbox message: %w", err)
	}
	if _, err := mw.Write(eml); err != nil {
		return fmt.Errorf("mbox write: %w", err)
	}
	return nil
}

func (d *mboxDest) close() error {
	var firstErr error
	if err := d.writer.Close(); err != nil {
		firstErr = fmt.Errorf("close mbox writer: %w", err)
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close mbox file: %w", err)
	}
	return firstErr
}

// envelopeLine derives the mbox From_ line from the document's own
// headers, falling back to the source file's timestamp.
func envelopeLine(eml []byte, fallback time.Time) (string, time.Time) {
	from := "MAILER-DAEMON"
	date := fallback
	if date.IsZero() {
		date = time.Now()
	}

	parsed, err := mail.ReadMessage(bytes.NewReader(eml))
	if err != nil {
		return from, date
	}
	if list, err := parsed.Header.AddressList("From"); err == nil && len(list) > 0 {
		from = list[0].Address
	}
	if t, err := mail.ParseDate(parsed.Header.Get("Date")); err == nil {
		date = t
	}
	return from, date
}

type zipDest struct {
	file   *os.File
	writer *zip.Writer
	used   map[string]bool
}

func newZipDest(path string) (*zipDest, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create zip: %w", err)
	}
	return &zipDest{file: file, writer: zip.NewWriter(file), used: make(map[string]bool)}, nil
}

func (d *zipDest) add(src model.Source, eml []byte) error {
	name := emlName(src.Path)
	if d.used[name] {
		base := strings.TrimSuffix(name, ".eml")
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s-%d.eml", base, i)
			if !d.used[candidate] {
				name = candidate
				break
			}
		}
	}
	d.used[name] = true

	header := &zip.FileHeader{Name: name, Method: zip.Deflate}
	if !src.ModTime.IsZero() {
		header.Modified = src.ModTime
	}
	w, err := d.writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := w.Write(eml); err != nil {
		return fmt.Errorf("zip write %s: %w", name, err)
	}
	return nil
}

func (d *zipDest) close() error {
	var firstErr error
	if err := d.writer.Close(); err != nil {
		firstErr = fmt.Errorf("close zip writer: %w", err)
	}
	if err := d.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close zip file: %w", err)
	}
	return firstErr
}

func emlName(srcPath string) string {
	base := filepath.Base(srcPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "message"
	}
	return base + ".eml"
}
