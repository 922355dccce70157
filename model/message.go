package model

import "time"

// Source represents a single .msg file discovered on disk.
type Source struct {
	Path    string
	Hash    string
	ModTime time.Time
	Size    int64
	Raw     []byte
}

// Envelope wraps a source alongside an optional error encountered while reading.
type Envelope struct {
	Source Source
	Err    error
}

// Result is the outcome of converting one source.
type Result struct {
	Source Source
	EML    []byte
	Err    error
}
