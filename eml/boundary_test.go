package eml

import (
	"bytes"
	"strings"
	"testing"
)

// patternReader yields zero bytes on the first read and 0xA5 bytes
// afterwards, so the first candidate token is predictable.
type patternReader struct {
	reads int
}

func (r *patternReader) Read(p []byte) (int, error) {
	fill := byte(0x00)
	if r.reads > 0 {
		fill = 0xA5
	}
	r.reads++
	for i := range p {
		p[i] = fill
	}
	return len(p), nil
}

func TestNewBoundaryAvoidsCollision(t *testing.T) {
	orig := randSource
	defer func() { randSource = orig }()
	randSource = &patternReader{}

	// The first candidate is "=_" + 24 zero hex digits; plant it in a
	// body so the generator must draw again.
	colliding := "=_" + strings.Repeat("0", initialBoundaryBytes*2)
	bodies := [][]byte{[]byte("prefix " + colliding + " suffix")}

	token := newBoundary(bodies)
	if token == colliding {
		t.Fatal("newBoundary() returned a token present in a body")
	}
	if bytes.Contains(bodies[0], []byte(token)) {
		t.Fatalf("newBoundary() = %q, collides with body", token)
	}
	// Retry draws a longer token.
	if len(token) <= len(colliding) {
		t.Errorf("retry token length = %d, want > %d", len(token), len(colliding))
	}
}

func TestNewBoundaryFormat(t *testing.T) {
	token := newBoundary(nil)
	if !strings.HasPrefix(token, "=_") {
		t.Errorf("token = %q, want =_ prefix", token)
	}
	if len(token) != 2+initialBoundaryBytes*2 {
		t.Errorf("token length = %d", len(token))
	}
}
