// boundary.go generates multipart boundary tokens that are guaranteed
// not to collide with any part body.

package eml

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
)

// randSource feeds token generation; tests substitute a deterministic
// reader to provoke collisions.
var randSource io.Reader = rand.Reader

const initialBoundaryBytes = 12

// newBoundary returns a boundary token absent from every given body.
// A colliding candidate is discarded and the next one is drawn longer,
// so the loop terminates even against adversarial content.
func newBoundary(bodies [][]byte) string {
	for size := initialBoundaryBytes; ; size += 4 {
		buf := make([]byte, size)
		// A short or failed read only weakens randomness, never
		// correctness: the collision check below still holds.
		_, _ = io.ReadFull(randSource, buf)
		token := "=_" + hex.EncodeToString(buf)
		if !appearsIn(bodies, token) {
			return token
		}
	}
}

func appearsIn(bodies [][]byte, token string) bool {
	needle := []byte(token)
	for _, body := range bodies {
		if bytes.Contains(body, needle) {
			return true
		}
	}
	return false
}
