// Package slugid converts between 128-bit uuids and their 22 character
// URL-safe base64 form used as the external task identifier.
package slugid

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned by Decode for malformed slugs.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Length of an encoded identifier.
const Length = 22

var encoding = base64.RawURLEncoding.Strict()

// Encode returns the slug form of id.
func Encode(id uuid.UUID) string {
	return encoding.EncodeToString(id[:])
}

// Decode parses a slug back into the uuid it encodes.
func Decode(slug string) (uuid.UUID, error) {
	var id uuid.UUID
	if len(slug) != Length {
		return id, fmt.Errorf("%w: %q has length %d", ErrInvalidIdentifier, slug, len(slug))
	}
	n, err := encoding.Decode(id[:], []byte(slug))
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("%w: %q: %v", ErrInvalidIdentifier, slug, err)
	}
	if n != len(id) {
		return uuid.UUID{}, fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidIdentifier, slug, n)
	}
	return id, nil
}

// MustDecode is like Decode but panics on error. Meant for tests and constants.
func MustDecode(slug string) uuid.UUID {
	id, err := Decode(slug)
	if err != nil {
		panic(err)
	}
	return id
}

// V4 returns a new random slug.
func V4() string {
	return Encode(uuid.New())
}

// Nice returns a new random slug that never starts with '-', so it is safe
// to pass as a command line argument.
func Nice() string {
	id := uuid.New()
	id[0] &= 0x7f
	return Encode(id)
}
