// Package principal defines the caller identity used across the issuer.
package principal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/capiscio/meta-issuer/pkg/did"
)

// ErrInvalid is returned when an identity string is not a supported DID.
var ErrInvalid = errors.New("invalid principal")

// ID is an opaque, globally unique actor identifier holding DID text.
type ID string

// Anonymous is the unauthenticated caller. Every identity-bound operation rejects it.
const Anonymous ID = ""

// IsAnonymous reports whether id is the anonymous sentinel.
func (id ID) IsAnonymous() bool {
	return id == Anonymous
}

func (id ID) String() string {
	if id.IsAnonymous() {
		return "anonymous"
	}
	return string(id)
}

// Parse validates s as a did:key or did:web identity.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Anonymous, fmt.Errorf("%w: empty", ErrInvalid)
	}
	parsed, err := did.Parse(s)
	if err != nil {
		return Anonymous, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return ID(parsed.String()), nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Compare orders identities by their textual form.
func Compare(a, b ID) int {
	return strings.Compare(string(a), string(b))
}
