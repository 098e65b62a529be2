// Package did parses the DID identifiers used as principal identities.
// Supports did:key (Ed25519) and did:web.
package did

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/multiformats/go-multibase"
)

// Common errors returned by this package.
var (
	ErrInvalidDID         = errors.New("invalid DID format")
	ErrUnsupportedMethod  = errors.New("unsupported DID method (only did:web and did:key supported)")
	ErrInvalidKeyDID      = errors.New("invalid did:key format")
	ErrUnsupportedKeyType = errors.New("unsupported key type in did:key (only Ed25519 supported)")
)

// Multicodec constants for did:key
const (
	// Ed25519MulticodecPrefix is the multicodec prefix for Ed25519 public keys (0xed01)
	Ed25519MulticodecPrefix = 0xed01

	// Ed25519PublicKeySize is the size of an Ed25519 public key in bytes
	Ed25519PublicKeySize = 32
)

// DID represents a parsed DID identifier.
//
// For did:web: did:web:<domain>[:<path>...]
// For did:key: did:key:z<base58btc(multicodec || public_key)>
type DID struct {
	// Method is the DID method ("web" or "key").
	Method string

	// Domain is the domain hosting the DID Document (did:web only).
	Domain string

	// PathSegments after the domain (did:web only).
	PathSegments []string

	// PublicKey is the Ed25519 public key (did:key only, 32 bytes).
	PublicKey []byte

	// Raw is the original DID string.
	Raw string
}

// Parse parses a DID identifier into its components.
//
// Returns ErrInvalidDID if the format is invalid.
// Returns ErrUnsupportedMethod if the method is not "web" or "key".
func Parse(did string) (*DID, error) {
	if did == "" {
		return nil, ErrInvalidDID
	}

	parts := strings.Split(did, ":")
	if len(parts) < 3 {
		return nil, fmt.Errorf("%w: expected at least 3 parts, got %d", ErrInvalidDID, len(parts))
	}

	if parts[0] != "did" {
		return nil, fmt.Errorf("%w: must start with 'did:'", ErrInvalidDID)
	}

	switch parts[1] {
	case "web":
		return parseWebDID(parts)
	case "key":
		return parseKeyDID(parts)
	default:
		return nil, fmt.Errorf("%w: got did:%s", ErrUnsupportedMethod, parts[1])
	}
}

func parseWebDID(parts []string) (*DID, error) {
	domain, err := url.PathUnescape(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid domain encoding: %v", ErrInvalidDID, err)
	}
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidDID)
	}

	return &DID{
		Method:       "web",
		Domain:       domain,
		PathSegments: parts[3:],
		Raw:          strings.Join(parts, ":"),
	}, nil
}

// parseKeyDID parses did:key:z<base58btc(0xed01 || ed25519_public_key)>.
func parseKeyDID(parts []string) (*DID, error) {
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: did:key must have exactly 3 parts", ErrInvalidKeyDID)
	}

	value := parts[2]
	if value == "" {
		return nil, fmt.Errorf("%w: empty key identifier", ErrInvalidKeyDID)
	}
	if value[0] != 'z' {
		return nil, fmt.Errorf("%w: expected 'z' (base58btc) prefix, got '%c'", ErrInvalidKeyDID, value[0])
	}

	_, decoded, err := multibase.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base58btc encoding: %v", ErrInvalidKeyDID, err)
	}
	if len(decoded) < 2 {
		return nil, fmt.Errorf("%w: decoded value too short", ErrInvalidKeyDID)
	}

	// 0xed01 is varint-encoded as [0xed, 0x01].
	if decoded[0] != 0xed || decoded[1] != 0x01 {
		return nil, fmt.Errorf("%w: expected Ed25519 multicodec (0xed01), got 0x%02x%02x", ErrUnsupportedKeyType, decoded[0], decoded[1])
	}

	publicKey := decoded[2:]
	if len(publicKey) != Ed25519PublicKeySize {
		return nil, fmt.Errorf("%w: Ed25519 public key must be %d bytes, got %d", ErrInvalidKeyDID, Ed25519PublicKeySize, len(publicKey))
	}

	return &DID{
		Method:    "key",
		PublicKey: publicKey,
		Raw:       strings.Join(parts, ":"),
	}, nil
}

// String returns the canonical DID string.
func (d *DID) String() string {
	if d.Raw != "" {
		return d.Raw
	}
	if d.Method == "key" && len(d.PublicKey) > 0 {
		return NewKeyDID(d.PublicKey)
	}
	parts := []string{"did", d.Method, url.PathEscape(d.Domain)}
	parts = append(parts, d.PathSegments...)
	return strings.Join(parts, ":")
}

// IsKeyDID returns true if this is a did:key identifier.
func (d *DID) IsKeyDID() bool {
	return d.Method == "key"
}

// GetPublicKey returns the Ed25519 public key for did:key identifiers.
// Returns nil for did:web identifiers.
func (d *DID) GetPublicKey() ed25519.PublicKey {
	if d.Method != "key" || len(d.PublicKey) != Ed25519PublicKeySize {
		return nil
	}
	return ed25519.PublicKey(d.PublicKey)
}

// NewWebDID constructs a did:web identifier for a domain and optional path.
func NewWebDID(domain string, path ...string) string {
	encoded := strings.ReplaceAll(url.PathEscape(domain), ":", "%3A")
	return strings.Join(append([]string{"did", "web", encoded}, path...), ":")
}

// NewKeyDID constructs a did:key identifier from an Ed25519 public key.
// Returns "" if the key has the wrong size.
func NewKeyDID(publicKey []byte) string {
	if len(publicKey) != Ed25519PublicKeySize {
		return ""
	}

	prefixed := make([]byte, 2+len(publicKey))
	prefixed[0] = 0xed
	prefixed[1] = 0x01
	copy(prefixed[2:], publicKey)

	encoded, err := multibase.Encode(multibase.Base58BTC, prefixed)
	if err != nil {
		return ""
	}
	return "did:key:" + encoded
}

// PublicKeyFromKeyDID extracts the Ed25519 public key from a did:key identifier.
func PublicKeyFromKeyDID(didStr string) (ed25519.PublicKey, error) {
	parsed, err := Parse(didStr)
	if err != nil {
		return nil, err
	}
	if parsed.Method != "key" {
		return nil, fmt.Errorf("%w: expected did:key, got did:%s", ErrInvalidKeyDID, parsed.Method)
	}
	return ed25519.PublicKey(parsed.PublicKey), nil
}
