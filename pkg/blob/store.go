package blob

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Ref is the lowercase hex BLAKE3 hash of a blob's content.
type Ref string

// RefOf computes the content ref for a byte slice.
func RefOf(data []byte) Ref {
	sum := blake3.Sum256(data)
	return Ref(hex.EncodeToString(sum[:]))
}

// ParseRef validates a hex-encoded ref.
func ParseRef(s string) (Ref, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid blob ref %q: %w", s, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("invalid blob ref %q: want 32 bytes, got %d", s, len(raw))
	}
	return Ref(s), nil
}

// String implements fmt.Stringer.
func (r Ref) String() string { return string(r) }

// Store is the content-addressed blob store contract.
type Store interface {
	// Has reports whether the blob exists.
	Has(ctx context.Context, ref Ref) (bool, error)
	// GetBytes returns the blob content, or nil when absent.
	GetBytes(ctx context.Context, ref Ref) ([]byte, error)
	// AddBytes stores content and returns its ref.
	AddBytes(ctx context.Context, data []byte) (Ref, error)
}
