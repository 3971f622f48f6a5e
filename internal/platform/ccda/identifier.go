package ccda

import (
	"math/rand"

	"github.com/google/uuid"
)

// IdentifierSource produces globally unique identifiers for document nodes.
type IdentifierSource interface {
	NewIdentifier() string
}

// UUIDSource issues random version 4 UUIDs. It prefers the crypto-backed
// generator and falls back to a pseudorandom layout when that fails.
type UUIDSource struct{}

// NewIdentifier returns a UUIDv4 string.
func (UUIDSource) NewIdentifier() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return pseudoUUID(rand.Uint64(), rand.Uint64())
	}
	return id.String()
}

// pseudoUUID lays out 128 bits as a UUIDv4 string with the version nibble
// fixed to 4 and the variant nibble in {8,9,a,b}. Not cryptographically
// secure.
func pseudoUUID(hi, lo uint64) string {
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(hi >> (56 - 8*i))
		b[8+i] = byte(lo >> (56 - 8*i))
	}
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return uuid.UUID(b).String()
}

// SequenceSource replays a fixed list of identifiers, then generates
// deterministic identifiers from a counter. Intended for reproducible output.
type SequenceSource struct {
	ids  []string
	next int
}

// NewSequenceSource creates a SequenceSource that yields ids in order.
func NewSequenceSource(ids ...string) *SequenceSource {
	return &SequenceSource{ids: ids}
}

// NewIdentifier returns the next identifier in the sequence.
func (s *SequenceSource) NewIdentifier() string {
	n := s.next
	s.next++
	if n < len(s.ids) {
		return s.ids[n]
	}
	return pseudoUUID(uint64(n), uint64(n))
}
