package store

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Entity id prefixes. Identifiers are opaque; the prefix only makes ids of
// different entity types visually distinguishable.
const (
	PrefixEvidence = "E"
	PrefixVersion  = "V"
	PrefixRequest  = "R"
	PrefixItem     = "I"
)

// NewID generates an opaque prefixed identifier, unique within its entity
// type.
func NewID(prefix string) string {
	u := uuid.New()
	return prefix + strings.ToUpper(hex.EncodeToString(u[:8]))
}
