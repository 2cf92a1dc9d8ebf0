package util

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// HexID returns a 32-character lowercase hex identifier.
func HexID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// PageID mints an identifier for a page created without one.
func PageID() string {
	return "page-" + HexID()[:8]
}
