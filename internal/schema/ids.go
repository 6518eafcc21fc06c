package schema

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewOpaqueID generates a server-assigned unique id for Release,
// FeaturedRelease, and Subscription documents.
func NewOpaqueID() string {
	return uuid.NewString()
}

// CategoryID deterministically derives a ContentCategory's id from
// hash(siteAddress ‖ categoryId), so two puts with identical
// (siteAddress, categoryId) collapse to a single row — spec.md §3.
//
// This is a plain content hash of two known strings; no third-party
// library in the retrieval pack improves on crypto/sha256 for that (see
// DESIGN.md).
func CategoryID(siteAddress, categoryID string) string {
	h := sha256.Sum256([]byte(siteAddress + "\x00" + categoryID))
	return hex.EncodeToString(h[:])
}

// BlockedContentID deterministically derives a BlockedContent's id from
// its CID alone, so the same CID can only ever be blocked once per row.
func BlockedContentID(contentCID string) string {
	h := sha256.Sum256([]byte(contentCID))
	return hex.EncodeToString(h[:])
}
