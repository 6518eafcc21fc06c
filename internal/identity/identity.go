// Package identity wraps the external Identity Provider collaborator
// (spec.md §2 item 2): mapping a signer to a stable public key and
// verifying signatures on log entries. Key material is Nostr-style
// secp256k1, following the teacher's own choice of signing scheme
// (internal/nostr/signer.go), since log entries in this implementation
// are carried as signed Nostr events (see internal/runtime).
package identity

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer is implemented by any identity capable of authoring a log
// entry: the site's own root-of-trust key, or (in a fuller deployment)
// an individual member's or administrator's key. This repo's façade
// accepts a Signer per write call so that "postedBy" always reflects the
// actual authoring identity, per spec.md §3's invariant that every
// replicated record is signed by its postedBy.
type Signer interface {
	PublicKey() string
	Sign(event *nostr.Event) error
}

// Identity is a concrete secp256k1 keypair-backed Signer.
type Identity struct {
	priv string
	pub  string
}

// New derives an Identity from a hex-encoded secp256k1 private key.
func New(privKeyHex string) (*Identity, error) {
	pub, err := nostr.GetPublicKey(privKeyHex)
	if err != nil {
		return nil, fmt.Errorf("identity: invalid private key: %w", err)
	}
	return &Identity{priv: privKeyHex, pub: pub}, nil
}

// PublicKey returns the identity's hex-encoded public key.
func (id *Identity) PublicKey() string { return id.pub }

// Sign signs event with the identity's private key.
func (id *Identity) Sign(event *nostr.Event) error {
	return event.Sign(id.priv)
}

// SiteAddress derives a stable, opaque site-address string from a site's
// root public key. Using the public key's bech32 (npub) encoding gives an
// address that is stable for the lifetime of the site and safe to embed
// in URLs and pubsub topic strings, mirroring the teacher's use of
// nip19.EncodePublicKey to give a human-presentable identity to a raw key.
func SiteAddress(pubKeyHex string) string {
	addr, err := nip19.EncodePublicKey(pubKeyHex)
	if err != nil {
		// Fall back to the raw hex key; still stable and unique.
		return pubKeyHex
	}
	return addr
}

// VerifyEntry checks that event carries a valid signature and returns the
// signer's public key. This is the Identity Provider half of spec.md's
// "every log entry's signer set must include postedBy" invariant. Log.apply
// in internal/runtime runs the same go-nostr signature check on every
// entry before storing it.
func VerifyEntry(event *nostr.Event) (signer string, ok bool) {
	if event == nil {
		return "", false
	}
	good, err := event.CheckSignature()
	if err != nil || !good {
		return "", false
	}
	return event.PubKey, true
}
