package transport

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-fed/httpsig"
)

// signingHeaders mirrors the header set the teacher's AP crypto signs
// over (date, host, digest, request target), the standard HTTP-signature
// baseline for federated inter-server requests.
var signingHeaders = []string{httpsig.RequestTarget, "Host", "Date", "Digest"}

// SignOutbound signs an outbound federation request with keyID identifying
// this site's transport key, so a receiving /federation/inbox can verify
// the request actually came from the claimed origin.
func SignOutbound(req *http.Request, keys *KeyPair, keyID string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signingHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("sign outbound: new signer: %w", err)
	}
	if err := signer.SignRequest(keys.Private, keyID, req, body); err != nil {
		return fmt.Errorf("sign outbound: %w", err)
	}
	return nil
}

// VerifyInboundSignature verifies an inbound federation request's HTTP
// signature against the claimed origin's public key, resolved from
// peerKeyRegistry by keyID (the origin site's address). On success it
// returns that keyID as the authenticated remote address — the caller
// (handleFederationInbox) treats this as the trustworthy claimed origin
// for the Access Policy's subscription check, since the signature proves
// the request was signed by the holder of that address's registered key.
func VerifyInboundSignature(r *http.Request) (remote string, err error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("verify inbound: %w", err)
	}
	keyID := verifier.KeyId()
	pub, ok := lookupPeerKey(keyID)
	if !ok {
		return "", fmt.Errorf("verify inbound: unknown key id %q", keyID)
	}
	if err := verifier.Verify(pub, crypto.SHA256); err != nil {
		return "", fmt.Errorf("verify inbound: %w", err)
	}
	return keyID, nil
}

// peerKeyRegistry is process-wide: every verified remote origin's public
// key, learned out-of-band (FEDERATION_PEER_KEYS via
// RegisterPeerKeysFromSpec, or RegisterPeerKey) before its first signed
// request arrives.
var (
	peerKeyMu       sync.RWMutex
	peerKeyRegistry = map[string]crypto.PublicKey{}
)

// RegisterPeerKey records a remote origin's public key for later
// signature verification.
func RegisterPeerKey(keyID string, pub crypto.PublicKey) {
	peerKeyMu.Lock()
	defer peerKeyMu.Unlock()
	peerKeyRegistry[keyID] = pub
}

func lookupPeerKey(keyID string) (crypto.PublicKey, bool) {
	peerKeyMu.RLock()
	defer peerKeyMu.RUnlock()
	pub, ok := peerKeyRegistry[keyID]
	return pub, ok
}

// EncodePeerKey renders an RSA public key as the base64 DER token used by
// FEDERATION_PEER_KEYS entries and the /transport-key endpoint (handlers.go) — the
// out-of-band exchange format two operators trade before either side's
// inbox can accept the other's pushes.
func EncodePeerKey(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("encode peer key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// RegisterPeerKeysFromSpec parses a comma-separated "address=base64der"
// list (the FEDERATION_PEER_KEYS env var, following the teacher
// config.go's comma-separated NOSTR_RELAY convention) and registers each
// pair, so a configured peer's signed /federation/inbox pushes verify.
// Malformed entries are skipped with an error naming the bad entry; valid
// entries before and after it still register.
func RegisterPeerKeysFromSpec(spec string) error {
	var firstErr error
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		address, encoded, found := strings.Cut(pair, "=")
		if !found {
			firstErr = errors.Join(firstErr, fmt.Errorf("peer key entry %q: missing '='", pair))
			continue
		}
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			firstErr = errors.Join(firstErr, fmt.Errorf("peer key entry for %q: %w", address, err))
			continue
		}
		pub, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			firstErr = errors.Join(firstErr, fmt.Errorf("peer key entry for %q: %w", address, err))
			continue
		}
		RegisterPeerKey(address, pub)
	}
	return firstErr
}
