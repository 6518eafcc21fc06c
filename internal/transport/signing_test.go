package transport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodePeerKeyRoundTripsThroughRegisterPeerKeysFromSpec(t *testing.T) {
	keys, err := LoadOrGenerateKeyPair(
		filepath.Join(t.TempDir(), "priv.pem"), filepath.Join(t.TempDir(), "pub.pem"))
	require.NoError(t, err)

	encoded, err := EncodePeerKey(keys.Public)
	require.NoError(t, err)

	require.NoError(t, RegisterPeerKeysFromSpec("npub1example="+encoded))

	pub, ok := lookupPeerKey("npub1example")
	require.True(t, ok)
	assert.Equal(t, keys.Public, pub)
}

func TestRegisterPeerKeysFromSpecSkipsMalformedEntriesButKeepsValidOnes(t *testing.T) {
	keys, err := LoadOrGenerateKeyPair(
		filepath.Join(t.TempDir(), "priv.pem"), filepath.Join(t.TempDir(), "pub.pem"))
	require.NoError(t, err)
	encoded, err := EncodePeerKey(keys.Public)
	require.NoError(t, err)

	err = RegisterPeerKeysFromSpec("missing-equals-sign, npub1good="+encoded+", npub1bad=not-base64!!!")
	require.Error(t, err)

	_, ok := lookupPeerKey("npub1good")
	assert.True(t, ok, "valid entries surrounding malformed ones should still register")

	_, ok = lookupPeerKey("npub1bad")
	assert.False(t, ok)
}
