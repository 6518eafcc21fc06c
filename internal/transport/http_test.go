package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klppl/sitefed/internal/facade"
	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/site"
)

const testRootKey = "0000000000000000000000000000000000000000000000000000000000000031"

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	f, err := facade.Init(filepath.Join(t.TempDir(), "test.db"), federation.Config{})
	require.NoError(t, err)

	resp, err := f.OpenSite(testRootKey, site.OpenArgs{}, false)
	require.NoError(t, err)

	srv := httptest.NewServer(New(f, nil).Router())
	t.Cleanup(srv.Close)
	return srv, resp.ID
}

func TestHealthcheck(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/healthcheck")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetSite(t *testing.T) {
	srv, address := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/sites/" + address)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, address, body["address"])
}

func TestAddReleaseRequiresSignerHeader(t *testing.T) {
	srv, address := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"name": "Demo"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/sites/"+address+"/releases", bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestStatsReflectsAddedRelease(t *testing.T) {
	srv, address := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"name": "Demo", "categoryId": "cat1", "contentCid": "cid1"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/sites/"+address+"/releases", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Signer-Key", testRootKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	statsResp, err := http.Get(srv.URL + "/api/sites/" + address + "/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	assert.Equal(t, http.StatusOK, statsResp.StatusCode)

	var stats map[string]int
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1, stats["release"])
}

// TestFederationInboxRejectsWithoutKeys covers handleFederationInbox's
// always-reject posture when this deployment has no transport keys
// configured (newTestServer's default): there is no way to authenticate
// a remote push, so the endpoint must never report success.
func TestFederationInboxRejectsWithoutKeys(t *testing.T) {
	srv, address := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/sites/"+address+"/federation/inbox", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

// TestFederationInboxRejectsUnsubscribedOrigin is the maintainer-requested
// regression test for the JoinRemoteUpdate subscription gap (internal/facade/inbox.go):
// a validly signed FederationUpdate from a peer this site holds no
// Subscription to must be rejected, never joined.
func TestFederationInboxRejectsUnsubscribedOrigin(t *testing.T) {
	f, err := facade.Init(filepath.Join(t.TempDir(), "test.db"), federation.Config{})
	require.NoError(t, err)
	resp, err := f.OpenSite(testRootKey, site.OpenArgs{}, false)
	require.NoError(t, err)
	address := resp.ID

	serverKeys, err := LoadOrGenerateKeyPair(
		filepath.Join(t.TempDir(), "server-priv.pem"), filepath.Join(t.TempDir(), "server-pub.pem"))
	require.NoError(t, err)
	srv := httptest.NewServer(New(f, serverKeys).Router())
	t.Cleanup(srv.Close)

	remoteKeys, err := LoadOrGenerateKeyPair(
		filepath.Join(t.TempDir(), "remote-priv.pem"), filepath.Join(t.TempDir(), "remote-pub.pem"))
	require.NoError(t, err)
	const remoteAddress = "npub1unsubscribedremoteorigin"
	RegisterPeerKey(remoteAddress, remoteKeys.Public)

	body := []byte(`{"store":"release","added":[],"removed":[]}`)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/sites/"+address+"/federation/inbox", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", req.URL.Host)
	require.NoError(t, SignOutbound(req, remoteKeys, remoteAddress, body))

	httpResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, httpResp.StatusCode)

	var out facade.Response
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&out))
	assert.False(t, out.Success)
	assert.Equal(t, "access denied", out.Error)
}

func TestAddReleaseWithSignerSucceeds(t *testing.T) {
	srv, address := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"name": "Demo", "categoryId": "cat1", "contentCid": "cid1"})
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/sites/"+address+"/releases", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("X-Signer-Key", testRootKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out facade.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.True(t, out.Success)
}
