package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/klppl/sitefed/internal/facade"
	"github.com/klppl/sitefed/internal/schema"
	"github.com/klppl/sitefed/internal/site"
)

func (s *Server) handleOpenSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PrivateKey string `json:"privateKey"`
		Federate   bool   `json:"federate"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	resp, _ := s.facade.OpenSite(req.PrivateKey, site.OpenArgs{}, req.Federate)
	writeResponse(w, resp)
}

func (s *Server) handleStopSite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.Stop(req.Address))
}

func (s *Server) handleGetSite(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	addr, err := s.facade.GetSiteAddress(address)
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	pubKey, _ := s.facade.GetPublicKey(address)
	writeJSON(w, http.StatusOK, map[string]string{"address": addr, "publicKey": pubKey})
}

func (s *Server) handleSetSiteMetadata(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	var req struct {
		Metadata string `json:"metadata"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.SetSiteMetadata(address, req.Metadata))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	stats, err := s.facade.GetStats(address)
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	pubKey := r.URL.Query().Get("publicKey")
	status, err := s.facade.GetAccountStatus(address, pubKey)
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// ─── Releases ────────────────────────────────────────────────────────────────

func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	opts := searchOptionsFromQuery(r)
	recs, err := s.facade.GetReleases(address, opts)
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddRelease(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	var rec schema.Release
	if err := decodeBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.AddRelease(address, rec, signer))
}

func (s *Server) handleDeleteRelease(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	id := chi.URLParam(r, "id")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	writeResponse(w, s.facade.DeleteRelease(address, id, signer))
}

// ─── Featured releases ───────────────────────────────────────────────────────

func (s *Server) handleListFeaturedReleases(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	recs, err := s.facade.GetFeaturedReleases(address, searchOptionsFromQuery(r))
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddFeaturedRelease(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	var rec schema.FeaturedRelease
	if err := decodeBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.AddFeaturedRelease(address, rec, signer))
}

func (s *Server) handleDeleteFeaturedRelease(w http.ResponseWriter, r *http.Request) {
	address, id := chi.URLParam(r, "address"), chi.URLParam(r, "id")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	writeResponse(w, s.facade.DeleteFeaturedRelease(address, id, signer))
}

// ─── Content categories ──────────────────────────────────────────────────────

func (s *Server) handleListContentCategories(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	recs, err := s.facade.GetContentCategories(address, searchOptionsFromQuery(r))
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddContentCategory(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	var rec schema.ContentCategory
	if err := decodeBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.AddContentCategory(address, rec, signer))
}

func (s *Server) handleDeleteContentCategory(w http.ResponseWriter, r *http.Request) {
	address, id := chi.URLParam(r, "address"), chi.URLParam(r, "id")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	writeResponse(w, s.facade.DeleteContentCategory(address, id, signer))
}

// ─── Blocked content ──────────────────────────────────────────────────────────

func (s *Server) handleListBlockedContent(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	recs, err := s.facade.GetBlockedContents(address, searchOptionsFromQuery(r))
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddBlockedContent(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	var rec schema.BlockedContent
	if err := decodeBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.AddBlockedContent(address, rec, signer))
}

func (s *Server) handleDeleteBlockedContent(w http.ResponseWriter, r *http.Request) {
	address, id := chi.URLParam(r, "address"), chi.URLParam(r, "id")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	writeResponse(w, s.facade.DeleteBlockedContent(address, id, signer))
}

// ─── Subscriptions ────────────────────────────────────────────────────────────

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	recs, err := s.facade.GetSubscriptions(address, searchOptionsFromQuery(r))
	if err != nil {
		writeResponse(w, facade.Response{Success: false, Error: "not found"})
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleAddSubscription(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	var rec schema.Subscription
	if err := decodeBody(r, &rec); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	writeResponse(w, s.facade.AddSubscription(address, rec, signer))
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	address, id := chi.URLParam(r, "address"), chi.URLParam(r, "id")
	signer, err := decodeSigner(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signer key"})
		return
	}
	writeResponse(w, s.facade.DeleteSubscription(address, id, signer))
}

// handleFederationInbox accepts a raw FederationUpdate payload and hands
// it to the facade for join, for deployments where the remote peer is
// not reachable via the in-process RemoteOpener (internal/facade/remote.go)
// and instead pushes over HTTP. The request must carry a valid HTTP
// signature (see signing.go) identifying the origin site — without keys
// configured, this deployment has no way to authenticate a remote push,
// so the endpoint always rejects.
func (s *Server) handleFederationInbox(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")
	if s.keys == nil {
		writeJSON(w, http.StatusNotImplemented, facade.Response{Success: false, Error: "federation inbox not configured"})
		return
	}
	remote, err := VerifyInboundSignature(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, facade.Response{Success: false, Error: "invalid signature"})
		return
	}
	var payload json.RawMessage
	if err := decodeBody(r, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, facade.Response{Success: false, Error: "invalid JSON body"})
		return
	}
	if err := s.facade.JoinRemoteUpdate(address, remote, payload); err != nil {
		writeResponse(w, facade.Response{Success: false, Error: err.Error()})
		return
	}
	writeResponse(w, facade.Response{Success: true})
}

// handleTransportKey exposes this site's own transport RSA public key,
// base64-DER-encoded (signing.go's EncodePeerKey), so a peer operator can
// copy it into their FEDERATION_PEER_KEYS configuration as part of the
// out-of-band key exchange VerifyInboundSignature relies on.
func (s *Server) handleTransportKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		writeJSON(w, http.StatusNotImplemented, facade.Response{Success: false, Error: "no transport key configured"})
		return
	}
	encoded, err := EncodePeerKey(s.keys.Public)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, facade.Response{Success: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"publicKey": encoded})
}

func searchOptionsFromQuery(r *http.Request) facade.SearchOptions {
	opts := facade.SearchOptions{Exact: map[string]string{}}
	q := r.URL.Query()
	for key, values := range q {
		if key == "fetch" || len(values) == 0 {
			continue
		}
		opts.Exact[key] = values[0]
	}
	if fetch := q.Get("fetch"); fetch != "" {
		if n, err := strconv.Atoi(fetch); err == nil {
			opts.Fetch = n
		}
	}
	return opts
}
