// Package transport exposes the Service Façade over HTTP: a small admin
// API for managing sites, subscriptions, and the four federated
// collections, plus a federation inbox endpoint used when this
// deployment talks to a genuinely remote (not in-process) peer. Routing
// follows the teacher's internal/server/server.go chi-based layout.
package transport

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/klppl/sitefed/internal/facade"
	"github.com/klppl/sitefed/internal/identity"
)

const version = "1.0.0"

// Server wires the Service Façade to an HTTP mux.
type Server struct {
	facade *facade.Facade
	keys   *KeyPair
}

// New constructs a transport Server over an already-initialized Facade.
// keys, if non-nil, enable the signed federation inbox and the
// /transport-key endpoint (see signing.go); with nil both answer 501, which
// suits a single-process deployment.
func New(f *facade.Facade, keys *KeyPair) *Server {
	return &Server{facade: f, keys: keys}
}

// Router builds the chi router for this server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/api/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","version":"` + version + `"}`))
	})

	r.Route("/api/sites/{address}", func(r chi.Router) {
		r.Get("/", s.handleGetSite)
		r.Post("/metadata", s.handleSetSiteMetadata)
		r.Get("/status", s.handleAccountStatus)
		r.Get("/stats", s.handleStats)
		r.Get("/transport-key", s.handleTransportKey)

		r.Get("/releases", s.handleListReleases)
		r.Post("/releases", s.handleAddRelease)
		r.Delete("/releases/{id}", s.handleDeleteRelease)

		r.Get("/featured-releases", s.handleListFeaturedReleases)
		r.Post("/featured-releases", s.handleAddFeaturedRelease)
		r.Delete("/featured-releases/{id}", s.handleDeleteFeaturedRelease)

		r.Get("/content-categories", s.handleListContentCategories)
		r.Post("/content-categories", s.handleAddContentCategory)
		r.Delete("/content-categories/{id}", s.handleDeleteContentCategory)

		r.Get("/blocked-content", s.handleListBlockedContent)
		r.Post("/blocked-content", s.handleAddBlockedContent)
		r.Delete("/blocked-content/{id}", s.handleDeleteBlockedContent)

		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Post("/subscriptions", s.handleAddSubscription)
		r.Delete("/subscriptions/{id}", s.handleDeleteSubscription)

		// Inbound federation traffic from a genuinely remote peer (not
		// reachable via the Facade's in-process RemoteOpener). Accepts a
		// raw FederationUpdate and joins it the same way a pull-live pubsub
		// message would — see internal/federation's join path.
		r.Post("/federation/inbox", s.handleFederationInbox)
	})

	r.Post("/api/open-site", s.handleOpenSite)
	r.Post("/api/stop-site", s.handleStopSite)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("transport: failed writing response", "error", err)
	}
}

func writeResponse(w http.ResponseWriter, resp facade.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
		if resp.Error == "not found" {
			status = http.StatusNotFound
		} else if resp.Error == "access denied" {
			status = http.StatusForbidden
		}
	}
	writeJSON(w, status, resp)
}

func decodeSigner(r *http.Request) (*identity.Identity, error) {
	privKey := r.Header.Get("X-Signer-Key")
	return identity.New(privKey)
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}
