package facade

import (
	"context"
	"fmt"

	"github.com/klppl/sitefed/internal/federation"
	"github.com/klppl/sitefed/internal/runtime"
	"github.com/klppl/sitefed/internal/site"
)

// OpenRemoteSite implements federation.RemoteOpener. This single-process
// implementation resolves a remote address against the Facade's own
// registry of opened sites — every "remote" a historical sync dials is in
// fact a Site opened in the same process against the same shared Store
// and Bus. A multi-host deployment would instead dial out over the
// transport surface (internal/transport) and decode the same
// FederationUpdate / log-entry wire shapes remotely; the manager's
// RemoteOpener abstraction is what makes that swap possible without
// touching internal/federation.
func (f *Facade) OpenRemoteSite(ctx context.Context, address string) (federation.RemoteSite, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	h, found := f.handleFor(address)
	if !found {
		return nil, fmt.Errorf("facade: remote site %q not open locally", address)
	}
	return &remoteSiteHandle{site: h.site}, nil
}

// remoteSiteHandle adapts site.Site to federation.RemoteSite.
type remoteSiteHandle struct {
	site *site.Site
}

// FederatedHeads returns the remote site's current log heads for tag,
// used by the Federation Manager's historical-sync loop.
func (r *remoteSiteHandle) FederatedHeads(tag string) ([]runtime.Entry, error) {
	colls := r.site.FederatedCollections()
	coll, ok := colls[tag]
	if !ok {
		return nil, fmt.Errorf("facade: unknown federated collection %q", tag)
	}
	return coll.Heads()
}

// Close is a no-op: the underlying Site is owned by the Facade's
// registry, not by this historical-sync handle.
func (r *remoteSiteHandle) Close() error { return nil }
