package gateway

import "github.com/aegisgate/aegisgate/internal/manifest"

// Router resolves inbound requests against the manifests of every backend
// project the gateway fronts.
type Router struct {
	manifests []*manifest.Manifest
}

// NewRouter constructs a Router over the given manifests.
func NewRouter(manifests ...*manifest.Manifest) *Router {
	return &Router{manifests: manifests}
}

// Lookup finds the backend and route for a request. Unmapped requests
// return a nil backend and the deny sentinel route.
func (r *Router) Lookup(path, method string) (*manifest.Manifest, manifest.Route) {
	for _, m := range r.manifests {
		route := m.Lookup(path, method)
		if route.Permission != manifest.DenySentinel || route.Public {
			return m, route
		}
	}
	return nil, manifest.Route{Path: path, Method: method, Permission: manifest.DenySentinel}
}

// Manifests exposes the registered manifests for startup registration.
func (r *Router) Manifests() []*manifest.Manifest {
	return r.manifests
}
