// Package manifest defines the declarative route-to-permission table
// consumed by the gateway pipeline and registered with the ACL service at
// startup. It replaces any runtime endpoint discovery: what is not listed
// here maps to the deny sentinel.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
)

// DenySentinel is the permission name assigned to unmapped paths. No role
// ever grants it, so unmapped requests are denied by construction.
const DenySentinel = "access.denied.unmapped"

// Route binds a path prefix and method to a permission name.
type Route struct {
	Path       string `json:"path"`
	Method     string `json:"method"`
	Permission string `json:"permission"`
	Public     bool   `json:"public"`
	Critical   bool   `json:"critical"`
}

// Manifest is the full route table for one project.
type Manifest struct {
	Project string  `json:"project"`
	BaseURL string  `json:"base_url"`
	Version string  `json:"version"`
	Routes  []Route `json:"routes"`
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return &m, nil
}

// New builds a manifest from routes declared in code.
func New(project, baseURL, version string, routes []Route) (*Manifest, error) {
	m := &Manifest{Project: project, BaseURL: baseURL, Version: version, Routes: routes}
	if err := m.normalize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manifest) normalize() error {
	if strings.TrimSpace(m.Project) == "" {
		return fmt.Errorf("manifest: project name required")
	}
	for i := range m.Routes {
		r := &m.Routes[i]
		r.Path = strings.TrimSpace(r.Path)
		r.Method = strings.ToUpper(strings.TrimSpace(r.Method))
		r.Permission = strings.TrimSpace(r.Permission)
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return fmt.Errorf("manifest: route %d: path must start with /", i)
		}
		if r.Method == "" {
			r.Method = http.MethodGet
		}
		if !r.Public && r.Permission == "" {
			return fmt.Errorf("manifest: route %d (%s %s): permission required for non-public route", i, r.Method, r.Path)
		}
	}
	// Longest prefix first so Lookup can return the first match.
	sort.SliceStable(m.Routes, func(i, j int) bool {
		return len(m.Routes[i].Path) > len(m.Routes[j].Path)
	})
	return nil
}

// Lookup resolves the route for a request path and method using longest
// prefix matching. Unmapped requests get the deny sentinel.
func (m *Manifest) Lookup(path, method string) Route {
	method = strings.ToUpper(method)
	for _, r := range m.Routes {
		if r.Method != method {
			continue
		}
		if matchPrefix(path, r.Path) {
			return r
		}
	}
	return Route{Path: path, Method: method, Permission: DenySentinel}
}

// IsPublic reports whether the request maps to a public route.
func (m *Manifest) IsPublic(path, method string) bool {
	return m.Lookup(path, method).Public
}

// PermissionNames returns the deduplicated permission names declared by the
// manifest, sorted for stable registration.
func (m *Manifest) PermissionNames() []string {
	unique := make(map[string]struct{}, len(m.Routes))
	for _, r := range m.Routes {
		if r.Permission != "" {
			unique[r.Permission] = struct{}{}
		}
	}
	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) {
		return true
	}
	// Prefix must end on a path segment boundary.
	return strings.HasSuffix(prefix, "/") || path[len(prefix)] == '/'
}
