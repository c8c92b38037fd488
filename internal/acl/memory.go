package acl

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aegisgate/aegisgate/internal/shared"
)

// MemoryRepository is an in-memory Repository used by tests and local
// development. It mirrors the PostgreSQL semantics, including idempotent
// assignments and atomic bulk rewrites.
type MemoryRepository struct {
	mu sync.RWMutex

	nextID      int64
	projects    map[int64]Project
	groups      map[int64]Group
	roles       map[int64]Role
	permissions map[int64]Permission

	memberships map[string]map[int64]Membership // username -> groupID
	groupRoles  map[int64]map[int64]struct{}    // groupID -> roleIDs
	rolePerms   map[int64]map[int64]RolePermission
}

// NewMemoryRepository constructs an empty in-memory graph.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		projects:    make(map[int64]Project),
		groups:      make(map[int64]Group),
		roles:       make(map[int64]Role),
		permissions: make(map[int64]Permission),
		memberships: make(map[string]map[int64]Membership),
		groupRoles:  make(map[int64]map[int64]struct{}),
		rolePerms:   make(map[int64]map[int64]RolePermission),
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *MemoryRepository) FindPermission(ctx context.Context, project, apiPath, httpMethod string) (*Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	httpMethod = strings.ToUpper(httpMethod)
	for _, p := range r.permissions {
		pr, ok := r.projects[p.ProjectID]
		if !ok || pr.Name != project {
			continue
		}
		if p.APIPath == apiPath && p.HTTPMethod == httpMethod {
			out := p
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *MemoryRepository) FindPermissionByName(ctx context.Context, project, name string) (*Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.permissions {
		pr, ok := r.projects[p.ProjectID]
		if ok && pr.Name == project && p.Name == name {
			out := p
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *MemoryRepository) GroupsForUser(ctx context.Context, username string) ([]Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var groups []Group
	for groupID := range r.memberships[username] {
		g, ok := r.groups[groupID]
		if ok && g.IsActive {
			groups = append(groups, g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups, nil
}

func (r *MemoryRepository) PermissionNamesForGroups(ctx context.Context, groupIDs []int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unique := make(map[string]struct{})
	for _, groupID := range groupIDs {
		for roleID := range r.groupRoles[groupID] {
			for permID := range r.rolePerms[roleID] {
				if p, ok := r.permissions[permID]; ok {
					unique[p.Name] = struct{}{}
				}
			}
		}
	}
	names := make([]string, 0, len(unique))
	for name := range unique {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *MemoryRepository) UpsertProject(ctx context.Context, p Project) (Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.projects {
		if existing.Name == p.Name {
			existing.BaseURL = p.BaseURL
			existing.Version = p.Version
			r.projects[id] = existing
			return existing, nil
		}
	}
	p.ID = r.id()
	r.projects[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.HTTPMethod = strings.ToUpper(p.HTTPMethod)
	for id, existing := range r.permissions {
		if existing.ProjectID == p.ProjectID && existing.APIPath == p.APIPath && existing.HTTPMethod == p.HTTPMethod {
			existing.Name = p.Name
			existing.IsPublic = p.IsPublic
			existing.IsCritical = p.IsCritical
			r.permissions[id] = existing
			return existing, nil
		}
	}
	p.ID = r.id()
	r.permissions[p.ID] = p
	return p, nil
}

func (r *MemoryRepository) CreateGroup(ctx context.Context, name string) (Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.groups {
		if g.Name == name {
			return g, nil
		}
	}
	g := Group{ID: r.id(), Name: name, IsActive: true}
	r.groups[g.ID] = g
	return g, nil
}

func (r *MemoryRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, role := range r.roles {
		if role.Name == name {
			role.Description = description
			r.roles[id] = role
			return role, nil
		}
	}
	role := Role{ID: r.id(), Name: name, Description: description}
	r.roles[role.ID] = role
	return role, nil
}

func (r *MemoryRepository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			out := role
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *MemoryRepository) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.Name == name {
			out := g
			return &out, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *MemoryRepository) AddUserToGroup(ctx context.Context, username string, groupID int64, primary bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.memberships[username] == nil {
		r.memberships[username] = make(map[int64]Membership)
	}
	if _, exists := r.memberships[username][groupID]; exists {
		return nil
	}
	r.memberships[username][groupID] = Membership{
		Username:  username,
		GroupID:   groupID,
		IsPrimary: primary,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemoryRepository) AssignRoleToGroup(ctx context.Context, groupID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groupRoles[groupID] == nil {
		r.groupRoles[groupID] = make(map[int64]struct{})
	}
	r.groupRoles[groupID][roleID] = struct{}{}
	return nil
}

func (r *MemoryRepository) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64, assignedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rolePerms[roleID] == nil {
		r.rolePerms[roleID] = make(map[int64]RolePermission)
	}
	if _, exists := r.rolePerms[roleID][permissionID]; exists {
		return nil
	}
	r.rolePerms[roleID][permissionID] = RolePermission{
		RoleID:       roleID,
		PermissionID: permissionID,
		AssignedBy:   assignedBy,
		CreatedAt:    time.Now().UTC(),
	}
	return nil
}

func (r *MemoryRepository) ReplaceUserGroups(ctx context.Context, username string, groupIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[int64]Membership, len(groupIDs))
	for _, id := range groupIDs {
		next[id] = Membership{Username: username, GroupID: id, CreatedAt: time.Now().UTC()}
	}
	r.memberships[username] = next
	return nil
}

func (r *MemoryRepository) ReplaceGroupRoles(ctx context.Context, groupID int64, roleIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		next[id] = struct{}{}
	}
	r.groupRoles[groupID] = next
	return nil
}

func (r *MemoryRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := make(map[int64]RolePermission, len(permissionIDs))
	for _, id := range permissionIDs {
		next[id] = RolePermission{RoleID: roleID, PermissionID: id, AssignedBy: "bulk", CreatedAt: time.Now().UTC()}
	}
	r.rolePerms[roleID] = next
	return nil
}

func (r *MemoryRepository) MembersOfGroup(ctx context.Context, groupID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var users []string
	for username, groups := range r.memberships {
		if _, ok := groups[groupID]; ok {
			users = append(users, username)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (r *MemoryRepository) UsersWithRole(ctx context.Context, roleID int64) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	unique := make(map[string]struct{})
	for username, groups := range r.memberships {
		for groupID := range groups {
			if _, ok := r.groupRoles[groupID][roleID]; ok {
				unique[username] = struct{}{}
			}
		}
	}
	users := make([]string, 0, len(unique))
	for username := range unique {
		users = append(users, username)
	}
	sort.Strings(users)
	return users, nil
}
