package acl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/shared"
)

// Service resolves effective permissions and administers the graph.
type Service struct {
	repo        Repository
	invalidator Invalidator
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, invalidator Invalidator, logger *slog.Logger) *Service {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger}
}

// Check reports whether username may call (project, path, method). Public
// permissions pass for anyone, including unknown users. Missing graph
// records log and deny; they never surface as errors.
func (s *Service) Check(ctx context.Context, username, project, apiPath, httpMethod string) bool {
	perm, err := s.repo.FindPermission(ctx, project, apiPath, httpMethod)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) && s.logger != nil {
			s.logger.Error("permission lookup", slog.Any("error", err))
		}
		return false
	}
	if perm.IsPublic {
		return true
	}
	granted, err := s.ResolveAllPermissions(ctx, username)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("resolve permissions", slog.String("username", username), slog.Any("error", err))
		}
		return false
	}
	for _, name := range granted {
		if name == perm.Name {
			return true
		}
	}
	return false
}

// ResolveAllPermissions walks the user's group→role→permission closure and
// returns a sorted, deduplicated flat set. A user with no groups gets an
// empty set.
func (s *Service) ResolveAllPermissions(ctx context.Context, username string) ([]string, error) {
	groups, err := s.repo.GroupsForUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("acl: groups for %s: %w", username, err)
	}
	if len(groups) == 0 {
		return []string{}, nil
	}
	groupIDs := make([]int64, len(groups))
	for i, g := range groups {
		groupIDs[i] = g.ID
	}
	names, err := s.repo.PermissionNamesForGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("acl: permissions for %s: %w", username, err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// RegisterManifest upserts the project and its declared permissions. Called
// by services at startup with their compiled route table.
func (s *Service) RegisterManifest(ctx context.Context, m *manifest.Manifest) error {
	project, err := s.repo.UpsertProject(ctx, Project{
		Name:    m.Project,
		BaseURL: m.BaseURL,
		Version: m.Version,
	})
	if err != nil {
		return fmt.Errorf("acl: register project %s: %w", m.Project, err)
	}
	for _, route := range m.Routes {
		name := route.Permission
		if route.Public && name == "" {
			name = publicPermissionName(m.Project, route.Path, route.Method)
		}
		if _, err := s.repo.UpsertPermission(ctx, Permission{
			ProjectID:  project.ID,
			Name:       name,
			APIPath:    route.Path,
			HTTPMethod: route.Method,
			IsPublic:   route.Public,
			IsCritical: route.Critical,
		}); err != nil {
			return fmt.Errorf("acl: register permission %s %s: %w", route.Method, route.Path, err)
		}
	}
	if s.logger != nil {
		s.logger.Info("manifest registered",
			slog.String("project", m.Project),
			slog.Int("routes", len(m.Routes)))
	}
	return nil
}

// CreateGroup creates (or returns) a named group.
func (s *Service) CreateGroup(ctx context.Context, name string) (Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Group{}, errors.New("acl: group name required")
	}
	return s.repo.CreateGroup(ctx, name)
}

// CreateRole creates (or updates) a named role.
func (s *Service) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, errors.New("acl: role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(description))
}

// AddUserToGroup adds a membership; repeating the call is a no-op. The
// user's cached decisions are invalidated either way.
func (s *Service) AddUserToGroup(ctx context.Context, username, groupName string) error {
	group, err := s.repo.FindGroupByName(ctx, groupName)
	if err != nil {
		return fmt.Errorf("acl: group %s: %w", groupName, err)
	}
	if err := s.repo.AddUserToGroup(ctx, username, group.ID, false); err != nil {
		return err
	}
	s.invalidate(ctx, username)
	return nil
}

// AssignRoleToGroup attaches a role to a group; idempotent. Every member of
// the group is invalidated.
func (s *Service) AssignRoleToGroup(ctx context.Context, groupName, roleName string) error {
	group, err := s.repo.FindGroupByName(ctx, groupName)
	if err != nil {
		return fmt.Errorf("acl: group %s: %w", groupName, err)
	}
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return fmt.Errorf("acl: role %s: %w", roleName, err)
	}
	if err := s.repo.AssignRoleToGroup(ctx, group.ID, role.ID); err != nil {
		return err
	}
	s.invalidateGroupMembers(ctx, group.ID)
	return nil
}

// BatchResult reports the outcome of a batch assignment. NotFound items are
// recorded as failures, not raised as faults, so callers see partial
// success counts.
type BatchResult struct {
	Succeeded int
	Failed    []BatchFailure
}

// BatchFailure names one item that could not be assigned.
type BatchFailure struct {
	Item   string
	Reason string
}

// AssignPermissionsToRole attaches named permissions of a project to a role,
// reporting per-item failures.
func (s *Service) AssignPermissionsToRole(ctx context.Context, roleName, project string, permissionNames []string, assignedBy string) (BatchResult, error) {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return BatchResult{}, fmt.Errorf("acl: role %s: %w", roleName, err)
	}
	var result BatchResult
	for _, name := range permissionNames {
		perm, err := s.repo.FindPermissionByName(ctx, project, name)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: name, Reason: "permission not found"})
			continue
		}
		if err := s.repo.AssignPermissionToRole(ctx, role.ID, perm.ID, assignedBy); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: name, Reason: err.Error()})
			continue
		}
		result.Succeeded++
	}
	s.invalidateRoleHolders(ctx, role.ID)
	return result, nil
}

// ReplaceRolePermissions atomically rewrites the role's permission set, then
// invalidates everyone holding the role. This is the only correctness
// mechanism keeping cached decisions in step with policy before TTL expiry.
func (s *Service) ReplaceRolePermissions(ctx context.Context, roleName, project string, permissionNames []string) (BatchResult, error) {
	role, err := s.repo.FindRoleByName(ctx, roleName)
	if err != nil {
		return BatchResult{}, fmt.Errorf("acl: role %s: %w", roleName, err)
	}
	var result BatchResult
	var ids []int64
	for _, name := range permissionNames {
		perm, err := s.repo.FindPermissionByName(ctx, project, name)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: name, Reason: "permission not found"})
			continue
		}
		ids = append(ids, perm.ID)
		result.Succeeded++
	}
	// Capture holders before the rewrite; a now-empty role has no holders
	// to enumerate afterwards via its permissions.
	holders, holdersErr := s.repo.UsersWithRole(ctx, role.ID)
	if err := s.repo.ReplaceRolePermissions(ctx, role.ID, ids); err != nil {
		return result, err
	}
	if holdersErr == nil {
		for _, username := range holders {
			s.invalidate(ctx, username)
		}
	} else {
		s.invalidateAll(ctx)
	}
	return result, nil
}

// ReplaceUserGroups atomically rewrites a user's memberships.
func (s *Service) ReplaceUserGroups(ctx context.Context, username string, groupNames []string) (BatchResult, error) {
	var result BatchResult
	var ids []int64
	for _, name := range groupNames {
		group, err := s.repo.FindGroupByName(ctx, name)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: name, Reason: "group not found"})
			continue
		}
		ids = append(ids, group.ID)
		result.Succeeded++
	}
	if err := s.repo.ReplaceUserGroups(ctx, username, ids); err != nil {
		return result, err
	}
	s.invalidate(ctx, username)
	return result, nil
}

// ReplaceGroupRoles atomically rewrites a group's roles and invalidates its
// members.
func (s *Service) ReplaceGroupRoles(ctx context.Context, groupName string, roleNames []string) (BatchResult, error) {
	group, err := s.repo.FindGroupByName(ctx, groupName)
	if err != nil {
		return BatchResult{}, fmt.Errorf("acl: group %s: %w", groupName, err)
	}
	var result BatchResult
	var ids []int64
	for _, name := range roleNames {
		role, err := s.repo.FindRoleByName(ctx, name)
		if err != nil {
			result.Failed = append(result.Failed, BatchFailure{Item: name, Reason: "role not found"})
			continue
		}
		ids = append(ids, role.ID)
		result.Succeeded++
	}
	if err := s.repo.ReplaceGroupRoles(ctx, group.ID, ids); err != nil {
		return result, err
	}
	s.invalidateGroupMembers(ctx, group.ID)
	return result, nil
}

func (s *Service) invalidate(ctx context.Context, username string) {
	if err := s.invalidator.InvalidateUser(ctx, username); err != nil && s.logger != nil {
		s.logger.Error("invalidate user cache", slog.String("username", username), slog.Any("error", err))
	}
}

func (s *Service) invalidateAll(ctx context.Context) {
	if err := s.invalidator.InvalidateAll(ctx); err != nil && s.logger != nil {
		s.logger.Error("invalidate all caches", slog.Any("error", err))
	}
}

func (s *Service) invalidateGroupMembers(ctx context.Context, groupID int64) {
	members, err := s.repo.MembersOfGroup(ctx, groupID)
	if err != nil {
		// Cannot enumerate affected users; fall back to a global flush
		// rather than leaving stale grants live.
		s.invalidateAll(ctx)
		return
	}
	for _, username := range members {
		s.invalidate(ctx, username)
	}
}

func (s *Service) invalidateRoleHolders(ctx context.Context, roleID int64) {
	holders, err := s.repo.UsersWithRole(ctx, roleID)
	if err != nil {
		s.invalidateAll(ctx)
		return
	}
	for _, username := range holders {
		s.invalidate(ctx, username)
	}
}

func publicPermissionName(project, path, method string) string {
	sanitized := strings.NewReplacer("/", ".", "{", "", "}", "").Replace(strings.Trim(path, "/"))
	return fmt.Sprintf("%s.public.%s.%s", project, strings.ToLower(method), sanitized)
}
