package acl

import "context"

// Repository defines persistence over the group→role→permission graph.
// Reads need no locking; bulk relation rewrites are transactional at the
// storage layer only.
type Repository interface {
	// Resolution path.
	FindPermission(ctx context.Context, project, apiPath, httpMethod string) (*Permission, error)
	GroupsForUser(ctx context.Context, username string) ([]Group, error)
	PermissionNamesForGroups(ctx context.Context, groupIDs []int64) ([]string, error)

	// Graph administration.
	UpsertProject(ctx context.Context, p Project) (Project, error)
	UpsertPermission(ctx context.Context, p Permission) (Permission, error)
	CreateGroup(ctx context.Context, name string) (Group, error)
	CreateRole(ctx context.Context, name, description string) (Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	FindGroupByName(ctx context.Context, name string) (*Group, error)
	FindPermissionByName(ctx context.Context, project, name string) (*Permission, error)

	// Idempotent single assignments.
	AddUserToGroup(ctx context.Context, username string, groupID int64, primary bool) error
	AssignRoleToGroup(ctx context.Context, groupID, roleID int64) error
	AssignPermissionToRole(ctx context.Context, roleID, permissionID int64, assignedBy string) error

	// Atomic bulk rewrites (delete-then-recreate inside one transaction).
	ReplaceUserGroups(ctx context.Context, username string, groupIDs []int64) error
	ReplaceGroupRoles(ctx context.Context, groupID int64, roleIDs []int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	// Affected-user queries driving cache invalidation.
	MembersOfGroup(ctx context.Context, groupID int64) ([]string, error)
	UsersWithRole(ctx context.Context, roleID int64) ([]string, error)
}
