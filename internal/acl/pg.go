package acl

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aegisgate/aegisgate/internal/platform/db"
	"github.com/aegisgate/aegisgate/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// FindPermission resolves a permission by its (project, path, method) triple.
func (r *PGRepository) FindPermission(ctx context.Context, project, apiPath, httpMethod string) (*Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT p.id, p.project_id, p.name, p.api_path, p.http_method, p.is_public, p.is_critical
		 FROM permissions p
		 JOIN projects pr ON pr.id = p.project_id
		 WHERE pr.name = $1 AND p.api_path = $2 AND p.http_method = $3`,
		project, apiPath, strings.ToUpper(httpMethod))
	return scanPermission(row)
}

// FindPermissionByName resolves a permission by project and name.
func (r *PGRepository) FindPermissionByName(ctx context.Context, project, name string) (*Permission, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT p.id, p.project_id, p.name, p.api_path, p.http_method, p.is_public, p.is_critical
		 FROM permissions p
		 JOIN projects pr ON pr.id = p.project_id
		 WHERE pr.name = $1 AND p.name = $2`,
		project, name)
	return scanPermission(row)
}

// GroupsForUser returns the active groups the user belongs to.
func (r *PGRepository) GroupsForUser(ctx context.Context, username string) ([]Group, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT g.id, g.name, g.is_active
		 FROM groups g
		 JOIN user_groups ug ON ug.group_id = g.id
		 WHERE ug.username = $1 AND g.is_active
		 ORDER BY g.id`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Name, &g.IsActive); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// PermissionNamesForGroups returns the deduplicated permission names
// reachable from the given groups through their roles.
func (r *PGRepository) PermissionNamesForGroups(ctx context.Context, groupIDs []int64) ([]string, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT p.name
		 FROM permissions p
		 JOIN role_permissions rp ON rp.permission_id = p.id
		 JOIN group_roles gr ON gr.role_id = rp.role_id
		 WHERE gr.group_id = ANY($1)
		 ORDER BY p.name`, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertProject inserts or updates a project by name.
func (r *PGRepository) UpsertProject(ctx context.Context, p Project) (Project, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO projects (name, base_url, version)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET base_url = EXCLUDED.base_url, version = EXCLUDED.version
		 RETURNING id, name, base_url, version`,
		p.Name, p.BaseURL, p.Version)
	var out Project
	if err := row.Scan(&out.ID, &out.Name, &out.BaseURL, &out.Version); err != nil {
		return Project{}, err
	}
	return out, nil
}

// UpsertPermission inserts or updates a permission by its identifying tuple.
func (r *PGRepository) UpsertPermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (project_id, name, api_path, http_method, is_public, is_critical)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (project_id, api_path, http_method) DO UPDATE
		   SET name = EXCLUDED.name, is_public = EXCLUDED.is_public, is_critical = EXCLUDED.is_critical
		 RETURNING id, project_id, name, api_path, http_method, is_public, is_critical`,
		p.ProjectID, p.Name, p.APIPath, strings.ToUpper(p.HTTPMethod), p.IsPublic, p.IsCritical)
	out, err := scanPermission(row)
	if err != nil {
		return Permission{}, err
	}
	return *out, nil
}

// CreateGroup inserts a new active group.
func (r *PGRepository) CreateGroup(ctx context.Context, name string) (Group, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO groups (name, is_active) VALUES ($1, true)
		 ON CONFLICT (name) DO UPDATE SET is_active = groups.is_active
		 RETURNING id, name, is_active`, name)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.IsActive); err != nil {
		return Group{}, err
	}
	return g, nil
}

// CreateRole inserts a new role.
func (r *PGRepository) CreateRole(ctx context.Context, name, description string) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, description) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		 RETURNING id, name, description`, name, description)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description); err != nil {
		return Role{}, err
	}
	return role, nil
}

// FindRoleByName fetches a role by name.
func (r *PGRepository) FindRoleByName(ctx context.Context, name string) (*Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, description FROM roles WHERE name = $1`, name)
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &role, nil
}

// FindGroupByName fetches a group by name.
func (r *PGRepository) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, is_active FROM groups WHERE name = $1`, name)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// AddUserToGroup is a no-op when the membership already exists.
func (r *PGRepository) AddUserToGroup(ctx context.Context, username string, groupID int64, primary bool) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_groups (username, group_id, is_primary)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (username, group_id) DO NOTHING`, username, groupID, primary)
	return err
}

// AssignRoleToGroup is a no-op when the assignment already exists.
func (r *PGRepository) AssignRoleToGroup(ctx context.Context, groupID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO group_roles (group_id, role_id)
		 VALUES ($1, $2)
		 ON CONFLICT (group_id, role_id) DO NOTHING`, groupID, roleID)
	return err
}

// AssignPermissionToRole is a no-op when the assignment already exists.
func (r *PGRepository) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64, assignedBy string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, assigned_by)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionID, assignedBy)
	return err
}

// ReplaceUserGroups atomically rewrites all group memberships for a user.
func (r *PGRepository) ReplaceUserGroups(ctx context.Context, username string, groupIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_groups WHERE username = $1`, username); err != nil {
			return err
		}
		for _, id := range groupIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_groups (username, group_id, is_primary) VALUES ($1, $2, false)`,
				username, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceGroupRoles atomically rewrites all role assignments for a group.
func (r *PGRepository) ReplaceGroupRoles(ctx context.Context, groupID int64, roleIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_roles WHERE group_id = $1`, groupID); err != nil {
			return err
		}
		for _, id := range roleIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO group_roles (group_id, role_id) VALUES ($1, $2)`, groupID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceRolePermissions atomically rewrites all permissions for a role.
func (r *PGRepository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, id := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id, assigned_by) VALUES ($1, $2, 'bulk')`,
				roleID, id); err != nil {
				return err
			}
		}
		return nil
	})
}

// MembersOfGroup returns the usernames belonging to a group.
func (r *PGRepository) MembersOfGroup(ctx context.Context, groupID int64) ([]string, error) {
	return r.usernames(ctx,
		`SELECT username FROM user_groups WHERE group_id = $1 ORDER BY username`, groupID)
}

// UsersWithRole returns usernames reaching the role through any group.
func (r *PGRepository) UsersWithRole(ctx context.Context, roleID int64) ([]string, error) {
	return r.usernames(ctx,
		`SELECT DISTINCT ug.username
		 FROM user_groups ug
		 JOIN group_roles gr ON gr.group_id = ug.group_id
		 WHERE gr.role_id = $1
		 ORDER BY ug.username`, roleID)
}

func (r *PGRepository) usernames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func scanPermission(row pgx.Row) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.ProjectID, &p.Name, &p.APIPath, &p.HTTPMethod, &p.IsPublic, &p.IsCritical); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}
