package acl

import "time"

// Project is a registration target for permissions.
type Project struct {
	ID      int64
	Name    string
	BaseURL string
	Version string
}

// Group collects users and carries role assignments. Relations are ID-keyed;
// there are no back-referencing object graphs.
type Group struct {
	ID       int64
	Name     string
	IsActive bool
}

// Role is a named permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
}

// Permission is a project-scoped, path+method-bound access grant.
type Permission struct {
	ID         int64
	ProjectID  int64
	Name       string
	APIPath    string
	HTTPMethod string
	IsPublic   bool
	IsCritical bool
}

// Membership links a username to a group.
type Membership struct {
	Username  string
	GroupID   int64
	IsPrimary bool
	CreatedAt time.Time
}

// RolePermission ties a permission to a role with audit metadata.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	AssignedBy   string
	CreatedAt    time.Time
}
