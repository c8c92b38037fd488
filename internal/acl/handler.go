package acl

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/platform/httpx"
	"github.com/aegisgate/aegisgate/internal/shared"
)

// PermissionGraphAdmin guards every mutating graph endpoint.
const PermissionGraphAdmin = "acl.graph.admin"

// Handler wires HTTP endpoints for permission resolution and graph admin.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		guard:     Middleware{Service: service, Logger: logger},
		validator: validator.New(),
	}
}

// MountRoutes registers ACL routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.handleCheck)
	r.Get("/users/{username}/permissions", h.handleUserPermissions)

	r.Group(func(r chi.Router) {
		r.Use(Identify)
		r.Use(h.guard.RequireAny(PermissionGraphAdmin))
		r.Post("/projects/register", h.handleRegisterManifest)
		r.Post("/groups", h.handleCreateGroup)
		r.Post("/roles", h.handleCreateRole)
		r.Post("/groups/{group}/members", h.handleAddMember)
		r.Put("/groups/{group}/roles", h.handleReplaceGroupRoles)
		r.Put("/roles/{role}/permissions", h.handleReplaceRolePermissions)
		r.Post("/roles/{role}/permissions", h.handleAssignRolePermissions)
		r.Put("/users/{username}/groups", h.handleReplaceUserGroups)
	})
}

type checkRequest struct {
	Username       string `json:"username"`
	Project        string `json:"project" validate:"required"`
	APIPath        string `json:"apiPath" validate:"required"`
	HTTPMethod     string `json:"httpMethod" validate:"required"`
	PermissionName string `json:"permissionName"`
}

type checkResponse struct {
	HasPermission bool `json:"hasPermission"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "project, apiPath and httpMethod are required")
		return
	}
	allowed := h.service.Check(r.Context(), req.Username, req.Project, req.APIPath, req.HTTPMethod)
	httpx.JSON(w, http.StatusOK, checkResponse{HasPermission: allowed})
}

func (h *Handler) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	perms, err := h.service.ResolveAllPermissions(r.Context(), username)
	if err != nil {
		h.logger.Error("resolve user permissions", slog.String("username", username), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, perms)
}

func (h *Handler) handleRegisterManifest(w http.ResponseWriter, r *http.Request) {
	var m manifest.Manifest
	if err := httpx.DecodeJSON(r, &m); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	normalized, err := manifest.New(m.Project, m.BaseURL, m.Version, m.Routes)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.RegisterManifest(r.Context(), normalized); err != nil {
		h.logger.Error("register manifest", slog.String("project", m.Project), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"registered": len(normalized.Routes)})
}

type createGroupRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name is required")
		return
	}
	group, err := h.service.CreateGroup(r.Context(), req.Name)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": group.ID, "name": group.Name})
}

type createRoleRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *Handler) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "name is required")
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": role.ID, "name": role.Name})
}

type addMemberRequest struct {
	Username string `json:"username" validate:"required"`
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "username is required")
		return
	}
	if err := h.service.AddUserToGroup(r.Context(), req.Username, chi.URLParam(r, "group")); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nameListRequest struct {
	Names   []string `json:"names" validate:"required"`
	Project string   `json:"project"`
}

type batchResponse struct {
	Succeeded int            `json:"succeeded"`
	Failed    []BatchFailure `json:"failed,omitempty"`
}

func (h *Handler) handleReplaceGroupRoles(w http.ResponseWriter, r *http.Request) {
	var req nameListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	result, err := h.service.ReplaceGroupRoles(r.Context(), chi.URLParam(r, "group"), req.Names)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
}

func (h *Handler) handleReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req nameListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	result, err := h.service.ReplaceRolePermissions(r.Context(), chi.URLParam(r, "role"), req.Project, req.Names)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
}

func (h *Handler) handleAssignRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req nameListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	var assignedBy string
	if id := shared.IdentityFromContext(r.Context()); id != nil {
		assignedBy = id.Username
	}
	result, err := h.service.AssignPermissionsToRole(r.Context(), chi.URLParam(r, "role"), req.Project, req.Names, assignedBy)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
}

func (h *Handler) handleReplaceUserGroups(w http.ResponseWriter, r *http.Request) {
	var req nameListRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid JSON body")
		return
	}
	result, err := h.service.ReplaceUserGroups(r.Context(), chi.URLParam(r, "username"), req.Names)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{Succeeded: result.Succeeded, Failed: result.Failed})
}
