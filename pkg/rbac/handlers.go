package rbac

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/sms/pkg/audit"
	"github.com/platinummonkey/sms/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC administration
type Handlers struct {
	svc   *Service
	audit *audit.Service
}

// NewHandlers creates new RBAC handlers
func NewHandlers(svc *Service, auditSvc *audit.Service) *Handlers {
	return &Handlers{svc: svc, audit: auditSvc}
}

// RegisterRoutes registers all RBAC routes on the /api/v1 subrouter. Every
// route requires rbac.manage.
func (h *Handlers) RegisterRoutes(router *mux.Router, guard httputil.Guard) {
	r := router.PathPrefix("/rbac").Subrouter()
	r.Use(guard(PermissionManage))

	r.HandleFunc("/roles", h.listRoles).Methods(http.MethodGet)
	r.HandleFunc("/roles", h.createRole).Methods(http.MethodPost)
	r.HandleFunc("/permissions", h.listPermissions).Methods(http.MethodGet)
	r.HandleFunc("/permissions", h.createPermission).Methods(http.MethodPost)
	r.HandleFunc("/roles/{role}/permissions", h.grantPermission).Methods(http.MethodPost)
	r.HandleFunc("/roles/{role}/permissions/{permission}", h.revokePermission).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id:[0-9]+}/roles", h.assignRole).Methods(http.MethodPost)
	r.HandleFunc("/users/{id:[0-9]+}/roles/{role}", h.revokeRole).Methods(http.MethodDelete)
	r.HandleFunc("/users/{id:[0-9]+}/permissions", h.userPermissions).Methods(http.MethodGet)
	r.HandleFunc("/ensure-defaults", h.ensureDefaults).Methods(http.MethodPost)
}

// CreateRoleRequest is the body of POST /rbac/roles
type CreateRoleRequest struct {
	Name        string  `json:"name" validate:"required,max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// CreatePermissionRequest is the body of POST /rbac/permissions
type CreatePermissionRequest struct {
	Name        string  `json:"name" validate:"required,max=128"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

// GrantRequest is the body of POST /rbac/roles/{role}/permissions
type GrantRequest struct {
	Permission string `json:"permission" validate:"required"`
}

// AssignRequest is the body of POST /rbac/users/{id}/roles
type AssignRequest struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Store().ListRoles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if roles == nil {
		roles = []RoleWithPermissions{}
	}
	_ = httputil.WriteSuccess(w, roles)
}

func (h *Handlers) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.svc.Store().ListPermissions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, perms)
}

func (h *Handlers) createRole(w http.ResponseWriter, r *http.Request) {
	var req CreateRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	role, err := h.svc.CreateRole(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionCreate,
		Resource:   audit.ResourceRole,
		ResourceID: role.Name,
		Success:    true,
	})
	_ = httputil.WriteCreated(w, role)
}

func (h *Handlers) createPermission(w http.ResponseWriter, r *http.Request) {
	var req CreatePermissionRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	perm, err := h.svc.CreatePermission(r.Context(), req.Name, req.Description)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionCreate,
		Resource:   audit.ResourcePermission,
		ResourceID: perm.Name,
		Success:    true,
	})
	_ = httputil.WriteCreated(w, perm)
}

func (h *Handlers) grantPermission(w http.ResponseWriter, r *http.Request) {
	role := Normalize(mux.Vars(r)["role"])
	var req GrantRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	perm := Normalize(req.Permission)

	added, err := h.svc.GrantPermission(r.Context(), role, perm)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionPermissionGrant,
		Resource:   audit.ResourceRole,
		ResourceID: role,
		Details:    map[string]interface{}{"permission": perm, "changed": added},
		Success:    true,
	})
	_ = httputil.WriteSuccess(w, map[string]interface{}{"role": role, "permission": perm, "granted": added})
}

func (h *Handlers) revokePermission(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	role, perm := Normalize(vars["role"]), Normalize(vars["permission"])

	removed, err := h.svc.RevokePermission(r.Context(), role, perm)
	if err != nil {
		if errors.Is(err, ErrAdminWildcard) {
			h.audit.Log(r.Context(), r, audit.Entry{
				Action:       audit.ActionPermissionRevoke,
				Resource:     audit.ResourceRole,
				ResourceID:   role,
				Details:      map[string]interface{}{"permission": perm},
				ErrorMessage: err.Error(),
			})
		}
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionPermissionRevoke,
		Resource:   audit.ResourceRole,
		ResourceID: role,
		Details:    map[string]interface{}{"permission": perm, "changed": removed},
		Success:    true,
	})
	_ = httputil.WriteSuccess(w, map[string]interface{}{"role": role, "permission": perm, "revoked": removed})
}

func (h *Handlers) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req AssignRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	role := Normalize(req.Role)

	added, err := h.svc.AssignRole(r.Context(), userID, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionRoleAssign,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{"role": role, "changed": added},
		Success:    true,
	})
	_ = httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "role": role, "assigned": added})
}

func (h *Handlers) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	role := Normalize(mux.Vars(r)["role"])

	removed, err := h.svc.RevokeRole(r.Context(), userID, role)
	if err != nil {
		if errors.Is(err, ErrLastAdmin) {
			h.audit.Log(r.Context(), r, audit.Entry{
				Action:       audit.ActionRoleRevoke,
				Resource:     audit.ResourceUser,
				ResourceID:   strconv.FormatInt(userID, 10),
				Details:      map[string]interface{}{"role": role},
				ErrorMessage: err.Error(),
			})
		}
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:     audit.ActionRoleRevoke,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatInt(userID, 10),
		Details:    map[string]interface{}{"role": role, "changed": removed},
		Success:    true,
	})
	_ = httputil.WriteSuccess(w, map[string]interface{}{"user_id": userID, "role": role, "revoked": removed})
}

func (h *Handlers) userPermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	eff, err := h.svc.EffectiveForUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, eff)
}

func (h *Handlers) ensureDefaults(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.EnsureDefaults(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.audit.Log(r.Context(), r, audit.Entry{
		Action:   audit.ActionUpdate,
		Resource: audit.ResourceRole,
		Details: map[string]interface{}{
			"operation":           "ensure_defaults",
			"roles_created":       res.RolesCreated,
			"permissions_created": res.PermissionsCreated,
			"grants_added":        res.GrantsAdded,
		},
		Success: true,
	})
	_ = httputil.WriteSuccess(w, res)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteError(w, r, mapError(err))
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		return httputil.NotFound(httputil.CodeRoleNotFound, "errors.role_not_found").Wrap(err)
	case errors.Is(err, ErrPermissionNotFound):
		return httputil.NotFound(httputil.CodePermissionNotFound, "errors.permission_not_found").Wrap(err)
	case errors.Is(err, ErrUserNotFound):
		return httputil.NotFound(httputil.CodeUserNotFound, "errors.user_not_found").Wrap(err)
	case errors.Is(err, ErrLastAdmin):
		return httputil.NewError(http.StatusBadRequest, httputil.CodeValidation, "errors.last_admin").Wrap(err)
	case errors.Is(err, ErrAdminWildcard):
		return httputil.NewError(http.StatusBadRequest, httputil.CodeValidation, "errors.admin_wildcard").Wrap(err)
	case errors.Is(err, ErrRoleExists), errors.Is(err, ErrPermissionExists):
		return httputil.Conflict(httputil.HTTPCode(http.StatusConflict), "errors.conflict").Wrap(err)
	}
	return err
}
