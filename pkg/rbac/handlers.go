package rbac

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
	"github.com/platinummonkey/gatekeeper/pkg/httputil"
)

// Capabilities gating the admin API
const (
	CapMembersView    = "org.members.view"
	CapMembersManage  = "org.members.manage"
	CapRolesManage    = "org.roles.manage"
	CapPoliciesManage = "org.policies.manage"
)

// Handlers provides HTTP handlers for RBAC operations
type Handlers struct {
	registry    *capabilities.Registry
	roles       *RoleStore
	policies    *PolicyStore
	assignments *AssignmentStore
	checker     Checker
	gate        *PermissionMiddleware
	enforce     bool
	validate    *validator.Validate
}

// NewHandlers creates new RBAC handlers. When enforce is false the admin
// routes are served without capability checks.
func NewHandlers(registry *capabilities.Registry, roles *RoleStore, policies *PolicyStore, assignments *AssignmentStore, checker Checker, gate *PermissionMiddleware, enforce bool) *Handlers {
	return &Handlers{
		registry:    registry,
		roles:       roles,
		policies:    policies,
		assignments: assignments,
		checker:     checker,
		gate:        gate,
		enforce:     enforce && gate != nil,
		validate:    validator.New(),
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Catalog
	router.HandleFunc("/capabilities", h.ListCapabilities).Methods("GET")
	router.HandleFunc("/capabilities/{key}", h.GetCapability).Methods("GET")
	router.HandleFunc("/templates", h.GetRoleTemplates).Methods("GET")

	// Roles
	router.Handle("/orgs/{org_id}/roles", h.gated(CapMembersView, h.ListRoles)).Methods("GET")
	router.Handle("/orgs/{org_id}/roles", h.gated(CapRolesManage, h.CreateRole)).Methods("POST")
	router.Handle("/orgs/{org_id}/roles/system", h.gated(CapRolesManage, h.ProvisionSystemRoles)).Methods("POST")
	router.Handle("/orgs/{org_id}/roles/{role_id}", h.gated(CapMembersView, h.GetRole)).Methods("GET")
	router.Handle("/orgs/{org_id}/roles/{role_id}/capabilities", h.gated(CapRolesManage, h.UpdateRoleCapabilities)).Methods("PUT")
	router.Handle("/orgs/{org_id}/roles/{role_id}", h.gated(CapRolesManage, h.DeleteRole)).Methods("DELETE")

	// Policies
	router.Handle("/orgs/{org_id}/policies", h.gated(CapMembersView, h.GetPolicies)).Methods("GET")
	router.Handle("/orgs/{org_id}/policies/{key}", h.gated(CapPoliciesManage, h.SetPolicy)).Methods("PUT")
	router.Handle("/orgs/{org_id}/policies/{key}", h.gated(CapPoliciesManage, h.ResetPolicy)).Methods("DELETE")

	// Assignments
	router.Handle("/orgs/{org_id}/assignments", h.gated(CapMembersManage, h.Assign)).Methods("POST")
	router.Handle("/orgs/{org_id}/assignments/{assignment_id}", h.gated(CapMembersManage, h.Revoke)).Methods("DELETE")
	router.Handle("/orgs/{org_id}/users/{user_id}/assignments", h.gated(CapMembersView, h.ListUserAssignments)).Methods("GET")

	// Effective permissions
	router.HandleFunc("/orgs/{org_id}/users/{user_id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/orgs/{org_id}/users/{user_id}/permissions/{key}", h.CheckUserPermission).Methods("GET")
}

func (h *Handlers) gated(capability string, fn http.HandlerFunc) http.Handler {
	if !h.enforce {
		return fn
	}
	return h.gate.RequireCapability(capability)(fn)
}

type createRoleRequest struct {
	Name           string   `json:"name" validate:"required,max=100"`
	Scope          string   `json:"scope" validate:"required,oneof=ORG SITE"`
	CapabilityKeys []string `json:"capability_keys" validate:"dive,required"`
}

type updateCapabilitiesRequest struct {
	CapabilityKeys []string `json:"capability_keys" validate:"required,dive,required"`
}

type setPolicyRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type assignRequest struct {
	UserID string  `json:"user_id" validate:"required,max=255"`
	RoleID string  `json:"role_id" validate:"required"`
	SiteID *string `json:"site_id,omitempty" validate:"omitempty,min=1"`
}

// writeStoreError reports a committed write whose cache invalidation failed
// as 503 and everything else by its error category
func writeStoreError(w http.ResponseWriter, err error) {
	if committed(err) {
		httputil.WriteErrorResponse(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
			Error: "change saved but the permission cache could not be invalidated",
			Code:  "CACHE_INVALIDATION_FAILED",
		})
		return
	}
	httputil.WriteDomainError(w, err)
}

// ListCapabilities handles GET /capabilities
func (h *Handlers) ListCapabilities(w http.ResponseWriter, r *http.Request) {
	var caps []capabilities.Capability
	if module := httputil.ParseQueryString(r, "module", ""); module != "" {
		caps = h.registry.ByModule(module)
	} else {
		caps = h.registry.All()
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"capabilities": caps,
		"count":        len(caps),
	})
}

// GetCapability handles GET /capabilities/{key}
func (h *Handlers) GetCapability(w http.ResponseWriter, r *http.Request) {
	c, err := h.registry.Get(mux.Vars(r)["key"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}
	_ = httputil.WriteSuccess(w, c)
}

// GetRoleTemplates handles GET /templates
func (h *Handlers) GetRoleTemplates(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"templates": CustomRoleTemplates(h.registry),
	})
}

// ListRoles handles GET /orgs/{org_id}/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]

	var scope *Scope
	if s := httputil.ParseQueryString(r, "scope", ""); s != "" {
		sc := Scope(s)
		scope = &sc
	}

	roles, err := h.roles.ListRoles(r.Context(), orgID, scope)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// CreateRole handles POST /orgs/{org_id}/roles. Only CUSTOM roles can be
// created over the API.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	role, err := h.roles.CreateRole(r.Context(), mux.Vars(r)["org_id"], req.Name, Scope(req.Scope), RoleTypeCustom, req.CapabilityKeys)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_ = httputil.WriteCreated(w, role)
}

// ProvisionSystemRoles handles POST /orgs/{org_id}/roles/system
func (h *Handlers) ProvisionSystemRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.roles.ProvisionSystemRoles(r.Context(), mux.Vars(r)["org_id"])
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// orgRole loads the role named in the path and writes 404 when it belongs
// to another organization
func (h *Handlers) orgRole(w http.ResponseWriter, r *http.Request) (*Role, bool) {
	vars := mux.Vars(r)
	role, err := h.roles.GetRole(r.Context(), vars["role_id"])
	if err == nil && role.OrgID != vars["org_id"] {
		err = &authzerr.NotFoundError{Kind: "role", ID: vars["role_id"]}
	}
	if err != nil {
		httputil.WriteDomainError(w, err)
		return nil, false
	}
	return role, true
}

// GetRole handles GET /orgs/{org_id}/roles/{role_id}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}
	_ = httputil.WriteSuccess(w, role)
}

// UpdateRoleCapabilities handles PUT /orgs/{org_id}/roles/{role_id}/capabilities
func (h *Handlers) UpdateRoleCapabilities(w http.ResponseWriter, r *http.Request) {
	var req updateCapabilitiesRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}

	updated, err := h.roles.UpdateRoleCapabilities(r.Context(), role.ID, req.CapabilityKeys)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, updated)
}

// DeleteRole handles DELETE /orgs/{org_id}/roles/{role_id}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.orgRole(w, r)
	if !ok {
		return
	}

	if err := h.roles.DeleteRole(r.Context(), role.ID); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetPolicies handles GET /orgs/{org_id}/policies
func (h *Handlers) GetPolicies(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["org_id"]
	policies, err := h.policies.GetPolicies(r.Context(), orgID)
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"org_id":   orgID,
		"policies": policies,
	})
}

// SetPolicy handles PUT /orgs/{org_id}/policies/{key}
func (h *Handlers) SetPolicy(w http.ResponseWriter, r *http.Request) {
	var req setPolicyRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	vars := mux.Vars(r)
	policy, err := h.policies.SetPolicy(r.Context(), vars["org_id"], vars["key"], *req.Enabled)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, policy)
}

// ResetPolicy handles DELETE /orgs/{org_id}/policies/{key}
func (h *Handlers) ResetPolicy(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.policies.ResetPolicy(r.Context(), vars["org_id"], vars["key"]); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// Assign handles POST /orgs/{org_id}/assignments. A new assignment is 201;
// an existing one is returned with 200.
func (h *Handlers) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !httputil.DecodeAndValidate(w, r, h.validate, &req) {
		return
	}

	a, created, err := h.assignments.Assign(r.Context(), mux.Vars(r)["org_id"], req.UserID, req.RoleID, req.SiteID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	if created {
		_ = httputil.WriteCreated(w, a)
		return
	}
	_ = httputil.WriteSuccess(w, a)
}

// Revoke handles DELETE /orgs/{org_id}/assignments/{assignment_id}
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.assignments.RevokeInOrg(r.Context(), vars["org_id"], vars["assignment_id"]); err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListUserAssignments handles GET /orgs/{org_id}/users/{user_id}/assignments
func (h *Handlers) ListUserAssignments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	assignments, err := h.assignments.ListForUser(r.Context(), vars["org_id"], vars["user_id"])
	if err != nil {
		httputil.WriteDomainError(w, err)
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"assignments": assignments,
		"count":       len(assignments),
	})
}

// canViewUser allows callers to read their own permissions and members
// holding org.members.view to read anyone's
func (h *Handlers) canViewUser(w http.ResponseWriter, r *http.Request) bool {
	if !h.enforce {
		return true
	}

	vars := mux.Vars(r)
	principal := contextkeys.GetPrincipal(r.Context())
	if principal == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if principal == vars["user_id"] {
		return true
	}

	perm, err := h.checker.Check(r.Context(), Query{OrgID: vars["org_id"], UserID: principal}, CapMembersView)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "permission check unavailable")
		return false
	}
	if !perm.Allowed {
		httputil.WriteForbidden(w, "missing capability "+CapMembersView+": "+perm.Reason)
		return false
	}
	return true
}

// GetUserPermissions handles GET /orgs/{org_id}/users/{user_id}/permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	if !h.canViewUser(w, r) {
		return
	}

	vars := mux.Vars(r)
	q := Query{
		OrgID:  vars["org_id"],
		UserID: vars["user_id"],
		SiteID: httputil.ParseQueryString(r, "site_id", ""),
		Module: httputil.ParseQueryString(r, "module", ""),
	}

	perms, err := h.checker.Resolve(r.Context(), q)
	if err != nil {
		httputil.WriteServiceUnavailable(w, "permission resolution unavailable")
		return
	}

	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"org_id":      q.OrgID,
		"user_id":     q.UserID,
		"site_id":     q.SiteID,
		"permissions": perms,
	})
}

// CheckUserPermission handles GET /orgs/{org_id}/users/{user_id}/permissions/{key}
func (h *Handlers) CheckUserPermission(w http.ResponseWriter, r *http.Request) {
	if !h.canViewUser(w, r) {
		return
	}

	vars := mux.Vars(r)
	q := Query{
		OrgID:  vars["org_id"],
		UserID: vars["user_id"],
		SiteID: httputil.ParseQueryString(r, "site_id", ""),
	}

	perm, err := h.checker.Check(r.Context(), q, vars["key"])
	if err != nil {
		if httputil.StatusForError(err) == http.StatusNotFound {
			httputil.WriteDomainError(w, err)
			return
		}
		httputil.WriteServiceUnavailable(w, "permission resolution unavailable")
		return
	}

	_ = httputil.WriteSuccess(w, perm)
}
