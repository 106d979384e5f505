// Package authzerr defines the error taxonomy shared by the capability
// registry and the RBAC stores.
//
// Every typed error unwraps to one of the category sentinels, so callers can
// branch with errors.Is on the category and errors.As on the concrete type
// when they need the offending keys:
//
//	if errors.Is(err, authzerr.ErrValidation) { ... }
//
//	var blocked *authzerr.BlockedCapabilityError
//	if errors.As(err, &blocked) { log(blocked.Keys) }
package authzerr

import (
	"errors"
	"fmt"
	"strings"
)

// Category sentinels
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	ErrImmutable  = errors.New("immutable")
	ErrRoleInUse  = errors.New("role in use")
)

// Error codes exposed to API clients
const (
	CodeNotFound            = "NOT_FOUND"
	CodeInvalidCapability   = "INVALID_CAPABILITY"
	CodeBlockedCapability   = "BLOCKED_CAPABILITY"
	CodeScopeMismatch       = "SCOPE_MISMATCH"
	CodeCrossOrgSite        = "CROSS_ORG_SITE"
	CodeNotPolicyControlled = "NOT_POLICY_CONTROLLED"
	CodeDuplicateRole       = "DUPLICATE_ROLE"
	CodeImmutableRole       = "IMMUTABLE_ROLE"
	CodeRoleInUse           = "ROLE_IN_USE"
	CodeInvalidArgument     = "INVALID_ARGUMENT"
)

// Coded is implemented by every error in this package
type Coded interface {
	error
	Code() string
	Details() map[string]string
}

// NotFoundError reports an unknown capability, role, or assignment
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func (e *NotFoundError) Code() string { return CodeNotFound }

func (e *NotFoundError) Details() map[string]string {
	return map[string]string{"kind": e.Kind, "id": e.ID}
}

// InvalidCapabilityError lists every capability key absent from the registry
type InvalidCapabilityError struct {
	Keys []string
}

func (e *InvalidCapabilityError) Error() string {
	return "unknown capability keys: " + strings.Join(e.Keys, ", ")
}

func (e *InvalidCapabilityError) Unwrap() error { return ErrValidation }

func (e *InvalidCapabilityError) Code() string { return CodeInvalidCapability }

func (e *InvalidCapabilityError) Details() map[string]string {
	return map[string]string{"keys": strings.Join(e.Keys, ",")}
}

// BlockedCapabilityError lists keys that only a SYSTEM role may grant
type BlockedCapabilityError struct {
	Keys []string
}

func (e *BlockedCapabilityError) Error() string {
	return "capabilities cannot be granted to custom roles: " + strings.Join(e.Keys, ", ")
}

func (e *BlockedCapabilityError) Unwrap() error { return ErrValidation }

func (e *BlockedCapabilityError) Code() string { return CodeBlockedCapability }

func (e *BlockedCapabilityError) Details() map[string]string {
	return map[string]string{"keys": strings.Join(e.Keys, ",")}
}

// ScopeMismatchError is returned when an assignment's site presence
// disagrees with the role scope
type ScopeMismatchError struct {
	RoleID  string
	Scope   string
	HasSite bool
}

func (e *ScopeMismatchError) Error() string {
	if e.HasSite {
		return fmt.Sprintf("role %s has scope %s and cannot be assigned to a site", e.RoleID, e.Scope)
	}
	return fmt.Sprintf("role %s has scope %s and requires a site", e.RoleID, e.Scope)
}

func (e *ScopeMismatchError) Unwrap() error { return ErrValidation }

func (e *ScopeMismatchError) Code() string { return CodeScopeMismatch }

func (e *ScopeMismatchError) Details() map[string]string {
	return map[string]string{"role_id": e.RoleID, "scope": e.Scope}
}

// CrossOrgSiteError is returned when a site does not belong to the org
type CrossOrgSiteError struct {
	OrgID  string
	SiteID string
}

func (e *CrossOrgSiteError) Error() string {
	return fmt.Sprintf("site %s does not belong to organization %s", e.SiteID, e.OrgID)
}

func (e *CrossOrgSiteError) Unwrap() error { return ErrValidation }

func (e *CrossOrgSiteError) Code() string { return CodeCrossOrgSite }

func (e *CrossOrgSiteError) Details() map[string]string {
	return map[string]string{"org_id": e.OrgID, "site_id": e.SiteID}
}

// NotPolicyControlledError is returned when toggling a capability that has
// no org-level override
type NotPolicyControlledError struct {
	Key string
}

func (e *NotPolicyControlledError) Error() string {
	return fmt.Sprintf("capability %s cannot be controlled by organization policy", e.Key)
}

func (e *NotPolicyControlledError) Unwrap() error { return ErrValidation }

func (e *NotPolicyControlledError) Code() string { return CodeNotPolicyControlled }

func (e *NotPolicyControlledError) Details() map[string]string {
	return map[string]string{"key": e.Key}
}

// DuplicateRoleError reports a name collision within (org, scope)
type DuplicateRoleError struct {
	OrgID string
	Name  string
	Scope string
}

func (e *DuplicateRoleError) Error() string {
	return fmt.Sprintf("role %q with scope %s already exists in organization %s", e.Name, e.Scope, e.OrgID)
}

func (e *DuplicateRoleError) Unwrap() error { return ErrConflict }

func (e *DuplicateRoleError) Code() string { return CodeDuplicateRole }

func (e *DuplicateRoleError) Details() map[string]string {
	return map[string]string{"org_id": e.OrgID, "name": e.Name, "scope": e.Scope}
}

// ImmutableRoleError is returned for any mutation of a SYSTEM role
type ImmutableRoleError struct {
	RoleID string
}

func (e *ImmutableRoleError) Error() string {
	return fmt.Sprintf("role %s is a system role and cannot be modified", e.RoleID)
}

func (e *ImmutableRoleError) Unwrap() error { return ErrImmutable }

func (e *ImmutableRoleError) Code() string { return CodeImmutableRole }

func (e *ImmutableRoleError) Details() map[string]string {
	return map[string]string{"role_id": e.RoleID}
}

// RoleInUseError is returned when deleting a role that still has assignments
type RoleInUseError struct {
	RoleID      string
	Assignments int
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("role %s still has %d active assignments", e.RoleID, e.Assignments)
}

func (e *RoleInUseError) Unwrap() error { return ErrRoleInUse }

func (e *RoleInUseError) Code() string { return CodeRoleInUse }

func (e *RoleInUseError) Details() map[string]string {
	return map[string]string{"role_id": e.RoleID, "assignments": fmt.Sprintf("%d", e.Assignments)}
}

// InvalidArgumentError reports a malformed field such as an empty role name
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrValidation }

func (e *InvalidArgumentError) Code() string { return CodeInvalidArgument }

func (e *InvalidArgumentError) Details() map[string]string {
	return map[string]string{"field": e.Field, "reason": e.Reason}
}

// IsNotFound reports whether err is in the NotFound category
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation reports whether err is in the Validation category
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
