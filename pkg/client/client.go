package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
	"github.com/platinummonkey/gatekeeper/pkg/rbac"
)

// DefaultTimeout bounds every request unless WithHTTPClient overrides it
const DefaultTimeout = 10 * time.Second

// APIError is a non-2xx reply from the server
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Details    map[string]string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gatekeeper: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gatekeeper: %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Client calls the gatekeeper REST API
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	principalHeader string
	principal       string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPrincipal sends userID in header on every request, the way the
// gateway in front of gatekeeper does
func WithPrincipal(header, userID string) Option {
	return func(c *Client) {
		c.principalHeader = header
		c.principal = userID
	}
}

// New creates a client for the server at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		principalHeader: "X-User-ID",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(query url.Values, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.baseURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends the request and decodes a 2xx body into out. It returns the
// response status.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.principal != "" {
		req.Header.Set(c.principalHeader, c.principal)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return resp.StatusCode, decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body struct {
		Error   string            `json:"error"`
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
		apiErr.Details = body.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
	}
	return apiErr
}

// ListCapabilities returns the catalog, or one module of it
func (c *Client) ListCapabilities(ctx context.Context, module string) ([]capabilities.Capability, error) {
	q := url.Values{}
	if module != "" {
		q.Set("module", module)
	}
	var out struct {
		Capabilities []capabilities.Capability `json:"capabilities"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(q, "capabilities"), nil, &out); err != nil {
		return nil, err
	}
	return out.Capabilities, nil
}

// GetCapability returns one catalog entry
func (c *Client) GetCapability(ctx context.Context, key string) (*capabilities.Capability, error) {
	var out capabilities.Capability
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "capabilities", key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Templates returns the suggested custom role bundles
func (c *Client) Templates(ctx context.Context) ([]rbac.RoleTemplate, error) {
	var out struct {
		Templates []rbac.RoleTemplate `json:"templates"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "templates"), nil, &out); err != nil {
		return nil, err
	}
	return out.Templates, nil
}

type rolesResponse struct {
	Roles []rbac.Role `json:"roles"`
}

// ListRoles returns the roles of orgID, optionally of one scope
func (c *Client) ListRoles(ctx context.Context, orgID string, scope rbac.Scope) ([]rbac.Role, error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", string(scope))
	}
	var out rolesResponse
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(q, "orgs", orgID, "roles"), nil, &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// GetRole returns one role of orgID
func (c *Client) GetRole(ctx context.Context, orgID, roleID string) (*rbac.Role, error) {
	var out rbac.Role
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "orgs", orgID, "roles", roleID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateRole creates a custom role
func (c *Client) CreateRole(ctx context.Context, orgID, name string, scope rbac.Scope, keys []string) (*rbac.Role, error) {
	body := map[string]interface{}{
		"name":            name,
		"scope":           scope,
		"capability_keys": nonNil(keys),
	}
	var out rbac.Role
	if _, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "orgs", orgID, "roles"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProvisionSystemRoles creates any missing system roles of orgID
func (c *Client) ProvisionSystemRoles(ctx context.Context, orgID string) ([]rbac.Role, error) {
	var out rolesResponse
	if _, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "orgs", orgID, "roles", "system"), nil, &out); err != nil {
		return nil, err
	}
	return out.Roles, nil
}

// UpdateRoleCapabilities replaces the capability set of a custom role
func (c *Client) UpdateRoleCapabilities(ctx context.Context, orgID, roleID string, keys []string) (*rbac.Role, error) {
	body := map[string]interface{}{"capability_keys": nonNil(keys)}
	var out rbac.Role
	if _, err := c.do(ctx, http.MethodPut, c.endpoint(nil, "orgs", orgID, "roles", roleID, "capabilities"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteRole deletes an unassigned custom role
func (c *Client) DeleteRole(ctx context.Context, orgID, roleID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint(nil, "orgs", orgID, "roles", roleID), nil, nil)
	return err
}

// GetPolicies returns the enabled state of every policy-controllable key
func (c *Client) GetPolicies(ctx context.Context, orgID string) (map[string]bool, error) {
	var out struct {
		Policies map[string]bool `json:"policies"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "orgs", orgID, "policies"), nil, &out); err != nil {
		return nil, err
	}
	return out.Policies, nil
}

// SetPolicy enables or disables key for orgID
func (c *Client) SetPolicy(ctx context.Context, orgID, key string, enabled bool) (*rbac.OrgPolicy, error) {
	body := map[string]bool{"enabled": enabled}
	var out rbac.OrgPolicy
	if _, err := c.do(ctx, http.MethodPut, c.endpoint(nil, "orgs", orgID, "policies", key), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetPolicy removes the override for key
func (c *Client) ResetPolicy(ctx context.Context, orgID, key string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint(nil, "orgs", orgID, "policies", key), nil, nil)
	return err
}

// Assign gives userID the role, at siteID for site roles. created is false
// when the assignment already existed.
func (c *Client) Assign(ctx context.Context, orgID, userID, roleID, siteID string) (a *rbac.Assignment, created bool, err error) {
	body := map[string]interface{}{
		"user_id": userID,
		"role_id": roleID,
	}
	if siteID != "" {
		body["site_id"] = siteID
	}
	var out rbac.Assignment
	status, err := c.do(ctx, http.MethodPost, c.endpoint(nil, "orgs", orgID, "assignments"), body, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// Revoke removes an assignment. Revoking a missing assignment succeeds.
func (c *Client) Revoke(ctx context.Context, orgID, assignmentID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.endpoint(nil, "orgs", orgID, "assignments", assignmentID), nil, nil)
	return err
}

// ListAssignments returns the assignments of userID in orgID
func (c *Client) ListAssignments(ctx context.Context, orgID, userID string) ([]rbac.Assignment, error) {
	var out struct {
		Assignments []rbac.Assignment `json:"assignments"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(nil, "orgs", orgID, "users", userID, "assignments"), nil, &out); err != nil {
		return nil, err
	}
	return out.Assignments, nil
}

// Permissions resolves the effective permissions of userID. Empty siteID is
// the organization context; empty module means every module.
func (c *Client) Permissions(ctx context.Context, orgID, userID, siteID, module string) (map[string]rbac.EffectivePermission, error) {
	q := url.Values{}
	if siteID != "" {
		q.Set("site_id", siteID)
	}
	if module != "" {
		q.Set("module", module)
	}
	var out struct {
		Permissions map[string]rbac.EffectivePermission `json:"permissions"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(q, "orgs", orgID, "users", userID, "permissions"), nil, &out); err != nil {
		return nil, err
	}
	return out.Permissions, nil
}

// Check resolves one capability of userID
func (c *Client) Check(ctx context.Context, orgID, userID, siteID, key string) (*rbac.EffectivePermission, error) {
	q := url.Values{}
	if siteID != "" {
		q.Set("site_id", siteID)
	}
	var out rbac.EffectivePermission
	if _, err := c.do(ctx, http.MethodGet, c.endpoint(q, "orgs", orgID, "users", userID, "permissions", key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func nonNil(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}
