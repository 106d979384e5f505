package rbac

import (
	"context"

	"github.com/platinummonkey/gatekeeper/pkg/audit"
	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/platinummonkey/gatekeeper/pkg/capabilities"
)

// PolicyStore manages organization overrides of policy-controllable
// capabilities. An override can only disable what roles grant.
type PolicyStore struct {
	w        *writer
	registry *capabilities.Registry
}

// NewPolicyStore creates a policy store
func NewPolicyStore(repo Repository, registry *capabilities.Registry, cache Cache, opts ...StoreOption) *PolicyStore {
	return &PolicyStore{
		w:        newWriter(repo, cache, opts),
		registry: registry,
	}
}

func (s *PolicyStore) controllable(key string) error {
	c, err := s.registry.Get(key)
	if err != nil {
		return err
	}
	if !c.CanBePolicyControlled {
		return &authzerr.NotPolicyControlledError{Key: key}
	}
	return nil
}

// GetPolicies returns every policy-controllable key with its current
// state. Keys without a stored row are enabled.
func (s *PolicyStore) GetPolicies(ctx context.Context, orgID string) (map[string]bool, error) {
	stored, err := s.w.repo.ListPolicies(ctx, orgID)
	if err != nil {
		return nil, err
	}

	controlled := s.registry.PolicyControlled()
	out := make(map[string]bool, len(controlled))
	for _, c := range controlled {
		enabled, ok := stored[c.Key]
		out[c.Key] = !ok || enabled
	}
	return out, nil
}

// SetPolicy enables or disables key for the organization
func (s *PolicyStore) SetPolicy(ctx context.Context, orgID, key string, enabled bool) (*OrgPolicy, error) {
	if orgID == "" {
		return nil, &authzerr.InvalidArgumentError{Field: "org_id", Reason: "is required"}
	}
	if err := s.controllable(key); err != nil {
		return nil, err
	}

	policy := OrgPolicy{OrgID: orgID, Key: key, Enabled: enabled, UpdatedAt: s.w.timestamp()}
	before := true
	err := s.w.mutate(ctx, opSetPolicy, orgID, func(tx Tx) error {
		current, found, err := tx.GetPolicy(ctx, orgID, key)
		if err != nil {
			return err
		}
		before = !found || current
		return tx.UpsertPolicy(ctx, policy)
	})

	event := audit.NewEvent(ctx, audit.EventTypePolicyChange, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypePolicy, key).
		WithChanges(
			map[string]interface{}{"enabled": before},
			map[string]interface{}{"enabled": enabled},
		)
	s.w.record(ctx, orgID, event, err)

	if err != nil && !committed(err) {
		return nil, err
	}
	return &policy, err
}

// ResetPolicy removes the override for key, restoring the enabled default
func (s *PolicyStore) ResetPolicy(ctx context.Context, orgID, key string) error {
	if orgID == "" {
		return &authzerr.InvalidArgumentError{Field: "org_id", Reason: "is required"}
	}
	if err := s.controllable(key); err != nil {
		return err
	}

	before := true
	err := s.w.mutate(ctx, opResetPolicy, orgID, func(tx Tx) error {
		current, found, err := tx.GetPolicy(ctx, orgID, key)
		if err != nil {
			return err
		}
		before = !found || current
		if !found {
			return nil
		}
		return tx.DeletePolicy(ctx, orgID, key)
	})

	event := audit.NewEvent(ctx, audit.EventTypePolicyReset, audit.EventStatusSuccess).
		WithResource(audit.ResourceTypePolicy, key).
		WithChanges(
			map[string]interface{}{"enabled": before},
			map[string]interface{}{"enabled": true},
		)
	s.w.record(ctx, orgID, event, err)

	return err
}
