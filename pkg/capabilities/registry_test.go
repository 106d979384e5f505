package capabilities

import (
	"errors"
	"testing"

	"github.com/platinummonkey/gatekeeper/pkg/authzerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefs() []Capability {
	return []Capability{
		{Key: "content.view", Module: "content", Label: "View", RiskLevel: RiskLow},
		{Key: "content.publish", Module: "content", Label: "Publish", RiskLevel: RiskMed, CanBePolicyControlled: true},
		{Key: "org.roles.manage", Module: "org", Label: "Roles", RiskLevel: RiskHigh, BlockedForCustomRoles: true},
	}
}

func TestDefault_LoadsEmbeddedCatalog(t *testing.T) {
	reg := Default()
	require.NotNil(t, reg)
	assert.Same(t, reg, Default())
	assert.Greater(t, reg.Len(), 0)

	c, err := reg.Get("content.publish")
	require.NoError(t, err)
	assert.Equal(t, "content", c.Module)
	assert.True(t, c.CanBePolicyControlled)

	for _, key := range []string{"org.roles.manage", "org.policies.manage", "org.billing.manage"} {
		c, err := reg.Get(key)
		require.NoError(t, err, key)
		assert.True(t, c.BlockedForCustomRoles, key)
	}
}

func TestNew_RejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		defs []Capability
	}{
		{"missing key", []Capability{{Module: "m", Label: "l", RiskLevel: RiskLow}}},
		{"missing module", []Capability{{Key: "a", Label: "l", RiskLevel: RiskLow}}},
		{"missing label", []Capability{{Key: "a", Module: "m", RiskLevel: RiskLow}}},
		{"bad risk level", []Capability{{Key: "a", Module: "m", Label: "l", RiskLevel: "EXTREME"}}},
		{"duplicate key", []Capability{
			{Key: "a", Module: "m", Label: "l", RiskLevel: RiskLow},
			{Key: "a", Module: "m", Label: "l2", RiskLevel: RiskLow},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.defs)
			assert.Error(t, err)
		})
	}
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("version: 1\ncapabilities:\n  - key: a\n    module: m\n    label: l\n    risk_level: LOW\n    surprise: true\n"))
	assert.Error(t, err)
}

func TestRegistry_Accessors(t *testing.T) {
	reg, err := New(testDefs())
	require.NoError(t, err)

	assert.Equal(t, []string{"content.publish", "content.view", "org.roles.manage"}, reg.Keys())
	assert.Equal(t, []string{"content", "org"}, reg.Modules())
	assert.Len(t, reg.ByModule("content"), 2)
	assert.Empty(t, reg.ByModule("nope"))
	assert.True(t, reg.Has("content.view"))
	assert.False(t, reg.Has("content.destroy"))

	controlled := reg.PolicyControlled()
	require.Len(t, controlled, 1)
	assert.Equal(t, "content.publish", controlled[0].Key)
}

func TestRegistry_ReturnsCopies(t *testing.T) {
	reg, err := New(testDefs())
	require.NoError(t, err)

	all := reg.All()
	all[0].Key = "mutated"
	mods := reg.Modules()
	mods[0] = "mutated"

	assert.Equal(t, "content.publish", reg.All()[0].Key)
	assert.Equal(t, "content", reg.Modules()[0])
}

func TestRegistry_GetUnknown(t *testing.T) {
	reg, err := New(testDefs())
	require.NoError(t, err)

	_, err = reg.Get("missing.key")
	assert.True(t, errors.Is(err, authzerr.ErrNotFound))
}

func TestRegistry_ValidateKeys(t *testing.T) {
	reg, err := New(testDefs())
	require.NoError(t, err)

	assert.NoError(t, reg.ValidateKeys(nil))
	assert.NoError(t, reg.ValidateKeys([]string{"content.view", "content.view"}))

	err = reg.ValidateKeys([]string{"zeta.bad", "content.view", "alpha.bad", "zeta.bad"})
	var invalid *authzerr.InvalidCapabilityError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, []string{"alpha.bad", "zeta.bad"}, invalid.Keys)
}

func TestRegistry_BlockedForCustomRoles(t *testing.T) {
	reg, err := New(testDefs())
	require.NoError(t, err)

	assert.Empty(t, reg.BlockedForCustomRoles([]string{"content.view"}))
	assert.Equal(t, []string{"org.roles.manage"},
		reg.BlockedForCustomRoles([]string{"org.roles.manage", "content.view", "org.roles.manage", "unknown"}))
}
