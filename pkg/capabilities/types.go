package capabilities

import "fmt"

// RiskLevel grades how much damage misuse of a capability can cause
type RiskLevel string

const (
	RiskLow  RiskLevel = "LOW"
	RiskMed  RiskLevel = "MED"
	RiskHigh RiskLevel = "HIGH"
)

// Valid reports whether the risk level is one of the known values
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMed, RiskHigh:
		return true
	}
	return false
}

// Capability is a single gateable permission unit
type Capability struct {
	Key                   string    `json:"key" yaml:"key"`
	Module                string    `json:"module" yaml:"module"`
	Label                 string    `json:"label" yaml:"label"`
	Description           string    `json:"description,omitempty" yaml:"description"`
	RiskLevel             RiskLevel `json:"risk_level" yaml:"risk_level"`
	IsDangerous           bool      `json:"is_dangerous" yaml:"is_dangerous"`
	CanBePolicyControlled bool      `json:"can_be_policy_controlled" yaml:"can_be_policy_controlled"`
	BlockedForCustomRoles bool      `json:"blocked_for_custom_roles" yaml:"blocked_for_custom_roles"`
}

// validate checks a single definition
func (c Capability) validate() error {
	if c.Key == "" {
		return fmt.Errorf("capability key is required")
	}
	if c.Module == "" {
		return fmt.Errorf("capability %s: module is required", c.Key)
	}
	if c.Label == "" {
		return fmt.Errorf("capability %s: label is required", c.Key)
	}
	if !c.RiskLevel.Valid() {
		return fmt.Errorf("capability %s: invalid risk level %q", c.Key, c.RiskLevel)
	}
	return nil
}

// catalogFile is the on-disk shape of catalog.yaml
type catalogFile struct {
	Version      int          `yaml:"version"`
	Capabilities []Capability `yaml:"capabilities"`
}
