// Package capabilities holds the closed catalog of every capability the
// platform can gate.
//
// The catalog ships inside the binary (catalog.yaml) and is parsed once, on
// first use of Default. A Registry exposes read accessors only; adding a
// capability means editing catalog.yaml and redeploying.
//
// # Flags
//
//   - CanBePolicyControlled: an organization may disable the capability
//     org-wide. Policies only restrict, they never grant.
//   - BlockedForCustomRoles: only SYSTEM roles may hold the capability.
//   - IsDangerous: drives UI warnings and has no effect on resolution.
//
// # Usage
//
//	reg := capabilities.Default()
//	if err := reg.ValidateKeys(keys); err != nil {
//	    // *authzerr.InvalidCapabilityError lists every unknown key
//	}
package capabilities
