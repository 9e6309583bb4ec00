package domain

// Capability names carried inside identity claims. Resolved once at
// role-request time; never re-derived mid-flow.
const (
	CapabilityBroadcast = "broadcast"
	CapabilityAdmin     = "admin"
)

// IdentityClaims is the authenticated identity fact the core consumes.
// Identity issuance itself lives behind the auth collaborator boundary.
type IdentityClaims struct {
	PartyID      PartyID  `json:"party_id"`
	Username     string   `json:"username"`
	Capabilities []string `json:"capabilities"`
}

// Has reports whether the claims include the named capability.
func (c IdentityClaims) Has(capability string) bool {
	for _, cap := range c.Capabilities {
		if cap == capability {
			return true
		}
	}
	return false
}
