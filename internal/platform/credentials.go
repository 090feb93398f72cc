package platform

// Credentials holds the raw secret material needed to talk to one
// platform during a single orchestration run. Field usage varies by
// platform: Google Analytics needs RefreshToken and PropertyID, Google
// Ads needs RefreshToken, CustomerID and DeveloperToken, Facebook Ads
// needs AccessToken and AccountID.
type Credentials struct {
	ConnectionID string `json:"connection_id,omitempty"`

	RefreshToken string `json:"refresh_token,omitempty"`
	AccessToken  string `json:"access_token,omitempty"`

	PropertyID     string `json:"property_id,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	DeveloperToken string `json:"developer_token,omitempty"`
	AccountID      string `json:"account_id,omitempty"`
}

// Bundle maps platforms to their raw credentials for one run. It is
// built fresh per orchestration run and mutated in place as tokens are
// refreshed; entries are dropped when a platform is quarantined.
type Bundle map[Platform]*Credentials

// Get returns the credentials for a platform, or nil.
func (b Bundle) Get(p Platform) *Credentials {
	return b[p]
}

// Remove drops a platform's entry from the bundle.
func (b Bundle) Remove(p Platform) {
	delete(b, p)
}

// ConnectionIDs returns the per-platform connection ids known to the
// bundle, for telemetry write-back.
func (b Bundle) ConnectionIDs() map[Platform]string {
	ids := make(map[Platform]string, len(b))
	for p, c := range b {
		if c != nil && c.ConnectionID != "" {
			ids[p] = c.ConnectionID
		}
	}
	return ids
}
