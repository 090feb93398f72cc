package storage

import (
	"encoding/json"
	"time"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
)

// Bucket names for the bbolt database
const (
	ConnectionsBucket   = "connections"
	DigitalAssetsBucket = "digital_assets"
	MetaBucket          = "meta"
)

// Meta keys
const (
	SchemaVersionKey = "schema"
)

// Current schema version
const CurrentSchemaVersion = 1

// ConnectionRecord is one tenant/campaigner's OAuth credential and
// health state for a single digital asset. Token blobs are opaque to
// this layer; encryption happens before they arrive here.
type ConnectionRecord struct {
	ID             string `json:"id"`
	CampaignerID   string `json:"campaigner_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	DigitalAssetID string `json:"digital_asset_id"`

	AccessToken  string     `json:"access_token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`

	Revoked     bool `json:"revoked"`
	NeedsReauth bool `json:"needs_reauth"`

	FailureCount    int        `json:"failure_count"`
	FailureReason   string     `json:"failure_reason,omitempty"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
}

// DigitalAssetRecord is the external platform entity a connection is
// scoped to, e.g. one GA4 property or one Google Ads customer id.
type DigitalAssetRecord struct {
	ID          string            `json:"id"`
	Platform    platform.Platform `json:"platform"`
	ExternalID  string            `json:"external_id"`
	DisplayName string            `json:"display_name,omitempty"`
	Active      bool              `json:"active"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
}

// MarshalBinary implements encoding.BinaryMarshaler
func (c *ConnectionRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (c *ConnectionRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, c)
}

// MarshalBinary implements encoding.BinaryMarshaler
func (d *DigitalAssetRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler
func (d *DigitalAssetRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, d)
}
