// Package domain defines the persistence models for API keys, cart and
// checkout sessions, webhook subscriptions, dead letters and signing keys.
// These types are mapped with GORM and form the core data layer of the
// merchant API.
package domain

import "time"

// Permission is the access level carried by an API key.
type Permission string

// Known permission levels, ordered read < write < admin.
const (
	PermRead  Permission = "read"
	PermWrite Permission = "write"
	PermAdmin Permission = "admin"
)

// Level returns the ordinal of p (read=1, write=2, admin=3). Unknown values
// have level 0 and therefore satisfy nothing.
func (p Permission) Level() int {
	switch p {
	case PermRead:
		return 1
	case PermWrite:
		return 2
	case PermAdmin:
		return 3
	default:
		return 0
	}
}

// Allows reports whether p meets or exceeds required.
func (p Permission) Allows(required Permission) bool {
	return p.Level() > 0 && p.Level() >= required.Level()
}

// ParsePermission validates s and returns the matching Permission.
func ParsePermission(s string) (Permission, bool) {
	p := Permission(s)
	return p, p.Level() > 0
}

// APIKey is a caller credential. The secret itself is never stored; only its
// bcrypt hash. Rows are immutable after creation except for LastAccess.
//
// Fields:
//   - ID: surrogate primary key used in admin routes and ownership columns.
//   - KeyID: public half of the credential, unique.
//   - SecretHash: bcrypt hash of the secret half.
//   - Permissions: read, write or admin.
//   - Owner / Description: free-form labels set by the admin.
//   - LastAccess: updated on each successful authentication.
type APIKey struct {
	ID          uint       `json:"id"          gorm:"primaryKey"`
	KeyID       string     `json:"key_id"      gorm:"type:varchar(64);not null;uniqueIndex"`
	SecretHash  string     `json:"-"           gorm:"type:varchar(255);not null"`
	Permissions Permission `json:"permissions" gorm:"type:varchar(16);not null;default:'read'"`
	Owner       string     `json:"owner"       gorm:"type:varchar(255)"`
	Description string     `json:"description" gorm:"type:varchar(255)"`
	LastAccess  *time.Time `json:"last_access,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name for APIKey.
func (APIKey) TableName() string { return "api_keys" }

// Setting is a small key/value row for process-wide flags such as the
// signing_unavailable marker.
type Setting struct {
	Key       string    `gorm:"column:setting_key;type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }
