package model

import "time"

// Organization is the owning tenant for every bridge resource. Organizations
// are provisioned by the host on-call system; mmbridge only needs the row to
// scope tokens, API keys, and channels.
type Organization struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// User is the actor that issued a verification token. Only the reference is
// kept; identity itself lives in the host system.
type User struct {
	ID             int64     `json:"id" db:"id"`
	OrganizationID int64     `json:"organization_id" db:"organization_id"`
	Username       string    `json:"username" db:"username"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// APIKey authenticates host-session calls against the internal endpoints
// (connect, disconnect, channel listing). The raw key is never stored; only
// a SHA-256 hash and a short prefix for identification are persisted.
type APIKey struct {
	ID             int64      `json:"id" db:"id"`
	KeyHash        string     `json:"-" db:"key_hash"`
	KeyPrefix      string     `json:"key_prefix" db:"key_prefix"`
	Label          string     `json:"label" db:"label"`
	OrganizationID int64      `json:"organization_id" db:"organization_id"`
	IsActive       bool       `json:"is_active" db:"is_active"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	LastUsed       *time.Time `json:"last_used,omitempty" db:"last_used"`
}

// AuthToken binds a Mattermost app verification token to an organization.
// Secret holds the PEM-encoded public half of the signing keypair; the
// private half is used once at issue time and never persisted. ID doubles
// as the kid carried in the token header. A nil RevokedAt means active;
// each organization has at most one active token at a time.
type AuthToken struct {
	ID             string     `json:"id" db:"id"`
	Secret         string     `json:"-" db:"secret"`
	UserID         int64      `json:"user_id" db:"user_id"`
	OrganizationID int64      `json:"organization_id" db:"organization_id"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// Revoked reports whether the token has been superseded or explicitly
// revoked.
func (t *AuthToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Channel is a local copy of one Mattermost public channel, maintained
// solely by the sync job. PublicID is the externally stable identifier
// exposed over the API; ChannelID is Mattermost's identifier.
type Channel struct {
	ID             int64     `json:"-" db:"id"`
	PublicID       string    `json:"id" db:"public_id"`
	OrganizationID int64     `json:"-" db:"organization_id"`
	ChannelID      string    `json:"channel_id" db:"channel_id"`
	ChannelName    string    `json:"channel_name" db:"channel_name"`
	DisplayName    string    `json:"display_name,omitempty" db:"display_name"`
	IsDefault      bool      `json:"is_default" db:"is_default"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// AuditEvent records organization-level lifecycle actions (connect,
// disconnect) for the host system's insight log.
type AuditEvent struct {
	ID             int64     `json:"id" db:"id"`
	OrganizationID int64     `json:"organization_id" db:"organization_id"`
	Action         string    `json:"action" db:"action"`
	Detail         string    `json:"detail" db:"detail"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the HTTP status code and a human-readable message.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
