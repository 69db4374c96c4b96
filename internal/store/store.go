package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/oncallhq/mmbridge/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist or is
	// not visible to the caller (e.g. a revoked auth token).
	ErrNotFound = errors.New("not found")
)

// Store persists mmbridge state backed by SQLite: organizations, users,
// API keys, Mattermost auth tokens, synced channels, and audit events.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new store. Pass empty string for in-memory.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "mmbridge.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// CreateOrganization inserts a new organization and returns it with its ID set.
func (s *Store) CreateOrganization(ctx context.Context, title string) (*model.Organization, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (title) VALUES (?)`, title)
	if err != nil {
		return nil, fmt.Errorf("insert organization: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetOrganization(ctx, id)
}

// GetOrganization fetches one organization by ID.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org,
		`SELECT id, title, created_at FROM organizations WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

// CreateUser inserts a user reference belonging to an organization.
func (s *Store) CreateUser(ctx context.Context, orgID int64, username string) (*model.User, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (organization_id, username) VALUES (?, ?)`, orgID, username)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	var u model.User
	if err := s.db.GetContext(ctx, &u,
		`SELECT id, organization_id, username, created_at FROM users WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// API keys (host-session credentials for internal endpoints)
// ---------------------------------------------------------------------------

// CreateAPIKey stores the hash of rawKey bound to an organization.
func (s *Store) CreateAPIKey(ctx context.Context, orgID int64, rawKey, label string) (*model.APIKey, error) {
	prefix := rawKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, key_prefix, label, organization_id) VALUES (?, ?, ?, ?)`,
		HashKey(rawKey), prefix, label, orgID)
	if err != nil {
		return nil, fmt.Errorf("insert api key: %w", err)
	}
	id, _ := res.LastInsertId()
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByHash looks up an active API key by its SHA-256 hash.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	err := s.db.GetContext(ctx, &key,
		`SELECT * FROM api_keys WHERE key_hash = ? AND is_active = 1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// UpdateAPIKeyLastUsed bumps the last_used timestamp.
func (s *Store) UpdateAPIKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// HashKey returns the hex-encoded SHA-256 digest of a raw API key.
func HashKey(rawKey string) string {
	h := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(h[:])
}

// ---------------------------------------------------------------------------
// Auth tokens
// ---------------------------------------------------------------------------

// CreateAuthToken persists a new verification token record. Any prior
// active token for the organization is revoked in the same transaction, so
// issuing is also rotation: an organization holds at most one live token.
func (s *Store) CreateAuthToken(ctx context.Context, userID, orgID int64, secret string) (*model.AuthToken, error) {
	id := uuid.NewString()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE auth_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE organization_id = ? AND revoked_at IS NULL`, orgID); err != nil {
		return nil, fmt.Errorf("revoke prior tokens: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO auth_tokens (id, secret, user_id, organization_id) VALUES (?, ?, ?, ?)`,
		id, secret, userID, orgID); err != nil {
		return nil, fmt.Errorf("insert auth token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.getAuthToken(ctx, id)
}

func (s *Store) getAuthToken(ctx context.Context, id string) (*model.AuthToken, error) {
	var t model.AuthToken
	err := s.db.GetContext(ctx, &t, `SELECT * FROM auth_tokens WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth token: %w", err)
	}
	return &t, nil
}

// GetActiveAuthToken looks up a token record by its opaque ID (the JWT kid).
// Revoked records are invisible: a rotated-out or revoked token can never
// verify again.
func (s *Store) GetActiveAuthToken(ctx context.Context, id string) (*model.AuthToken, error) {
	var t model.AuthToken
	err := s.db.GetContext(ctx, &t,
		`SELECT * FROM auth_tokens WHERE id = ? AND revoked_at IS NULL`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auth token: %w", err)
	}
	return &t, nil
}

// RevokeAuthToken marks a token revoked. Revoking an already-revoked token
// is a no-op.
func (s *Store) RevokeAuthToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE auth_tokens SET revoked_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND revoked_at IS NULL`, id)
	return err
}

// ---------------------------------------------------------------------------
// Audit events
// ---------------------------------------------------------------------------

// RecordAuditEvent appends an organization-level lifecycle event.
func (s *Store) RecordAuditEvent(ctx context.Context, orgID int64, action, detail string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (organization_id, action, detail) VALUES (?, ?, ?)`,
		orgID, action, detail)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns an organization's events, newest first.
func (s *Store) ListAuditEvents(ctx context.Context, orgID int64) ([]model.AuditEvent, error) {
	events := []model.AuditEvent{}
	err := s.db.SelectContext(ctx, &events,
		`SELECT * FROM audit_events WHERE organization_id = ? ORDER BY id DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
