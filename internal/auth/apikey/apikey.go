// Package apikey validates gateway API keys against PostgreSQL. Raw keys are
// generated with crypto/rand, stored only as SHA-256 hashes, and successful
// validations are cached in memory so the hot path does not hit the database
// on every request. Revocation takes effect within the cache TTL.
//
// Schema:
//
//	CREATE TABLE api_keys (
//	    id         BIGSERIAL PRIMARY KEY,
//	    key_hash   TEXT NOT NULL UNIQUE,
//	    name       TEXT NOT NULL,
//	    rate_limit INT NOT NULL DEFAULT 100,
//	    is_active  BOOLEAN NOT NULL DEFAULT true,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    expires_at TIMESTAMPTZ
//	);
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/corpusware/termstat/pkg/postgres"
)

var (
	ErrInvalidKey = errors.New("invalid api key")
	ErrExpiredKey = errors.New("api key expired")
)

const cacheTTL = 60 * time.Second

// KeyInfo holds metadata about a validated API key.
type KeyInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RateLimit int        `json:"rate_limit"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type cachedKey struct {
	info      KeyInfo
	fetchedAt time.Time
}

// Validator validates API keys against the api_keys table.
type Validator struct {
	db     *postgres.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedKey
}

// NewValidator creates an API key validator backed by PostgreSQL.
func NewValidator(db *postgres.Client) *Validator {
	return &Validator{
		db:     db,
		logger: slog.Default().With("component", "apikey-validator"),
		cache:  make(map[string]cachedKey),
	}
}

// Validate checks a raw API key. Returns KeyInfo on success, ErrInvalidKey
// or ErrExpiredKey on failure. Per-key expiry is enforced on every call,
// including cached ones.
func (v *Validator) Validate(ctx context.Context, rawKey string) (*KeyInfo, error) {
	hash := HashKey(rawKey)

	if info, ok := v.cached(hash); ok {
		if info.ExpiresAt != nil && info.ExpiresAt.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		return info, nil
	}

	var info KeyInfo
	var expiresAt sql.NullTime
	err := v.db.DB.QueryRowContext(ctx,
		`SELECT id, name, rate_limit, is_active, created_at, expires_at
	FROM api_keys
	WHERE key_hash = $1 AND is_active = true`, hash).
		Scan(&info.ID, &info.Name, &info.RateLimit, &info.IsActive, &info.CreatedAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidKey
	}
	if err != nil {
		return nil, fmt.Errorf("querying api key: %w", err)
	}
	if expiresAt.Valid {
		if expiresAt.Time.Before(time.Now()) {
			return nil, ErrExpiredKey
		}
		info.ExpiresAt = &expiresAt.Time
	}

	v.mu.Lock()
	v.cache[hash] = cachedKey{info: info, fetchedAt: time.Now()}
	v.mu.Unlock()

	return &info, nil
}

func (v *Validator) cached(hash string) (*KeyInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[hash]
	if !ok {
		return nil, false
	}
	if time.Since(entry.fetchedAt) > cacheTTL {
		delete(v.cache, hash)
		return nil, false
	}
	info := entry.info
	return &info, true
}

// CreateKey generates a new API key, stores its hash, and returns the raw
// key. The raw key cannot be retrieved again.
func (v *Validator) CreateKey(ctx context.Context, name string, rateLimit int, expiresAt *time.Time) (string, error) {
	rawKey := generateRawKey()
	hash := HashKey(rawKey)

	var expiry sql.NullTime
	if expiresAt != nil {
		expiry = sql.NullTime{Time: *expiresAt, Valid: true}
	}

	_, err := v.db.DB.ExecContext(ctx,
		`INSERT INTO api_keys (key_hash, name, rate_limit, expires_at) VALUES ($1, $2, $3, $4)`,
		hash, name, rateLimit, expiry)
	if err != nil {
		return "", fmt.Errorf("creating api key: %w", err)
	}

	v.logger.Info("api key created", "name", name, "rate_limit", rateLimit)
	return rawKey, nil
}

// RevokeByID deactivates a key by its row ID. The hot-path cache expires the
// revoked entry within cacheTTL.
func (v *Validator) RevokeByID(ctx context.Context, id string) error {
	var hash string
	err := v.db.DB.QueryRowContext(ctx,
		`UPDATE api_keys SET is_active = false WHERE id = $1 AND is_active = true RETURNING key_hash`,
		id).Scan(&hash)
	if err == sql.ErrNoRows {
		return ErrInvalidKey
	}
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}

	v.mu.Lock()
	delete(v.cache, hash)
	v.mu.Unlock()

	v.logger.Info("api key revoked", "id", id)
	return nil
}

// ListKeys returns all active API keys without their hashes.
func (v *Validator) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := v.db.DB.QueryContext(ctx,
		`SELECT id, name, rate_limit, is_active, created_at, expires_at
	FROM api_keys WHERE is_active = true ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	var keys []KeyInfo
	for rows.Next() {
		var k KeyInfo
		var expiresAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.RateLimit, &k.IsActive, &k.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scanning api key row: %w", err)
		}
		if expiresAt.Valid {
			k.ExpiresAt = &expiresAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// HashKey returns the SHA-256 hex digest of a raw API key.
func HashKey(raw string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(raw)))
}

func generateRawKey() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
