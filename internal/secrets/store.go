// Package secrets provides an encrypted-at-rest token store
// keyed by (service, fingerprint), per-domain secret bundle generation, and
// an optional Vault-backed alternative store, all behind the TokenStore
// interface so callers never depend on the concrete backend.
package secrets

import (
	"context"
	"time"
)

// TokenMetadata is the non-secret portion of a stored token.
type TokenMetadata struct {
	Service     string
	Fingerprint string
	Created     time.Time
	Expires     time.Time
	Permissions []string
	Environment string
	RotatedFrom string
}

// Expired reports whether the token should be treated as absent. Expiry
// is inclusive: current time == expires counts as expired.
func (m TokenMetadata) Expired(now time.Time) bool {
	return !m.Expires.IsZero() && !now.Before(m.Expires)
}

// HasPermissions reports whether m grants every permission in required.
func (m TokenMetadata) HasPermissions(required []string) bool {
	have := make(map[string]struct{}, len(m.Permissions))
	for _, p := range m.Permissions {
		have[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// TokenStore is the interface both the local encrypted-file backend
// (LocalStore) and the Vault-backed backend (VaultBackend) satisfy.
type TokenStore interface {
	// StoreToken encrypts and persists plaintext under (service,
	// fingerprint) and returns the fingerprint. LocalStore evicts the
	// oldest token for service once maxTokensPerService is exceeded;
	// VaultBackend keeps no per-service cap and evicts nothing.
	StoreToken(ctx context.Context, service, plaintext string, expires time.Time, permissions []string, environment string) (string, error)

	// RetrieveToken decrypts and returns the plaintext for (service,
	// fingerprint), failing not-found/expired/insufficient-permissions.
	RetrieveToken(ctx context.Context, service, fingerprint string, requiredPermissions []string) (string, error)

	// RotateToken atomically replaces oldFingerprint with a token derived
	// from newPlaintext, linking rotatedFrom, and returns the new
	// fingerprint. The token set's cardinality is preserved.
	RotateToken(ctx context.Context, service, oldFingerprint, newPlaintext string) (string, error)

	// RevokeToken deletes the token. LocalStore logs the revocation; no
	// separate audit record is written by either backend.
	RevokeToken(ctx context.Context, service, fingerprint string) error

	// RotateExpiredTokens sweeps and deletes every expired token; returns
	// the fingerprints removed.
	RotateExpiredTokens(ctx context.Context) ([]string, error)

	// List returns metadata (never plaintext) for every stored token.
	// VaultBackend does not support listing and returns an error.
	List(ctx context.Context) ([]TokenMetadata, error)
}
