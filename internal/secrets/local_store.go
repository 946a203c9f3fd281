package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/pbkdf2"
)

// encryptedRecord is the on-disk shape for one token: ciphertext, iv
// (nonce), and auth tag are folded into a single AEAD sealed blob, matching
// the (service, fingerprint) -> {ciphertext, iv, auth-tag, ...} data model.
type encryptedRecord struct {
	Sealed      string   `json:"sealed"` // base64(nonce || ciphertext || tag)
	Created     time.Time `json:"created"`
	Expires     time.Time `json:"expires"`
	Permissions []string  `json:"permissions"`
	Environment string    `json:"environment"`
	RotatedFrom string    `json:"rotated_from,omitempty"`
}

// LocalStore persists encrypted token records to tokens.json under
// .secure-tokens/ (mode 0700) with the symmetric key held in a sibling
// 0600 file.
type LocalStore struct {
	mu                  sync.Mutex
	dir                 string
	key                 []byte
	data                map[string]map[string]*encryptedRecord // service -> fingerprint -> record
	maxTokensPerService int
	logger              zerolog.Logger
}

const (
	tokensFile = "tokens.json"
	keyFile    = ".token-key"
)

// NewLocalStore opens (or initializes) the encrypted token store rooted at
// dir, deriving/persisting its symmetric key the first time it runs.
func NewLocalStore(dir string, maxTokensPerService int) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create token store dir: %w", err)
	}

	key, err := loadOrCreateKey(filepath.Join(dir, keyFile))
	if err != nil {
		return nil, err
	}

	s := &LocalStore{
		dir:                 dir,
		key:                 key,
		data:                make(map[string]map[string]*encryptedRecord),
		maxTokensPerService: maxTokensPerService,
		logger:              logging.WithComponent("secrets.local-store"),
	}

	if _, err := os.Stat(filepath.Join(dir, tokensFile)); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("load token store: %w", err)
		}
	}

	return s, nil
}

// LoadOrCreateKeyFile loads the 32-byte hex-encoded key at path, or
// generates and persists a new one (mode 0600) if it doesn't exist yet.
// Shared by LocalStore's token-encryption key and by callers needing a
// second independent key (e.g. the orchestrator's audit-token signer) that
// should follow the same at-rest handling without duplicating it.
func LoadOrCreateKeyFile(path string) ([]byte, error) {
	return loadOrCreateKey(path)
}

func loadOrCreateKey(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		decoded, err := hex.DecodeString(string(data))
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("corrupt token key file")
		}
		return decoded, nil
	}

	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, err
	}
	// PBKDF2-stretch the random material once so a future passphrase-based
	// unlock path (operator-supplied key) can derive the same shape of key.
	derived := pbkdf2.Key(raw, []byte("clodo-orchestrator-token-salt-v1"), 100_000, 32, sha256.New)
	if err := os.WriteFile(path, []byte(hex.EncodeToString(derived)), 0600); err != nil {
		return nil, err
	}
	return derived, nil
}

// Fingerprint returns the first 16 hex characters of SHA-256(plaintext).
func Fingerprint(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *LocalStore) StoreToken(ctx context.Context, service, plaintext string, expires time.Time, permissions []string, environment string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.encrypt(plaintext)
	if err != nil {
		return "", errortypes.NewInvariant("encrypt token failed").WithCause(err)
	}

	fp := Fingerprint(plaintext)
	if s.data[service] == nil {
		s.data[service] = make(map[string]*encryptedRecord)
	}
	s.data[service][fp] = &encryptedRecord{
		Sealed:      sealed,
		Created:     time.Now(),
		Expires:     expires,
		Permissions: permissions,
		Environment: environment,
	}

	s.evictOldestLocked(service)

	if err := s.save(); err != nil {
		return "", err
	}
	s.logger.Info().Str("service", service).Str("fingerprint", fp).Msg("token stored")
	return fp, nil
}

// evictOldestLocked removes the oldest token for service once the count
// exceeds maxTokensPerService. Caller must hold s.mu.
func (s *LocalStore) evictOldestLocked(service string) {
	if s.maxTokensPerService <= 0 {
		return
	}
	records := s.data[service]
	if len(records) <= s.maxTokensPerService {
		return
	}

	type entry struct {
		fp      string
		created time.Time
	}
	entries := make([]entry, 0, len(records))
	for fp, r := range records {
		entries = append(entries, entry{fp, r.Created})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].created.Before(entries[j].created) })

	for len(records) > s.maxTokensPerService {
		delete(records, entries[0].fp)
		entries = entries[1:]
	}
}

func (s *LocalStore) RetrieveToken(ctx context.Context, service, fingerprint string, requiredPermissions []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data[service][fingerprint]
	if !ok {
		return "", errortypes.NewValidation("token not found").WithCode("not-found")
	}

	meta := TokenMetadata{Expires: record.Expires, Permissions: record.Permissions}
	if meta.Expired(timeNow()) {
		delete(s.data[service], fingerprint)
		_ = s.save()
		return "", errortypes.NewValidation("token expired").WithCode("expired")
	}

	if !meta.HasPermissions(requiredPermissions) {
		return "", errortypes.NewPermission("token missing required permissions").WithCode("insufficient-permissions")
	}

	plaintext, err := s.decrypt(record.Sealed)
	if err != nil {
		return "", errortypes.NewInvariant("decrypt token failed").WithCause(err)
	}
	return plaintext, nil
}

func (s *LocalStore) RotateToken(ctx context.Context, service, oldFingerprint, newPlaintext string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.data[service][oldFingerprint]
	if !ok {
		return "", errortypes.NewValidation("token to rotate not found").WithCode("not-found")
	}

	sealed, err := s.encrypt(newPlaintext)
	if err != nil {
		return "", err
	}

	newFP := Fingerprint(newPlaintext)
	s.data[service][newFP] = &encryptedRecord{
		Sealed:      sealed,
		Created:     time.Now(),
		Expires:     old.Expires,
		Permissions: old.Permissions,
		Environment: old.Environment,
		RotatedFrom: oldFingerprint,
	}
	delete(s.data[service], oldFingerprint)

	if err := s.save(); err != nil {
		return "", err
	}
	return newFP, nil
}

func (s *LocalStore) RevokeToken(ctx context.Context, service, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[service][fingerprint]; !ok {
		return errortypes.NewValidation("token not found").WithCode("not-found")
	}
	delete(s.data[service], fingerprint)
	s.logger.Info().Str("service", service).Str("fingerprint", fingerprint).Msg("token revoked")
	return s.save()
}

func (s *LocalStore) RotateExpiredTokens(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	now := time.Now()
	for service, records := range s.data {
		for fp, r := range records {
			if !r.Expires.IsZero() && !now.Before(r.Expires) {
				delete(records, fp)
				removed = append(removed, fp)
				s.logger.Info().Str("service", service).Str("fingerprint", fp).Msg("expired token swept")
			}
		}
	}
	if len(removed) > 0 {
		if err := s.save(); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

func (s *LocalStore) List(ctx context.Context) ([]TokenMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TokenMetadata, 0)
	for service, records := range s.data {
		for fp, r := range records {
			out = append(out, TokenMetadata{
				Service: service, Fingerprint: fp, Created: r.Created, Expires: r.Expires,
				Permissions: r.Permissions, Environment: r.Environment, RotatedFrom: r.RotatedFrom,
			})
		}
	}
	return out, nil
}

func (s *LocalStore) encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *LocalStore) decrypt(sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (s *LocalStore) save() error {
	bytes, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, tokensFile+".tmp")
	if err := os.WriteFile(tmp, bytes, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.dir, tokensFile))
}

func (s *LocalStore) load() error {
	bytes, err := os.ReadFile(filepath.Join(s.dir, tokensFile))
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, &s.data)
}

func timeNow() time.Time { return time.Now() }
