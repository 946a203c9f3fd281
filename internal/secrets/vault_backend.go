package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog"
)

// VaultConfig configures the optional HashiCorp Vault-backed TokenStore.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	MountPath string
}

// VaultBackend implements TokenStore against a real Vault KV v2 mount,
// for operators who don't want tokens held in the local encrypted file.
// Records are stored one Vault secret per (service, fingerprint) pair.
type VaultBackend struct {
	client    *api.Client
	mountPath string
	logger    zerolog.Logger
}

func NewVaultBackend(cfg VaultConfig) (*VaultBackend, error) {
	vc := api.DefaultConfig()
	vc.Address = cfg.Address

	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}
	mount := cfg.MountPath
	if mount == "" {
		mount = "secret"
	}

	return &VaultBackend{client: client, mountPath: mount, logger: logging.WithComponent("secrets.vault-backend")}, nil
}

func (v *VaultBackend) path(service, fingerprint string) string {
	return fmt.Sprintf("%s/data/tokens/%s/%s", v.mountPath, service, fingerprint)
}

func (v *VaultBackend) StoreToken(ctx context.Context, service, plaintext string, expires time.Time, permissions []string, environment string) (string, error) {
	fp := Fingerprint(plaintext)
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"plaintext":   plaintext,
			"expires":     expires.Format(time.RFC3339),
			"permissions": permissions,
			"environment": environment,
			"created":     time.Now().Format(time.RFC3339),
		},
	}
	if _, err := v.client.Logical().WriteWithContext(ctx, v.path(service, fp), data); err != nil {
		return "", errortypes.NewTransient("vault write failed").WithCause(err)
	}
	v.logger.Info().Str("service", service).Str("fingerprint", fp).Msg("token stored in vault")
	return fp, nil
}

func (v *VaultBackend) RetrieveToken(ctx context.Context, service, fingerprint string, requiredPermissions []string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, v.path(service, fingerprint))
	if err != nil {
		return "", errortypes.NewTransient("vault read failed").WithCause(err)
	}
	if secret == nil || secret.Data == nil {
		return "", errortypes.NewValidation("token not found").WithCode("not-found")
	}
	inner, _ := secret.Data["data"].(map[string]interface{})
	if inner == nil {
		return "", errortypes.NewValidation("token not found").WithCode("not-found")
	}

	expiresStr, _ := inner["expires"].(string)
	expires, _ := time.Parse(time.RFC3339, expiresStr)
	meta := TokenMetadata{Expires: expires}
	if meta.Expired(time.Now()) {
		return "", errortypes.NewValidation("token expired").WithCode("expired")
	}

	var perms []string
	if raw, ok := inner["permissions"].([]interface{}); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			}
		}
	}
	meta.Permissions = perms
	if !meta.HasPermissions(requiredPermissions) {
		return "", errortypes.NewPermission("token missing required permissions").WithCode("insufficient-permissions")
	}

	plaintext, _ := inner["plaintext"].(string)
	return plaintext, nil
}

func (v *VaultBackend) RotateToken(ctx context.Context, service, oldFingerprint, newPlaintext string) (string, error) {
	old, err := v.client.Logical().ReadWithContext(ctx, v.path(service, oldFingerprint))
	if err != nil || old == nil {
		return "", errortypes.NewValidation("token to rotate not found").WithCode("not-found")
	}
	inner, _ := old.Data["data"].(map[string]interface{})

	expiresStr, _ := inner["expires"].(string)
	expires, _ := time.Parse(time.RFC3339, expiresStr)
	var perms []string
	if raw, ok := inner["permissions"].([]interface{}); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			}
		}
	}
	environment, _ := inner["environment"].(string)

	newFP := Fingerprint(newPlaintext)
	data := map[string]interface{}{
		"data": map[string]interface{}{
			"plaintext":    newPlaintext,
			"expires":      expires.Format(time.RFC3339),
			"permissions":  perms,
			"environment":  environment,
			"created":      time.Now().Format(time.RFC3339),
			"rotated_from": oldFingerprint,
		},
	}
	if _, err := v.client.Logical().WriteWithContext(ctx, v.path(service, newFP), data); err != nil {
		return "", errortypes.NewTransient("vault write failed").WithCause(err)
	}
	_, _ = v.client.Logical().DeleteWithContext(ctx, v.path(service, oldFingerprint))
	return newFP, nil
}

func (v *VaultBackend) RevokeToken(ctx context.Context, service, fingerprint string) error {
	if _, err := v.client.Logical().DeleteWithContext(ctx, v.path(service, fingerprint)); err != nil {
		return errortypes.NewTransient("vault delete failed").WithCause(err)
	}
	return nil
}

// RotateExpiredTokens is a no-op for the Vault backend: Vault's own TTL
// leases perform expiry, so there is nothing for the orchestrator to sweep.
func (v *VaultBackend) RotateExpiredTokens(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (v *VaultBackend) List(ctx context.Context) ([]TokenMetadata, error) {
	return nil, errortypes.NewValidation("listing is not supported by the vault backend; use vault kv list directly")
}
