package secrets

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
)

// BundleGenerator produces per-domain SecretBundles, rendering every
// secret simultaneously in the formats downstream agents consume: plain
// env-file lines, a structured JSON document, the platform deploy tool's
// native secret-put invocation list, and POSIX shell export statements.
type BundleGenerator struct {
	mu    sync.Mutex
	cache map[string]*domain.SecretBundle
}

func NewBundleGenerator() *BundleGenerator {
	return &BundleGenerator{cache: make(map[string]*domain.SecretBundle)}
}

func cacheKey(domainName string, env domain.Environment) string {
	return fmt.Sprintf("%s:%s", domainName, env)
}

// GenerateDomainSpecific builds (or, if reuseExisting, returns a cached)
// SecretBundle for (domain, env). Names is the set of secret names the
// service's capability manifest declares it needs.
func (g *BundleGenerator) GenerateDomainSpecific(ctx context.Context, domainName string, env domain.Environment, names []string, reuseExisting bool) (*domain.SecretBundle, error) {
	key := cacheKey(domainName, env)

	g.mu.Lock()
	if reuseExisting {
		if cached, ok := g.cache[key]; ok {
			g.mu.Unlock()
			return cached, nil
		}
	}
	g.mu.Unlock()

	secretValues := make(map[string]string, len(names))
	for _, name := range names {
		value, err := randomSecret(32)
		if err != nil {
			return nil, err
		}
		secretValues[name] = value
	}

	bundle := &domain.SecretBundle{
		Domain:      domainName,
		Environment: env,
		Secrets:     secretValues,
		GeneratedAt: time.Now(),
		CacheKey:    key,
	}
	bundle.Formats = map[string]string{
		"env":        renderEnvFormat(secretValues),
		"json":       renderJSONFormat(secretValues),
		"deploytool": renderDeployToolFormat(secretValues),
		"shell":      renderShellFormat(secretValues),
	}

	g.mu.Lock()
	g.cache[key] = bundle
	g.mu.Unlock()
	return bundle, nil
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:n], nil
}

func renderEnvFormat(secrets map[string]string) string {
	var b strings.Builder
	for name, value := range secrets {
		fmt.Fprintf(&b, "%s=%s\n", strings.ToUpper(name), value)
	}
	return b.String()
}

func renderJSONFormat(secrets map[string]string) string {
	data, _ := json.MarshalIndent(secrets, "", "  ")
	return string(data)
}

func renderDeployToolFormat(secrets map[string]string) string {
	var b strings.Builder
	for name := range secrets {
		fmt.Fprintf(&b, "secret put %s --value <redacted>\n", name)
	}
	return b.String()
}

func renderShellFormat(secrets map[string]string) string {
	var b strings.Builder
	for name, value := range secrets {
		fmt.Fprintf(&b, "export %s=%q\n", strings.ToUpper(name), value)
	}
	return b.String()
}
