package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuditClaims is the claim set carried by a Deployment's audit token: a
// signed, non-secret handle naming which deployment/domain/phase produced a
// given audit-report artifact, verifiable by report tooling without
// re-deriving it from the state store.
type AuditClaims struct {
	DeploymentID string `json:"deployment_id"`
	Domain       string `json:"domain"`
	Environment  string `json:"environment"`
	Phase        string `json:"phase"`
	jwt.RegisteredClaims
}

// AuditTokenSigner mints and verifies per-deployment audit tokens with a
// single HMAC secret. It holds no deployment state of its own.
type AuditTokenSigner struct {
	secretKey []byte
	issuer    string
}

// NewAuditTokenSigner builds a signer over secretKey. An empty secretKey is
// rejected: an audit token signed with an empty key is indistinguishable
// from an unsigned one.
func NewAuditTokenSigner(secretKey []byte, issuer string) (*AuditTokenSigner, error) {
	if len(secretKey) == 0 {
		return nil, errors.New("domain: audit token signer requires a non-empty secret key")
	}
	if issuer == "" {
		issuer = "clodoworks/orchestrator"
	}
	return &AuditTokenSigner{secretKey: secretKey, issuer: issuer}, nil
}

// Sign mints an audit token for dep at its current phase, valid for the
// lifetime of a single orchestration run.
func (s *AuditTokenSigner) Sign(dep Deployment, validFor time.Duration) (string, error) {
	now := time.Now()
	claims := AuditClaims{
		DeploymentID: dep.ID,
		Domain:       dep.Domain,
		Environment:  string(dep.Environment),
		Phase:        string(dep.Phase),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   dep.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validFor)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// Verify parses and validates tokenString, confirming it was issued by this
// signer for deploymentID.
func (s *AuditTokenSigner) Verify(tokenString, deploymentID string) (*AuditClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AuditClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("domain: unexpected audit token signing method %v", token.Header["alg"])
		}
		return s.secretKey, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AuditClaims)
	if !ok || !token.Valid {
		return nil, errors.New("domain: invalid audit token")
	}
	if claims.Issuer != s.issuer {
		return nil, errors.New("domain: audit token issuer mismatch")
	}
	if claims.DeploymentID != deploymentID {
		return nil, errors.New("domain: audit token does not match deployment")
	}
	return claims, nil
}
