// Package platform is the only component allowed to hold a real
// *http.Client or touch the filesystem for the upstream platform's own
// config format: it implements the injectable client interfaces consumed
// by assessment, router, and orchestrator, and reconciles a service's
// wrangler.toml-style deploy manifest.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clodoworks/orchestrator/internal/apiclient"
	"github.com/clodoworks/orchestrator/internal/assessment"
	"github.com/clodoworks/orchestrator/internal/errortypes"
)

// httpDoer adapts *http.Client to apiclient.Doer so the rate limiter and
// retry policy sit in front of every request this package sends.
type httpDoer struct {
	inner *http.Client
}

func (d httpDoer) Do(req *http.Request) (*http.Response, error) {
	return d.inner.Do(req)
}

// Client is the upstream platform's HTTP API, rate-limited and retried
// through apiclient.Client.
type Client struct {
	rateLimited *apiclient.Client
	baseURL     string
	accountID   string
	token       string
}

func NewClient(baseURL, accountID, token string, limiter *apiclient.Limiter) *Client {
	doer := httpDoer{inner: &http.Client{Timeout: 30 * time.Second}}
	return &Client{
		rateLimited: apiclient.NewClient(doer, limiter),
		baseURL:     baseURL,
		accountID:   accountID,
		token:       token,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errortypes.NewTransient("building upstream request failed").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// VerifyToken calls the upstream token-verification endpoint, consumed by
// the assessment engine through its TokenVerifier interface.
func (c *Client) VerifyToken(ctx context.Context, token string) (assessment.TokenVerification, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/user/tokens/verify", nil)
	if err != nil {
		return assessment.TokenVerification{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.rateLimited.Do(ctx, apiclient.ClassGeneral, apiclient.PriorityNormal, req)
	if err != nil {
		return assessment.TokenVerification{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return assessment.TokenVerification{Valid: false, Error: fmt.Sprintf("verify returned status %d", resp.StatusCode)}, nil
	}

	var payload struct {
		AccountID   string   `json:"account_id"`
		Permissions []string `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return assessment.TokenVerification{}, errortypes.NewTransient("decoding verify-token response failed").WithCause(err)
	}
	return assessment.TokenVerification{Valid: true, AccountID: payload.AccountID, Permissions: payload.Permissions}, nil
}

// CheckOwnership calls the upstream zone-lookup endpoint, consumed by
// the assessment engine through its OwnershipProbe interface.
func (c *Client) CheckOwnership(ctx context.Context, domainName, token string) (owned bool, conflict bool, err error) {
	req, reqErr := c.newRequest(ctx, http.MethodGet, "/zones?name="+domainName, nil)
	if reqErr != nil {
		return false, false, reqErr
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, doErr := c.rateLimited.Do(ctx, apiclient.ClassGeneral, apiclient.PriorityNormal, req)
	if doErr != nil {
		return false, false, doErr
	}
	defer resp.Body.Close()

	var payload struct {
		Zones []struct {
			Owned           bool `json:"owned_by_account"`
			ConflictingDNS  bool `json:"has_conflicting_record"`
		} `json:"zones"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, false, errortypes.NewTransient("decoding zone lookup response failed").WithCause(err)
	}
	if len(payload.Zones) == 0 {
		return false, false, nil
	}
	return payload.Zones[0].Owned, payload.Zones[0].ConflictingDNS, nil
}

// ListDomains satisfies router.UpstreamClient: discovery source (b), used
// only when no JSON config and no CLODO_DOMAINS env var is present.
func (c *Client) ListDomains(ctx context.Context) ([]string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/accounts/"+c.accountID+"/workers/domains", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.rateLimited.Do(ctx, apiclient.ClassGeneral, apiclient.PriorityLow, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Result []struct {
			Hostname string `json:"hostname"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errortypes.NewTransient("decoding domain list response failed").WithCause(err)
	}

	domains := make([]string, 0, len(payload.Result))
	for _, d := range payload.Result {
		domains = append(domains, d.Hostname)
	}
	return domains, nil
}

// PushArtifact uploads the built worker script for domainName, the final
// step of the deploy pipeline. It returns the revision id the platform
// assigned, which the orchestrator records on the deployment.
func (c *Client) PushArtifact(ctx context.Context, domainName string, script []byte) (revision string, err error) {
	req, reqErr := c.newRequest(ctx, http.MethodPut, "/accounts/"+c.accountID+"/workers/scripts/"+domainName, script)
	if reqErr != nil {
		return "", reqErr
	}

	resp, doErr := c.rateLimited.Do(ctx, apiclient.ClassWorkers, apiclient.PriorityHigh, req)
	if doErr != nil {
		return "", doErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errortypes.NewTransient(fmt.Sprintf("artifact push returned status %d", resp.StatusCode))
	}

	var payload struct {
		Result struct {
			ID string `json:"id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errortypes.NewTransient("decoding artifact push response failed").WithCause(err)
	}
	return payload.Result.ID, nil
}
