// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package docker is a minimal Docker registry v2 API client: it lists the
// tags of one repository and resolves tags to content digests, answering
// basic and bearer authentication challenges along the way.
package docker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// manifestAccept pins manifest requests to the schema whose digest header
// matches the image IDs that nodes report.
const manifestAccept = "application/vnd.docker.distribution.manifest.v2+json"

// digestCacheTTL bounds how long a resolved tag digest is reused before the
// registry is asked again. Tags of this repository are rarely repushed.
const digestCacheTTL = time.Hour

// RegistryError is returned for registry responses with an unexpected
// status code.
type RegistryError struct {
	URL    string
	Status int
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry request to %s failed with status %d", e.URL, e.Status)
}

// Client queries one repository of one Docker v2 registry.
type Client struct {
	baseURL     string
	repository  string
	credentials Credentials
	httpClient  *http.Client
	digests     *gocache.Cache

	mutex         sync.Mutex
	authorization string
}

// New returns a client for the given repository. baseURL includes the
// scheme, e.g. "https://registry.hub.docker.com". Zero credentials mean
// anonymous access; the registry may still issue a bearer challenge for a
// pull-scope token.
func New(baseURL, repository string, credentials Credentials) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		repository:  repository,
		credentials: credentials,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		digests:     gocache.New(digestCacheTTL, 2*digestCacheTTL),
	}
}

// ListTags lists all tags of the repository.
func (c *Client) ListTags(ctx context.Context) ([]string, error) {
	var body struct {
		Tags []string `json:"tags"`
	}
	if _, err := c.do(ctx, http.MethodGet, c.baseURL+"/v2/"+c.repository+"/tags/list", &body); err != nil {
		return nil, err
	}
	return body.Tags, nil
}

// GetImageDigest resolves a tag to its content digest, e.g. "sha256:e6e1…".
// Resolutions are cached for a while.
func (c *Client) GetImageDigest(ctx context.Context, tag string) (string, error) {
	if digest, ok := c.digests.Get(tag); ok {
		return digest.(string), nil
	}

	resp, err := c.do(ctx, http.MethodHead, c.baseURL+"/v2/"+c.repository+"/manifests/"+tag, nil)
	if err != nil {
		return "", err
	}

	digest := resp.Header.Get("Docker-Content-Digest")
	if digest == "" {
		return "", fmt.Errorf("registry response for tag %q carries no Docker-Content-Digest header", tag)
	}

	c.digests.SetDefault(tag, digest)
	return digest, nil
}

// do performs one registry request and decodes a JSON body into out when
// out is non-nil. On a 401 challenge it authenticates once and retries.
func (c *Client) do(ctx context.Context, method, requestURL string, out any) (*http.Response, error) {
	resp, err := c.request(ctx, method, requestURL)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		_ = resp.Body.Close()
		if err := c.authenticate(ctx, resp); err != nil {
			return nil, err
		}
		if resp, err = c.request(ctx, method, requestURL); err != nil {
			return nil, err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &RegistryError{URL: requestURL, Status: resp.StatusCode}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed decoding registry response from %s: %w", requestURL, err)
		}
	}
	return resp, nil
}

func (c *Client) request(ctx context.Context, method, requestURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed creating registry request: %w", err)
	}
	req.Header.Set("Accept", manifestAccept)

	c.mutex.Lock()
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}
	c.mutex.Unlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request to %s failed: %w", requestURL, err)
	}
	return resp, nil
}

// authenticate answers the WWW-Authenticate challenge of a 401 response and
// stores the resulting Authorization header for subsequent requests.
func (c *Client) authenticate(ctx context.Context, resp *http.Response) error {
	challenge := resp.Header.Get("WWW-Authenticate")
	if challenge == "" {
		return fmt.Errorf("registry denied the request without an authentication challenge")
	}

	scheme, params, _ := strings.Cut(challenge, " ")
	switch strings.ToLower(scheme) {
	case "basic":
		// Basic auth is what Nexus-style registries use.
		if c.credentials.Username == "" {
			return fmt.Errorf("registry requires basic authentication but no credentials are configured")
		}
		c.setAuthorization("Basic " + base64.StdEncoding.EncodeToString([]byte(c.credentials.Username+":"+c.credentials.Password)))
		return nil

	case "bearer":
		// Bearer tokens are what Docker's official registry uses.
		token, err := c.fetchToken(ctx, params)
		if err != nil {
			return err
		}
		c.setAuthorization("Bearer " + token)
		return nil

	default:
		return fmt.Errorf("unsupported authentication challenge %q", challenge)
	}
}

// fetchToken requests a bearer token from the challenge's realm, passing the
// remaining challenge parameters (service, scope) through as query
// parameters.
func (c *Client) fetchToken(ctx context.Context, params string) (string, error) {
	var (
		realm string
		query = url.Values{}
	)

	for _, param := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		if key == "realm" {
			realm = value
		} else {
			query.Set(key, value)
		}
	}
	if realm == "" {
		return "", fmt.Errorf("bearer challenge carries no realm")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, realm+"?"+query.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed creating token request: %w", err)
	}
	if c.credentials.Username != "" {
		req.SetBasicAuth(c.credentials.Username, c.credentials.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request to %s failed: %w", realm, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", &RegistryError{URL: realm, Status: resp.StatusCode}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed decoding token response from %s: %w", realm, err)
	}
	return body.Token, nil
}

func (c *Client) setAuthorization(value string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.authorization = value
}
