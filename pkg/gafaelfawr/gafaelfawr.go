// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package gafaelfawr is a client for the identity service fronting the
// science platform. Tokens arrive with every request; the client resolves
// them to user metadata and scopes.
package gafaelfawr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

const (
	// ScopeAdmin authorizes administrative spawner operations.
	ScopeAdmin = "admin:jupyterlab"
	// ScopeUser authorizes operations on the user's own lab.
	ScopeUser = "exec:notebook"
)

// cacheTTL bounds how long identity responses are reused per token, so that
// request middleware does not hammer the identity service.
const cacheTTL = 5 * time.Minute

// UserGroup is one group membership of a user.
type UserGroup struct {
	// Name is the group name.
	Name string `json:"name"`
	// ID is the numeric gid of the group.
	ID int64 `json:"id,omitempty"`
}

// UserInfo describes a user as reported by the identity service.
type UserInfo struct {
	// Username is the unique login name.
	Username string `json:"username"`
	// Name is the preferred human-readable name.
	Name string `json:"name,omitempty"`
	// UID is the numeric user id labs run under.
	UID int64 `json:"uid"`
	// GID is the numeric primary group id.
	GID int64 `json:"gid,omitempty"`
	// Groups are the user's group memberships.
	Groups []UserGroup `json:"groups,omitempty"`
}

// TokenInfo describes a token as reported by the identity service.
type TokenInfo struct {
	// Username is the user the token was issued to.
	Username string `json:"username"`
	// TokenType is the identity service's token classification.
	TokenType string `json:"token_type,omitempty"`
	// Scopes are the scopes the token carries.
	Scopes []string `json:"scopes"`
}

// HasScope reports whether the token carries the given scope.
func (t *TokenInfo) HasScope(scope string) bool {
	return slices.Contains(t.Scopes, scope)
}

// ForbiddenError is returned when the identity service refuses a token.
type ForbiddenError struct {
	// Status is the HTTP status the identity service answered with.
	Status int
}

// Error implements error.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("identity service refused the token (status %d)", e.Status)
}

// Client talks to the identity service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      *gocache.Cache
}

// New returns a client for the identity service at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// UserInfo resolves a token to the user it belongs to.
func (c *Client) UserInfo(ctx context.Context, token string) (*UserInfo, error) {
	if cached, ok := c.cache.Get("user-info/" + token); ok {
		return cached.(*UserInfo), nil
	}

	info := &UserInfo{}
	if err := c.get(ctx, "/auth/api/v1/user-info", token, info); err != nil {
		return nil, err
	}

	c.cache.SetDefault("user-info/"+token, info)
	return info, nil
}

// TokenInfo resolves a token to its scopes and owner.
func (c *Client) TokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	if cached, ok := c.cache.Get("token-info/" + token); ok {
		return cached.(*TokenInfo), nil
	}

	info := &TokenInfo{}
	if err := c.get(ctx, "/auth/api/v1/token-info", token, info); err != nil {
		return nil, err
	}

	c.cache.SetDefault("token-info/"+token, info)
	return info, nil
}

func (c *Client) get(ctx context.Context, path, token string, into any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed creating identity service request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("failed calling identity service: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode != http.StatusOK {
		return &ForbiddenError{Status: response.StatusCode}
	}

	if err := json.NewDecoder(response.Body).Decode(into); err != nil {
		return fmt.Errorf("failed decoding identity service response: %w", err)
	}
	return nil
}
