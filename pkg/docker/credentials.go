// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package docker

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// DefaultCredentialsPath is where the registry pull secret is mounted.
const DefaultCredentialsPath = "/etc/secrets/.dockerconfigjson"

// Credentials are the login data for one registry host. The zero value
// means anonymous access.
type Credentials struct {
	Username string
	Password string
}

// CredentialStore maps registry hosts to their credentials.
type CredentialStore map[string]Credentials

// For returns the credentials for the given registry host, or the zero
// value when none are configured.
func (s CredentialStore) For(host string) Credentials {
	return s[host]
}

// LoadCredentials reads a `.dockerconfigjson` pull secret of the standard
// `auths: {host: {auth: base64(user:pass)}}` shape. A missing file yields an
// empty store, for setups that only use unauthenticated registries.
func LoadCredentials(path string) (CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return CredentialStore{}, nil
		}
		return nil, fmt.Errorf("failed reading docker credentials from %q: %w", path, err)
	}

	var file struct {
		Auths map[string]struct {
			Auth string `json:"auth"`
		} `json:"auths"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed decoding docker credentials from %q: %w", path, err)
	}

	store := CredentialStore{}
	for host, entry := range file.Auths {
		decoded, err := base64.StdEncoding.DecodeString(entry.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed decoding the auth of registry %q: %w", host, err)
		}
		username, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			return nil, fmt.Errorf("auth of registry %q is not of the form <username>:<password>", host)
		}
		store[host] = Credentials{Username: username, Password: password}
	}

	return store, nil
}
