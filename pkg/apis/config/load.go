// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// DefaultConfigPath is the path the configuration file is read from unless
// overridden on the command line.
const DefaultConfigPath = "/etc/nublado/config.yaml"

// LoadFromFile reads the configuration from the given path, strictly decodes
// it and applies defaults. Validation is up to the caller.
func LoadFromFile(path string) (*ControllerConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed reading config file %s: %w", path, err)
	}

	return Load(data)
}

// Load strictly decodes the given YAML document and applies defaults.
func Load(data []byte) (*ControllerConfiguration, error) {
	cfg := &ControllerConfiguration{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed decoding config: %w", err)
	}

	SetDefaults_ControllerConfiguration(cfg)
	return cfg, nil
}
