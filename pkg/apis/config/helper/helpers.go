// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package helper contains helpers for working with the controller
// configuration.
package helper

import (
	"fmt"
	"strings"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
)

// SourcePath returns the full repository path of the configured image source,
// without tag or digest, e.g. "registry.hub.docker.com/lsstsqre/sciplat-lab".
func SourcePath(cfg *config.PrepullerConfig) string {
	if cfg.GAR != nil {
		return fmt.Sprintf("%s/%s/%s/%s", cfg.GAR.Registry, cfg.GAR.ProjectID, cfg.GAR.Repository, cfg.GAR.Image)
	}
	return fmt.Sprintf("%s/%s", cfg.Docker.Registry, cfg.Docker.Repository)
}

// SourceImageName returns the bare image name of the configured source.
// Image references reported by nodes are matched against it by their last
// path segment, which tolerates registry mirrors and pull-through caches.
func SourceImageName(cfg *config.PrepullerConfig) string {
	if cfg.GAR != nil {
		return cfg.GAR.Image
	}

	parts := strings.Split(cfg.Docker.Repository, "/")
	return parts[len(parts)-1]
}
