// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package helper_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	. "github.com/lsst-sqre/nublado-controller/pkg/apis/config/helper"
)

var _ = Describe("Helpers", func() {
	dockerConfig := &config.PrepullerConfig{
		Docker: &config.DockerSourceConfig{
			Registry:   "registry.hub.docker.com",
			Repository: "lsstsqre/sciplat-lab",
		},
	}
	garConfig := &config.PrepullerConfig{
		GAR: &config.GARSourceConfig{
			Registry:   "us-central1-docker.pkg.dev",
			ProjectID:  "rubin-shared",
			Repository: "sciplat",
			Image:      "sciplat-lab",
		},
	}

	Describe("#SourcePath", func() {
		It("should join the docker registry and repository", func() {
			Expect(SourcePath(dockerConfig)).To(Equal("registry.hub.docker.com/lsstsqre/sciplat-lab"))
		})

		It("should join all four GAR segments", func() {
			Expect(SourcePath(garConfig)).To(Equal("us-central1-docker.pkg.dev/rubin-shared/sciplat/sciplat-lab"))
		})
	})

	Describe("#SourceImageName", func() {
		It("should return the last repository segment of a docker source", func() {
			Expect(SourceImageName(dockerConfig)).To(Equal("sciplat-lab"))
		})

		It("should return the image of a GAR source", func() {
			Expect(SourceImageName(garConfig)).To(Equal("sciplat-lab"))
		})
	})
})
