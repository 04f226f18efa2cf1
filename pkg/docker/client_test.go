// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package docker_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/nublado-controller/pkg/docker"
)

var _ = Describe("Client", func() {
	const repository = "lsstsqre/sciplat-lab"

	var (
		ctx           context.Context
		server        *httptest.Server
		mux           *http.ServeMux
		manifestHeads int
	)

	BeforeEach(func() {
		ctx = context.Background()
		manifestHeads = 0

		mux = http.NewServeMux()
		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)
	})

	Describe("#ListTags", func() {
		It("should list the tags of an unauthenticated registry", func() {
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"name": "lsstsqre/sciplat-lab", "tags": ["recommended", "w_2023_14", "d_2023_05_13"]}`)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			tags, err := client.ListTags(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(Equal([]string{"recommended", "w_2023_14", "d_2023_05_13"}))
		})

		It("should answer a basic authentication challenge", func() {
			expected := "Basic bHNzdDpodW50ZXIy" // lsst:hunter2
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != expected {
					w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"tags": ["w_2023_14"]}`)
			})
			client := docker.New(server.URL, repository, docker.Credentials{Username: "lsst", Password: "hunter2"})

			tags, err := client.ListTags(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(Equal([]string{"w_2023_14"}))
		})

		It("should fail a basic challenge without credentials", func() {
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
				w.WriteHeader(http.StatusUnauthorized)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			_, err := client.ListTags(ctx)

			Expect(err).To(MatchError(ContainSubstring("no credentials are configured")))
		})

		It("should answer a bearer authentication challenge", func() {
			var tokenQuery map[string][]string
			mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
				tokenQuery = r.URL.Query()
				fmt.Fprint(w, `{"token": "bearer-token"}`)
			})
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer bearer-token" {
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q,service="registry.example.org",scope="repository:%s:pull"`, server.URL+"/token", repository))
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"tags": ["w_2023_14"]}`)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			tags, err := client.ListTags(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(tags).To(Equal([]string{"w_2023_14"}))
			Expect(tokenQuery).To(HaveKeyWithValue("service", []string{"registry.example.org"}))
			Expect(tokenQuery).To(HaveKeyWithValue("scope", []string{"repository:" + repository + ":pull"}))
		})

		It("should reuse the authorization for subsequent requests", func() {
			challenges := 0
			mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"token": "bearer-token"}`)
			})
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Authorization") != "Bearer bearer-token" {
					challenges++
					w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Bearer realm=%q`, server.URL+"/token"))
					w.WriteHeader(http.StatusUnauthorized)
					return
				}
				fmt.Fprint(w, `{"tags": ["w_2023_14"]}`)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			for i := 0; i < 3; i++ {
				_, err := client.ListTags(ctx)
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(challenges).To(Equal(1))
		})

		It("should fail a request denied without a challenge", func() {
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			_, err := client.ListTags(ctx)

			Expect(err).To(MatchError(ContainSubstring("without an authentication challenge")))
		})

		It("should surface unexpected status codes as registry errors", func() {
			mux.HandleFunc("/v2/"+repository+"/tags/list", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			})
			client := docker.New(server.URL, repository, docker.Credentials{})

			_, err := client.ListTags(ctx)

			registryError := &docker.RegistryError{}
			Expect(errors.As(err, &registryError)).To(BeTrue())
			Expect(registryError.Status).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("#GetImageDigest", func() {
		var requestMethod, requestAccept string

		BeforeEach(func() {
			mux.HandleFunc("/v2/"+repository+"/manifests/", func(w http.ResponseWriter, r *http.Request) {
				manifestHeads++
				requestMethod = r.Method
				requestAccept = r.Header.Get("Accept")
				w.Header().Set("Docker-Content-Digest", "sha256:e6e1")
				w.WriteHeader(http.StatusOK)
			})
		})

		It("should resolve a tag to its content digest", func() {
			client := docker.New(server.URL, repository, docker.Credentials{})

			digest, err := client.GetImageDigest(ctx, "w_2023_14")

			Expect(err).NotTo(HaveOccurred())
			Expect(digest).To(Equal("sha256:e6e1"))
			Expect(requestMethod).To(Equal(http.MethodHead))
			Expect(requestAccept).To(Equal("application/vnd.docker.distribution.manifest.v2+json"))
		})

		It("should cache resolved digests", func() {
			client := docker.New(server.URL, repository, docker.Credentials{})

			for i := 0; i < 3; i++ {
				_, err := client.GetImageDigest(ctx, "w_2023_14")
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(manifestHeads).To(Equal(1))
		})
	})
})
