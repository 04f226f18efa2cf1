// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package gafaelfawr_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
)

var _ = Describe("Client", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		client   *gafaelfawr.Client
		requests int
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = 0

		mux := http.NewServeMux()
		mux.HandleFunc("/auth/api/v1/user-info", func(w http.ResponseWriter, r *http.Request) {
			requests++
			switch r.Header.Get("Authorization") {
			case "Bearer gt-alice":
				fmt.Fprint(w, `{"username": "alice", "name": "Alice", "uid": 4510, "gid": 4510, "groups": [{"name": "g_users", "id": 2001}]}`)
			default:
				w.WriteHeader(http.StatusUnauthorized)
			}
		})
		mux.HandleFunc("/auth/api/v1/token-info", func(w http.ResponseWriter, r *http.Request) {
			requests++
			switch r.Header.Get("Authorization") {
			case "Bearer gt-alice":
				fmt.Fprint(w, `{"username": "alice", "token_type": "user", "scopes": ["exec:notebook", "read:tap"]}`)
			default:
				w.WriteHeader(http.StatusForbidden)
			}
		})

		server = httptest.NewServer(mux)
		DeferCleanup(server.Close)

		client = gafaelfawr.New(server.URL)
	})

	Describe("#UserInfo", func() {
		It("should resolve a valid token", func() {
			info, err := client.UserInfo(ctx, "gt-alice")

			Expect(err).NotTo(HaveOccurred())
			Expect(info.Username).To(Equal("alice"))
			Expect(info.UID).To(Equal(int64(4510)))
			Expect(info.Groups).To(ConsistOf(gafaelfawr.UserGroup{Name: "g_users", ID: 2001}))
		})

		It("should return a forbidden error for a refused token", func() {
			_, err := client.UserInfo(ctx, "gt-mallory")

			forbidden := &gafaelfawr.ForbiddenError{}
			Expect(errors.As(err, &forbidden)).To(BeTrue())
			Expect(forbidden.Status).To(Equal(http.StatusUnauthorized))
		})

		It("should cache responses per token", func() {
			for i := 0; i < 3; i++ {
				_, err := client.UserInfo(ctx, "gt-alice")
				Expect(err).NotTo(HaveOccurred())
			}

			Expect(requests).To(Equal(1))
		})
	})

	Describe("#TokenInfo", func() {
		It("should resolve the token scopes", func() {
			info, err := client.TokenInfo(ctx, "gt-alice")

			Expect(err).NotTo(HaveOccurred())
			Expect(info.Username).To(Equal("alice"))
			Expect(info.HasScope(gafaelfawr.ScopeUser)).To(BeTrue())
			Expect(info.HasScope(gafaelfawr.ScopeAdmin)).To(BeFalse())
		})

		It("should not mix the user-info and token-info caches", func() {
			_, err := client.UserInfo(ctx, "gt-alice")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.TokenInfo(ctx, "gt-alice")
			Expect(err).NotTo(HaveOccurred())

			Expect(requests).To(Equal(2))
		})
	})
})
