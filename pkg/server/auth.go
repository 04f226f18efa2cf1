// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// bearerToken extracts the token forwarded by the ingress: the Authorization
// bearer header, with the X-Auth-Request-Token header as fallback.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.Header.Get("X-Auth-Request-Token")
}

// authorize guards a handler. The request token must carry the scope; with
// matchUser set the token's user must additionally equal the {username} path
// variable, so users cannot act on each other's labs.
func (s *Server) authorize(scope string, matchUser bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeStatus(w, http.StatusForbidden, "no authentication token provided")
			return
		}

		info, err := s.Identity.TokenInfo(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		if !info.HasScope(scope) {
			writeStatus(w, http.StatusForbidden, fmt.Sprintf("token does not carry the %s scope", scope))
			return
		}
		if matchUser && mux.Vars(r)["username"] != info.Username {
			writeStatus(w, http.StatusForbidden, "token does not belong to the requested user")
			return
		}

		next(w, r)
	}
}
