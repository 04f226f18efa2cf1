// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
)

// basePath is the external path prefix the ingress routes to this service.
const basePath = "/nublado"

// Handler builds the router of the spawner API.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	spawner := router.PathPrefix(basePath + "/spawner/v1").Subrouter()
	spawner.HandleFunc("/labs", s.authorize(gafaelfawr.ScopeAdmin, false, s.listLabs)).Methods(http.MethodGet)
	spawner.HandleFunc("/labs/{username}", s.authorize(gafaelfawr.ScopeAdmin, false, s.getLab)).Methods(http.MethodGet)
	spawner.HandleFunc("/labs/{username}", s.authorize(gafaelfawr.ScopeAdmin, false, s.deleteLab)).Methods(http.MethodDelete)
	spawner.HandleFunc("/labs/{username}/create", s.authorize(gafaelfawr.ScopeUser, true, s.createLab)).Methods(http.MethodPost)
	spawner.HandleFunc("/labs/{username}/events", s.authorize(gafaelfawr.ScopeUser, true, s.streamEvents)).Methods(http.MethodGet)
	spawner.HandleFunc("/user-status", s.authorize(gafaelfawr.ScopeUser, false, s.userStatus)).Methods(http.MethodGet)
	spawner.HandleFunc("/images", s.authorize(gafaelfawr.ScopeAdmin, false, s.listImages)).Methods(http.MethodGet)
	spawner.HandleFunc("/prepulls", s.authorize(gafaelfawr.ScopeAdmin, false, s.prepullStatus)).Methods(http.MethodGet)
	spawner.HandleFunc("/lab-form/{username}", s.authorize(gafaelfawr.ScopeUser, true, s.labForm)).Methods(http.MethodGet)

	return router
}

// healthz answers liveness probes once the server is up.
func healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
