// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the spawner API over HTTP: the lab lifecycle
// routes, the per-user event stream, the image listings and the spawner
// form.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/form"
	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/lab"
	"github.com/lsst-sqre/nublado-controller/pkg/lab/events"
	"github.com/lsst-sqre/nublado-controller/pkg/prepuller"
)

// shutdownGracePeriod bounds the graceful drain of in-flight requests.
const shutdownGracePeriod = 5 * time.Second

// Identity resolves bearer tokens to users and scopes.
type Identity interface {
	UserInfo(ctx context.Context, token string) (*gafaelfawr.UserInfo, error)
	TokenInfo(ctx context.Context, token string) (*gafaelfawr.TokenInfo, error)
}

// Server is the HTTP server of the spawner API.
type Server struct {
	Config    *config.ControllerConfiguration
	Identity  Identity
	Labs      *lab.Manager
	Users     *lab.UserMap
	Events    *events.Broker
	Prepuller *prepuller.Reconciler
	Forms     *form.Renderer
	// Metrics is the registry served on the metrics endpoint.
	Metrics prometheus.Gatherer
}

// Start starts the server and blocks until ctx is cancelled, then shuts it
// down gracefully. Request contexts derive from ctx, so streaming handlers
// end during the shutdown drain.
func (s *Server) Start(ctx context.Context) error {
	log := logf.FromContext(ctx)

	var (
		listenAddress = fmt.Sprintf("%s:%d", s.Config.Server.BindAddress, s.Config.Server.Port)
		server        = &http.Server{
			Addr:              listenAddress,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
	)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", listenAddress)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("failed running HTTP server: %w", err)
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed shutting down HTTP server: %w", err)
	}
	return nil
}
