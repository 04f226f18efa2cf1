// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	kubernetesscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/component-base/version/verflag"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/cmd/utils/initrun"
	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/docker"
	"github.com/lsst-sqre/nublado-controller/pkg/form"
	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/lab"
	"github.com/lsst-sqre/nublado-controller/pkg/lab/events"
	"github.com/lsst-sqre/nublado-controller/pkg/prepuller"
	"github.com/lsst-sqre/nublado-controller/pkg/server"
	"github.com/lsst-sqre/nublado-controller/pkg/utils/flow"
)

// Name is a const for the name of this component.
const Name = "nublado-controller"

// serviceAccountNamespaceFile is where the pod's namespace is mounted in
// cluster.
const serviceAccountNamespaceFile = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

// NewCommand creates a new cobra.Command for running nublado-controller.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   Name,
		Short: "Launch the " + Name,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := initrun.InitRun(cmd, opts, Name)
			if err != nil {
				return err
			}
			return run(cmd.Context(), log, opts.kubeconfig, opts.config)
		},
	}

	flags := cmd.Flags()
	verflag.AddFlags(flags)
	opts.addFlags(flags)

	return cmd
}

func run(ctx context.Context, log logr.Logger, kubeconfig string, cfg *config.ControllerConfiguration) error {
	ctx = logf.IntoContext(ctx, log)

	log.Info("Getting rest config")
	restConfig, err := buildRESTConfig(kubeconfig)
	if err != nil {
		return err
	}
	restConfig.Timeout = cfg.Kubernetes.RequestTimeout.Duration

	c, err := client.New(restConfig, client.Options{Scheme: kubernetesscheme.Scheme})
	if err != nil {
		return fmt.Errorf("failed creating Kubernetes client: %w", err)
	}

	namespace := controllerNamespace(cfg)
	log.Info("Determined controller namespace", "namespace", namespace)

	var registryClient *docker.Client
	if dockerSource := cfg.Prepuller.Config.Docker; dockerSource != nil {
		credentials, err := docker.LoadCredentials(docker.DefaultCredentialsPath)
		if err != nil {
			return err
		}
		registryClient = docker.New("https://"+dockerSource.Registry, dockerSource.Repository, credentials.For(dockerSource.Registry))
	}

	registry := prometheus.NewRegistry()
	broker := events.NewBroker()
	users := lab.NewUserMap()

	imageInventory := &inventory.Inventory{Client: c, Config: &cfg.Prepuller.Config}
	reconciler := &prepuller.Reconciler{
		Client:    c,
		Config:    &cfg.Prepuller.Config,
		Inventory: imageInventory,
		Clock:     clock.RealClock{},
		Metrics:   prepuller.NewMetrics(registry),
		Namespace: namespace,
	}
	if registryClient != nil {
		imageInventory.Registry = registryClient
		reconciler.Registry = registryClient
	}

	labManager := &lab.Manager{
		Client:    c,
		Config:    cfg,
		Events:    broker,
		Users:     users,
		Resolver:  reconciler,
		Metrics:   lab.NewMetrics(registry),
		Namespace: namespace,
	}

	forms, err := form.New(cfg.Form.Forms, cfg.Lab.Sizes)
	if err != nil {
		return err
	}

	srv := &server.Server{
		Config:    cfg,
		Identity:  gafaelfawr.New(cfg.GafaelfawrURL),
		Labs:      labManager,
		Users:     users,
		Events:    broker,
		Prepuller: reconciler,
		Forms:     forms,
		Metrics:   registry,
	}

	log.Info("Starting components")
	return flow.ParallelExitOnError(
		reconciler.Run,
		srv.Start,
	)(ctx)
}

// buildRESTConfig builds the cluster connection: an explicit kubeconfig path
// wins, then the KUBECONFIG environment variable, then the in-cluster
// service account.
func buildRESTConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}

	if kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed loading kubeconfig %s: %w", kubeconfig, err)
		}
		return restConfig, nil
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed loading in-cluster rest config: %w", err)
	}
	return restConfig, nil
}

// controllerNamespace is the namespace this controller runs in, which holds
// the source secrets and the pull pods. Out of cluster it falls back to the
// configured user namespace prefix.
func controllerNamespace(cfg *config.ControllerConfiguration) string {
	if data, err := os.ReadFile(serviceAccountNamespaceFile); err == nil {
		if namespace := strings.TrimSpace(string(data)); namespace != "" {
			return namespace
		}
	}
	return cfg.Lab.NamespacePrefix
}
