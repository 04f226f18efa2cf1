// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/lsst-sqre/nublado-controller/pkg/logger"
)

// SetDefaults_ControllerConfiguration sets defaults for the configuration of the nublado-controller.
func SetDefaults_ControllerConfiguration(obj *ControllerConfiguration) {
	SetDefaults_SafirConfiguration(&obj.Safir)
	SetDefaults_ServerConfiguration(&obj.Server)
	SetDefaults_KubernetesConfiguration(&obj.Kubernetes)
	SetDefaults_LabConfiguration(&obj.Lab)
	SetDefaults_PrepullerConfig(&obj.Prepuller.Config)
}

// SetDefaults_SafirConfiguration sets defaults for the service metadata.
func SetDefaults_SafirConfiguration(obj *SafirConfiguration) {
	if obj.Name == "" {
		obj.Name = "nublado-controller"
	}

	if obj.Profile == "" {
		obj.Profile = ProfileProduction
	}

	if obj.LoggerName == "" {
		obj.LoggerName = "nublado"
	}

	if obj.LogLevel == "" {
		obj.LogLevel = logger.InfoLevel
	}
}

// SetDefaults_ServerConfiguration sets defaults for the HTTP server.
func SetDefaults_ServerConfiguration(obj *ServerConfiguration) {
	if obj.Port == 0 {
		obj.Port = 8080
	}
}

// SetDefaults_KubernetesConfiguration sets defaults for the cluster API settings.
func SetDefaults_KubernetesConfiguration(obj *KubernetesConfiguration) {
	if obj.RequestTimeout.Duration == 0 {
		obj.RequestTimeout = metav1.Duration{Duration: 60 * time.Second}
	}
}

// SetDefaults_LabConfiguration sets defaults for the lab environments.
func SetDefaults_LabConfiguration(obj *LabConfiguration) {
	if obj.NamespacePrefix == "" {
		obj.NamespacePrefix = "nublado"
	}
}

// SetDefaults_PrepullerConfig sets defaults for the prepuller.
func SetDefaults_PrepullerConfig(obj *PrepullerConfig) {
	if obj.RecommendedTag == "" {
		obj.RecommendedTag = "recommended"
	}

	if obj.NumReleases == 0 {
		obj.NumReleases = 1
	}

	if obj.NumWeeklies == 0 {
		obj.NumWeeklies = 2
	}

	if obj.NumDailies == 0 {
		obj.NumDailies = 3
	}

	if len(obj.AliasTags) == 0 {
		obj.AliasTags = []string{obj.RecommendedTag}
	}

	if obj.PollInterval.Duration == 0 {
		obj.PollInterval = metav1.Duration{Duration: 60 * time.Second}
	}

	if obj.PullTimeout.Duration == 0 {
		obj.PullTimeout = metav1.Duration{Duration: 600 * time.Second}
	}
}
