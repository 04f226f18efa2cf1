// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package config contains the configuration API for the nublado-controller.
// The configuration is a YAML singleton read at boot; it is strictly decoded,
// defaulted and validated before any component is constructed.
package config

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// ProfileProduction is the production runtime profile (JSON logs).
	ProfileProduction = "production"
	// ProfileDevelopment is the development runtime profile (text logs).
	ProfileDevelopment = "development"

	// SecretKeyToken is the reserved key of the lab secret that holds the
	// user's own token. It must not be provided by configuration.
	SecretKeyToken = "token"

	// DefaultFormName is the key of the spawner form template used for users
	// without a group-specific form.
	DefaultFormName = "default"
)

// ControllerConfiguration defines the configuration for the nublado-controller.
type ControllerConfiguration struct {
	// Safir holds the service metadata (name, profile, logging).
	Safir SafirConfiguration `json:"safir"`
	// BaseURL is the externally visible base URL of the service. It is used
	// to construct redirect locations.
	BaseURL string `json:"baseUrl"`
	// GafaelfawrURL is the base URL of the identity service that issued the
	// tokens forwarded by the ingress.
	GafaelfawrURL string `json:"gafaelfawrUrl"`
	// Server defines the configuration of the HTTP server.
	Server ServerConfiguration `json:"server"`
	// Kubernetes holds settings for talking to the cluster API.
	Kubernetes KubernetesConfiguration `json:"kubernetes"`
	// Lab configures the per-user lab environments.
	Lab LabConfiguration `json:"lab"`
	// Prepuller configures the image prepull reconciler.
	Prepuller PrepullerConfiguration `json:"prepuller"`
	// Form configures the spawner form templates.
	Form FormConfiguration `json:"form"`
}

// SafirConfiguration holds the service metadata.
type SafirConfiguration struct {
	// Name is the service name reported in logs.
	Name string `json:"name"`
	// Profile is the runtime profile. Must be one of [production,development].
	// The production profile logs JSON, the development profile logs
	// human-readable text.
	Profile string `json:"profile"`
	// LoggerName is the name of the root logger.
	LoggerName string `json:"loggerName"`
	// LogLevel is the level/severity for the logs. Must be one of [debug,info,error].
	LogLevel string `json:"logLevel"`
}

// ServerConfiguration contains details for the HTTP server.
type ServerConfiguration struct {
	// BindAddress is the IP address to listen on.
	BindAddress string `json:"bindAddress"`
	// Port is the port to listen on.
	Port int `json:"port"`
}

// KubernetesConfiguration holds settings for talking to the cluster API.
type KubernetesConfiguration struct {
	// RequestTimeout bounds every single call against the cluster API.
	RequestTimeout metav1.Duration `json:"requestTimeout"`
}

// LabConfiguration configures the per-user lab environments.
type LabConfiguration struct {
	// NamespacePrefix is the prefix of per-user namespaces. The namespace of
	// a user's lab is <prefix>-<username>.
	NamespacePrefix string `json:"namespacePrefix"`
	// Sizes maps size labels to their resource quantities. Only labels from
	// the known size name set are allowed.
	Sizes map[string]LabSize `json:"sizes"`
	// Env is the environment injected into every lab container.
	Env map[string]string `json:"env,omitempty"`
	// Files are files mounted into lab containers, e.g. the NSS passwd and
	// group databases.
	Files []LabFile `json:"files,omitempty"`
	// Volumes are additional volumes of the lab pod.
	Volumes []corev1.Volume `json:"volumes,omitempty"`
	// VolumeMounts are the mounts of Volumes into the notebook container.
	VolumeMounts []corev1.VolumeMount `json:"volumeMounts,omitempty"`
	// InitContainers run before the notebook container starts.
	InitContainers []corev1.Container `json:"initContainers,omitempty"`
	// Secrets are references to secrets in the controller namespace whose
	// keys are copied into the per-user lab secret.
	Secrets []LabSecret `json:"secrets,omitempty"`
	// Quota is an optional default namespace quota applied to labs whose
	// specification does not carry an explicit quota.
	Quota *LabQuota `json:"quota,omitempty"`
}

// KnownLabSizes is the closed set of valid size labels, in ascending order.
var KnownLabSizes = []string{
	"fine", "diminutive", "tiny", "small", "medium", "large", "huge", "gargantuan", "colossal",
}

// LabSize is the resource limit of a lab size label. Requests are derived
// from the limits by halving them.
type LabSize struct {
	// CPU is the CPU limit.
	CPU resource.Quantity `json:"cpu"`
	// Memory is the memory limit.
	Memory resource.Quantity `json:"memory"`
}

// LabFile is a file mounted into lab containers.
type LabFile struct {
	// Name identifies the file, e.g. "passwd" or "group".
	Name string `json:"name"`
	// MountPath is the path of the file inside the container.
	MountPath string `json:"mountPath"`
	// Contents is the verbatim file content.
	Contents string `json:"contents"`
	// Modify indicates that the user's own entry is appended at lab creation.
	Modify bool `json:"modify,omitempty"`
}

// LabSecret references a key of a secret in the controller namespace.
type LabSecret struct {
	// SecretName is the name of the source secret.
	SecretName string `json:"secretName"`
	// SecretKey is the key to copy into the per-user lab secret. The key
	// "token" is reserved for the user's own token.
	SecretKey string `json:"secretKey"`
}

// LabQuota is a namespace-wide resource quota.
type LabQuota struct {
	// CPU is the CPU quota.
	CPU resource.Quantity `json:"cpu"`
	// Memory is the memory quota.
	Memory resource.Quantity `json:"memory"`
}

// PrepullerConfiguration configures the image prepull reconciler.
type PrepullerConfiguration struct {
	// Config is the prepuller configuration.
	Config PrepullerConfig `json:"config"`
}

// PrepullerConfig is the prepuller configuration.
type PrepullerConfig struct {
	// RecommendedTag is the tag that is always the first menu entry when an
	// image carries it.
	RecommendedTag string `json:"recommendedTag"`
	// NumReleases is the number of release images in the menu.
	NumReleases int `json:"numReleases"`
	// NumWeeklies is the number of weekly images in the menu.
	NumWeeklies int `json:"numWeeklies"`
	// NumDailies is the number of daily images in the menu.
	NumDailies int `json:"numDailies"`
	// Cycle restricts the inventory to images of this SAL cycle.
	Cycle *int `json:"cycle,omitempty"`
	// AliasTags are tags whose parsed type is forced to alias.
	AliasTags []string `json:"aliasTags,omitempty"`
	// GAR describes a Google Artifact Registry image source. Exactly one of
	// GAR and Docker must be set.
	GAR *GARSourceConfig `json:"gar,omitempty"`
	// Docker describes a Docker registry image source. Exactly one of GAR
	// and Docker must be set.
	Docker *DockerSourceConfig `json:"docker,omitempty"`
	// NodeSelector restricts the inventory and the prepull campaigns to
	// nodes whose labels match. An empty selector selects all nodes.
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`
	// PollInterval is the sleep between reconciler ticks.
	PollInterval metav1.Duration `json:"pollInterval"`
	// PullTimeout bounds a single image pull campaign.
	PullTimeout metav1.Duration `json:"pullTimeout"`
}

// DockerSourceConfig describes a Docker registry image source.
type DockerSourceConfig struct {
	// Registry is the hostname of the registry.
	Registry string `json:"registry"`
	// Repository is the repository within the registry, e.g. "lsstsqre/sciplat-lab".
	Repository string `json:"repository"`
}

// GARSourceConfig describes a Google Artifact Registry image source.
type GARSourceConfig struct {
	// Registry is the hostname of the registry, e.g. "us-central1-docker.pkg.dev".
	Registry string `json:"registry"`
	// ProjectID is the Google Cloud project of the repository.
	ProjectID string `json:"projectId"`
	// Repository is the repository within the project.
	Repository string `json:"repository"`
	// Image is the image name within the repository.
	Image string `json:"image"`
}

// FormConfiguration configures the spawner form templates.
type FormConfiguration struct {
	// Forms maps group names to html/template sources. The key "default" is
	// required and used for users without a group-specific form.
	Forms map[string]string `json:"forms"`
}
