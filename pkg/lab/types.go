// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package lab manages the lifecycle of per-user JupyterLab environments:
// one namespace per user, populated with the secret, config maps, network
// policy, quota and pod the lab needs.
package lab

import (
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
)

// Status is the lifecycle phase of a user lab.
type Status string

const (
	// StatusStarting means the lab resources are being created.
	StatusStarting Status = "starting"
	// StatusRunning means the lab pod has been submitted successfully.
	StatusRunning Status = "running"
	// StatusTerminating means the lab is being torn down.
	StatusTerminating Status = "terminating"
	// StatusFailed means the last operation on the lab failed; the record
	// stays observable until the lab is deleted.
	StatusFailed Status = "failed"
)

// PodState reports whether the lab pod has been submitted.
type PodState string

const (
	// PodMissing means no lab pod exists.
	PodMissing PodState = "missing"
	// PodPresent means the lab pod has been submitted.
	PodPresent PodState = "present"
)

// UserOptions are the spawner form selections of a lab request.
type UserOptions struct {
	// Debug enables verbose logging inside the lab.
	Debug bool `json:"debug,omitempty"`
	// Image is the reference of the lab image to spawn.
	Image string `json:"image"`
	// ResetUserEnv moves the user's local environment aside before the lab
	// starts.
	ResetUserEnv bool `json:"resetUserEnv,omitempty"`
	// Size is the lab size label from the configured size table.
	Size string `json:"size"`
}

// ResourceQuantum is a cpu/memory pair.
type ResourceQuantum struct {
	// CPU is the CPU quantity.
	CPU resource.Quantity `json:"cpu"`
	// Memory is the memory quantity.
	Memory resource.Quantity `json:"memory"`
}

// UserResources are the resolved resources of a lab.
type UserResources struct {
	// Limits are the lab container limits.
	Limits ResourceQuantum `json:"limits"`
	// Requests are the lab container requests, half of the limits.
	Requests ResourceQuantum `json:"requests"`
}

// LabSpecification is the user-facing lab request.
type LabSpecification struct {
	// Options are the spawner form selections.
	Options UserOptions `json:"options"`
	// Env overrides and extends the configured lab environment.
	Env map[string]string `json:"env,omitempty"`
	// NamespaceQuota overrides the configured default namespace quota.
	NamespaceQuota *ResourceQuantum `json:"namespaceQuota,omitempty"`
}

// UserRecord is the controller's record of one user's lab.
type UserRecord struct {
	// UserInfo identifies the lab owner.
	gafaelfawr.UserInfo
	// Options are the accepted spawner form selections.
	Options UserOptions `json:"options"`
	// Env are the accepted environment overrides.
	Env map[string]string `json:"env,omitempty"`
	// NamespaceQuota is the accepted namespace quota override.
	NamespaceQuota *ResourceQuantum `json:"namespaceQuota,omitempty"`
	// Status is the lifecycle phase of the lab.
	Status Status `json:"status"`
	// Pod reports whether the lab pod has been submitted.
	Pod PodState `json:"pod"`
	// Resources are the resolved lab resources.
	Resources UserResources `json:"resources"`
}
