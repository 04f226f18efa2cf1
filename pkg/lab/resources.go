// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lab

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
)

const (
	// labContainerName is the name of the notebook container.
	labContainerName = "notebook"
	// labPort is the port JupyterLab listens on.
	labPort = 8888
	// labCommand is the startup script baked into every sciplat-lab image.
	labCommand = "/opt/lsst/software/jupyterlab/runlab.sh"
	// labSecretsPath is where the lab secret is mounted into the container.
	labSecretsPath = "/opt/lsst/software/jupyterlab/secrets"
)

// UserNamespace returns the namespace of a user's lab.
func UserNamespace(prefix, username string) string {
	return prefix + "-" + username
}

func userResourceName(username string) string { return "nb-" + username }
func userNSSName(username string) string      { return "nb-" + username + "-nss" }
func userEnvName(username string) string      { return "nb-" + username + "-env" }

// labLabels are the common labels of all per-user lab objects.
func labLabels(username string) map[string]string {
	return map[string]string{
		"app":                  "lab",
		"nublado.lsst.io/user": username,
	}
}

// halfOf returns half the quantity, preserving its format.
func halfOf(quantity resource.Quantity) resource.Quantity {
	return *resource.NewMilliQuantity(quantity.MilliValue()/2, quantity.Format)
}

// resolveResources maps the requested size label to concrete lab resources.
// Requests are half the configured limits.
func (m *Manager) resolveResources(spec *LabSpecification) (UserResources, error) {
	size, ok := m.Config.Lab.Sizes[spec.Options.Size]
	if !ok {
		return UserResources{}, &InvalidSpecError{Field: "options.size", Detail: fmt.Sprintf("unknown size label %q", spec.Options.Size)}
	}

	return UserResources{
		Limits:   ResourceQuantum{CPU: size.CPU, Memory: size.Memory},
		Requests: ResourceQuantum{CPU: halfOf(size.CPU), Memory: halfOf(size.Memory)},
	}, nil
}

func (m *Manager) buildNamespace(username string) *corev1.Namespace {
	return &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{
		Name:   UserNamespace(m.Config.Lab.NamespacePrefix, username),
		Labels: labLabels(username),
	}}
}

// buildSecret merges the configured controller secrets into the per-user lab
// secret and adds the user's own token under the reserved key. The token is
// stored base64-encoded, which is what the lab startup script expects.
func (m *Manager) buildSecret(ctx context.Context, record *UserRecord, token string) (*corev1.Secret, error) {
	data := map[string][]byte{}

	for _, ref := range m.Config.Lab.Secrets {
		source := &corev1.Secret{}
		if err := m.Client.Get(ctx, client.ObjectKey{Namespace: m.Namespace, Name: ref.SecretName}, source); err != nil {
			return nil, fmt.Errorf("failed reading source secret %s/%s: %w", m.Namespace, ref.SecretName, err)
		}

		value, ok := source.Data[ref.SecretKey]
		if !ok {
			return nil, fmt.Errorf("source secret %s/%s has no key %q", m.Namespace, ref.SecretName, ref.SecretKey)
		}
		if _, exists := data[ref.SecretKey]; exists {
			return nil, fmt.Errorf("duplicate key %q in lab secret configuration", ref.SecretKey)
		}
		data[ref.SecretKey] = value
	}

	data[config.SecretKeyToken] = []byte(base64.StdEncoding.EncodeToString([]byte(token)))

	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userResourceName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Type: corev1.SecretTypeOpaque,
		Data: data,
	}, nil
}

// buildNSSConfigMap renders the NSS files with the user's own entries
// appended. The keys are the file names, the mount paths come from the file
// configuration.
func (m *Manager) buildNSSConfigMap(record *UserRecord) *corev1.ConfigMap {
	data := map[string]string{}

	for _, file := range m.Config.Lab.Files {
		contents := file.Contents
		if file.Modify {
			if contents != "" && !strings.HasSuffix(contents, "\n") {
				contents += "\n"
			}
			contents += nssEntries(file.Name, record)
		}
		data[file.Name] = contents
	}

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userNSSName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Data: data,
	}
}

// nssEntries renders the user's passwd or group lines. The group file also
// lists the user's supplemental groups so that names resolve inside the lab.
func nssEntries(fileName string, record *UserRecord) string {
	switch fileName {
	case "passwd":
		return fmt.Sprintf("%s:x:%d:%d:%s:/home/%s:/bin/bash\n", record.Username, record.UID, record.GID, record.Name, record.Username)

	case "group":
		entries := &strings.Builder{}
		fmt.Fprintf(entries, "%s:x:%d:\n", record.Username, record.GID)
		for _, group := range record.Groups {
			if group.ID == 0 || group.ID == record.GID {
				continue
			}
			fmt.Fprintf(entries, "%s:x:%d:%s\n", group.Name, group.ID, record.Username)
		}
		return entries.String()
	}

	return ""
}

// buildEnvConfigMap merges the configured lab environment with the request's
// overrides and the values derived from the accepted specification.
func (m *Manager) buildEnvConfigMap(record *UserRecord) *corev1.ConfigMap {
	env := map[string]string{}
	for key, value := range m.Config.Lab.Env {
		env[key] = value
	}
	for key, value := range record.Env {
		env[key] = value
	}

	env["JUPYTER_IMAGE_SPEC"] = record.Options.Image
	env["CPU_LIMIT"] = record.Resources.Limits.CPU.String()
	env["CPU_GUARANTEE"] = record.Resources.Requests.CPU.String()
	env["MEM_LIMIT"] = record.Resources.Limits.Memory.String()
	env["MEM_GUARANTEE"] = record.Resources.Requests.Memory.String()
	env["EXTERNAL_INSTANCE_URL"] = m.Config.BaseURL
	if record.Options.Debug {
		env["DEBUG"] = "TRUE"
	}
	if record.Options.ResetUserEnv {
		env["RESET_USER_ENV"] = "TRUE"
	}

	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userEnvName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Data: env,
	}
}

// buildNetworkPolicy restricts ingress to the lab port.
func (m *Manager) buildNetworkPolicy(record *UserRecord) *networkingv1.NetworkPolicy {
	return &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userEnvName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: map[string]string{"app": "lab"}},
			PolicyTypes: []networkingv1.PolicyType{networkingv1.PolicyTypeIngress},
			Ingress: []networkingv1.NetworkPolicyIngressRule{{
				Ports: []networkingv1.NetworkPolicyPort{{
					Protocol: ptr.To(corev1.ProtocolTCP),
					Port:     ptr.To(intstr.FromInt32(labPort)),
				}},
			}},
		},
	}
}

// buildQuota derives the namespace quota from the accepted specification,
// falling back to the configured default. Without either there is no quota
// and nil is returned.
func (m *Manager) buildQuota(record *UserRecord) *corev1.ResourceQuota {
	quota := record.NamespaceQuota
	if quota == nil && m.Config.Lab.Quota != nil {
		quota = &ResourceQuantum{CPU: m.Config.Lab.Quota.CPU, Memory: m.Config.Lab.Quota.Memory}
	}
	if quota == nil {
		return nil
	}

	return &corev1.ResourceQuota{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userResourceName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Spec: corev1.ResourceQuotaSpec{
			Hard: corev1.ResourceList{
				"limits.cpu":    quota.CPU,
				"limits.memory": quota.Memory,
			},
		},
	}
}

// buildPod assembles the lab pod: a single notebook container plus the
// configured init containers, with the NSS files, the lab secret and the
// configured volumes mounted.
func (m *Manager) buildPod(record *UserRecord) *corev1.Pod {
	volumes := []corev1.Volume{
		{
			Name: "nss",
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{Name: userNSSName(record.Username)},
				},
			},
		},
		{
			Name: "secrets",
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: userResourceName(record.Username)},
			},
		},
	}
	volumes = append(volumes, m.Config.Lab.Volumes...)

	mounts := []corev1.VolumeMount{
		{Name: "secrets", MountPath: labSecretsPath, ReadOnly: true},
	}
	for _, file := range m.Config.Lab.Files {
		mounts = append(mounts, corev1.VolumeMount{
			Name:      "nss",
			MountPath: file.MountPath,
			SubPath:   file.Name,
			ReadOnly:  true,
		})
	}
	mounts = append(mounts, m.Config.Lab.VolumeMounts...)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      userResourceName(record.Username),
			Namespace: UserNamespace(m.Config.Lab.NamespacePrefix, record.Username),
			Labels:    labLabels(record.Username),
		},
		Spec: corev1.PodSpec{
			InitContainers: m.Config.Lab.InitContainers,
			Containers: []corev1.Container{{
				Name:       labContainerName,
				Image:      record.Options.Image,
				Args:       []string{labCommand},
				WorkingDir: "/home/" + record.Username,
				EnvFrom: []corev1.EnvFromSource{{
					ConfigMapRef: &corev1.ConfigMapEnvSource{
						LocalObjectReference: corev1.LocalObjectReference{Name: userEnvName(record.Username)},
					},
				}},
				Ports: []corev1.ContainerPort{{Name: "jupyterlab", ContainerPort: labPort, Protocol: corev1.ProtocolTCP}},
				Resources: corev1.ResourceRequirements{
					Limits: corev1.ResourceList{
						corev1.ResourceCPU:    record.Resources.Limits.CPU,
						corev1.ResourceMemory: record.Resources.Limits.Memory,
					},
					Requests: corev1.ResourceList{
						corev1.ResourceCPU:    record.Resources.Requests.CPU,
						corev1.ResourceMemory: record.Resources.Requests.Memory,
					},
				},
				SecurityContext: &corev1.SecurityContext{
					AllowPrivilegeEscalation: ptr.To(false),
				},
				VolumeMounts: mounts,
			}},
			RestartPolicy: corev1.RestartPolicyOnFailure,
			SecurityContext: &corev1.PodSecurityContext{
				RunAsNonRoot: ptr.To(true),
				RunAsUser:    ptr.To(record.UID),
				RunAsGroup:   ptr.To(record.GID),
				FSGroup:      ptr.To(record.GID),
			},
			Volumes: volumes,
		},
	}
}
