// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lab

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/lab/events"
	"github.com/lsst-sqre/nublado-controller/pkg/utils/flow"
	kubernetesutils "github.com/lsst-sqre/nublado-controller/pkg/utils/kubernetes"
	"github.com/lsst-sqre/nublado-controller/pkg/utils/retry"
)

// namespaceRetryLimit bounds the delete-and-retry rounds for a contested
// user namespace.
const namespaceRetryLimit = 5

// namespacePollInterval is the poll interval while waiting for a namespace
// to disappear.
const namespacePollInterval = time.Second

// ImageResolver reports whether an image reference is known to the image
// inventory.
type ImageResolver interface {
	KnownImage(ctx context.Context, reference string) (bool, error)
}

// Manager drives the lifecycle of user labs.
type Manager struct {
	Client client.Client
	Config *config.ControllerConfiguration
	Events *events.Broker
	Users  *UserMap
	// Resolver validates requested images against the inventory. A nil
	// resolver accepts every image.
	Resolver ImageResolver
	Metrics  *Metrics
	// Namespace is the controller's own namespace, which holds the source
	// secrets merged into every lab secret.
	Namespace string
	// Retry performs the poll while waiting for a namespace to terminate.
	// A nil Retry waits with real sleeps.
	Retry retry.Ops
}

// Create validates the specification, atomically claims the user's lab slot
// and provisions the lab in the background. Progress is reported through the
// event broker. A second create while a record exists fails fast with an
// AlreadyExistsError and causes no cluster calls.
func (m *Manager) Create(ctx context.Context, user *gafaelfawr.UserInfo, spec *LabSpecification, token string) error {
	resources, err := m.resolveResources(spec)
	if err != nil {
		return err
	}

	record := &UserRecord{
		UserInfo:       *user,
		Options:        spec.Options,
		Env:            spec.Env,
		NamespaceQuota: spec.NamespaceQuota,
		Status:         StatusStarting,
		Pod:            PodMissing,
		Resources:      resources,
	}

	if err := m.Users.CreateIfAbsent(record); err != nil {
		return err
	}

	if m.Resolver != nil {
		known, err := m.Resolver.KnownImage(ctx, spec.Options.Image)
		if err != nil {
			m.Users.Remove(user.Username)
			return fmt.Errorf("failed resolving image %q: %w", spec.Options.Image, err)
		}
		if !known {
			m.Users.Remove(user.Username)
			return &InvalidSpecError{Field: "options.image", Detail: fmt.Sprintf("image %q is not part of the inventory", spec.Options.Image)}
		}
	}

	m.Events.Clear(user.Username)
	m.notify(user.Username, events.EventInfo, "Lab creation initiated", 2)

	go m.provision(context.WithoutCancel(ctx), record, token)

	return nil
}

// Delete marks the user's lab terminating and tears it down in the
// background. Deleting an absent lab returns a NotFoundError.
func (m *Manager) Delete(ctx context.Context, username string) error {
	if _, ok := m.Users.Get(username); !ok {
		return &NotFoundError{Username: username}
	}

	m.Users.SetStatus(username, StatusTerminating)
	m.Events.Clear(username)

	go m.teardown(context.WithoutCancel(ctx), username)

	return nil
}

// provision creates the namespace, the supporting resources and the lab pod.
// It owns the record's transition from starting to running or failed; a
// failed record stays observable until the user deletes the lab.
func (m *Manager) provision(ctx context.Context, record *UserRecord, token string) {
	log := logf.FromContext(ctx).WithValues("user", record.Username)

	if err := m.claimNamespace(ctx, record.Username, 0); err != nil {
		log.Error(err, "Failed claiming lab namespace")
		m.fail(record.Username, err)
		return
	}
	m.notify(record.Username, events.EventInfo, "Created user namespace", 20)

	tasks := []flow.TaskFn{
		func(ctx context.Context) error {
			secret, err := m.buildSecret(ctx, record, token)
			if err != nil {
				return err
			}
			return m.create(ctx, secret)
		},
		func(ctx context.Context) error { return m.create(ctx, m.buildNSSConfigMap(record)) },
		func(ctx context.Context) error { return m.create(ctx, m.buildEnvConfigMap(record)) },
		func(ctx context.Context) error { return m.create(ctx, m.buildNetworkPolicy(record)) },
		func(ctx context.Context) error {
			quota := m.buildQuota(record)
			if quota == nil {
				return nil
			}
			return m.create(ctx, quota)
		},
	}
	if err := flow.ParallelExitOnError(tasks...)(ctx); err != nil {
		log.Error(err, "Failed creating lab resources")
		m.fail(record.Username, err)
		return
	}
	m.notify(record.Username, events.EventInfo, "Created lab resources", 45)

	if err := m.create(ctx, m.buildPod(record)); err != nil {
		log.Error(err, "Failed creating lab pod")
		m.fail(record.Username, err)
		return
	}
	m.Users.SetPod(record.Username, PodPresent)
	m.notify(record.Username, events.EventInfo, "Submitted lab pod", 75)

	m.Users.SetStatus(record.Username, StatusRunning)
	m.notify(record.Username, events.EventComplete, "Lab is running", 100)
	m.Metrics.ObserveCreation(ResultSuccess)
	m.Metrics.SetRunning(len(m.Users.Running()))
	log.Info("Lab created")
}

// teardown deletes the user's namespace, which cascades to all lab
// resources, and then forgets the record.
func (m *Manager) teardown(ctx context.Context, username string) {
	log := logf.FromContext(ctx).WithValues("user", username)

	if err := m.deleteNamespaceAndWait(ctx, UserNamespace(m.Config.Lab.NamespacePrefix, username)); err != nil {
		log.Error(err, "Failed deleting lab namespace")
		m.Users.SetStatus(username, StatusFailed)
		m.Metrics.ObserveDeletion(ResultFailure)
		return
	}

	m.Events.Destroy(username)
	m.Users.Remove(username)
	m.Metrics.ObserveDeletion(ResultSuccess)
	m.Metrics.SetRunning(len(m.Users.Running()))
	log.Info("Lab deleted")
}

// claimNamespace creates the user namespace. A namespace left over from an
// earlier lab is deleted and the claim retried, at most namespaceRetryLimit
// times.
func (m *Manager) claimNamespace(ctx context.Context, username string, retries int) error {
	namespace := m.buildNamespace(username)

	if retries >= namespaceRetryLimit {
		return &NamespaceCollisionError{Namespace: namespace.Name, Retries: retries}
	}

	tctx, cancel := m.requestContext(ctx)
	err := m.Client.Create(tctx, namespace)
	cancel()
	if err == nil {
		return nil
	}
	if !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed creating namespace %q: %w", namespace.Name, err)
	}

	m.notify(username, events.EventInfo, fmt.Sprintf("Waiting for extant namespace %q to terminate", namespace.Name), 10)
	if err := m.deleteNamespaceAndWait(ctx, namespace.Name); err != nil {
		return err
	}

	return m.claimNamespace(ctx, username, retries+1)
}

// deleteNamespaceAndWait deletes a namespace and polls until it is gone. The
// wait is bounded by the cluster request timeout.
func (m *Manager) deleteNamespaceAndWait(ctx context.Context, name string) error {
	tctx, cancel := m.requestContext(ctx)
	err := kubernetesutils.DeleteObject(tctx, m.Client, &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}})
	cancel()
	if err != nil {
		return fmt.Errorf("failed deleting namespace %q: %w", name, err)
	}

	wctx, wcancel := m.requestContext(ctx)
	defer wcancel()

	if err := m.retryOps().Until(wctx, namespacePollInterval, func(ctx context.Context) (done bool, err error) {
		if err := m.Client.Get(ctx, client.ObjectKey{Name: name}, &corev1.Namespace{}); err != nil {
			if apierrors.IsNotFound(err) {
				return retry.Ok()
			}
			return retry.SevereError(err)
		}
		return retry.MinorError(fmt.Errorf("namespace %q is still present", name))
	}); err != nil {
		return fmt.Errorf("failed waiting for namespace %q to terminate: %w", name, err)
	}

	return nil
}

// create performs one bounded create call against the cluster.
func (m *Manager) create(ctx context.Context, object client.Object) error {
	tctx, cancel := m.requestContext(ctx)
	defer cancel()

	if err := m.Client.Create(tctx, object); err != nil {
		return fmt.Errorf("failed creating %T %s: %w", object, kubernetesutils.ObjectName(object), err)
	}
	return nil
}

// fail marks the record failed and ends the event stream.
func (m *Manager) fail(username string, err error) {
	m.Users.SetStatus(username, StatusFailed)
	m.notify(username, events.EventError, err.Error(), 0)
	m.notify(username, events.EventFailed, "Lab creation failed", 0)
	m.Metrics.ObserveCreation(ResultFailure)
}

func (m *Manager) notify(username string, eventType events.EventType, message string, progress int) {
	m.Events.Append(username, events.Event{Type: eventType, Message: message, Progress: progress})
}

// requestContext bounds one call against the cluster API.
func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.Config.Kubernetes.RequestTimeout.Duration)
}

func (m *Manager) retryOps() retry.Ops {
	if m.Retry != nil {
		return m.Retry
	}
	return retry.DefaultOps
}
