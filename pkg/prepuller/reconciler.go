// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package prepuller drives the cluster towards a state where every desired
// menu image is cached on every eligible node, by running short-lived pull
// pods on the nodes that miss an image.
package prepuller

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/clock"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/images/menu"
	"github.com/lsst-sqre/nublado-controller/pkg/utils/flow"
	kubernetesutils "github.com/lsst-sqre/nublado-controller/pkg/utils/kubernetes"
	"github.com/lsst-sqre/nublado-controller/pkg/utils/retry"
)

// pullPollInterval is the poll interval while waiting for a pull pod to
// succeed.
const pullPollInterval = 5 * time.Second

// pullPodUID is the uid pull pod containers run as. The container only
// sleeps, so any non-zero uid works.
const pullPodUID int64 = 1000

// Reconciler periodically compares the desired menu with the node image
// inventory and pulls missing images onto eligible nodes.
type Reconciler struct {
	Client    client.Client
	Config    *config.PrepullerConfig
	Inventory *inventory.Inventory
	Clock     clock.Clock
	Metrics   *Metrics
	// Registry, when set, extends KnownImage to tags of the source
	// repository that no node has cached yet. Optional.
	Registry TagLister
	// Namespace is the controller's own namespace, where pull pods run.
	Namespace string
	// Retry performs the poll while waiting for a pull pod to succeed.
	// A nil Retry waits with real sleeps.
	Retry retry.Ops

	lock   sync.Mutex
	active map[string]struct{}
	wg     sync.WaitGroup
	state  atomic.Pointer[inventory.State]
}

// Run reconciles in a loop until ctx is cancelled and then waits for all
// running pull campaigns to drain.
func (r *Reconciler) Run(ctx context.Context) error {
	log := logf.FromContext(ctx)
	log.Info("Starting prepull reconciler", "pollInterval", r.Config.PollInterval.Duration)

	for {
		if err := r.Reconcile(ctx); err != nil {
			log.Error(err, "Prepull reconciliation failed")
		}

		select {
		case <-ctx.Done():
			log.Info("Stopping prepull reconciler, draining pull campaigns")
			r.wg.Wait()
			return nil
		case <-r.Clock.After(r.Config.PollInterval.Duration):
		}
	}
}

// Reconcile runs one reconciliation pass: it snapshots the inventory and
// starts a pull campaign for every desired image that is missing on at least
// one eligible node. Campaigns run in the background; an image whose
// campaign is still running is skipped.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	log := logf.FromContext(ctx)

	state, err := r.Inventory.Snapshot(ctx)
	if err != nil {
		return err
	}
	r.state.Store(state)

	eligible := state.EligibleNodeNames()

	for _, image := range menu.Desired(state, r.Config).AllFromFront() {
		if image.Prepulled {
			continue
		}
		missing := missingNodes(image, eligible)
		if len(missing) == 0 {
			continue
		}

		if !r.register(image.Digest) {
			log.Info("Pull campaign still running, skipping image", "image", image.Reference())
			continue
		}

		r.wg.Add(1)
		go r.campaign(ctx, image.Reference(), image.Digest, missing)
	}

	return nil
}

// campaign pulls one image onto all given nodes in parallel, bounded by the
// configured pull timeout. Failures are only logged; the next snapshot
// reveals which nodes still miss the image.
func (r *Reconciler) campaign(ctx context.Context, reference, digest string, nodes []string) {
	defer r.wg.Done()
	defer r.deregister(digest)

	log := logf.FromContext(ctx).WithValues("image", reference)
	r.Metrics.ObserveCampaign()

	ctx, cancel := context.WithTimeout(ctx, r.Config.PullTimeout.Duration)
	defer cancel()

	tasks := make([]flow.TaskFn, 0, len(nodes))
	for _, node := range nodes {
		task := func(ctx context.Context) error {
			return r.pull(ctx, reference, node)
		}
		tasks = append(tasks, task)
	}

	if err := flow.Parallel(tasks...)(ctx); err != nil {
		log.Error(err, "Pull campaign did not complete on all nodes")
		return
	}
	log.Info("Pull campaign completed", "nodes", len(nodes))
}

// pull runs one pull pod on one node: create, wait until it succeeds, then
// delete it. The delete is best effort, a lingering pod does not fail the
// pull.
func (r *Reconciler) pull(ctx context.Context, reference, node string) error {
	pod := r.buildPullPod(reference, node)

	if err := r.Client.Create(ctx, pod); err != nil {
		r.Metrics.ObservePull(ResultFailure)
		return fmt.Errorf("failed creating pull pod %s: %w", kubernetesutils.ObjectName(pod), err)
	}

	if err := r.waitPodSucceeded(ctx, pod); err != nil {
		r.Metrics.ObservePull(ResultFailure)
		return err
	}

	if err := kubernetesutils.DeleteObject(ctx, r.Client, pod); err != nil {
		logf.FromContext(ctx).Error(err, "Failed deleting finished pull pod", "pod", kubernetesutils.ObjectName(pod))
	}

	r.Metrics.ObservePull(ResultSuccess)
	return nil
}

func (r *Reconciler) waitPodSucceeded(ctx context.Context, pod *corev1.Pod) error {
	return r.retryOps().Until(ctx, pullPollInterval, func(ctx context.Context) (done bool, err error) {
		latest := &corev1.Pod{}
		if err := r.Client.Get(ctx, client.ObjectKeyFromObject(pod), latest); err != nil {
			return retry.SevereError(err)
		}

		switch latest.Status.Phase {
		case corev1.PodSucceeded:
			return retry.Ok()
		case corev1.PodFailed:
			return retry.SevereError(fmt.Errorf("pull pod %s failed", kubernetesutils.ObjectName(pod)))
		default:
			return retry.MinorError(fmt.Errorf("pull pod %s is in phase %q", kubernetesutils.ObjectName(pod), latest.Status.Phase))
		}
	})
}

// buildPullPod returns a pod pinned to the given node whose only purpose is
// to make the node's container runtime pull the image.
func (r *Reconciler) buildPullPod(reference, node string) *corev1.Pod {
	short := shortName(reference)

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      sanitizeName("prepull-" + short + "-" + node),
			Namespace: r.Namespace,
		},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{
				Name:       sanitizeName("prepull-" + short),
				Image:      reference,
				Command:    []string{"/bin/sleep", "5"},
				WorkingDir: "/tmp",
				SecurityContext: &corev1.SecurityContext{
					RunAsNonRoot: ptr.To(true),
					RunAsUser:    ptr.To(pullPodUID),
				},
			}},
			NodeName:      node,
			RestartPolicy: corev1.RestartPolicyNever,
		},
	}
}

func (r *Reconciler) register(digest string) bool {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.active[digest]; ok {
		return false
	}
	if r.active == nil {
		r.active = map[string]struct{}{}
	}
	r.active[digest] = struct{}{}
	return true
}

func (r *Reconciler) deregister(digest string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.active, digest)
}

func (r *Reconciler) retryOps() retry.Ops {
	if r.Retry != nil {
		return r.Retry
	}
	return retry.DefaultOps
}

// missingNodes returns the eligible nodes that do not have the image cached.
func missingNodes(image *inventory.NodeImage, eligible []string) []string {
	var missing []string
	for _, node := range eligible {
		if !slices.Contains(image.Nodes, node) {
			missing = append(missing, node)
		}
	}
	return missing
}

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// sanitizeName converts s into a DNS-1123 label usable as pod or container
// name.
func sanitizeName(s string) string {
	s = invalidNameChars.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if len(s) > 63 {
		s = strings.TrimRight(s[:63], "-")
	}
	return s
}

// shortName returns the last path segment of an image reference, including
// its tag.
func shortName(reference string) string {
	if i := strings.LastIndex(reference, "/"); i >= 0 {
		return reference[i+1:]
	}
	return reference
}
