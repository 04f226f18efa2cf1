// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package prepuller_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubernetesscheme "k8s.io/client-go/kubernetes/scheme"
	testclock "k8s.io/utils/clock/testing"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/prepuller"
)

var _ = Describe("Status", func() {
	var (
		ctx        context.Context
		reconciler *prepuller.Reconciler
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg := &config.PrepullerConfig{
			RecommendedTag: "recommended",
			NumReleases:    1,
			NumWeeklies:    2,
			NumDailies:     3,
			AliasTags:      []string{"recommended"},
			Docker: &config.DockerSourceConfig{
				Registry:   "registry.hub.docker.com",
				Repository: "lsstsqre/sciplat-lab",
			},
			PollInterval: metav1.Duration{Duration: time.Minute},
			PullTimeout:  metav1.Duration{Duration: 5 * time.Minute},
		}

		fakeClient := fakeclient.NewClientBuilder().WithScheme(kubernetesscheme.Scheme).
			WithObjects(
				&corev1.Node{
					ObjectMeta: metav1.ObjectMeta{Name: "n1"},
					Status: corev1.NodeStatus{Images: []corev1.ContainerImage{
						{Names: []string{path + "@sha256:rec", path + ":recommended"}, SizeBytes: 1 << 30},
						{Names: []string{path + "@sha256:w14", path + ":w_2023_14"}, SizeBytes: 1 << 30},
					}},
				},
				&corev1.Node{
					ObjectMeta: metav1.ObjectMeta{Name: "n2"},
					Status: corev1.NodeStatus{Images: []corev1.ContainerImage{
						{Names: []string{path + "@sha256:rec", path + ":recommended"}, SizeBytes: 1 << 30},
					}},
				},
			).
			Build()
		reconciler = &prepuller.Reconciler{
			Client:    fakeClient,
			Config:    cfg,
			Inventory: &inventory.Inventory{Client: fakeClient, Config: cfg},
			Clock:     testclock.NewFakeClock(time.Now()),
			Namespace: "nublado",
		}
	})

	Describe("#Status", func() {
		It("should partition the desired images by prepull state", func() {
			status, err := reconciler.Status(ctx)
			Expect(err).NotTo(HaveOccurred())

			Expect(status.Config.RecommendedTag).To(Equal("recommended"))
			Expect(status.Nodes).To(HaveLen(2))

			Expect(status.Images.Prepulled).To(ConsistOf(prepuller.Image{
				Path:   path + ":recommended",
				Name:   "Recommended",
				Digest: "sha256:rec",
				Nodes:  []string{"n1", "n2"},
			}))
			Expect(status.Images.Pending).To(ConsistOf(prepuller.Image{
				Path:    path + ":w_2023_14",
				Name:    "Weekly 2023_14",
				Digest:  "sha256:w14",
				Nodes:   []string{"n1"},
				Missing: []string{"n2"},
			}))
		})
	})

	Describe("#KnownImage", func() {
		It("should know the inventory images by tag and by digest", func() {
			Expect(reconciler.KnownImage(ctx, path+":w_2023_14")).To(BeTrue())
			Expect(reconciler.KnownImage(ctx, path+":recommended")).To(BeTrue())
			Expect(reconciler.KnownImage(ctx, path+"@sha256:w14")).To(BeTrue())
		})

		It("should refuse references outside the inventory", func() {
			Expect(reconciler.KnownImage(ctx, path+":w_2022_1")).To(BeFalse())
			Expect(reconciler.KnownImage(ctx, "registry.hub.docker.com/other/repo:w_2023_14")).To(BeFalse())
		})

		It("should accept registry tags that no node has cached yet", func() {
			reconciler.Registry = tagListerFunc(func(context.Context) ([]string, error) {
				return []string{"w_2023_15", "w_2023_14"}, nil
			})

			Expect(reconciler.KnownImage(ctx, path+":w_2023_15")).To(BeTrue())
			Expect(reconciler.KnownImage(ctx, path+":w_2022_1")).To(BeFalse())
		})

		It("should not consult the registry for references outside the source repository", func() {
			reconciler.Registry = tagListerFunc(func(context.Context) ([]string, error) {
				Fail("unexpected registry call")
				return nil, nil
			})

			Expect(reconciler.KnownImage(ctx, "registry.hub.docker.com/other/repo:w_2023_15")).To(BeFalse())
		})
	})
})

type tagListerFunc func(ctx context.Context) ([]string, error)

func (f tagListerFunc) ListTags(ctx context.Context) ([]string, error) { return f(ctx) }
