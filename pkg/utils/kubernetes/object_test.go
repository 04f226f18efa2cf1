// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package kubernetes_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	fakeclient "sigs.k8s.io/controller-runtime/pkg/client/fake"

	kubernetesutils "github.com/lsst-sqre/nublado-controller/pkg/utils/kubernetes"
)

var _ = Describe("Object", func() {
	var (
		ctx        = context.Background()
		fakeClient client.Client

		pod *corev1.Pod
	)

	BeforeEach(func() {
		fakeClient = fakeclient.NewClientBuilder().WithScheme(scheme.Scheme).Build()

		pod = &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "foo", Namespace: "bar"}}
	})

	Describe("#ObjectName", func() {
		It("should return namespace/name for namespaced objects", func() {
			Expect(kubernetesutils.ObjectName(pod)).To(Equal("bar/foo"))
		})

		It("should return the name only for cluster-scoped objects", func() {
			node := &corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "node-1"}}
			Expect(kubernetesutils.ObjectName(node)).To(Equal("node-1"))
		})
	})

	Describe("#DeleteObject", func() {
		It("should delete an existing object", func() {
			Expect(fakeClient.Create(ctx, pod)).To(Succeed())

			Expect(kubernetesutils.DeleteObject(ctx, fakeClient, pod)).To(Succeed())

			err := fakeClient.Get(ctx, client.ObjectKeyFromObject(pod), &corev1.Pod{})
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("should not fail for an absent object", func() {
			Expect(kubernetesutils.DeleteObject(ctx, fakeClient, pod)).To(Succeed())
		})
	})

	Describe("#DeleteObjects", func() {
		It("should delete all given objects", func() {
			pod2 := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "foo2", Namespace: "bar"}}
			Expect(fakeClient.Create(ctx, pod)).To(Succeed())
			Expect(fakeClient.Create(ctx, pod2)).To(Succeed())

			Expect(kubernetesutils.DeleteObjects(ctx, fakeClient, pod, pod2)).To(Succeed())

			podList := &corev1.PodList{}
			Expect(fakeClient.List(ctx, podList)).To(Succeed())
			Expect(podList.Items).To(BeEmpty())
		})
	})
})
