// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package kubernetes

import (
	"context"

	"k8s.io/apimachinery/pkg/api/meta"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/lsst-sqre/nublado-controller/pkg/utils/flow"
)

// ObjectName returns the name of the given object in the format <namespace>/<name>.
func ObjectName(obj client.Object) string {
	if obj.GetNamespace() == "" {
		return obj.GetName()
	}
	return client.ObjectKeyFromObject(obj).String()
}

// DeleteObject deletes a Kubernetes object. It ignores 'not found' and 'no match' errors.
func DeleteObject(ctx context.Context, c client.Writer, object client.Object) error {
	if err := c.Delete(ctx, object); client.IgnoreNotFound(err) != nil && !meta.IsNoMatchError(err) {
		return err
	}
	return nil
}

// DeleteObjects deletes the given Kubernetes objects in parallel, ignoring 'not found' errors.
func DeleteObjects(ctx context.Context, c client.Writer, objects ...client.Object) error {
	fns := make([]flow.TaskFn, 0, len(objects))
	for _, obj := range objects {
		o := obj
		fns = append(fns, func(ctx context.Context) error {
			return DeleteObject(ctx, c, o)
		})
	}

	return flow.Parallel(fns...)(ctx)
}
