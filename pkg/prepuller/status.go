// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package prepuller

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	confighelper "github.com/lsst-sqre/nublado-controller/pkg/apis/config/helper"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/images/menu"
)

// TagLister lists the tags of the source repository.
type TagLister interface {
	ListTags(ctx context.Context) ([]string, error)
}

// Status is the report of the prepull status endpoint: the configuration,
// the desired images partitioned by prepull state and the node inventory.
type Status struct {
	Config config.PrepullerConfig `json:"config"`
	Images Contents               `json:"images"`
	Nodes  []inventory.Node       `json:"nodes"`
}

// Contents partitions the desired menu images by prepull state.
type Contents struct {
	// Prepulled are the desired images present on every eligible node.
	Prepulled []Image `json:"prepulled"`
	// Pending are the desired images missing on at least one eligible node.
	Pending []Image `json:"pending"`
}

// Image describes one desired image and the nodes it is present on.
type Image struct {
	// Path is the pullable tag reference of the image.
	Path string `json:"path"`
	// Name is the display name of the image.
	Name string `json:"name"`
	// Digest identifies the image contents.
	Digest string `json:"digest"`
	// Nodes are the eligible nodes that have the image cached.
	Nodes []string `json:"nodes"`
	// Missing are the eligible nodes that do not have the image cached yet.
	Missing []string `json:"missing,omitempty"`
}

// CurrentState takes a fresh inventory snapshot and retains it for
// KnownImage. The display endpoints derive their menus from it.
func (r *Reconciler) CurrentState(ctx context.Context) (*inventory.State, error) {
	state, err := r.Inventory.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	r.state.Store(state)
	return state, nil
}

// Status takes a fresh inventory snapshot and reports the prepull state of
// the desired menu.
func (r *Reconciler) Status(ctx context.Context) (*Status, error) {
	state, err := r.CurrentState(ctx)
	if err != nil {
		return nil, err
	}

	eligible := state.EligibleNodeNames()

	status := &Status{
		Config: *r.Config,
		Images: Contents{Prepulled: []Image{}, Pending: []Image{}},
		Nodes:  state.Nodes,
	}

	for _, image := range menu.Desired(state, r.Config).AllFromFront() {
		entry := Image{
			Path:   image.Reference(),
			Name:   image.Primary.DisplayName,
			Digest: image.Digest,
			Nodes:  image.Nodes,
		}
		if image.Prepulled {
			status.Images.Prepulled = append(status.Images.Prepulled, entry)
		} else {
			entry.Missing = missingNodes(image, eligible)
			status.Images.Pending = append(status.Images.Pending, entry)
		}
	}

	return status, nil
}

// KnownImage reports whether the reference denotes an image of the
// inventory, by tag or by digest. It backs the image validation of lab
// creation. Before the first reconciliation a fresh snapshot is taken.
// With a registry client wired, source repository tags that no node has
// cached yet are accepted as well.
func (r *Reconciler) KnownImage(ctx context.Context, reference string) (bool, error) {
	state := r.state.Load()
	if state == nil {
		var err error
		if state, err = r.CurrentState(ctx); err != nil {
			return false, err
		}
	}

	for _, image := range state.Images {
		if image.DigestReference() == reference {
			return true, nil
		}
		for raw := range image.Tags {
			if image.Path+":"+raw == reference {
				return true, nil
			}
		}
	}

	if r.Registry == nil {
		return false, nil
	}
	path, tagName := splitTagReference(reference)
	if tagName == "" || path != confighelper.SourcePath(r.Config) {
		return false, nil
	}
	tags, err := r.Registry.ListTags(ctx)
	if err != nil {
		return false, fmt.Errorf("failed listing source repository tags: %w", err)
	}
	return slices.Contains(tags, tagName), nil
}

// splitTagReference splits "host/repository:tag" at the colon after the
// last slash.
func splitTagReference(reference string) (path, tag string) {
	slash := strings.LastIndex(reference, "/")
	if colon := strings.LastIndex(reference, ":"); colon > slash {
		return reference[:colon], reference[colon+1:]
	}
	return reference, ""
}
