// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"github.com/lsst-sqre/nublado-controller/pkg/images/tag"
)

// NodeImage is one image of the inventory, identified by its digest and
// merged across all eligible nodes that have it cached.
type NodeImage struct {
	// Path is the repository path of the image, without tag or digest.
	Path string
	// Digest identifies the image contents, e.g. "sha256:e6e1…".
	Digest string
	// Tags maps every raw tag the image carries to its display name.
	Tags map[string]string
	// Size is the image size in bytes as reported by the first node that
	// sighted it.
	Size int64
	// Nodes are the names of the eligible nodes that have the image cached,
	// sorted.
	Nodes []string
	// Primary is the consolidated tag the image is presented under.
	Primary tag.Tag
	// Prepulled is true when every eligible node has the image cached.
	Prepulled bool
}

// Reference returns the pullable tag reference of the image.
func (i *NodeImage) Reference() string {
	return i.Path + ":" + i.Primary.Raw
}

// DigestReference returns the content-addressed reference of the image.
func (i *NodeImage) DigestReference() string {
	return i.Path + "@" + i.Digest
}

// Node is a cluster node as seen by the inventory.
type Node struct {
	// Name is the node name.
	Name string `json:"name"`
	// Eligible is true when the node participates in prepulling.
	Eligible bool `json:"eligible"`
	// Comment explains why an ineligible node was excluded.
	Comment string `json:"comment,omitempty"`
	// Cached are the digest references of the inventory images cached on
	// the node.
	Cached []string `json:"cached"`
}

// State is one consistent snapshot of the image inventory.
type State struct {
	// Images are the merged inventory images, one per digest, newest first.
	Images []*NodeImage
	// Nodes are all cluster nodes with their eligibility.
	Nodes []Node
}

// EligibleNodeNames returns the sorted names of all eligible nodes.
func (s *State) EligibleNodeNames() []string {
	var names []string
	for _, node := range s.Nodes {
		if node.Eligible {
			names = append(names, node.Name)
		}
	}
	return names
}

// Image returns the inventory image with the given digest, or nil.
func (s *State) Image(digest string) *NodeImage {
	for _, image := range s.Images {
		if image.Digest == digest {
			return image
		}
	}
	return nil
}
