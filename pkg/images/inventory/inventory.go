// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package inventory distills the image reports of the cluster nodes into a
// consistent snapshot of which science platform images exist where.
package inventory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"github.com/samber/lo"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	confighelper "github.com/lsst-sqre/nublado-controller/pkg/apis/config/helper"
	"github.com/lsst-sqre/nublado-controller/pkg/images/tag"
)

// DigestResolver resolves an image tag of the source repository to its
// content digest.
type DigestResolver interface {
	GetImageDigest(ctx context.Context, tag string) (string, error)
}

// Inventory computes snapshots of the cluster's image state.
type Inventory struct {
	Client client.Client
	Config *config.PrepullerConfig
	// Registry resolves digests for node image reports that only carry tag
	// names. Optional; without it such reports are dropped.
	Registry DigestResolver
}

// sighting is one report of the source image on one node.
type sighting struct {
	node   string
	path   string
	digest string
	tags   []string
	size   int64
}

// Snapshot lists the cluster nodes once and distills their image reports
// into a consistent inventory state.
func (i *Inventory) Snapshot(ctx context.Context) (*State, error) {
	log := logf.FromContext(ctx)

	nodeList := &corev1.NodeList{}
	if err := i.Client.List(ctx, nodeList); err != nil {
		return nil, fmt.Errorf("failed listing cluster nodes: %w", err)
	}

	var (
		state     = &State{}
		sightings []sighting
		imageName = confighelper.SourceImageName(i.Config)
	)

	for _, node := range nodeList.Items {
		eligible, comment := i.nodeEligibility(&node)
		state.Nodes = append(state.Nodes, Node{Name: node.Name, Eligible: eligible, Comment: comment, Cached: []string{}})
		if !eligible {
			continue
		}

		for _, report := range node.Status.Images {
			s, ok := extractSighting(log, node.Name, imageName, report)
			if !ok {
				continue
			}
			if s.digest == "" {
				if s.digest = i.resolveDigest(ctx, log, s.tags); s.digest == "" {
					continue
				}
			}
			sightings = append(sightings, s)
		}
	}

	sort.Slice(state.Nodes, func(a, b int) bool { return state.Nodes[a].Name < state.Nodes[b].Name })

	state.Images = i.merge(log, sightings)
	i.finalize(state)

	return state, nil
}

// nodeEligibility decides whether a node participates in prepulling. Pull
// pods bind directly to their node and bypass the scheduler, so of the
// taints only NoExecute matters.
func (i *Inventory) nodeEligibility(node *corev1.Node) (bool, string) {
	if node.Spec.Unschedulable {
		return false, "node is marked unschedulable"
	}

	for key, value := range i.Config.NodeSelector {
		if node.Labels[key] != value {
			return false, fmt.Sprintf("node labels do not match the configured selector %s=%s", key, value)
		}
	}

	for _, taint := range node.Spec.Taints {
		if taint.Effect == corev1.TaintEffectNoExecute {
			return false, fmt.Sprintf("node carries a %s taint (%s)", corev1.TaintEffectNoExecute, taint.Key)
		}
	}

	return true, ""
}

// extractSighting filters one node image report down to the configured
// source image. A report whose names disagree on the digest is inconsistent
// and dropped as a whole.
func extractSighting(log logr.Logger, nodeName, imageName string, report corev1.ContainerImage) (sighting, bool) {
	s := sighting{node: nodeName, size: report.SizeBytes}

	for _, name := range report.Names {
		if path, digest, ok := strings.Cut(name, "@"); ok {
			if lastPathSegment(path) != imageName {
				continue
			}
			if s.digest != "" && s.digest != digest {
				log.Info("Dropping node image report with conflicting digests", "node", nodeName, "digest", s.digest, "conflictingDigest", digest)
				return sighting{}, false
			}
			s.digest, s.path = digest, path
			continue
		}

		path, tagName := splitTagReference(name)
		if tagName == "" || lastPathSegment(path) != imageName {
			continue
		}
		if s.path == "" {
			s.path = path
		}
		s.tags = append(s.tags, tagName)
	}

	return s, s.digest != "" || len(s.tags) > 0
}

// resolveDigest asks the registry for the digest of a tag-only sighting.
// Such sightings are dropped when no registry client is wired or the lookup
// fails.
func (i *Inventory) resolveDigest(ctx context.Context, log logr.Logger, tags []string) string {
	if i.Registry == nil || len(tags) == 0 {
		return ""
	}

	digest, err := i.Registry.GetImageDigest(ctx, tags[0])
	if err != nil {
		log.Error(err, "Failed resolving the digest of a tag-only image report", "tag", tags[0])
		return ""
	}
	return digest
}

// merge folds all sightings into one image per digest. The first sighting of
// a digest fixes its path; a later sighting of the same digest under a
// different path is inconsistent and discarded.
func (i *Inventory) merge(log logr.Logger, sightings []sighting) []*NodeImage {
	var (
		byDigest = map[string]*NodeImage{}
		order    []string
	)

	for _, s := range sightings {
		image, ok := byDigest[s.digest]
		if !ok {
			image = &NodeImage{Path: s.path, Digest: s.digest, Tags: map[string]string{}, Size: s.size}
			byDigest[s.digest] = image
			order = append(order, s.digest)
		}

		if image.Path != s.path {
			log.Info("Discarding image sighting with mismatching path", "digest", s.digest, "path", image.Path, "conflictingPath", s.path, "node", s.node)
			continue
		}

		for _, t := range s.tags {
			image.Tags[t] = ""
		}
		if !slices.Contains(image.Nodes, s.node) {
			image.Nodes = append(image.Nodes, s.node)
		}
	}

	var images []*NodeImage
	for _, digest := range order {
		if image := i.consolidate(byDigest[digest]); image != nil {
			images = append(images, image)
		}
	}
	return images
}

// consolidate parses and filters an image's tags and elects the primary tag:
// the recommended tag when the image carries it, otherwise the newest tag of
// the most significant type. Images left without any presentable tag are
// dropped.
func (i *Inventory) consolidate(image *NodeImage) *NodeImage {
	var (
		buckets = map[tag.Type][]tag.Tag{}
		display = map[string]string{}
	)

	for raw := range image.Tags {
		t := tag.ParseWithAliases(raw, i.Config.AliasTags)
		if i.Config.Cycle != nil && (t.Cycle == nil || *t.Cycle != *i.Config.Cycle) {
			continue
		}
		display[raw] = t.DisplayName
		buckets[t.Type] = append(buckets[t.Type], t)
	}

	if len(display) == 0 {
		return nil
	}
	image.Tags = display

	if _, ok := display[i.Config.RecommendedTag]; ok {
		image.Primary = tag.ParseWithAliases(i.Config.RecommendedTag, i.Config.AliasTags)
		return image
	}

	for _, tagType := range tag.Types() {
		bucket := buckets[tagType]
		if len(bucket) == 0 {
			continue
		}

		best := bucket[0]
		for _, candidate := range bucket[1:] {
			if tag.Newer(candidate, best) {
				best = candidate
			}
		}
		image.Primary = best
		break
	}

	return image
}

// finalize computes the prepulled flags and the per-node cache lists and
// brings images and node lists into their canonical order.
func (i *Inventory) finalize(state *State) {
	eligible := state.EligibleNodeNames()

	for _, image := range state.Images {
		sort.Strings(image.Nodes)
		image.Prepulled = lo.Every(image.Nodes, eligible)
	}

	sort.SliceStable(state.Images, func(a, b int) bool {
		return tag.Newer(state.Images[a].Primary, state.Images[b].Primary)
	})

	for n := range state.Nodes {
		node := &state.Nodes[n]
		for _, image := range state.Images {
			if slices.Contains(image.Nodes, node.Name) {
				node.Cached = append(node.Cached, image.DigestReference())
			}
		}
	}
}

func lastPathSegment(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// splitTagReference splits "<path>:<tag>" at the tag colon, which must come
// after the last slash so that registry ports are not mistaken for tags.
func splitTagReference(name string) (string, string) {
	slash := strings.LastIndex(name, "/")
	if colon := strings.LastIndex(name, ":"); colon > slash {
		return name[:colon], name[colon+1:]
	}
	return name, ""
}
