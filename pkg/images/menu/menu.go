// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package menu selects which inventory images are offered on the spawner
// form, and in which order.
package menu

import (
	orderedmap "github.com/elliotchance/orderedmap/v3"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/images/tag"
)

// Desired computes the menu the service wants to offer: the recommended
// image first, then the newest releases, weeklies and dailies up to their
// per-type caps, whether or not they are prepulled yet. Experimental and
// unknown images never enter the menu. The prepull reconciler drives the
// cluster towards this set. The map is keyed by primary tag.
func Desired(state *inventory.State, cfg *config.PrepullerConfig) *orderedmap.OrderedMap[string, *inventory.NodeImage] {
	m := orderedmap.NewOrderedMap[string, *inventory.NodeImage]()

	for _, image := range state.Images {
		if image.Primary.Raw == cfg.RecommendedTag {
			m.Set(image.Primary.Raw, image)
			break
		}
	}

	for _, section := range []struct {
		tagType tag.Type
		limit   int
	}{
		{tag.TypeRelease, cfg.NumReleases},
		{tag.TypeWeekly, cfg.NumWeeklies},
		{tag.TypeDaily, cfg.NumDailies},
	} {
		count := 0
		// The state's images are sorted newest first within their type, so a
		// single scan appends each section in descending order.
		for _, image := range state.Images {
			if count >= section.limit {
				break
			}
			if image.Primary.Type != section.tagType {
				continue
			}
			if m.Set(image.Primary.Raw, image) {
				count++
			}
		}
	}

	return m
}

// Menu is the visible spawner menu: the desired menu restricted to images
// that are already present on every eligible node.
func Menu(state *inventory.State, cfg *config.PrepullerConfig) *orderedmap.OrderedMap[string, *inventory.NodeImage] {
	m := orderedmap.NewOrderedMap[string, *inventory.NodeImage]()

	for raw, image := range Desired(state, cfg).AllFromFront() {
		if image.Prepulled {
			m.Set(raw, image)
		}
	}

	return m
}

// DisplayImages returns the visible menu plus the full inventory for the
// image dropdown, both keyed by primary tag. The dropdown also offers images
// that are not prepulled yet.
func DisplayImages(state *inventory.State, cfg *config.PrepullerConfig) (visible, all *orderedmap.OrderedMap[string, *inventory.NodeImage]) {
	visible = Menu(state, cfg)

	all = orderedmap.NewOrderedMap[string, *inventory.NodeImage]()
	for _, image := range state.Images {
		all.Set(image.Primary.Raw, image)
	}

	return visible, all
}
