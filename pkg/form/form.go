// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package form renders the JupyterHub spawner form of a user from the
// configured HTML templates.
package form

import (
	"fmt"
	"html/template"
	"io"

	"github.com/Masterminds/sprig/v3"
	"github.com/elliotchance/orderedmap/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
)

// DropdownSentinel is the image_list value a form submits when the image
// choice is deferred to the dropdown of uncached images.
const DropdownSentinel = "use_image_from_dropdown"

// Image is one selectable image of the spawner form.
type Image struct {
	// Path is the pullable reference submitted with the form.
	Path string
	// Name is the display name shown beside the control.
	Name string
}

// Size is one selectable lab size of the spawner form.
type Size struct {
	// Name is the title-cased size label.
	Name string
	// CPU is the CPU limit shown beside the label.
	CPU string
	// Memory is the memory limit shown beside the label.
	Memory string
}

// Data is the payload form templates are rendered with.
type Data struct {
	// DropdownSentinel is the image_list value that defers the image choice
	// to the dropdown.
	DropdownSentinel string
	// CachedImages are the prepulled menu images.
	CachedImages []Image
	// AllImages are all images of the inventory, offered in the dropdown.
	AllImages []Image
	// Sizes are the selectable lab sizes, ascending.
	Sizes []Size
}

// Renderer renders spawner forms from the configured templates.
type Renderer struct {
	templates map[string]*template.Template
	sizes     []Size
}

// New parses the form templates with sprig's HTML function map and prepares
// the size list shown on every form. The templates must include the default
// one.
func New(forms map[string]string, sizes map[string]config.LabSize) (*Renderer, error) {
	r := &Renderer{templates: make(map[string]*template.Template, len(forms))}

	for name, source := range forms {
		tpl, err := template.New(name).Funcs(sprig.HtmlFuncMap()).Parse(source)
		if err != nil {
			return nil, fmt.Errorf("failed parsing form template %q: %w", name, err)
		}
		r.templates[name] = tpl
	}
	if _, ok := r.templates[config.DefaultFormName]; !ok {
		return nil, fmt.Errorf("no %q form template is configured", config.DefaultFormName)
	}

	titler := cases.Title(language.English)
	for _, name := range config.KnownLabSizes {
		size, ok := sizes[name]
		if !ok {
			continue
		}
		r.sizes = append(r.sizes, Size{
			Name:   titler.String(name),
			CPU:    size.CPU.String(),
			Memory: size.Memory.String(),
		})
	}

	return r, nil
}

// Render writes the spawner form of the user. The first of the user's groups
// with a dedicated template selects it, all other users get the default one.
func (r *Renderer) Render(w io.Writer, user *gafaelfawr.UserInfo, visible, all *orderedmap.OrderedMap[string, *inventory.NodeImage]) error {
	tpl := r.templates[config.DefaultFormName]
	for _, group := range user.Groups {
		if t, ok := r.templates[group.Name]; ok {
			tpl = t
			break
		}
	}

	data := Data{
		DropdownSentinel: DropdownSentinel,
		CachedImages:     formImages(visible),
		AllImages:        formImages(all),
		Sizes:            r.sizes,
	}

	if err := tpl.Execute(w, data); err != nil {
		return fmt.Errorf("failed rendering form template %q: %w", tpl.Name(), err)
	}
	return nil
}

func formImages(images *orderedmap.OrderedMap[string, *inventory.NodeImage]) []Image {
	out := make([]Image, 0, images.Len())
	for _, image := range images.AllFromFront() {
		out = append(out, Image{Path: image.Reference(), Name: image.Primary.DisplayName})
	}
	return out
}
