// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	orderedmap "github.com/elliotchance/orderedmap/v3"
	"github.com/gorilla/mux"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/lsst-sqre/nublado-controller/pkg/images/inventory"
	"github.com/lsst-sqre/nublado-controller/pkg/images/menu"
	"github.com/lsst-sqre/nublado-controller/pkg/lab"
	"github.com/lsst-sqre/nublado-controller/pkg/lab/events"
)

// sseKeepaliveInterval is the pause after which an idle event stream emits a
// comment frame, keeping intermediate proxies from closing the connection.
const sseKeepaliveInterval = 30 * time.Second

// DisplayImage is one image of the images listing.
type DisplayImage struct {
	// Path is the pullable tag reference.
	Path string `json:"path"`
	// Name is the display name.
	Name string `json:"name"`
	// Digest identifies the image contents.
	Digest string `json:"digest"`
	// Prepulled reports whether every eligible node has the image cached.
	Prepulled bool `json:"prepulled"`
}

// ImageList is the payload of the images listing: the menu in display order
// and the full inventory.
type ImageList struct {
	Menu []DisplayImage `json:"menu"`
	All  []DisplayImage `json:"all"`
}

// listLabs returns the names of all users with running labs.
func (s *Server) listLabs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Users.Running())
}

// getLab returns the lab record of a user.
func (s *Server) getLab(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	record, ok := s.Users.Get(username)
	if !ok {
		writeError(w, &lab.NotFoundError{Username: username})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// createLab starts the lab creation for a user and redirects to the record.
func (s *Server) createLab(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	spec := &lab.LabSpecification{}
	if err := json.NewDecoder(r.Body).Decode(spec); err != nil {
		writeStatus(w, http.StatusBadRequest, fmt.Sprintf("invalid lab specification: %v", err))
		return
	}

	token := bearerToken(r)
	user, err := s.Identity.UserInfo(r.Context(), token)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.Labs.Create(r.Context(), user, spec, token); err != nil {
		writeError(w, err)
		return
	}

	http.Redirect(w, r, s.recordURL(username), http.StatusSeeOther)
}

// deleteLab starts the teardown of a user's lab.
func (s *Server) deleteLab(w http.ResponseWriter, r *http.Request) {
	if err := s.Labs.Delete(r.Context(), mux.Vars(r)["username"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// userStatus returns the lab record of the token's user.
func (s *Server) userStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.Identity.TokenInfo(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}

	record, ok := s.Users.Get(info.Username)
	if !ok {
		writeError(w, &lab.NotFoundError{Username: info.Username})
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// streamEvents streams the user's lab events as server-sent events until a
// terminal event arrives or the connection ends.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeStatus(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream, cancel := s.Events.Subscribe(r.Context(), mux.Vars(r)["username"])
	defer cancel()

	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case event, ok := <-stream:
			if !ok {
				return
			}
			if err := writeServerSentEvent(w, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeServerSentEvent writes one frame: the event name line, the JSON data
// line and the terminating blank line.
func writeServerSentEvent(w io.Writer, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
	return err
}

// listImages returns the prepull menu and the full image inventory.
func (s *Server) listImages(w http.ResponseWriter, r *http.Request) {
	state, err := s.Prepuller.CurrentState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	visible, all := menu.DisplayImages(state, &s.Config.Prepuller.Config)
	writeJSON(w, http.StatusOK, ImageList{Menu: displayImages(visible), All: displayImages(all)})
}

// prepullStatus returns the prepull state of the desired menu.
func (s *Server) prepullStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Prepuller.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// labForm renders the spawner form of the token's user.
func (s *Server) labForm(w http.ResponseWriter, r *http.Request) {
	user, err := s.Identity.UserInfo(r.Context(), bearerToken(r))
	if err != nil {
		writeError(w, err)
		return
	}

	state, err := s.Prepuller.CurrentState(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	visible, all := menu.DisplayImages(state, &s.Config.Prepuller.Config)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.Forms.Render(w, user, visible, all); err != nil {
		logf.FromContext(r.Context()).Error(err, "Failed rendering the spawner form", "user", user.Username)
	}
}

func (s *Server) recordURL(username string) string {
	return strings.TrimSuffix(s.Config.BaseURL, "/") + "/spawner/v1/labs/" + username
}

func displayImages(images *orderedmap.OrderedMap[string, *inventory.NodeImage]) []DisplayImage {
	out := make([]DisplayImage, 0, images.Len())
	for _, image := range images.AllFromFront() {
		out = append(out, DisplayImage{
			Path:      image.Reference(),
			Name:      image.Primary.DisplayName,
			Digest:    image.Digest,
			Prepulled: image.Prepulled,
		})
	}
	return out
}
