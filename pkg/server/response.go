// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lsst-sqre/nublado-controller/pkg/gafaelfawr"
	"github.com/lsst-sqre/nublado-controller/pkg/lab"
)

// errorModel is the JSON error body.
type errorModel struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeStatus(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorModel{Detail: detail})
}

// writeError maps domain errors onto HTTP status codes. Everything without a
// dedicated category is a 500.
func writeError(w http.ResponseWriter, err error) {
	var (
		alreadyExists *lab.AlreadyExistsError
		notFound      *lab.NotFoundError
		invalidSpec   *lab.InvalidSpecError
		forbidden     *gafaelfawr.ForbiddenError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &alreadyExists):
		status = http.StatusConflict
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &invalidSpec):
		status = http.StatusBadRequest
	case errors.As(err, &forbidden):
		status = http.StatusForbidden
	}

	writeStatus(w, status, err.Error())
}
