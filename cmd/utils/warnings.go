// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package utils

import (
	"os"

	"k8s.io/client-go/rest"
)

// DeduplicateWarnings configures a client-go warning handler that deduplicates API warnings in order to not spam
// production logs of gardener components.
func DeduplicateWarnings() {
	rest.SetDefaultWarningHandler(
		rest.NewWarningWriter(os.Stderr, rest.WarningWriterOptions{
			// only print a given warning the first time we receive it
			Deduplicate: true,
		}),
	)
}
