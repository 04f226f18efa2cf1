// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package tag

import (
	"fmt"
	"strings"
)

// IncomparableTypesError is returned when two tags of different types are
// compared. Only tags of the same type have a meaningful order.
type IncomparableTypesError struct {
	A, B Tag
}

// Error implements error.
func (e *IncomparableTypesError) Error() string {
	return fmt.Sprintf("tag %q of type %q cannot be compared with tag %q of type %q", e.A.Raw, e.A.Type, e.B.Raw, e.B.Type)
}

// Compare orders two tags of the same type. It returns a negative number if
// a is older than b, zero if they are equivalent and a positive number if a
// is newer than b. Tags carrying a version are ordered by semantic version,
// all others lexically by their raw tag.
func Compare(a, b Tag) (int, error) {
	if a.Type != b.Type {
		return 0, &IncomparableTypesError{A: a, B: b}
	}

	if a.Version != nil && b.Version != nil {
		return a.Version.Compare(b.Version), nil
	}
	return strings.Compare(a.Raw, b.Raw), nil
}

// Equal reports whether two tags are of the same type and equivalent under
// Compare.
func Equal(a, b Tag) bool {
	cmp, err := Compare(a, b)
	return err == nil && cmp == 0
}

// Newer reports whether a sorts before b in a newest-first ordering. Ties,
// and pairs that cannot be compared, are broken by the raw tag in descending
// order so that the resulting order is total and deterministic.
func Newer(a, b Tag) bool {
	if cmp, err := Compare(a, b); err == nil && cmp != 0 {
		return cmp > 0
	}
	return a.Raw > b.Raw
}
