// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lab

import (
	"fmt"
)

// AlreadyExistsError is returned when a lab is created for a user that
// already has one.
type AlreadyExistsError struct {
	// Username is the user that already has a lab record.
	Username string
}

// Error implements error.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("lab for user %q already exists", e.Username)
}

// NotFoundError is returned when an operation references a user without a
// lab record.
type NotFoundError struct {
	// Username is the user without a lab record.
	Username string
}

// Error implements error.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no lab found for user %q", e.Username)
}

// InvalidSpecError is returned when a lab specification cannot be
// satisfied, e.g. an unknown size label or an image outside the inventory.
type InvalidSpecError struct {
	// Field names the offending part of the specification.
	Field string
	// Detail explains why it was refused.
	Detail string
}

// Error implements error.
func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid lab specification: %s: %s", e.Field, e.Detail)
}

// NamespaceCollisionError is returned when the per-user namespace could not
// be claimed after repeated delete-and-retry rounds.
type NamespaceCollisionError struct {
	// Namespace is the contested namespace.
	Namespace string
	// Retries is the number of rounds attempted.
	Retries int
}

// Error implements error.
func (e *NamespaceCollisionError) Error() string {
	return fmt.Sprintf("namespace %q still exists after %d delete-and-retry rounds", e.Namespace, e.Retries)
}
