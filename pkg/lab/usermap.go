// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package lab

import (
	"sort"
	"sync"
)

// UserMap is the in-memory registry of user lab records. Its atomic
// create-if-absent check is the single choke point that enforces at most one
// lab per user.
type UserMap struct {
	mutex   sync.RWMutex
	records map[string]*UserRecord
}

// NewUserMap returns an empty UserMap.
func NewUserMap() *UserMap {
	return &UserMap{records: map[string]*UserRecord{}}
}

// Get returns a copy of the user's record.
func (m *UserMap) Get(username string) (*UserRecord, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	record, ok := m.records[username]
	if !ok {
		return nil, false
	}
	copied := *record
	return &copied, true
}

// List returns copies of all records, sorted by username.
func (m *UserMap) List() []*UserRecord {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]*UserRecord, 0, len(m.records))
	for _, record := range m.records {
		copied := *record
		out = append(out, &copied)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Username < out[b].Username })
	return out
}

// Running returns the sorted names of all users whose lab is running.
func (m *UserMap) Running() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	running := []string{}
	for username, record := range m.records {
		if record.Status == StatusRunning {
			running = append(running, username)
		}
	}
	sort.Strings(running)
	return running
}

// CreateIfAbsent installs the record unless its user already has one, in
// which case an AlreadyExistsError is returned.
func (m *UserMap) CreateIfAbsent(record *UserRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, ok := m.records[record.Username]; ok {
		return &AlreadyExistsError{Username: record.Username}
	}
	m.records[record.Username] = record
	return nil
}

// Remove drops the user's record. Removing an absent record is a no-op.
func (m *UserMap) Remove(username string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.records, username)
}

// SetStatus updates the lifecycle phase of the user's record.
func (m *UserMap) SetStatus(username string, status Status) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if record, ok := m.records[username]; ok {
		record.Status = status
	}
}

// SetPod updates the pod state of the user's record.
func (m *UserMap) SetPod(username string, pod PodState) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if record, ok := m.records[username]; ok {
		record.Pod = pod
	}
}
