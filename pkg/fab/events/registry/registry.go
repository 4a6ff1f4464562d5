/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package registry tracks the application-level listener registrations of a
// network session so that they can be torn down as a group when the session
// is disposed.
package registry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

var logger = logging.NewLogger("fabsdk/events")

// ErrRegistryClosed is returned when adding a registration to a closed registry.
var ErrRegistryClosed = errors.New("listener registry is closed")

// Registry maps each live registration to the event stream that owns it.
// It is safe for concurrent use.
type Registry struct {
	mutex     sync.Mutex
	closed    bool
	listeners map[fab.Registration]fab.EventStream
}

// New returns a new listener registry
func New() *Registry {
	return &Registry{
		listeners: make(map[fab.Registration]fab.EventStream),
	}
}

// Add records the given registration against the stream that owns it.
func (r *Registry) Add(reg fab.Registration, stream fab.EventStream) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	r.listeners[reg] = stream
	return nil
}

// Remove unregisters the given registration from its stream and removes it
// from the registry. Removing a registration that is not tracked is a
// caller-logic bug and returns an error.
func (r *Registry) Remove(reg fab.Registration) error {
	r.mutex.Lock()
	stream, ok := r.listeners[reg]
	if ok {
		delete(r.listeners, reg)
	}
	r.mutex.Unlock()

	if !ok {
		return errors.New("the provided registration is not tracked by this registry")
	}
	return stream.Unregister(reg)
}

// NumListeners returns the number of currently tracked registrations.
func (r *Registry) NumListeners() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.listeners)
}

// Close unregisters every still-tracked listener from its stream so that no
// stream keeps callbacks alive past the owning session's lifetime. Close is
// idempotent.
func (r *Registry) Close() {
	r.mutex.Lock()
	if r.closed {
		r.mutex.Unlock()
		return
	}
	r.closed = true
	listeners := r.listeners
	r.listeners = nil
	r.mutex.Unlock()

	for reg, stream := range listeners {
		if err := stream.Unregister(reg); err != nil {
			// The listener may have already removed itself on a match.
			logger.Debugf("Error unregistering listener from stream [%s]: %s", stream.Name(), err)
		}
	}
}
