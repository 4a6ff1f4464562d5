/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package manager provides the event stream manager: a per-session cache of
// event streams, one per target peer, opened lazily through the transport
// collaborator and shared by all listeners on the same peer.
package manager

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

var logger = logging.NewLogger("fabsdk/events")

// Manager resolves event streams per peer, opening each stream at most once
// through the transport. Replay requests bypass the cache since a replay
// window is a property of the stream, not of one listener on a shared stream.
// The manager is safe for concurrent use.
type Manager struct {
	transport fab.EventTransport
	opts      []options.Opt

	mutex   sync.Mutex
	closed  bool
	streams map[string]fab.EventStream
	replays []fab.EventStream
}

// New returns a new event stream manager backed by the given transport. The
// options are applied to every stream the manager opens.
func New(transport fab.EventTransport, opts ...options.Opt) *Manager {
	return &Manager{
		transport: transport,
		opts:      opts,
		streams:   make(map[string]fab.EventStream),
	}
}

// replayOpts records whether a set of registration options requests replay
// from a past block, which requires a dedicated stream.
type replayOpts struct {
	replay bool
}

func (o *replayOpts) SetReplay() {
	o.replay = true
}

func (o *replayOpts) SetStartBlock(uint64) {
	o.replay = true
}

type closeChecker interface {
	Closed() bool
}

// StreamFor returns the event stream for the given peer, opening it through
// the transport if this is the first request for that peer. A cached stream
// that has since been closed by the transport (peer disconnect) is discarded
// and a fresh one is opened in its place. When the options request replay,
// the stream is opened outside the cache so that the replay window applies
// only to the requesting registration.
func (m *Manager) StreamFor(peer fab.Peer, opts ...options.Opt) (fab.EventStream, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return nil, errors.New("event stream manager is closed")
	}

	replay := &replayOpts{}
	options.Apply(replay, opts)
	if replay.replay {
		logger.Debugf("Opening dedicated replay stream to peer [%s]", peer.URL())
		s, err := m.transport.OpenEventStream(peer, append(m.opts, opts...)...)
		if err != nil {
			return nil, errors.WithMessagef(err, "error opening event stream to peer [%s]", peer.URL())
		}
		m.replays = append(m.replays, s)
		return s, nil
	}

	if s, ok := m.streams[peer.URL()]; ok {
		if c, ok := s.(closeChecker); !ok || !c.Closed() {
			return s, nil
		}
		logger.Debugf("Evicting closed event stream to peer [%s]", peer.URL())
		delete(m.streams, peer.URL())
	}

	logger.Debugf("Opening event stream to peer [%s]", peer.URL())
	s, err := m.transport.OpenEventStream(peer, m.opts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "error opening event stream to peer [%s]", peer.URL())
	}
	m.streams[peer.URL()] = s
	return s, nil
}

// Close closes every stream the manager opened. Close is idempotent.
func (m *Manager) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	streams := m.streams
	replays := m.replays
	m.streams = nil
	m.replays = nil
	m.mutex.Unlock()

	for _, s := range streams {
		s.Close()
	}
	for _, s := range replays {
		s.Close()
	}
}
