/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/stream"
)

// MockTransport implements fab.EventTransport. It opens one in-memory stream
// per peer URL and exposes the streams so that tests can produce events and
// errors on them. Replay requests get a dedicated stream, as with the real
// transport.
type MockTransport struct {
	mutex     sync.Mutex
	listening bool
	streams   map[string]*stream.Stream
	replays   []*stream.Stream

	// FailOpen contains peer URLs for which OpenEventStream fails.
	FailOpen map[string]bool
}

// NewMockTransport returns a new mock event transport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		listening: true,
		streams:   make(map[string]*stream.Stream),
		FailOpen:  make(map[string]bool),
	}
}

type replayOpts struct {
	replay bool
}

func (p *replayOpts) SetReplay() {
	p.replay = true
}

func (p *replayOpts) SetStartBlock(uint64) {
	p.replay = true
}

// OpenEventStream opens (or returns the already-open) stream for the given
// peer. A cached stream that has been closed is replaced with a fresh one.
func (t *MockTransport) OpenEventStream(peer fab.Peer, opts ...options.Opt) (fab.EventStream, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if !t.listening {
		return nil, errors.New("transport is closed")
	}
	if t.FailOpen[peer.URL()] {
		return nil, errors.Errorf("error opening event stream to peer [%s]", peer.URL())
	}

	p := &replayOpts{}
	options.Apply(p, opts)
	if p.replay {
		s := stream.New(peer.URL(), peer.URL())
		t.replays = append(t.replays, s)
		return s, nil
	}

	s, ok := t.streams[peer.URL()]
	if !ok || s.Closed() {
		s = stream.New(peer.URL(), peer.URL())
		t.streams[peer.URL()] = s
	}
	return s, nil
}

// Stream returns the stream that was opened for the given peer URL, or nil
func (t *MockTransport) Stream(url string) *stream.Stream {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.streams[url]
}

// ReplayStreams returns the dedicated streams opened for replay requests
func (t *MockTransport) ReplayStreams() []*stream.Stream {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.replays
}

// IsListening indicates whether the transport is delivering events
func (t *MockTransport) IsListening() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.listening
}

// Close closes the transport and every stream it opened
func (t *MockTransport) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.listening = false
	for _, s := range t.streams {
		s.Close()
	}
	for _, s := range t.replays {
		s.Close()
	}
}
