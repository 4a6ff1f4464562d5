/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package commit implements the commit listener session: one logical
// "observe commit of transaction T across peer set P" request, realized as
// N independent per-peer subscriptions under a single caller-visible
// listener. The session performs no aggregation; interpreting the per-peer
// outcomes is the caller's policy.
package commit

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/stream"
)

var logger = logging.NewLogger("fabsdk/events")

// StreamProvider resolves the event stream for a peer, opening it if needed.
type StreamProvider interface {
	StreamFor(peer fab.Peer, opts ...options.Opt) (fab.EventStream, error)
}

// Session fans a commit-wait for one transaction out across a set of target
// peers. Each peer reports at most once per session; the caller's listener
// is invoked once per peer outcome with the reporting peer attached. Peers
// are borrowed references; the session owns only its per-peer registrations.
type Session struct {
	txID     string
	listener fab.CommitListener
	peers    []fab.Peer
	provider StreamProvider

	mutex   sync.Mutex
	closed  bool
	started bool
	regs    map[string]*peerRegistration
}

// peerRegistration is the session's bookkeeping for one target peer.
type peerRegistration struct {
	reg    fab.Registration
	stream fab.EventStream
}

// New returns a new commit listener session for the given transaction ID and
// target peer set. The session must be started before any outcome is delivered.
func New(txID string, listener fab.CommitListener, peers []fab.Peer, provider StreamProvider) (*Session, error) {
	if txID == "" {
		return nil, errors.New("txID must be provided")
	}
	if listener == nil {
		return nil, errors.New("listener must be provided")
	}
	if len(peers) == 0 {
		return nil, errors.New("at least one peer must be provided")
	}

	return &Session{
		txID:     txID,
		listener: listener,
		peers:    peers,
		provider: provider,
		regs:     make(map[string]*peerRegistration),
	}, nil
}

// TransactionID returns the transaction ID the session is waiting on.
func (s *Session) TransactionID() string {
	return s.txID
}

// Start subscribes to every target peer's event stream. A failure to open an
// individual peer's stream is reported to the listener as a peer-scoped
// error for that peer; the remaining peers continue independently, so the
// caller may receive a confirmation from one peer and an error from another
// within the same session.
func (s *Session) Start() error {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return errors.New("session is closed")
	}
	if s.started {
		s.mutex.Unlock()
		return errors.New("session already started")
	}
	s.started = true
	s.mutex.Unlock()

	for _, peer := range s.peers {
		s.subscribe(peer)
	}
	return nil
}

func (s *Session) subscribe(peer fab.Peer) {
	peerURL := peer.URL()

	eventStream, err := s.provider.StreamFor(peer)
	if err != nil {
		logger.Warnf("Error opening event stream to peer [%s] for Tx [%s]: %s", peerURL, s.txID, err)
		s.listener.CommitReceived(nil, &fab.CommitError{Peer: peerURL, Err: err})
		return
	}

	// Each peer reports at most once per session, so the per-peer listener
	// is one-shot: the stream removes it before the callback fires.
	reg, err := eventStream.RegisterTransactionListener(s.txID, func(event *fab.TxStatusEvent, err error) {
		s.deliver(peerURL, event, err)
	}, stream.WithUnregister(true))
	if err != nil {
		logger.Warnf("Error registering transaction listener on peer [%s] for Tx [%s]: %s", peerURL, s.txID, err)
		s.listener.CommitReceived(nil, &fab.CommitError{Peer: peerURL, Err: err})
		return
	}

	s.mutex.Lock()
	if s.closed {
		// Closed while subscribing. Undo the registration.
		s.mutex.Unlock()
		if err := eventStream.Unregister(reg); err != nil {
			logger.Debugf("Error unregistering listener on closed session: %s", err)
		}
		return
	}
	s.regs[peerURL] = &peerRegistration{reg: reg, stream: eventStream}
	s.mutex.Unlock()

	logger.Debugf("Registered commit listener on peer [%s] for Tx [%s]", peerURL, s.txID)
}

// deliver forwards a per-peer outcome to the caller's listener, annotated
// with the peer that produced it. Error and event are mutually exclusive.
func (s *Session) deliver(peerURL string, event *fab.TxStatusEvent, err error) {
	s.mutex.Lock()
	delete(s.regs, peerURL)
	closed := s.closed
	s.mutex.Unlock()

	if closed {
		logger.Debugf("Discarding outcome from peer [%s] for Tx [%s] on closed session", peerURL, s.txID)
		return
	}

	if err != nil {
		s.listener.CommitReceived(nil, &fab.CommitError{Peer: peerURL, Err: err})
		return
	}
	s.listener.CommitReceived(&fab.CommitEvent{TxStatusEvent: event, Peer: peerURL}, nil)
}

// NumLiveListeners returns the number of per-peer listeners that have not
// yet reported or been torn down.
func (s *Session) NumLiveListeners() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.regs)
}

// Close unregisters every still-registered per-peer listener and releases
// references. Close is idempotent: closing an already-closed session is a
// no-op, which distinguishes caller-driven teardown from the one-shot
// auto-unregister on a natural match.
func (s *Session) Close() {
	s.mutex.Lock()
	if s.closed {
		s.mutex.Unlock()
		return
	}
	s.closed = true
	regs := s.regs
	s.regs = nil
	s.mutex.Unlock()

	logger.Debugf("Closing commit listener session for Tx [%s]", s.txID)

	for _, pr := range regs {
		if err := pr.stream.Unregister(pr.reg); err != nil {
			// The listener already removed itself on a natural match.
			logger.Debugf("Error unregistering commit listener from stream [%s]: %s", pr.stream.Name(), err)
		}
	}
}
