/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package stream implements the event stream abstraction: one stream per
// peer+channel holding the set of listeners registered against that peer.
// The transport collaborator is the stream's single event producer; the
// registry and session components register and unregister listeners,
// possibly concurrently with dispatch.
package stream

import (
	"math"
	"regexp"
	"sync"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

var logger = logging.NewLogger("fabsdk/events")

// ErrUnregisteredListener is returned when unregistering a listener that is
// not a member of the stream's listener set. This signals a caller-logic bug
// rather than a transient condition.
var ErrUnregisteredListener = errors.New("unregistered listener")

// ErrStreamClosed is returned when registering a listener on a closed stream.
var ErrStreamClosed = errors.New("event stream is closed")

// Stream is an event channel from one peer. It implements fab.EventStream
// for consumers and fab.EventProducer for the transport that feeds it.
type Stream struct {
	name      string
	sourceURL string

	mutex        sync.Mutex
	closed       bool
	lastBlockNum uint64
	listeners    []*listener

	// Replay window the stream was opened with. The window is set by the
	// registration that triggers replay; the policy belongs to the stream.
	startBlock    uint64
	startBlockSet bool
	endBlock      uint64
	endBlockSet   bool
	privateData   bool
}

// New returns a new event stream with the given name (peer/channel identity).
// Events delivered through the stream are annotated with sourceURL.
func New(name, sourceURL string) *Stream {
	logger.Debugf("Creating new event stream [%s]", name)

	return &Stream{
		name:         name,
		sourceURL:    sourceURL,
		lastBlockNum: math.MaxUint64,
	}
}

// Name returns the name of the stream.
func (s *Stream) Name() string {
	return s.name
}

// SourceURL returns the URL of the peer that feeds the stream.
func (s *Stream) SourceURL() string {
	return s.sourceURL
}

// RegisterTransactionListener registers a listener for the commit status of
// the given transaction ID. The listener unregisters itself on first match
// unless WithUnregister(false) is given. Registration never blocks and does
// not itself open network transport.
func (s *Stream) RegisterTransactionListener(txID string, callback fab.TxStatusCallback, opts ...options.Opt) (fab.Registration, error) {
	if txID == "" {
		return nil, errors.New("txID must be provided")
	}

	params := defaultParams()
	options.Apply(params, opts)

	l := newListener(transactionListener, params)
	l.txID = txID
	l.txCallback = callback

	return s.register(l, params)
}

// RegisterBlockListener registers a listener for block events. The listener
// is persistent unless WithUnregister(true) is given.
func (s *Stream) RegisterBlockListener(callback fab.BlockCallback, opts ...options.Opt) (fab.Registration, error) {
	params := defaultParams()
	options.Apply(params, opts)

	l := newListener(blockListener, params)
	l.blockCallback = callback

	return s.register(l, params)
}

// RegisterChaincodeListener registers a listener for chaincode events whose
// name matches the given filter (a regular expression). The listener is
// persistent unless WithUnregister(true) is given.
func (s *Stream) RegisterChaincodeListener(ccID, eventFilter string, callback fab.CCCallback, opts ...options.Opt) (fab.Registration, error) {
	if ccID == "" {
		return nil, errors.New("chaincode ID is required")
	}
	if eventFilter == "" {
		return nil, errors.New("event filter is required")
	}

	regExp, err := regexp.Compile(eventFilter)
	if err != nil {
		return nil, errors.Wrapf(err, "error compiling regular expression for event filter [%s]", eventFilter)
	}

	params := defaultParams()
	options.Apply(params, opts)

	l := newListener(chaincodeListener, params)
	l.ccID = ccID
	l.eventFilter = eventFilter
	l.eventRegExp = regExp
	l.ccCallback = callback

	return s.register(l, params)
}

func (s *Stream) register(l *listener, p *params) (fab.Registration, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	if p.replay || p.startBlockSet {
		if p.startBlockSet {
			s.startBlock = p.startBlock
			s.startBlockSet = true
		} else {
			s.startBlock = 0
			s.startBlockSet = true
		}
	}
	if p.endBlockSet {
		s.endBlock = p.endBlock
		s.endBlockSet = true
	}
	if p.privateData {
		s.privateData = true
	}

	s.listeners = append(s.listeners, l)

	logger.Debugf("Registered %s listener [%s] on stream [%s]", l.kind, l.id, s.name)
	return l, nil
}

// Unregister removes the given registration from the stream's listener set.
// It fails with ErrUnregisteredListener if the registration is not currently
// a member, leaving the set unchanged.
func (s *Stream) Unregister(reg fab.Registration) error {
	l, ok := reg.(*listener)
	if !ok {
		return errors.Errorf("unsupported registration type: %T", reg)
	}

	if !s.remove(l) {
		return errors.WithMessagef(ErrUnregisteredListener, "%s listener [%s]", l.kind, l.id)
	}

	logger.Debugf("Unregistered %s listener [%s] from stream [%s]", l.kind, l.id, s.name)
	return nil
}

// remove removes the listener from the set if it is currently a member and
// reports whether it was removed. One-shot delivery relies on remove being
// atomic: whichever of dispatch and Unregister removes the listener first
// is the one that owns its final notification.
func (s *Stream) remove(l *listener) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for i, member := range s.listeners {
		if member == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// snapshot returns a copy of the listener set for dispatch. A listener may
// unregister itself (or register new listeners) from within its callback,
// so the live set is never iterated directly.
func (s *Stream) snapshot() []*listener {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return nil
	}
	snapshot := make([]*listener, len(s.listeners))
	copy(snapshot, s.listeners)
	return snapshot
}

// SendEvent delivers a block to every listener registered at the time of the
// call, in the set's iteration order. One-shot listeners are removed from
// the set before their callback is invoked.
func (s *Stream) SendEvent(fblock *pb.FilteredBlock) {
	if fblock == nil {
		logger.Warnf("Nil block on stream [%s]. Event will not be published", s.name)
		return
	}

	if err := s.updateLastBlockNum(fblock.Number); err != nil {
		logger.Errorf("Ignoring event on stream [%s]: %s", s.name, err)
		return
	}

	for _, l := range s.snapshot() {
		outcomes := l.match(fblock, s.sourceURL)
		if len(outcomes) == 0 {
			continue
		}

		if l.oneShot {
			if !s.remove(l) {
				// Already unregistered by a concurrent caller.
				continue
			}
			l.notify(outcomes[0], nil)
			continue
		}

		for _, o := range outcomes {
			l.notify(o, nil)
		}

		if l.expired(fblock.Number) {
			s.remove(l)
			logger.Debugf("Unregistered %s listener [%s] from stream [%s]: end block %d reached", l.kind, l.id, s.name, l.endBlock)
		}
	}
}

// SendError delivers a stream-level error (peer disconnect, decode failure)
// to every listener registered at the time of the call. Every listener
// variant treats a delivered error as a terminal, unconditional match, so a
// one-shot listener unregisters exactly once even under a burst of errors.
func (s *Stream) SendError(err error) {
	logger.Debugf("Delivering error on stream [%s]: %s", s.name, err)

	for _, l := range s.snapshot() {
		if l.oneShot && !s.remove(l) {
			continue
		}
		l.notify(nil, err)
	}
}

// LastBlockNum returns the block number of the last block for which an event
// was received.
func (s *Stream) LastBlockNum() uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.lastBlockNum
}

func (s *Stream) updateLastBlockNum(blockNum uint64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	// The transport shouldn't be delivering blocks out of order.
	if s.lastBlockNum == math.MaxUint64 || blockNum > s.lastBlockNum {
		s.lastBlockNum = blockNum
		return nil
	}
	return errors.Errorf("expecting a block number greater than %d but received block number %d", s.lastBlockNum, blockNum)
}

// StartBlock returns the start of the replay window the stream was opened
// with, and whether one was set.
func (s *Stream) StartBlock() (uint64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.startBlock, s.startBlockSet
}

// EndBlock returns the end of the replay window the stream was opened with,
// and whether one was set.
func (s *Stream) EndBlock() (uint64, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.endBlock, s.endBlockSet
}

// PrivateData indicates whether a listener requested private data delivery.
func (s *Stream) PrivateData() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.privateData
}

// NumListeners returns the number of currently registered listeners.
func (s *Stream) NumListeners() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.listeners)
}

// Closed indicates whether the stream has been closed. A closed stream no
// longer delivers events and must not be handed to new registrations.
func (s *Stream) Closed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.closed
}

// Close drops all listeners. The stream is not reusable after Close;
// subsequent registrations fail and further events are ignored. Close is
// idempotent.
func (s *Stream) Close() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.closed {
		return
	}

	logger.Debugf("Closing event stream [%s]", s.name)
	s.closed = true
	s.listeners = nil
}
