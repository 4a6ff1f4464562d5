/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/discovery"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/commit"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/deliverclient"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/manager"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/registry"
)

const (
	stateUninitialized int32 = iota
	stateInitializing
	stateInitialized
)

// Network is a session against a single channel. It tracks the event
// listeners registered through it and disposes of them together.
type Network struct {
	name    string
	gateway *Gateway
	state   int32

	manager  *manager.Manager
	registry *registry.Registry

	mutex           sync.Mutex
	disposed        bool
	topology        *discovery.Topology
	discoverers     []Discoverer
	eventStream     fab.EventStream
	contracts       map[contractKey]*Contract
	commitListeners map[fab.CommitListener]*commit.Session
}

type contractKey struct {
	chaincodeID string
	name        string
}

type networkOptions struct {
	targets     []fab.Peer
	targetsSet  bool
	eventStream fab.EventStream
}

// NetworkOption functional arguments can be supplied when obtaining a
// network to customize its initialization.
type NetworkOption = func(o *networkOptions)

// WithTargetPeers restricts service discovery to the given peers instead
// of the peers derived from the connection profile.
func WithTargetPeers(peers ...fab.Peer) NetworkOption {
	return func(o *networkOptions) {
		o.targets = peers
		o.targetsSet = true
	}
}

// WithEventStream uses the given stream for block and chaincode listeners
// instead of opening one to a discovered peer.
func WithEventStream(stream fab.EventStream) NetworkOption {
	return func(o *networkOptions) {
		o.eventStream = stream
	}
}

func newNetwork(gw *Gateway, name string, opts ...NetworkOption) (*Network, error) {
	nOpts := &networkOptions{}
	for _, opt := range opts {
		opt(nOpts)
	}

	n := &Network{
		name:            name,
		gateway:         gw,
		manager:         manager.New(gw.transport, deliverclient.WithChannel(name)),
		registry:        registry.New(),
		eventStream:     nOpts.eventStream,
		contracts:       make(map[contractKey]*Contract),
		commitListeners: make(map[fab.CommitListener]*commit.Session),
	}

	if err := n.initialize(nOpts); err != nil {
		n.Dispose()
		return nil, err
	}
	return n, nil
}

// Name returns the name of the channel the network is bound to.
func (n *Network) Name() string {
	return n.name
}

// initialize moves the network from uninitialized to initialized,
// running service discovery against one of the target peers when
// discovery is enabled.
func (n *Network) initialize(opts *networkOptions) error {
	if !atomic.CompareAndSwapInt32(&n.state, stateUninitialized, stateInitializing) {
		return errors.Errorf("network [%s] is already initialized", n.name)
	}

	if !n.gateway.discovery {
		logger.Debugf("Discovery is disabled. Network [%s] initialized from the connection profile.", n.name)
		atomic.StoreInt32(&n.state, stateInitialized)
		return nil
	}

	targets, err := n.discoveryTargets(opts)
	if err != nil {
		return err
	}
	if err := n.discover(targets); err != nil {
		return err
	}

	atomic.StoreInt32(&n.state, stateInitialized)
	return nil
}

// discoveryTargets resolves the peers to run discovery against. Targets
// supplied by the caller take precedence over the connection profile;
// within the profile, the client org's channel peers are preferred over
// the org's remaining peers, which are preferred over any known peer.
func (n *Network) discoveryTargets(opts *networkOptions) ([]fab.Peer, error) {
	config := n.gateway.config

	if opts.targetsSet {
		if len(opts.targets) == 0 {
			return nil, errors.Errorf("no discovery targets found for network [%s]", n.name)
		}
		for _, peer := range opts.targets {
			if !peer.Connected() {
				return nil, errors.Errorf("peer [%s] is not connected", peer.Name())
			}
		}
		return opts.targets, nil
	}

	candidates := [][]string{
		intersect(config.channelPeerNames(n.name), config.orgPeerNames(n.gateway.org)),
		config.orgPeerNames(n.gateway.org),
		config.allPeerNames(),
	}
	for _, names := range candidates {
		targets := n.connectedPeers(names)
		if len(targets) > 0 {
			return targets, nil
		}
	}
	return nil, errors.Errorf("no discovery targets found for network [%s]", n.name)
}

func (n *Network) connectedPeers(names []string) []fab.Peer {
	var peers []fab.Peer
	for _, name := range names {
		if peer := n.gateway.config.peer(name); peer != nil && peer.Connected() {
			peers = append(peers, peer)
		}
	}
	return peers
}

// discover queries the targets in order and keeps the topology from the
// first peer that answers.
func (n *Network) discover(targets []fab.Peer) error {
	var lastErr error
	for _, target := range targets {
		topology, discoverer, err := n.discoverFrom(target)
		if err != nil {
			logger.Warnf("Discovery against peer [%s] failed: %s", target.Name(), err)
			lastErr = err
			continue
		}
		n.mutex.Lock()
		n.topology = topology
		n.discoverers = append(n.discoverers, discoverer)
		n.mutex.Unlock()
		logger.Debugf("Network [%s] initialized from peer [%s] with %d org(s)", n.name, target.Name(), len(topology.MSPIDs()))
		return nil
	}
	return errors.WithMessagef(lastErr, "discovery failed for all targets on network [%s]", n.name)
}

func (n *Network) discoverFrom(target fab.Peer) (*discovery.Topology, Discoverer, error) {
	gw := n.gateway
	ctx, cancel := context.WithTimeout(context.Background(), gw.timeout)
	defer cancel()

	discoverer := gw.discoverer(target.Name(), gw.identity.MSPID())
	if err := discoverer.Connect(ctx, target.URL(), gw.config.commOpts(target.Name())...); err != nil {
		return nil, nil, errors.WithMessagef(err, "error connecting to peer [%s]", target.Name())
	}

	topology, err := n.query(ctx, discoverer)
	if err != nil {
		discoverer.Close()
		return nil, nil, err
	}
	return topology, discoverer, nil
}

func (n *Network) query(ctx context.Context, discoverer Discoverer) (*discovery.Topology, error) {
	service, err := discoverer.NewDiscoveryService(n.name)
	if err != nil {
		return nil, err
	}
	payload, err := service.Build(n.gateway.identity)
	if err != nil {
		return nil, err
	}
	request, err := service.Sign(n.gateway.identity, payload)
	if err != nil {
		return nil, err
	}
	return service.Send(ctx, request)
}

// AddBlockListener registers a callback for block events on the network's
// event peer.
func (n *Network) AddBlockListener(callback fab.BlockCallback, opts ...options.Opt) (fab.Registration, error) {
	stream, err := n.stream(opts...)
	if err != nil {
		return nil, err
	}
	reg, err := stream.RegisterBlockListener(callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.track(reg, stream); err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister removes a block or chaincode listener registered through the
// network.
func (n *Network) Unregister(reg fab.Registration) error {
	return n.registry.Remove(reg)
}

// AddCommitListener registers a listener for the commit of the given
// transaction on each of the given peers. The listener value identifies
// the registration: adding a listener that is already registered returns
// the existing registration untouched.
func (n *Network) AddCommitListener(listener fab.CommitListener, peers []fab.Peer, txID string) (fab.CommitListener, error) {
	n.mutex.Lock()
	if n.disposed {
		n.mutex.Unlock()
		return nil, errors.Errorf("network [%s] is disposed", n.name)
	}
	if _, ok := n.commitListeners[listener]; ok {
		n.mutex.Unlock()
		logger.Debugf("Commit listener for transaction [%s] already registered on network [%s]", txID, n.name)
		return listener, nil
	}

	if len(peers) == 0 {
		peers = n.commitPeers()
	}
	session, err := commit.New(txID, listener, peers, n.manager)
	if err != nil {
		n.mutex.Unlock()
		return nil, err
	}
	n.commitListeners[listener] = session
	n.mutex.Unlock()

	// Start delivers early outcomes synchronously and the listener may call
	// back into the network, so the session is started without the lock held.
	if err := session.Start(); err != nil {
		n.mutex.Lock()
		if n.commitListeners[listener] == session {
			delete(n.commitListeners, listener)
		}
		n.mutex.Unlock()
		return nil, err
	}
	return listener, nil
}

// RemoveCommitListener closes the commit session owned by the given
// listener. Removing an unknown listener is a no-op. The session is torn
// down without the lock held so that the listener may remove itself from
// within its own callback.
func (n *Network) RemoveCommitListener(listener fab.CommitListener) {
	n.mutex.Lock()
	session, ok := n.commitListeners[listener]
	if ok {
		delete(n.commitListeners, listener)
	}
	n.mutex.Unlock()

	if ok {
		session.Close()
	}
}

// commitPeers returns the default peers for commit tracking when the
// caller supplies none.
func (n *Network) commitPeers() []fab.Peer {
	if n.topology != nil {
		if peers := n.topology.PeersOfOrg(n.gateway.identity.MSPID()); len(peers) > 0 {
			return asPeers(peers)
		}
		return asPeers(n.topology.Peers())
	}
	return n.connectedPeers(n.gateway.config.channelPeerNames(n.name))
}

// GetContract returns the contract with the given chaincode ID.
func (n *Network) GetContract(chaincodeID string) *Contract {
	return n.GetContractWithName(chaincodeID, "")
}

// GetContractWithName returns the named contract within the chaincode
// with the given ID.
func (n *Network) GetContractWithName(chaincodeID, name string) *Contract {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	key := contractKey{chaincodeID: chaincodeID, name: name}
	if contract, ok := n.contracts[key]; ok {
		return contract
	}
	contract := newContract(n, chaincodeID, name)
	if !n.disposed {
		n.contracts[key] = contract
	}
	return contract
}

// stream returns the event stream listeners are registered on: either the
// stream the network was created with or one opened to the event peer. The
// event peer is resolved under the lock, but the stream itself is opened
// without it since opening may dial the peer.
func (n *Network) stream(opts ...options.Opt) (fab.EventStream, error) {
	n.mutex.Lock()
	if n.disposed {
		n.mutex.Unlock()
		return nil, errors.Errorf("network [%s] is disposed", n.name)
	}
	if n.eventStream != nil {
		s := n.eventStream
		n.mutex.Unlock()
		return s, nil
	}
	peer, err := n.eventPeer()
	n.mutex.Unlock()
	if err != nil {
		return nil, err
	}
	return n.manager.StreamFor(peer, opts...)
}

// eventPeer selects the peer block and chaincode events are received
// from, preferring discovered peers of the client's own org and, among
// those, the peer with the greatest ledger height.
func (n *Network) eventPeer() (fab.Peer, error) {
	if n.topology != nil {
		if peers := n.topology.PeersOfOrg(n.gateway.identity.MSPID()); len(peers) > 0 {
			return highestPeer(asPeers(peers)), nil
		}
		if peers := n.topology.Peers(); len(peers) > 0 {
			return highestPeer(asPeers(peers)), nil
		}
	}
	for _, name := range n.gateway.config.channelPeerNames(n.name) {
		if !n.gateway.config.eventSource(n.name, name) {
			continue
		}
		if peer := n.gateway.config.peer(name); peer != nil && peer.Connected() {
			return peer, nil
		}
	}
	return nil, errors.Errorf("no event source peers found for network [%s]", n.name)
}

func (n *Network) track(reg fab.Registration, stream fab.EventStream) error {
	if err := n.registry.Add(reg, stream); err != nil {
		// the registry refused the registration so the listener must not
		// stay behind on the stream
		if uerr := stream.Unregister(reg); uerr != nil {
			logger.Warnf("Error unregistering listener: %s", uerr)
		}
		return err
	}
	return nil
}

// Dispose closes all listeners, commit sessions, event streams and
// discovery connections owned by the network.
func (n *Network) Dispose() {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	if n.disposed {
		return
	}
	n.disposed = true

	for listener, session := range n.commitListeners {
		session.Close()
		delete(n.commitListeners, listener)
	}
	n.registry.Close()
	n.manager.Close()
	for _, discoverer := range n.discoverers {
		discoverer.Close()
	}
	n.discoverers = nil
	n.contracts = nil
}

// highestPeer returns the peer with the greatest ledger height. Peers that
// do not report a ledger height rank lowest.
func highestPeer(peers []fab.Peer) fab.Peer {
	best := peers[0]
	bestHeight := blockHeight(best)
	for _, peer := range peers[1:] {
		if height := blockHeight(peer); height > bestHeight {
			best = peer
			bestHeight = height
		}
	}
	return best
}

func blockHeight(peer fab.Peer) uint64 {
	if state, ok := peer.(fab.PeerState); ok {
		return state.BlockHeight()
	}
	return 0
}

func asPeers(peers []*discovery.Peer) []fab.Peer {
	result := make([]fab.Peer, len(peers))
	for i, peer := range peers {
		result[i] = peer
	}
	return result
}

func intersect(names, allowed []string) []string {
	set := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		set[name] = struct{}{}
	}
	var result []string
	for _, name := range names {
		if _, ok := set[name]; ok {
			result = append(result, name)
		}
	}
	return result
}
