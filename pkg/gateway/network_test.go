/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	discpb "github.com/hyperledger/fabric-protos-go/discovery"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/discovery"
	emocks "github.com/japidei/fabric-sdk-node/pkg/fab/events/mocks"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/stream"
	fabmocks "github.com/japidei/fabric-sdk-node/pkg/fab/mocks"
)

func TestNetworkInitializeWithDiscovery(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider)
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)
	assert.Equal(t, "mychannel", network.Name())

	// the client org's channel peer is the preferred discovery target
	require.Len(t, provider.discoverers, 1)
	d := provider.discoverers[0]
	assert.Equal(t, "peer0.org1.example.com", d.peerName)
	assert.Equal(t, "Org1MSP", d.mspID)
	assert.Equal(t, "grpc://peer0.org1.example.com:7051", d.url)

	sameNetwork, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)
	assert.Same(t, network, sameNetwork)
	assert.Len(t, provider.discoverers, 1)
}

func TestNetworkInitializeNextTargetOnFailure(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	provider.connectErr["peerA"] = errors.New("connection refused")
	gw := newTestGateway(t, provider)
	defer gw.Close()

	peerA := emocks.NewMockPeer("peerA", "grpc://peerA:7051")
	peerB := emocks.NewMockPeer("peerB", "grpc://peerB:7051")
	network, err := gw.GetNetwork("mychannel", WithTargetPeers(peerA, peerB))
	require.NoError(t, err)
	require.NotNil(t, network)

	require.Len(t, provider.discoverers, 2)
	assert.Equal(t, "grpc://peerB:7051", provider.discoverers[1].url)
}

func TestNetworkInitializeAllTargetsFail(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	provider.connectErr["peerA"] = errors.New("connection refused")
	gw := newTestGateway(t, provider)
	defer gw.Close()

	peerA := emocks.NewMockPeer("peerA", "grpc://peerA:7051")
	_, err := gw.GetNetwork("mychannel", WithTargetPeers(peerA))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery failed for all targets")
}

func TestNetworkEmptyTargetList(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider)
	defer gw.Close()

	_, err := gw.GetNetwork("mychannel", WithTargetPeers())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no discovery targets found")
	assert.Empty(t, provider.discoverers)
}

func TestNetworkUnconnectedTarget(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider)
	defer gw.Close()

	peer := emocks.NewMockPeer("peerA", "grpc://peerA:7051")
	peer.Disconnected = true
	_, err := gw.GetNetwork("mychannel", WithTargetPeers(peer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "peer [peerA] is not connected")
	assert.Empty(t, provider.discoverers)
}

func TestNetworkDiscoveryDisabled(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport), WithDiscovery(false))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)
	assert.Empty(t, provider.discoverers)

	var received []*fab.BlockEvent
	_, err = network.AddBlockListener(func(event *fab.BlockEvent, err error) {
		require.NoError(t, err)
		received = append(received, event)
	})
	require.NoError(t, err)

	// eventSource peers from the profile serve events when discovery is off
	s := transport.Stream("grpc://peer0.org1.example.com:7051")
	require.NotNil(t, s)
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 1))
	require.Len(t, received, 1)
	assert.Equal(t, uint64(1), received[0].FilteredBlock.Number)
}

func TestAddCommitListener(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	listener := &recordingCommitListener{}
	returned, err := network.AddCommitListener(listener, nil, "tx1")
	require.NoError(t, err)
	assert.Equal(t, fab.CommitListener(listener), returned)

	// commit peers default to the discovered peers of the client's org
	s := transport.Stream("peer0.org1.example.com:7051")
	require.NotNil(t, s)
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 1, emocks.NewFilteredTx("tx1", pb.TxValidationCode_VALID)))

	events, errs := listener.outcomes()
	require.Len(t, events, 1)
	assert.Empty(t, errs)
	assert.Equal(t, "tx1", events[0].TxID)
	assert.Equal(t, "peer0.org1.example.com:7051", events[0].Peer)
}

func TestAddCommitListenerTwiceKeepsSession(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	listener := &recordingCommitListener{}
	_, err = network.AddCommitListener(listener, nil, "tx1")
	require.NoError(t, err)

	s := transport.Stream("peer0.org1.example.com:7051")
	require.NotNil(t, s)
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 1, emocks.NewFilteredTx("tx1", pb.TxValidationCode_VALID)))

	// re-adding the same listener value returns the existing registration
	// rather than subscribing again
	returned, err := network.AddCommitListener(listener, nil, "tx2")
	require.NoError(t, err)
	assert.Equal(t, fab.CommitListener(listener), returned)
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 2, emocks.NewFilteredTx("tx2", pb.TxValidationCode_VALID)))

	events, _ := listener.outcomes()
	require.Len(t, events, 1)
	assert.Equal(t, "tx1", events[0].TxID)

	// removing the listener and adding it back starts a fresh session
	network.RemoveCommitListener(listener)
	_, err = network.AddCommitListener(listener, nil, "tx3")
	require.NoError(t, err)
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 3, emocks.NewFilteredTx("tx3", pb.TxValidationCode_VALID)))

	events, _ = listener.outcomes()
	require.Len(t, events, 2)
	assert.Equal(t, "tx3", events[1].TxID)
}

func TestCommitListenerRemovesItself(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	transport.FailOpen["peer0.org1.example.com:7051"] = true
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	// the per-peer error is delivered synchronously while the session is
	// starting; removing the listener from within its own callback must
	// not block
	listener := &selfRemovingCommitListener{network: network}
	_, err = network.AddCommitListener(listener, nil, "tx1")
	require.NoError(t, err)

	_, errs := listener.outcomes()
	require.Len(t, errs, 1)

	// the listener removed itself, so adding it again starts a fresh session
	_, err = network.AddCommitListener(listener, nil, "tx2")
	require.NoError(t, err)
	_, errs = listener.outcomes()
	require.Len(t, errs, 2)
}

func TestEventPeerHighestBlock(t *testing.T) {
	topology := discovery.NewTopology("mychannel")
	topology.AddPeer("Org1MSP", "peer0.org1.example.com:7051", 10)
	topology.AddPeer("Org1MSP", "peer1.org1.example.com:7051", 42)
	provider := newMockDiscovererProvider(topology)
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	_, err = network.AddBlockListener(func(*fab.BlockEvent, error) {})
	require.NoError(t, err)

	// events come from the org peer with the greatest ledger height
	assert.NotNil(t, transport.Stream("peer1.org1.example.com:7051"))
	assert.Nil(t, transport.Stream("peer0.org1.example.com:7051"))
}

func TestAddBlockListenerReplay(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	var received []*fab.BlockEvent
	_, err = network.AddBlockListener(func(event *fab.BlockEvent, err error) {
		require.NoError(t, err)
		received = append(received, event)
	}, stream.WithStartBlock(3))
	require.NoError(t, err)

	// a replay registration gets a dedicated stream carrying its window
	replays := transport.ReplayStreams()
	require.Len(t, replays, 1)
	start, ok := replays[0].StartBlock()
	require.True(t, ok)
	assert.Equal(t, uint64(3), start)

	replays[0].SendEvent(emocks.NewFilteredBlock("mychannel", 3))
	require.Len(t, received, 1)
	assert.Equal(t, uint64(3), received[0].FilteredBlock.Number)
}

func TestRemoveUnknownCommitListener(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider)
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	network.RemoveCommitListener(&recordingCommitListener{})
}

func TestGetContract(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider)
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	contract := network.GetContract("marbles")
	assert.Equal(t, "marbles", contract.Name())
	assert.Equal(t, "marbles", contract.ChaincodeID())
	assert.Same(t, contract, network.GetContract("marbles"))

	named := network.GetContractWithName("marbles", "transfer")
	assert.Equal(t, "transfer", named.Name())
	assert.NotSame(t, contract, named)
}

func TestContractRegisterEvent(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	gw := newTestGateway(t, provider, WithDiscovery(false))
	defer gw.Close()

	s := stream.New("test", "peer0.org1.example.com:7051")
	network, err := gw.GetNetwork("mychannel", WithEventStream(s))
	require.NoError(t, err)

	var received []*fab.CCEvent
	contract := network.GetContract("marbles")
	reg, err := contract.RegisterEvent("update.*", func(event *fab.CCEvent, err error) {
		require.NoError(t, err)
		received = append(received, event)
	})
	require.NoError(t, err)

	s.SendEvent(emocks.NewFilteredBlock("mychannel", 1, emocks.NewFilteredTxWithCCEvent("tx1", "marbles", "updated")))
	require.Len(t, received, 1)
	assert.Equal(t, "updated", received[0].EventName)

	require.NoError(t, network.Unregister(reg))
	s.SendEvent(emocks.NewFilteredBlock("mychannel", 2, emocks.NewFilteredTxWithCCEvent("tx2", "marbles", "updated")))
	assert.Len(t, received, 1)
}

func TestNetworkDispose(t *testing.T) {
	provider := newMockDiscovererProvider(newTestTopology())
	transport := emocks.NewMockTransport()
	gw := newTestGateway(t, provider, WithTransport(transport))
	defer gw.Close()

	network, err := gw.GetNetwork("mychannel")
	require.NoError(t, err)

	listener := &recordingCommitListener{}
	_, err = network.AddCommitListener(listener, nil, "tx1")
	require.NoError(t, err)

	network.Dispose()
	network.Dispose()

	require.Len(t, provider.discoverers, 1)
	assert.True(t, provider.discoverers[0].closed)

	_, err = network.AddCommitListener(listener, nil, "tx2")
	require.Error(t, err)
	_, err = network.AddBlockListener(func(*fab.BlockEvent, error) {})
	require.Error(t, err)
}

func newTestGateway(t *testing.T, provider *mockDiscovererProvider, opts ...Option) *Gateway {
	allOpts := append([]Option{
		WithTransport(emocks.NewMockTransport()),
		WithDiscovererProvider(provider.new),
	}, opts...)
	gw, err := Connect(
		WithConfig(filepath.Join("testdata", "connection-profile.yaml")),
		WithIdentity(fabmocks.NewMockIdentity("Org1MSP")),
		allOpts...,
	)
	require.NoError(t, err)
	return gw
}

func newTestTopology() *discovery.Topology {
	topology := discovery.NewTopology("mychannel")
	topology.AddPeer("Org1MSP", "peer0.org1.example.com:7051", 42)
	topology.AddPeer("Org2MSP", "peer0.org2.example.com:9051", 41)
	return topology
}

type mockDiscovererProvider struct {
	mutex       sync.Mutex
	topology    *discovery.Topology
	connectErr  map[string]error
	sendErr     map[string]error
	discoverers []*mockDiscoverer
}

func newMockDiscovererProvider(topology *discovery.Topology) *mockDiscovererProvider {
	return &mockDiscovererProvider{
		topology:   topology,
		connectErr: make(map[string]error),
		sendErr:    make(map[string]error),
	}
}

func (p *mockDiscovererProvider) new(peerName, mspID string) Discoverer {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	d := &mockDiscoverer{provider: p, peerName: peerName, mspID: mspID}
	p.discoverers = append(p.discoverers, d)
	return d
}

type mockDiscoverer struct {
	provider *mockDiscovererProvider
	peerName string
	mspID    string
	url      string
	closed   bool
}

func (d *mockDiscoverer) Connect(_ context.Context, url string, _ ...options.Opt) error {
	if err := d.provider.connectErr[d.peerName]; err != nil {
		return err
	}
	d.url = url
	return nil
}

func (d *mockDiscoverer) NewDiscoveryService(channelName string) (DiscoveryService, error) {
	if d.url == "" {
		return nil, errors.New("discoverer is not connected")
	}
	return &mockDiscoveryService{discoverer: d, channelName: channelName}, nil
}

func (d *mockDiscoverer) Close() {
	d.closed = true
}

type mockDiscoveryService struct {
	discoverer  *mockDiscoverer
	channelName string
}

func (s *mockDiscoveryService) Build(identity fab.IdentityContext) ([]byte, error) {
	return identity.Serialize()
}

func (s *mockDiscoveryService) Sign(identity fab.IdentityContext, payload []byte) (*discpb.SignedRequest, error) {
	signature, err := identity.Sign(payload)
	if err != nil {
		return nil, err
	}
	return &discpb.SignedRequest{Payload: payload, Signature: signature}, nil
}

func (s *mockDiscoveryService) Send(context.Context, *discpb.SignedRequest) (*discovery.Topology, error) {
	if err := s.discoverer.provider.sendErr[s.discoverer.peerName]; err != nil {
		return nil, err
	}
	return s.discoverer.provider.topology, nil
}

// selfRemovingCommitListener removes itself from the network as soon as it
// receives an outcome.
type selfRemovingCommitListener struct {
	recordingCommitListener
	network *Network
}

func (l *selfRemovingCommitListener) CommitReceived(event *fab.CommitEvent, err error) {
	l.recordingCommitListener.CommitReceived(event, err)
	l.network.RemoveCommitListener(l)
}

type recordingCommitListener struct {
	mutex  sync.Mutex
	events []*fab.CommitEvent
	errs   []error
}

func (l *recordingCommitListener) CommitReceived(event *fab.CommitEvent, err error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err != nil {
		l.errs = append(l.errs, err)
		return
	}
	l.events = append(l.events, event)
}

func (l *recordingCommitListener) outcomes() ([]*fab.CommitEvent, []error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return append([]*fab.CommitEvent{}, l.events...), append([]error{}, l.errs...)
}
