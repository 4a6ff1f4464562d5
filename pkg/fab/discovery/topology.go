/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package discovery

import (
	"github.com/golang/protobuf/proto"
	discpb "github.com/hyperledger/fabric-protos-go/discovery"
	gossippb "github.com/hyperledger/fabric-protos-go/gossip"
	"github.com/pkg/errors"
)

// Peer is a peer learned from a discovery response. Discovered peers always
// carry an endpoint and are therefore considered connected.
type Peer struct {
	endpoint     string
	mspID        string
	ledgerHeight uint64
}

// Name returns the endpoint of the peer
func (p *Peer) Name() string {
	return p.endpoint
}

// URL returns the endpoint of the peer
func (p *Peer) URL() string {
	return p.endpoint
}

// MSPID returns the MSP ID of the peer's organization
func (p *Peer) MSPID() string {
	return p.mspID
}

// Connected indicates whether the peer has an endpoint assigned
func (p *Peer) Connected() bool {
	return p.endpoint != ""
}

// BlockHeight returns the block height of the peer in the channel
func (p *Peer) BlockHeight() uint64 {
	return p.ledgerHeight
}

// Topology is the channel topology carried by a discovery response.
type Topology struct {
	channelName string
	mspIDs      []string
	peersByOrg  map[string][]*Peer
}

// NewTopology returns an empty topology for the given channel
func NewTopology(channelName string) *Topology {
	return &Topology{
		channelName: channelName,
		peersByOrg:  make(map[string][]*Peer),
	}
}

// AddPeer adds a peer with the given organization and endpoint to the topology
func (t *Topology) AddPeer(mspID, endpoint string, ledgerHeight uint64) {
	if _, ok := t.peersByOrg[mspID]; !ok {
		t.mspIDs = append(t.mspIDs, mspID)
	}
	t.peersByOrg[mspID] = append(t.peersByOrg[mspID], &Peer{
		endpoint:     endpoint,
		mspID:        mspID,
		ledgerHeight: ledgerHeight,
	})
}

// ChannelName returns the name of the channel the topology describes
func (t *Topology) ChannelName() string {
	return t.channelName
}

// MSPIDs returns the MSP IDs of the organizations in the channel config
func (t *Topology) MSPIDs() []string {
	return t.mspIDs
}

// Peers returns all peers in the channel
func (t *Topology) Peers() []*Peer {
	var peers []*Peer
	for _, orgPeers := range t.peersByOrg {
		peers = append(peers, orgPeers...)
	}
	return peers
}

// PeersOfOrg returns the channel peers belonging to the given organization
func (t *Topology) PeersOfOrg(mspID string) []*Peer {
	return t.peersByOrg[mspID]
}

func parseTopology(channelName string, resp *discpb.Response) (*Topology, error) {
	topology := &Topology{
		channelName: channelName,
		peersByOrg:  make(map[string][]*Peer),
	}

	for _, result := range resp.Results {
		switch res := result.Result.(type) {
		case *discpb.QueryResult_Error:
			return nil, errors.Errorf("discovery query failed: %s", res.Error.Content)
		case *discpb.QueryResult_ConfigResult:
			for mspID := range res.ConfigResult.Msps {
				topology.mspIDs = append(topology.mspIDs, mspID)
			}
		case *discpb.QueryResult_Members:
			if err := parseMembers(topology, res.Members); err != nil {
				return nil, err
			}
		}
	}

	return topology, nil
}

func parseMembers(topology *Topology, members *discpb.PeerMembershipResult) error {
	for mspID, peers := range members.PeersByOrg {
		for _, peer := range peers.Peers {
			parsed, err := parsePeer(mspID, peer)
			if err != nil {
				return err
			}
			topology.peersByOrg[mspID] = append(topology.peersByOrg[mspID], parsed)
		}
	}
	return nil
}

func parsePeer(mspID string, peer *discpb.Peer) (*Peer, error) {
	if peer.MembershipInfo == nil {
		return nil, errors.New("peer is missing membership info")
	}

	aliveMsg := &gossippb.GossipMessage{}
	if err := proto.Unmarshal(peer.MembershipInfo.Payload, aliveMsg); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling peer membership info")
	}
	if aliveMsg.GetAliveMsg() == nil || aliveMsg.GetAliveMsg().Membership == nil {
		return nil, errors.New("peer membership info is not an alive message")
	}

	parsed := &Peer{
		endpoint: aliveMsg.GetAliveMsg().Membership.Endpoint,
		mspID:    mspID,
	}

	// State info is only returned for channel membership queries.
	if peer.StateInfo != nil {
		stateMsg := &gossippb.GossipMessage{}
		if err := proto.Unmarshal(peer.StateInfo.Payload, stateMsg); err != nil {
			return nil, errors.Wrap(err, "error unmarshalling peer state info")
		}
		if stateInfo := stateMsg.GetStateInfo(); stateInfo != nil && stateInfo.Properties != nil {
			parsed.ledgerHeight = stateInfo.Properties.LedgerHeight
		}
	}

	return parsed, nil
}
