/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package discovery

import (
	"context"

	"github.com/golang/protobuf/proto"
	discpb "github.com/hyperledger/fabric-protos-go/discovery"
	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

// Service builds, signs and sends discovery requests for one channel. Each
// of Build, Sign and Send is a one-shot operation; a successful Send returns
// the channel topology carried by the response.
type Service struct {
	channelName string
	peerName    string
	sender      Sender
}

// ChannelName returns the name of the channel the service queries
func (s *Service) ChannelName() string {
	return s.channelName
}

// Build marshals a discovery request carrying a config query and a peer
// membership query for the channel.
func (s *Service) Build(identity fab.IdentityContext) ([]byte, error) {
	creds, err := identity.Serialize()
	if err != nil {
		return nil, errors.WithMessage(err, "error serializing identity")
	}

	req := &discpb.Request{
		Authentication: &discpb.AuthInfo{
			ClientIdentity: creds,
		},
		Queries: []*discpb.Query{
			{
				Channel: s.channelName,
				Query:   &discpb.Query_ConfigQuery{ConfigQuery: &discpb.ConfigQuery{}},
			},
			{
				Channel: s.channelName,
				Query:   &discpb.Query_PeerQuery{PeerQuery: &discpb.PeerMembershipQuery{}},
			},
		},
	}

	payload, err := proto.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling discovery request")
	}
	return payload, nil
}

// Sign signs the marshalled request with the given identity
func (s *Service) Sign(identity fab.IdentityContext, payload []byte) (*discpb.SignedRequest, error) {
	signature, err := identity.Sign(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "error signing discovery request")
	}

	return &discpb.SignedRequest{
		Payload:   payload,
		Signature: signature,
	}, nil
}

// Send sends the signed request to the peer and parses the response into the
// channel topology.
func (s *Service) Send(ctx context.Context, req *discpb.SignedRequest) (*Topology, error) {
	resp, err := s.sender.Discover(ctx, req)
	if err != nil {
		return nil, errors.WithMessagef(err, "discovery request to peer [%s] failed", s.peerName)
	}

	topology, err := parseTopology(s.channelName, resp)
	if err != nil {
		return nil, errors.WithMessagef(err, "error parsing discovery response from peer [%s]", s.peerName)
	}

	logger.Debugf("Discovery on channel [%s] via peer [%s] found %d peer(s)", s.channelName, s.peerName, len(topology.Peers()))
	return topology, nil
}

type grpcSender struct {
	client discpb.DiscoveryClient
}

func newGRPCSender(conn interface{ ClientConn() *grpc.ClientConn }) Sender {
	return &grpcSender{client: discpb.NewDiscoveryClient(conn.ClientConn())}
}

func (s *grpcSender) Discover(ctx context.Context, req *discpb.SignedRequest) (*discpb.Response, error) {
	return s.client.Discover(ctx, req)
}
