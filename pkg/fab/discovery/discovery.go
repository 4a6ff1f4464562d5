/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package discovery implements the client side of the discovery protocol:
// per-peer discoverers that connect to an endpoint and per-channel services
// that build, sign and send discovery requests. A successful send populates
// the channel topology read by later target-selection calls.
package discovery

import (
	"context"

	"github.com/pkg/errors"

	discpb "github.com/hyperledger/fabric-protos-go/discovery"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/fab/comm"
)

var logger = logging.NewLogger("fabsdk/discovery")

// Sender is the capability of sending a signed discovery request to a peer.
// It is implemented by the GRPC discovery client and replaced by mocks in tests.
type Sender interface {
	Discover(ctx context.Context, req *discpb.SignedRequest) (*discpb.Response, error)
}

// Discoverer issues discovery requests to a single peer. It must be
// connected to an endpoint before a service can send requests through it.
type Discoverer struct {
	peerName string
	mspID    string
	conn     *comm.GRPCConnection
	sender   Sender
}

// NewDiscoverer returns a new discoverer for the given peer
func NewDiscoverer(peerName, mspID string) *Discoverer {
	return &Discoverer{
		peerName: peerName,
		mspID:    mspID,
	}
}

// PeerName returns the name of the peer the discoverer talks to
func (d *Discoverer) PeerName() string {
	return d.peerName
}

// MSPID returns the MSP ID of the peer's organization
func (d *Discoverer) MSPID() string {
	return d.mspID
}

// Connect opens a connection to the given endpoint
func (d *Discoverer) Connect(ctx context.Context, url string, opts ...options.Opt) error {
	if d.conn != nil {
		return errors.Errorf("discoverer for peer [%s] is already connected", d.peerName)
	}

	conn, err := comm.NewConnection(ctx, url, opts...)
	if err != nil {
		return errors.WithMessagef(err, "error connecting discoverer for peer [%s]", d.peerName)
	}

	logger.Debugf("Connected discoverer for peer [%s] to [%s]", d.peerName, url)
	d.conn = conn
	d.sender = newGRPCSender(conn)
	return nil
}

// NewDiscoveryService returns a discovery service for the given channel,
// sending requests through this discoverer's connection.
func (d *Discoverer) NewDiscoveryService(channelName string) (*Service, error) {
	if channelName == "" {
		return nil, errors.New("channel name is required")
	}
	if d.sender == nil {
		return nil, errors.Errorf("discoverer for peer [%s] is not connected", d.peerName)
	}

	return &Service{
		channelName: channelName,
		peerName:    d.peerName,
		sender:      d.sender,
	}, nil
}

// Close closes the discoverer's connection
func (d *Discoverer) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}
