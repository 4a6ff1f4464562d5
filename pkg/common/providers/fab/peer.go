/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

// Peer represents a ledger node capable of endorsing transactions and
// emitting block, chaincode and transaction-commit events. Peers are
// borrowed references; none of the event components own their lifecycle.
type Peer interface {
	// Name returns the name of the peer as known to the connection profile.
	Name() string

	// URL returns the endpoint URL of the peer.
	URL() string

	// MSPID returns the MSP ID of the organization the peer belongs to.
	MSPID() string

	// Connected indicates whether the peer currently has an endpoint
	// assigned. Sending requests to an unconnected peer cannot succeed,
	// so target resolution rejects such peers before any network I/O.
	Connected() bool
}

// PeerState provides the block height of a peer as reported by discovery.
type PeerState interface {
	// BlockHeight returns the block height of the peer in the channel.
	BlockHeight() uint64
}
