/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

// MockPeer implements fab.Peer
type MockPeer struct {
	MockName        string
	MockURL         string
	MockMSPID       string
	Disconnected    bool
	MockBlockHeight uint64
}

// NewMockPeer returns a new connected mock peer with the given name and URL
func NewMockPeer(name, url string) *MockPeer {
	return &MockPeer{
		MockName: name,
		MockURL:  url,
	}
}

// Name returns the name of the peer
func (p *MockPeer) Name() string {
	return p.MockName
}

// URL returns the URL of the peer
func (p *MockPeer) URL() string {
	return p.MockURL
}

// MSPID returns the MSP ID of the peer's organization
func (p *MockPeer) MSPID() string {
	return p.MockMSPID
}

// Connected indicates whether the peer has an endpoint assigned
func (p *MockPeer) Connected() bool {
	return !p.Disconnected
}

// BlockHeight returns the block height of the peer
func (p *MockPeer) BlockHeight() uint64 {
	return p.MockBlockHeight
}
