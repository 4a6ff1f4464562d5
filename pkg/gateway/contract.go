/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

// Contract represents a smart contract instance on a network channel.
type Contract struct {
	network     *Network
	chaincodeID string
	name        string
}

func newContract(network *Network, chaincodeID, name string) *Contract {
	return &Contract{
		network:     network,
		chaincodeID: chaincodeID,
		name:        name,
	}
}

// Name returns the name of the contract within the chaincode, or the
// chaincode ID itself for the default contract.
func (c *Contract) Name() string {
	if c.name == "" {
		return c.chaincodeID
	}
	return c.name
}

// ChaincodeID returns the ID of the chaincode the contract belongs to.
func (c *Contract) ChaincodeID() string {
	return c.chaincodeID
}

// RegisterEvent registers for chaincode events emitted by the contract's
// chaincode. The event filter is a regular expression matched against
// event names. Unregister with Network.Unregister.
func (c *Contract) RegisterEvent(eventFilter string, callback fab.CCCallback, opts ...options.Opt) (fab.Registration, error) {
	stream, err := c.network.stream(opts...)
	if err != nil {
		return nil, err
	}
	reg, err := stream.RegisterChaincodeListener(c.chaincodeID, eventFilter, callback, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.network.track(reg, stream); err != nil {
		return nil, err
	}
	return reg, nil
}
