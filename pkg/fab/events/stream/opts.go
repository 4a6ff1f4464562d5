/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package stream

import (
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
)

type params struct {
	unregister    bool
	unregisterSet bool
	replay        bool
	startBlock    uint64
	startBlockSet bool
	endBlock      uint64
	endBlockSet   bool
	privateData   bool
}

func defaultParams() *params {
	return &params{}
}

// WithUnregister overrides the listener's default one-shot behavior.
// Transaction listeners unregister themselves on first match unless this is
// set to false; block and chaincode listeners are persistent unless this is
// set to true.
func WithUnregister(value bool) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(unregisterSetter); ok {
			setter.SetUnregister(value)
		}
	}
}

// WithReplay indicates that the stream should be opened against a historical
// block range rather than the current head.
func WithReplay() options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(replaySetter); ok {
			setter.SetReplay()
		}
	}
}

// WithStartBlock sets the block number from which events are to be replayed.
// Implies replay.
func WithStartBlock(value uint64) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(startBlockSetter); ok {
			setter.SetStartBlock(value)
		}
	}
}

// WithEndBlock sets the block number at which the listener expires. The
// listener is unregistered after the event for this block is delivered.
func WithEndBlock(value uint64) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(endBlockSetter); ok {
			setter.SetEndBlock(value)
		}
	}
}

// WithPrivateData indicates that events should include private data collections.
// Note that the caller must have sufficient privileges for this option.
func WithPrivateData() options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(privateDataSetter); ok {
			setter.SetPrivateData()
		}
	}
}

type unregisterSetter interface {
	SetUnregister(value bool)
}

type replaySetter interface {
	SetReplay()
}

type startBlockSetter interface {
	SetStartBlock(value uint64)
}

type endBlockSetter interface {
	SetEndBlock(value uint64)
}

type privateDataSetter interface {
	SetPrivateData()
}

func (p *params) SetUnregister(value bool) {
	p.unregister = value
	p.unregisterSet = true
}

func (p *params) SetReplay() {
	p.replay = true
}

func (p *params) SetStartBlock(value uint64) {
	p.startBlock = value
	p.startBlockSet = true
	p.replay = true
}

func (p *params) SetEndBlock(value uint64) {
	p.endBlock = value
	p.endBlockSet = true
}

func (p *params) SetPrivateData() {
	p.privateData = true
}
