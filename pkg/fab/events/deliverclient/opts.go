/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package deliverclient

import (
	"math"

	ab "github.com/hyperledger/fabric-protos-go/orderer"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
)

type params struct {
	channel     string
	seekFrom    uint64
	seekFromSet bool
	replay      bool
	seekTo      uint64
	seekToSet   bool
}

func defaultParams() *params {
	return &params{}
}

// WithChannel sets the channel to receive filtered block events for.
func WithChannel(name string) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(channelSetter); ok {
			setter.SetChannel(name)
		}
	}
}

// WithSeekFrom requests delivery starting from the given block number
// instead of the newest block.
func WithSeekFrom(blockNum uint64) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(seekFromSetter); ok {
			setter.SetSeekFrom(blockNum)
		}
	}
}

type channelSetter interface {
	SetChannel(name string)
}

type seekFromSetter interface {
	SetSeekFrom(blockNum uint64)
}

func (p *params) SetChannel(name string) {
	p.channel = name
}

func (p *params) SetSeekFrom(blockNum uint64) {
	p.seekFrom = blockNum
	p.seekFromSet = true
}

// SetStartBlock satisfies the start-block setter of the registration options,
// so that a replay window requested at registration time reaches the seek
// request sent to the peer.
func (p *params) SetStartBlock(blockNum uint64) {
	p.seekFrom = blockNum
	p.seekFromSet = true
}

// SetReplay satisfies the replay setter of the registration options. Replay
// without an explicit start block seeks from the oldest block the peer has.
func (p *params) SetReplay() {
	p.replay = true
}

// SetEndBlock satisfies the end-block setter of the registration options.
func (p *params) SetEndBlock(blockNum uint64) {
	p.seekTo = blockNum
	p.seekToSet = true
}

func (p *params) seekInfo() *ab.SeekInfo {
	start := newestPosition()
	if p.seekFromSet {
		start = specifiedPosition(p.seekFrom)
	} else if p.replay {
		start = oldestPosition()
	}
	stop := specifiedPosition(math.MaxUint64)
	if p.seekToSet {
		stop = specifiedPosition(p.seekTo)
	}
	return &ab.SeekInfo{
		Start:    start,
		Stop:     stop,
		Behavior: ab.SeekInfo_BLOCK_UNTIL_READY,
	}
}

func newestPosition() *ab.SeekPosition {
	return &ab.SeekPosition{
		Type: &ab.SeekPosition_Newest{Newest: &ab.SeekNewest{}},
	}
}

func oldestPosition() *ab.SeekPosition {
	return &ab.SeekPosition{
		Type: &ab.SeekPosition_Oldest{Oldest: &ab.SeekOldest{}},
	}
}

func specifiedPosition(blockNum uint64) *ab.SeekPosition {
	return &ab.SeekPosition{
		Type: &ab.SeekPosition_Specified{Specified: &ab.SeekSpecified{Number: blockNum}},
	}
}
