/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"google.golang.org/grpc/keepalive"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/comm"
)

const defaultPeerTimeout = 15 * time.Second

// networkConfig holds the relevant sections of a common connection profile.
type networkConfig struct {
	Client        clientConfig
	Organizations map[string]organizationConfig
	Channels      map[string]channelConfig
	Peers         map[string]peerConfig
}

type clientConfig struct {
	Organization string
	Connection   connectionConfig
}

type connectionConfig struct {
	Timeout timeoutConfig
}

type timeoutConfig struct {
	Peer map[string]time.Duration
}

type organizationConfig struct {
	MSPID string `mapstructure:"mspid"`
	Peers []string
}

type channelConfig struct {
	Peers map[string]channelPeerConfig
}

type channelPeerConfig struct {
	EventSource *bool `mapstructure:"eventSource"`
}

type peerConfig struct {
	URL         string
	GRPCOptions map[string]interface{} `mapstructure:"grpcOptions"`
}

func loadConfig(path string) (*networkConfig, error) {
	// peer names contain dots, so the default key delimiter cannot be used
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WithMessagef(err, "unable to read connection profile [%s]", path)
	}

	config := &networkConfig{}
	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(config, decodeHook); err != nil {
		return nil, errors.WithMessagef(err, "invalid connection profile [%s]", path)
	}
	if config.Client.Organization == "" {
		return nil, errors.Errorf("connection profile [%s] does not specify a client organization", path)
	}
	if _, ok := config.org(config.Client.Organization); !ok {
		return nil, errors.Errorf("client organization [%s] is not defined in the connection profile", config.Client.Organization)
	}
	return config, nil
}

// org looks up an organization by name. Viper lower-cases map keys so the
// lookup must be case-insensitive.
func (c *networkConfig) org(name string) (organizationConfig, bool) {
	for key, org := range c.Organizations {
		if strings.EqualFold(key, name) {
			return org, true
		}
	}
	return organizationConfig{}, false
}

func (c *networkConfig) mspIDForOrg(orgName string) string {
	org, _ := c.org(orgName)
	return org.MSPID
}

// orgPeerNames returns the peer names listed under the given organization.
func (c *networkConfig) orgPeerNames(orgName string) []string {
	org, _ := c.org(orgName)
	names := append([]string{}, org.Peers...)
	sort.Strings(names)
	return names
}

// channelPeerNames returns the peer names listed under the given channel.
func (c *networkConfig) channelPeerNames(channel string) []string {
	var names []string
	for name := range c.Channels[channel].Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *networkConfig) allPeerNames() []string {
	var names []string
	for name := range c.Peers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// peer resolves the named peer into a fab.Peer, or nil if the name is
// not present in the profile.
func (c *networkConfig) peer(name string) fab.Peer {
	p, ok := c.Peers[name]
	if !ok {
		return nil
	}
	return &configPeer{
		name:  name,
		url:   p.URL,
		mspID: c.orgOfPeer(name),
	}
}

func (c *networkConfig) orgOfPeer(peerName string) string {
	for _, org := range c.Organizations {
		for _, name := range org.Peers {
			if name == peerName {
				return org.MSPID
			}
		}
	}
	return ""
}

// eventSource reports whether the named peer is an event source on the
// given channel. Peers are event sources unless the profile says otherwise.
func (c *networkConfig) eventSource(channel, peerName string) bool {
	p, ok := c.Channels[channel].Peers[peerName]
	if !ok {
		return false
	}
	return p.EventSource == nil || *p.EventSource
}

func (c *networkConfig) peerTimeout() time.Duration {
	if t, ok := c.Client.Connection.Timeout.Peer["endorser"]; ok {
		return t
	}
	return defaultPeerTimeout
}

// commOpts derives connection options for the named peer from its
// grpcOptions section.
func (c *networkConfig) commOpts(peerName string) []options.Opt {
	opts := []options.Opt{comm.WithConnectTimeout(c.peerTimeout())}
	grpcOpts := c.Peers[peerName].GRPCOptions
	if cast.ToBool(grpcOpts["fail-fast"]) {
		opts = append(opts, comm.WithFailFast(true))
	}
	if t := cast.ToDuration(grpcOpts["keep-alive-time"]); t > 0 {
		opts = append(opts, comm.WithKeepAliveParams(keepAliveParams(grpcOpts)))
	}
	return opts
}

func keepAliveParams(grpcOpts map[string]interface{}) keepalive.ClientParameters {
	return keepalive.ClientParameters{
		Time:                cast.ToDuration(grpcOpts["keep-alive-time"]),
		Timeout:             cast.ToDuration(grpcOpts["keep-alive-timeout"]),
		PermitWithoutStream: cast.ToBool(grpcOpts["keep-alive-permit"]),
	}
}

// configPeer is a peer backed by a connection profile entry.
type configPeer struct {
	name  string
	url   string
	mspID string
}

func (p *configPeer) Name() string {
	return p.name
}

func (p *configPeer) URL() string {
	return p.url
}

func (p *configPeer) MSPID() string {
	return p.mspID
}

// Connected reports whether the profile carries an endpoint for the peer.
func (p *configPeer) Connected() bool {
	return p.url != ""
}
