/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package gateway enables Go developers to connect to a Fabric network and
// receive block, chaincode and transaction commit events from its peers.
package gateway

import (
	"context"
	"sync"
	"time"

	discpb "github.com/hyperledger/fabric-protos-go/discovery"
	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/comm"
	"github.com/japidei/fabric-sdk-node/pkg/fab/discovery"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/deliverclient"
)

var logger = logging.NewLogger("fabsdk/gateway")

// Gateway is the entry point for a client application to the event services
// of a Fabric network. It is instantiated using the Connect factory method.
type Gateway struct {
	config     *networkConfig
	org        string
	identity   fab.IdentityContext
	transport  fab.EventTransport
	discovery  bool
	timeout    time.Duration
	discoverer DiscovererProvider

	mutex    sync.Mutex
	closed   bool
	networks map[string]*Network
}

// Option functional arguments can be supplied when connecting to customize
// the gateway.
type Option = func(gw *Gateway) error

// ConfigOption specifies the connection profile that describes the network.
type ConfigOption = func(gw *Gateway) error

// IdentityOption specifies the client identity used to sign requests.
type IdentityOption = func(gw *Gateway) error

// DiscoveryService issues a discovery request against a single peer.
type DiscoveryService interface {
	Build(identity fab.IdentityContext) ([]byte, error)
	Sign(identity fab.IdentityContext, payload []byte) (*discpb.SignedRequest, error)
	Send(ctx context.Context, request *discpb.SignedRequest) (*discovery.Topology, error)
}

// Discoverer manages the connection to a single discovery peer.
type Discoverer interface {
	Connect(ctx context.Context, url string, opts ...options.Opt) error
	NewDiscoveryService(channelName string) (DiscoveryService, error)
	Close()
}

// DiscovererProvider creates the discoverer used to query the named peer.
type DiscovererProvider func(peerName, mspID string) Discoverer

// Connect to a gateway defined by a network config file. The connection
// profile and a signing identity are mandatory; other gateway options
// can customize discovery and transport behaviour.
//
//	gw, err := gateway.Connect(
//		gateway.WithConfig("connection-profile.yaml"),
//		gateway.WithIdentity(id),
//	)
func Connect(config ConfigOption, identity IdentityOption, opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		discovery:  true,
		timeout:    defaultPeerTimeout,
		discoverer: grpcDiscovererProvider,
		networks:   make(map[string]*Network),
	}

	if err := identity(gw); err != nil {
		return nil, errors.WithMessage(err, "failed to apply identity option")
	}
	if gw.identity == nil {
		return nil, errors.New("no identity supplied")
	}
	if err := config(gw); err != nil {
		return nil, errors.WithMessage(err, "failed to apply config option")
	}
	if gw.config == nil {
		return nil, errors.New("no connection profile supplied")
	}
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, errors.WithMessage(err, "failed to apply gateway option")
		}
	}

	if gw.transport == nil {
		gw.transport = deliverclient.New(gw.identity, comm.WithConnectTimeout(gw.timeout))
	}
	gw.org = gw.config.Client.Organization
	return gw, nil
}

// WithConfig loads the connection profile at the given path.
func WithConfig(path string) ConfigOption {
	return func(gw *Gateway) error {
		config, err := loadConfig(path)
		if err != nil {
			return err
		}
		gw.config = config
		return nil
	}
}

// WithIdentity uses the given identity to sign discovery requests.
func WithIdentity(identity fab.IdentityContext) IdentityOption {
	return func(gw *Gateway) error {
		gw.identity = identity
		return nil
	}
}

// WithTransport uses the given transport to open event streams to peers.
func WithTransport(transport fab.EventTransport) Option {
	return func(gw *Gateway) error {
		gw.transport = transport
		return nil
	}
}

// WithDiscovery enables or disables service discovery for all networks
// obtained through the gateway. Discovery is enabled by default.
func WithDiscovery(enabled bool) Option {
	return func(gw *Gateway) error {
		gw.discovery = enabled
		return nil
	}
}

// WithTimeout sets the timeout applied to peer connections and discovery
// requests.
func WithTimeout(timeout time.Duration) Option {
	return func(gw *Gateway) error {
		gw.timeout = timeout
		return nil
	}
}

// WithDiscovererProvider overrides how discoverers are created. Intended
// for testing.
func WithDiscovererProvider(provider DiscovererProvider) Option {
	return func(gw *Gateway) error {
		gw.discoverer = provider
		return nil
	}
}

// GetNetwork returns a session for the named channel, initializing one on
// first use. Subsequent calls with the same name return the existing
// session.
func (gw *Gateway) GetNetwork(name string, opts ...NetworkOption) (*Network, error) {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()

	if gw.closed {
		return nil, errors.New("gateway is closed")
	}
	if network, ok := gw.networks[name]; ok {
		return network, nil
	}

	network, err := newNetwork(gw, name, opts...)
	if err != nil {
		return nil, err
	}
	gw.networks[name] = network
	return network, nil
}

// Close disposes of all network sessions obtained through the gateway.
func (gw *Gateway) Close() {
	gw.mutex.Lock()
	defer gw.mutex.Unlock()

	if gw.closed {
		return
	}
	gw.closed = true

	for name, network := range gw.networks {
		logger.Debugf("Disposing of network [%s]", name)
		network.Dispose()
	}
	gw.networks = nil
	gw.transport.Close()
}

// grpcDiscovererProvider creates discoverers backed by a gRPC connection.
func grpcDiscovererProvider(peerName, mspID string) Discoverer {
	return &grpcDiscoverer{discoverer: discovery.NewDiscoverer(peerName, mspID)}
}

type grpcDiscoverer struct {
	discoverer *discovery.Discoverer
}

func (d *grpcDiscoverer) Connect(ctx context.Context, url string, opts ...options.Opt) error {
	return d.discoverer.Connect(ctx, url, opts...)
}

func (d *grpcDiscoverer) NewDiscoveryService(channelName string) (DiscoveryService, error) {
	service, err := d.discoverer.NewDiscoveryService(channelName)
	if err != nil {
		return nil, err
	}
	return service, nil
}

func (d *grpcDiscoverer) Close() {
	d.discoverer.Close()
}
