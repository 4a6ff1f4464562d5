/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package comm manages the GRPC connections over which discovery requests
// are sent to peers.
package comm

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
)

var logger = logging.NewLogger("fabsdk/comm")

// GRPCConnection manages one GRPC connection to a peer endpoint
type GRPCConnection struct {
	url  string
	conn *grpc.ClientConn
	done int32
}

// NewConnection dials the given peer URL and returns the connection
func NewConnection(ctx context.Context, url string, opts ...options.Opt) (*GRPCConnection, error) {
	if url == "" {
		return nil, errors.New("server URL not specified")
	}

	params := defaultParams()
	options.Apply(params, opts)

	dialOpts := newDialOpts(url, params)

	dialCtx := ctx
	if params.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, params.connectTimeout)
		defer cancel()
	}

	grpcconn, err := grpc.DialContext(dialCtx, toAddress(url), dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not connect to %s", url)
	}

	return &GRPCConnection{
		url:  url,
		conn: grpcconn,
	}, nil
}

// URL returns the target URL of the connection
func (c *GRPCConnection) URL() string {
	return c.url
}

// ClientConn returns the underlying GRPC client connection
func (c *GRPCConnection) ClientConn() *grpc.ClientConn {
	return c.conn
}

// Close closes the connection. Close is idempotent.
func (c *GRPCConnection) Close() {
	if !atomic.CompareAndSwapInt32(&c.done, 0, 1) {
		logger.Debugf("Already closed")
		return
	}

	logger.Debugf("Closing connection to [%s]...", c.url)
	if err := c.conn.Close(); err != nil {
		logger.Warnf("error closing GRPC connection: %s", err)
	}
}

// Closed returns true if the connection has been closed
func (c *GRPCConnection) Closed() bool {
	return atomic.LoadInt32(&c.done) == 1
}

func newDialOpts(url string, params *params) []grpc.DialOption {
	var dialOpts []grpc.DialOption

	if params.keepAliveParams.Time > 0 || params.keepAliveParams.Timeout > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(params.keepAliveParams))
	}

	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.WaitForReady(!params.failFast)))

	if isTLSEnabled(url) && params.tlsConfig != nil {
		logger.Debugf("Creating a secure connection to [%s]", url)
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(params.tlsConfig)))
	} else {
		logger.Debugf("Creating an insecure connection to [%s]", url)
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	return dialOpts
}

// toAddress strips the protocol prefix from a peer URL
func toAddress(url string) string {
	if i := strings.Index(url, "://"); i >= 0 {
		return url[i+len("://"):]
	}
	return url
}

// isTLSEnabled indicates whether the URL requests a TLS connection
func isTLSEnabled(url string) bool {
	return strings.HasPrefix(url, "grpcs://") || strings.HasPrefix(url, "https://")
}
