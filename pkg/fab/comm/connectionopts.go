/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package comm

import (
	"crypto/tls"
	"time"

	"google.golang.org/grpc/keepalive"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
)

type params struct {
	connectTimeout  time.Duration
	tlsConfig       *tls.Config
	keepAliveParams keepalive.ClientParameters
	failFast        bool
}

func defaultParams() *params {
	return &params{
		connectTimeout: 15 * time.Second,
		failFast:       true,
	}
}

// WithConnectTimeout sets the GRPC connection timeout
func WithConnectTimeout(value time.Duration) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(connectTimeoutSetter); ok {
			setter.SetConnectTimeout(value)
		}
	}
}

// WithTLSConfig sets the TLS config to use for URLs that request TLS
func WithTLSConfig(value *tls.Config) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(tlsConfigSetter); ok {
			setter.SetTLSConfig(value)
		}
	}
}

// WithKeepAliveParams sets the GRPC keep-alive parameters
func WithKeepAliveParams(value keepalive.ClientParameters) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(keepAliveParamsSetter); ok {
			setter.SetKeepAliveParams(value)
		}
	}
}

// WithFailFast sets the GRPC fail-fast parameter
func WithFailFast(value bool) options.Opt {
	return func(p options.Params) {
		if setter, ok := p.(failFastSetter); ok {
			setter.SetFailFast(value)
		}
	}
}

type connectTimeoutSetter interface {
	SetConnectTimeout(value time.Duration)
}

type tlsConfigSetter interface {
	SetTLSConfig(value *tls.Config)
}

type keepAliveParamsSetter interface {
	SetKeepAliveParams(value keepalive.ClientParameters)
}

type failFastSetter interface {
	SetFailFast(value bool)
}

func (p *params) SetConnectTimeout(value time.Duration) {
	p.connectTimeout = value
}

func (p *params) SetTLSConfig(value *tls.Config) {
	p.tlsConfig = value
}

func (p *params) SetKeepAliveParams(value keepalive.ClientParameters) {
	p.keepAliveParams = value
}

func (p *params) SetFailFast(value bool) {
	p.failFast = value
}
