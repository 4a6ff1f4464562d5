/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package deliverclient receives filtered block events from the deliver
// service of a peer and feeds them into event streams.
package deliverclient

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"sync/atomic"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	cb "github.com/hyperledger/fabric-protos-go/common"
	ab "github.com/hyperledger/fabric-protos-go/orderer"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"

	"github.com/japidei/fabric-sdk-node/pkg/common/logging"
	"github.com/japidei/fabric-sdk-node/pkg/common/options"
	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
	"github.com/japidei/fabric-sdk-node/pkg/fab/comm"
	"github.com/japidei/fabric-sdk-node/pkg/fab/events/stream"
)

var logger = logging.NewLogger("fabsdk/events")

const nonceLength = 24

// Transport opens event streams over the DeliverFiltered service of peers.
// Seek requests are signed with the client identity the transport was
// created with.
type Transport struct {
	identity fab.IdentityContext
	connOpts []options.Opt

	mutex   sync.Mutex
	closed  bool
	streams []*deliverStream
}

// New returns a transport that signs seek requests with the given identity.
// The connection options are applied to every peer connection the transport
// opens.
func New(identity fab.IdentityContext, connOpts ...options.Opt) *Transport {
	return &Transport{
		identity: identity,
		connOpts: connOpts,
	}
}

// OpenEventStream connects to the deliver service of the given peer and
// returns a stream of its filtered block events. The channel to deliver
// events for must be given with WithChannel.
func (t *Transport) OpenEventStream(peer fab.Peer, opts ...options.Opt) (fab.EventStream, error) {
	params := defaultParams()
	options.Apply(params, opts)

	if params.channel == "" {
		return nil, errors.New("no channel specified for event stream")
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil, errors.New("transport is closed")
	}

	conn, err := comm.NewConnection(context.Background(), peer.URL(), t.connOpts...)
	if err != nil {
		return nil, errors.WithMessagef(err, "error connecting to peer [%s]", peer.Name())
	}

	ctx, cancel := context.WithCancel(context.Background())
	ds, err := pb.NewDeliverClient(conn.ClientConn()).DeliverFiltered(ctx)
	if err != nil {
		cancel()
		conn.Close()
		return nil, errors.Wrapf(err, "error opening deliver stream to peer [%s]", peer.Name())
	}

	envelope, err := t.signedSeekEnvelope(params.channel, params.seekInfo())
	if err != nil {
		cancel()
		conn.Close()
		return nil, err
	}
	if err := ds.Send(envelope); err != nil {
		cancel()
		conn.Close()
		return nil, errors.Wrapf(err, "error sending seek request to peer [%s]", peer.Name())
	}

	logger.Debugf("Listening for filtered blocks on channel [%s] from peer [%s]", params.channel, peer.URL())

	s := &deliverStream{
		Stream: stream.New(params.channel+"/"+peer.URL(), peer.URL()),
		conn:   conn,
		cancel: cancel,
	}
	t.streams = append(t.streams, s)
	go s.receive(ds)
	return s, nil
}

// IsListening returns true if the transport has at least one open stream.
func (t *Transport) IsListening() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	for _, s := range t.streams {
		if atomic.LoadInt32(&s.done) == 0 {
			return true
		}
	}
	return false
}

// Close closes all streams opened through the transport.
func (t *Transport) Close() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for _, s := range t.streams {
		s.Close()
	}
	t.streams = nil
}

// signedSeekEnvelope wraps the seek request in a payload for the given
// channel and signs it.
func (t *Transport) signedSeekEnvelope(channelName string, seekInfo *ab.SeekInfo) (*cb.Envelope, error) {
	data, err := proto.Marshal(seekInfo)
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling seek info")
	}

	creator, err := t.identity.Serialize()
	if err != nil {
		return nil, errors.WithMessage(err, "error serializing identity")
	}

	nonce := make([]byte, nonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "error generating nonce")
	}

	channelHeader, err := proto.Marshal(&cb.ChannelHeader{
		Type:      int32(cb.HeaderType_DELIVER_SEEK_INFO),
		ChannelId: channelName,
		Timestamp: ptypes.TimestampNow(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling channel header")
	}

	signatureHeader, err := proto.Marshal(&cb.SignatureHeader{
		Creator: creator,
		Nonce:   nonce,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling signature header")
	}

	payload, err := proto.Marshal(&cb.Payload{
		Header: &cb.Header{
			ChannelHeader:   channelHeader,
			SignatureHeader: signatureHeader,
		},
		Data: data,
	})
	if err != nil {
		return nil, errors.Wrap(err, "error marshaling payload")
	}

	signature, err := t.identity.Sign(payload)
	if err != nil {
		return nil, errors.WithMessage(err, "error signing seek request")
	}

	return &cb.Envelope{Payload: payload, Signature: signature}, nil
}

// deliverStream pumps deliver responses from a peer into the event stream.
type deliverStream struct {
	*stream.Stream
	conn   *comm.GRPCConnection
	cancel context.CancelFunc
	done   int32
}

// receive pumps responses until the stream terminates. Every termination
// other than a local Close is delivered to the listeners as a stream error
// and closes the stream, so that listeners learn the peer is gone and the
// stream manager stops handing out the dead stream.
func (s *deliverStream) receive(ds pb.Deliver_DeliverFilteredClient) {
	for {
		response, err := ds.Recv()
		if atomic.LoadInt32(&s.done) == 1 {
			return
		}
		if err == io.EOF {
			logger.Debugf("Deliver stream from [%s] ended", s.SourceURL())
			s.terminate(errors.Errorf("deliver stream from [%s] ended", s.SourceURL()))
			return
		}
		if err != nil {
			logger.Warnf("Error receiving from deliver stream [%s]: %s", s.SourceURL(), err)
			s.terminate(err)
			return
		}

		switch r := response.Type.(type) {
		case *pb.DeliverResponse_FilteredBlock:
			s.SendEvent(r.FilteredBlock)
		case *pb.DeliverResponse_Status:
			if r.Status != cb.Status_SUCCESS {
				s.terminate(errors.Errorf("deliver stream from [%s] returned status [%s]", s.SourceURL(), r.Status))
				return
			}
		default:
			logger.Warnf("Unexpected deliver response type %T from [%s]", r, s.SourceURL())
		}
	}
}

// terminate notifies the listeners of the terminal error and then closes the
// stream. The error is delivered before Close so that the listeners are still
// registered when it arrives.
func (s *deliverStream) terminate(err error) {
	s.SendError(err)
	s.Close()
}

// Close terminates the deliver stream and releases the peer connection.
func (s *deliverStream) Close() {
	if !atomic.CompareAndSwapInt32(&s.done, 0, 1) {
		return
	}
	s.cancel()
	s.conn.Close()
	s.Stream.Close()
}
