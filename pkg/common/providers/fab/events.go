/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import (
	pb "github.com/hyperledger/fabric-protos-go/peer"

	"github.com/japidei/fabric-sdk-node/pkg/common/options"
)

// Registration is a handle that is returned from a listener registration
// and must be used to unregister the listener.
type Registration interface{}

// BlockEvent contains the data for a block delivered by a peer.
type BlockEvent struct {
	// FilteredBlock contains a filtered version of the block that was committed.
	FilteredBlock *pb.FilteredBlock

	// SourceURL specifies the URL of the peer that produced the event.
	SourceURL string
}

// TxStatusEvent contains the data for a transaction status event.
type TxStatusEvent struct {
	// TxID is the ID of the transaction in which the event was set.
	TxID string

	// TxValidationCode is the status code of the commit.
	TxValidationCode pb.TxValidationCode

	// BlockNumber contains the block number in which the transaction was committed.
	BlockNumber uint64

	// SourceURL specifies the URL of the peer that produced the event.
	SourceURL string
}

// CCEvent contains the data for a chaincode event.
type CCEvent struct {
	// TxID is the ID of the transaction in which the event was set.
	TxID string

	// ChaincodeID is the ID of the chaincode that set the event.
	ChaincodeID string

	// EventName is the name of the chaincode event.
	EventName string

	// Payload contains the payload of the chaincode event.
	Payload []byte

	// BlockNumber contains the block number in which the event was committed.
	BlockNumber uint64

	// SourceURL specifies the URL of the peer that produced the event.
	SourceURL string
}

// BlockCallback is invoked once per delivered block event, with exactly one
// of event and err non-nil.
type BlockCallback func(event *BlockEvent, err error)

// TxStatusCallback is invoked once per transaction status outcome, with
// exactly one of event and err non-nil.
type TxStatusCallback func(event *TxStatusEvent, err error)

// CCCallback is invoked once per matching chaincode event, with exactly one
// of event and err non-nil.
type CCCallback func(event *CCEvent, err error)

// EventStream represents a live event channel from one peer. It owns the set
// of listeners registered against that peer and fans incoming events and
// stream-level errors out to them.
type EventStream interface {
	// Name returns the name of the stream (peer/channel identity).
	Name() string

	// RegisterTransactionListener registers a listener for the commit status
	// of the given transaction ID. Transaction listeners unregister
	// themselves on first match unless WithUnregister(false) is given.
	RegisterTransactionListener(txID string, callback TxStatusCallback, opts ...options.Opt) (Registration, error)

	// RegisterBlockListener registers a listener for block events.
	// Block listeners are persistent unless WithUnregister(true) is given.
	RegisterBlockListener(callback BlockCallback, opts ...options.Opt) (Registration, error)

	// RegisterChaincodeListener registers a listener for chaincode events
	// whose name matches the given filter (a regular expression).
	RegisterChaincodeListener(ccID, eventFilter string, callback CCCallback, opts ...options.Opt) (Registration, error)

	// Unregister removes the given registration from the stream's listener
	// set. Unregistering a listener that is not a member of the set is a
	// programming-contract violation and returns an error.
	Unregister(reg Registration) error

	// Close drops all listeners. The stream is not reusable after Close.
	Close()
}

// EventProducer is the capability used by the transport collaborator to push
// parsed events and stream-level errors into a stream. Only the transport
// may produce events; there is a single producer per stream.
type EventProducer interface {
	// SendEvent delivers a successfully-parsed block to every currently
	// registered listener of the stream.
	SendEvent(fblock *pb.FilteredBlock)

	// SendError delivers a stream-level error (peer disconnect, decode
	// failure) to every currently registered listener. Every listener
	// treats a delivered error as a terminal, unconditional match.
	SendError(err error)
}

// EventTransport is implemented by the collaborator that owns the wire
// connection to peers. The event components only depend on its existence;
// opening and driving the underlying deliver stream is out of their scope.
type EventTransport interface {
	// OpenEventStream opens an event stream to the given peer. The returned
	// stream is fed by the transport until the transport is closed.
	OpenEventStream(peer Peer, opts ...options.Opt) (EventStream, error)

	// IsListening indicates whether the transport is delivering events.
	IsListening() bool

	// Close closes the transport and every stream it opened.
	Close()
}
