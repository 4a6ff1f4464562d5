/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

import "fmt"

// CommitEvent is delivered to a commit listener once per peer outcome.
type CommitEvent struct {
	*TxStatusEvent

	// Peer is the URL of the peer that observed the commit.
	Peer string
}

// CommitListener receives per-peer commit outcomes for one transaction.
// Exactly one of event and err is non-nil on each invocation. Outcomes from
// different peers arrive in arbitrary, possibly overlapping order, and no
// aggregation into a single verdict is performed; interpreting the stream
// of outcomes (e.g. "committed once any one peer confirms") is up to the
// implementation.
//
// The listener value itself is the identity under which it is registered
// with a network: registering the same value twice is a no-op.
type CommitListener interface {
	// CommitReceived is invoked once per peer outcome.
	CommitReceived(event *CommitEvent, err error)
}

// CommitError is a peer-scoped delivery error. It reports which peer failed
// without affecting sibling peers of the same commit listener session.
type CommitError struct {
	// Peer is the URL of the peer the error pertains to.
	Peer string

	// Err is the underlying cause.
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("peer [%s]: %s", e.Peer, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CommitError) Unwrap() error {
	return e.Err
}
