/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package stream

import (
	"regexp"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/rs/xid"

	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

// listenerKind discriminates the closed set of listener variants.
type listenerKind int

const (
	transactionListener listenerKind = iota
	blockListener
	chaincodeListener
)

func (k listenerKind) String() string {
	switch k {
	case transactionListener:
		return "transaction"
	case blockListener:
		return "block"
	default:
		return "chaincode"
	}
}

// listener is one registration in a stream's listener set. The pointer is
// the registration handle returned to the caller. A listener is live only
// while it is a member of the set; one-shot listeners are removed from the
// set before their callback is invoked so that a panicking callback cannot
// leave a dangling registration.
type listener struct {
	kind        listenerKind
	id          string
	oneShot     bool
	startBlock  uint64
	hasStart    bool
	endBlock    uint64
	hasEnd      bool
	txID        string
	ccID        string
	eventFilter string
	eventRegExp *regexp.Regexp

	txCallback    fab.TxStatusCallback
	blockCallback fab.BlockCallback
	ccCallback    fab.CCCallback
}

func newListener(kind listenerKind, p *params) *listener {
	l := &listener{
		kind:       kind,
		id:         xid.New().String(),
		startBlock: p.startBlock,
		hasStart:   p.startBlockSet,
		endBlock:   p.endBlock,
		hasEnd:     p.endBlockSet,
	}

	// Transaction listeners default to one-shot; the others to persistent.
	if p.unregisterSet {
		l.oneShot = p.unregister
	} else {
		l.oneShot = kind == transactionListener
	}

	return l
}

// outcome is a single matched event ready for delivery, typed according to
// the listener variant that matched it.
type outcome struct {
	tx    *fab.TxStatusEvent
	block *fab.BlockEvent
	cc    *fab.CCEvent
}

// match returns the events from the given block that this listener should
// receive, in the order they appear in the block. An empty result means the
// listener does not match.
func (l *listener) match(fblock *pb.FilteredBlock, sourceURL string) []*outcome {
	if l.hasStart && fblock.Number < l.startBlock {
		return nil
	}
	if l.hasEnd && fblock.Number > l.endBlock {
		return nil
	}

	switch l.kind {
	case transactionListener:
		return l.matchTransaction(fblock, sourceURL)
	case blockListener:
		return []*outcome{{block: &fab.BlockEvent{FilteredBlock: fblock, SourceURL: sourceURL}}}
	default:
		return l.matchChaincode(fblock, sourceURL)
	}
}

func (l *listener) matchTransaction(fblock *pb.FilteredBlock, sourceURL string) []*outcome {
	for _, tx := range fblock.FilteredTransactions {
		if tx.Txid == l.txID {
			return []*outcome{{
				tx: &fab.TxStatusEvent{
					TxID:             tx.Txid,
					TxValidationCode: tx.TxValidationCode,
					BlockNumber:      fblock.Number,
					SourceURL:        sourceURL,
				},
			}}
		}
	}
	return nil
}

func (l *listener) matchChaincode(fblock *pb.FilteredBlock, sourceURL string) []*outcome {
	var outcomes []*outcome
	for _, tx := range fblock.FilteredTransactions {
		// Chaincode events are only published for committed transactions.
		if tx.TxValidationCode != pb.TxValidationCode_VALID {
			logger.Debugf("Not publishing chaincode events for Tx [%s] since its validation code is %s", tx.Txid, tx.TxValidationCode)
			continue
		}
		txActions := tx.GetTransactionActions()
		if txActions == nil {
			continue
		}
		for _, action := range txActions.ChaincodeActions {
			ccEvent := action.ChaincodeEvent
			if ccEvent == nil {
				continue
			}
			if ccEvent.ChaincodeId != l.ccID || !l.eventRegExp.MatchString(ccEvent.EventName) {
				continue
			}
			outcomes = append(outcomes, &outcome{
				cc: &fab.CCEvent{
					TxID:        tx.Txid,
					ChaincodeID: ccEvent.ChaincodeId,
					EventName:   ccEvent.EventName,
					Payload:     ccEvent.Payload,
					BlockNumber: fblock.Number,
					SourceURL:   sourceURL,
				},
			})
		}
	}
	return outcomes
}

// notify invokes the listener's callback with exactly one of event and err.
func (l *listener) notify(o *outcome, err error) {
	switch l.kind {
	case transactionListener:
		if err != nil {
			l.txCallback(nil, err)
		} else {
			l.txCallback(o.tx, nil)
		}
	case blockListener:
		if err != nil {
			l.blockCallback(nil, err)
		} else {
			l.blockCallback(o.block, nil)
		}
	default:
		if err != nil {
			l.ccCallback(nil, err)
		} else {
			l.ccCallback(o.cc, nil)
		}
	}
}

// expired indicates whether the listener's replay window ends at or before
// the given block, in which case it is unregistered after delivery.
func (l *listener) expired(blockNum uint64) bool {
	return l.hasEnd && blockNum >= l.endBlock
}
