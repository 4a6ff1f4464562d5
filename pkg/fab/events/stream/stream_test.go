/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package stream

import (
	"testing"

	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japidei/fabric-sdk-node/pkg/common/providers/fab"
)

const (
	channelID = "mychannel"
	sourceURL = "grpcs://peer0.org1.example.com:7051"
)

func newFilteredBlock(blockNum uint64, filteredTx ...*pb.FilteredTransaction) *pb.FilteredBlock {
	return &pb.FilteredBlock{
		ChannelId:            channelID,
		Number:               blockNum,
		FilteredTransactions: filteredTx,
	}
}

func newFilteredTx(txID string, code pb.TxValidationCode) *pb.FilteredTransaction {
	return &pb.FilteredTransaction{
		Txid:             txID,
		TxValidationCode: code,
	}
}

func newFilteredTxWithCCEvent(txID, ccID, eventName string) *pb.FilteredTransaction {
	return &pb.FilteredTransaction{
		Txid:             txID,
		TxValidationCode: pb.TxValidationCode_VALID,
		Data: &pb.FilteredTransaction_TransactionActions{
			TransactionActions: &pb.FilteredTransactionActions{
				ChaincodeActions: []*pb.FilteredChaincodeAction{
					{
						ChaincodeEvent: &pb.ChaincodeEvent{
							ChaincodeId: ccID,
							EventName:   eventName,
							TxId:        txID,
						},
					},
				},
			},
		},
	}
}

func TestBlockListenerReceivesEachEventOnce(t *testing.T) {
	s := New(channelID, sourceURL)

	var numEvents1, numEvents2 int
	reg1, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, sourceURL, event.SourceURL)
		numEvents1++
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Unregister(reg1))
	}()

	reg2, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		numEvents2++
	})
	require.NoError(t, err)

	s.SendEvent(newFilteredBlock(1))
	s.SendEvent(newFilteredBlock(2))

	require.NoError(t, s.Unregister(reg2))

	// No listener may be invoked after it has unregistered.
	s.SendEvent(newFilteredBlock(3))

	assert.Equal(t, 3, numEvents1)
	assert.Equal(t, 2, numEvents2)
}

func TestTransactionListenerOneShotByDefault(t *testing.T) {
	s := New(channelID, sourceURL)

	txID := "tx1234"
	var numEvents int
	_, err := s.RegisterTransactionListener(txID, func(event *fab.TxStatusEvent, err error) {
		require.NoError(t, err)
		require.NotNil(t, event)
		assert.Equal(t, txID, event.TxID)
		assert.Equal(t, pb.TxValidationCode_VALID, event.TxValidationCode)
		assert.Equal(t, uint64(1), event.BlockNumber)
		numEvents++
	})
	require.NoError(t, err)

	s.SendEvent(newFilteredBlock(1, newFilteredTx(txID, pb.TxValidationCode_VALID)))

	assert.Equal(t, 1, numEvents)
	assert.Equal(t, 0, s.NumListeners(), "one-shot listener should be absent from the set immediately after the match")

	// A second matching event must not reach the unregistered listener.
	s.SendEvent(newFilteredBlock(2, newFilteredTx(txID, pb.TxValidationCode_VALID)))
	assert.Equal(t, 1, numEvents)
}

func TestTransactionListenerPersistent(t *testing.T) {
	s := New(channelID, sourceURL)

	txID := "tx1234"
	var numEvents int
	reg, err := s.RegisterTransactionListener(txID, func(event *fab.TxStatusEvent, err error) {
		require.NoError(t, err)
		numEvents++
	}, WithUnregister(false))
	require.NoError(t, err)

	s.SendEvent(newFilteredBlock(1, newFilteredTx(txID, pb.TxValidationCode_VALID)))
	s.SendEvent(newFilteredBlock(2, newFilteredTx(txID, pb.TxValidationCode_MVCC_READ_CONFLICT)))

	assert.Equal(t, 2, numEvents)
	assert.Equal(t, 1, s.NumListeners(), "persistent listener should remain registered after both events")

	require.NoError(t, s.Unregister(reg))
}

func TestTransactionListenerIgnoresOtherTx(t *testing.T) {
	s := New(channelID, sourceURL)

	var numEvents int
	_, err := s.RegisterTransactionListener("tx1", func(event *fab.TxStatusEvent, err error) {
		numEvents++
	})
	require.NoError(t, err)

	s.SendEvent(newFilteredBlock(1, newFilteredTx("tx2", pb.TxValidationCode_VALID)))

	assert.Equal(t, 0, numEvents)
	assert.Equal(t, 1, s.NumListeners())
}

func TestStreamErrorMatchesAllListeners(t *testing.T) {
	s := New(channelID, sourceURL)

	streamErr := errors.New("simulated peer disconnect")

	var txErrs, blockErrs, ccErrs int
	_, err := s.RegisterTransactionListener("tx-unrelated", func(event *fab.TxStatusEvent, err error) {
		require.Nil(t, event)
		require.EqualError(t, err, streamErr.Error())
		txErrs++
	})
	require.NoError(t, err)

	breg, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		require.Nil(t, event)
		blockErrs++
	})
	require.NoError(t, err)

	ccreg, err := s.RegisterChaincodeListener("mycc", "event.*", func(event *fab.CCEvent, err error) {
		require.Nil(t, event)
		ccErrs++
	})
	require.NoError(t, err)

	// A burst of errors: the one-shot transaction listener must unregister
	// exactly once and see exactly one of them; persistent listeners see both.
	s.SendError(streamErr)
	s.SendError(streamErr)

	assert.Equal(t, 1, txErrs, "one-shot listener should fire exactly once on an error burst")
	assert.Equal(t, 2, blockErrs)
	assert.Equal(t, 2, ccErrs)
	assert.Equal(t, 2, s.NumListeners())

	require.NoError(t, s.Unregister(breg))
	require.NoError(t, s.Unregister(ccreg))
}

func TestUnregisterUnknownListener(t *testing.T) {
	s := New(channelID, sourceURL)

	reg, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {})
	require.NoError(t, err)

	require.NoError(t, s.Unregister(reg))

	err = s.Unregister(reg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnregisteredListener))
	assert.Equal(t, 0, s.NumListeners(), "the set must be left unchanged")

	err = s.Unregister("not a registration")
	require.Error(t, err)
}

func TestChaincodeListener(t *testing.T) {
	s := New(channelID, sourceURL)

	var events []*fab.CCEvent
	reg, err := s.RegisterChaincodeListener("mycc", "update.*", func(event *fab.CCEvent, err error) {
		require.NoError(t, err)
		events = append(events, event)
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Unregister(reg))
	}()

	s.SendEvent(newFilteredBlock(1,
		newFilteredTxWithCCEvent("tx1", "mycc", "updated"),
		newFilteredTxWithCCEvent("tx2", "mycc", "deleted"),
		newFilteredTxWithCCEvent("tx3", "othercc", "updated"),
	))

	// Chaincode events from invalid transactions are not published.
	invalidTx := newFilteredTxWithCCEvent("tx4", "mycc", "updated")
	invalidTx.TxValidationCode = pb.TxValidationCode_ENDORSEMENT_POLICY_FAILURE
	s.SendEvent(newFilteredBlock(2, invalidTx))

	require.Len(t, events, 1)
	assert.Equal(t, "tx1", events[0].TxID)
	assert.Equal(t, "updated", events[0].EventName)
	assert.Equal(t, "mycc", events[0].ChaincodeID)
}

func TestChaincodeListenerInvalidArgs(t *testing.T) {
	s := New(channelID, sourceURL)

	_, err := s.RegisterChaincodeListener("", "event", func(event *fab.CCEvent, err error) {})
	require.Error(t, err)

	_, err = s.RegisterChaincodeListener("mycc", "", func(event *fab.CCEvent, err error) {})
	require.Error(t, err)

	_, err = s.RegisterChaincodeListener("mycc", "((", func(event *fab.CCEvent, err error) {})
	require.Error(t, err)

	_, err = s.RegisterTransactionListener("", func(event *fab.TxStatusEvent, err error) {})
	require.Error(t, err)
}

func TestBlockListenerWindow(t *testing.T) {
	s := New(channelID, sourceURL)

	var blockNums []uint64
	_, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		require.NoError(t, err)
		blockNums = append(blockNums, event.FilteredBlock.Number)
	}, WithStartBlock(2), WithEndBlock(3))
	require.NoError(t, err)

	startBlock, ok := s.StartBlock()
	require.True(t, ok)
	assert.Equal(t, uint64(2), startBlock)

	for i := uint64(1); i <= 5; i++ {
		s.SendEvent(newFilteredBlock(i))
	}

	assert.Equal(t, []uint64{2, 3}, blockNums)
	assert.Equal(t, 0, s.NumListeners(), "listener should expire once its end block is delivered")
}

func TestOutOfOrderBlockIgnored(t *testing.T) {
	s := New(channelID, sourceURL)

	var numEvents int
	reg, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		numEvents++
	})
	require.NoError(t, err)
	defer func() {
		require.NoError(t, s.Unregister(reg))
	}()

	s.SendEvent(newFilteredBlock(5))
	s.SendEvent(newFilteredBlock(4))
	s.SendEvent(newFilteredBlock(5))

	assert.Equal(t, 1, numEvents)
	assert.Equal(t, uint64(5), s.LastBlockNum())
}

func TestReentrantUnregisterDuringDispatch(t *testing.T) {
	s := New(channelID, sourceURL)

	var reg fab.Registration
	var numEvents int
	reg, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		numEvents++
		// A callback may call back into the registration APIs.
		require.NoError(t, s.Unregister(reg))
	})
	require.NoError(t, err)

	s.SendEvent(newFilteredBlock(1))
	s.SendEvent(newFilteredBlock(2))

	assert.Equal(t, 1, numEvents)
}

func TestClosedStream(t *testing.T) {
	s := New(channelID, sourceURL)

	var numEvents int
	_, err := s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {
		numEvents++
	})
	require.NoError(t, err)
	assert.False(t, s.Closed())

	s.Close()
	s.Close() // idempotent
	assert.True(t, s.Closed())

	_, err = s.RegisterBlockListener(func(event *fab.BlockEvent, err error) {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStreamClosed))

	s.SendEvent(newFilteredBlock(1))
	s.SendError(errors.New("disconnected"))
	assert.Equal(t, 0, numEvents)
}
