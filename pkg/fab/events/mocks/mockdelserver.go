/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

import (
	"sync"
	"time"

	cb "github.com/hyperledger/fabric-protos-go/common"
	pb "github.com/hyperledger/fabric-protos-go/peer"
	"github.com/pkg/errors"
)

// MockDeliverServer answers each seek request with a status response
// followed by the configured filtered blocks.
type MockDeliverServer struct {
	mutex        sync.RWMutex
	status       cb.Status
	blocks       []*pb.FilteredBlock
	disconnErr   error
	closeStreams bool
	lastSeek     *cb.Envelope
}

// NewMockDeliverServer returns a new MockDeliverServer
func NewMockDeliverServer() *MockDeliverServer {
	return &MockDeliverServer{status: cb.Status_SUCCESS}
}

// SetStatus sets the status returned for each seek request
func (s *MockDeliverServer) SetStatus(status cb.Status) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.status = status
}

// SetBlocks sets the filtered blocks delivered after the status response
func (s *MockDeliverServer) SetBlocks(blocks ...*pb.FilteredBlock) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.blocks = blocks
}

// Disconnect terminates active streams with the given error
func (s *MockDeliverServer) Disconnect(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.disconnErr = err
}

// SetCloseStreams makes the server end active streams cleanly (without an
// error) instead of holding them open.
func (s *MockDeliverServer) SetCloseStreams(value bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closeStreams = value
}

// LastSeek returns the most recent seek request envelope the server received
func (s *MockDeliverServer) LastSeek() *cb.Envelope {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastSeek
}

// Deliver is not supported by the mock server
func (s *MockDeliverServer) Deliver(srv pb.Deliver_DeliverServer) error {
	return errors.New("only filtered blocks are supported")
}

// DeliverWithPrivateData is not supported by the mock server
func (s *MockDeliverServer) DeliverWithPrivateData(srv pb.Deliver_DeliverWithPrivateDataServer) error {
	return errors.New("only filtered blocks are supported")
}

// DeliverFiltered delivers the configured filtered blocks in response to
// a seek request and then waits for the client to hang up.
func (s *MockDeliverServer) DeliverFiltered(srv pb.Deliver_DeliverFilteredServer) error {
	envelope, err := srv.Recv()
	if err != nil {
		return err
	}

	s.mutex.Lock()
	s.lastSeek = envelope
	status := s.status
	blocks := s.blocks
	s.mutex.Unlock()

	if err := srv.Send(&pb.DeliverResponse{
		Type: &pb.DeliverResponse_Status{Status: status},
	}); err != nil {
		return err
	}
	if status != cb.Status_SUCCESS {
		return nil
	}

	for _, block := range blocks {
		if err := s.disconnectErr(); err != nil {
			return err
		}
		if err := srv.Send(&pb.DeliverResponse{
			Type: &pb.DeliverResponse_FilteredBlock{FilteredBlock: block},
		}); err != nil {
			return err
		}
	}

	// hold the stream open until the client goes away, a disconnect is
	// injected or a clean close is requested
	for {
		select {
		case <-srv.Context().Done():
			return nil
		case <-time.After(50 * time.Millisecond):
			if err := s.disconnectErr(); err != nil {
				return err
			}
			if s.closed() {
				return nil
			}
		}
	}
}

func (s *MockDeliverServer) disconnectErr() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.disconnErr
}

func (s *MockDeliverServer) closed() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.closeStreams
}
