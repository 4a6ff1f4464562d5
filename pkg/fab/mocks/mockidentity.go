/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mocks

// MockIdentity implements fab.IdentityContext
type MockIdentity struct {
	MockMSPID string

	// SerializeErr and SignErr, when set, are returned by the
	// corresponding operations.
	SerializeErr error
	SignErr      error
}

// NewMockIdentity returns a new mock identity with the given MSP ID
func NewMockIdentity(mspID string) *MockIdentity {
	return &MockIdentity{MockMSPID: mspID}
}

// MSPID returns the MSP ID of the identity's organization
func (m *MockIdentity) MSPID() string {
	return m.MockMSPID
}

// Serialize returns a mock serialized identity
func (m *MockIdentity) Serialize() ([]byte, error) {
	if m.SerializeErr != nil {
		return nil, m.SerializeErr
	}
	return []byte("identity:" + m.MockMSPID), nil
}

// Sign returns a mock signature over the given message
func (m *MockIdentity) Sign(msg []byte) ([]byte, error) {
	if m.SignErr != nil {
		return nil, m.SignErr
	}
	return append([]byte("signed:"), msg...), nil
}
