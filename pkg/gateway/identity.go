/*
Copyright 2020 IBM All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package gateway

import (
	"github.com/golang/protobuf/proto"
	mspb "github.com/hyperledger/fabric-protos-go/msp"
	"github.com/pkg/errors"
)

// Signer signs a message digest on behalf of a client identity.
type Signer func(msg []byte) ([]byte, error)

// SigningIdentity is a client identity consisting of an MSP ID, a
// certificate and a signing function.
type SigningIdentity struct {
	mspID       string
	certificate []byte
	sign        Signer
}

// NewSigningIdentity returns an identity for the given MSP that signs
// with the given function.
func NewSigningIdentity(mspID string, certificate []byte, sign Signer) *SigningIdentity {
	return &SigningIdentity{
		mspID:       mspID,
		certificate: certificate,
		sign:        sign,
	}
}

// MSPID returns the membership service provider the identity belongs to.
func (i *SigningIdentity) MSPID() string {
	return i.mspID
}

// Serialize returns the protobuf encoding of the identity.
func (i *SigningIdentity) Serialize() ([]byte, error) {
	serialized := &mspb.SerializedIdentity{
		Mspid:   i.mspID,
		IdBytes: i.certificate,
	}
	identity, err := proto.Marshal(serialized)
	if err != nil {
		return nil, errors.Wrap(err, "error serializing identity")
	}
	return identity, nil
}

// Sign signs the given message.
func (i *SigningIdentity) Sign(msg []byte) ([]byte, error) {
	if i.sign == nil {
		return nil, errors.New("identity has no signing implementation")
	}
	return i.sign(msg)
}
