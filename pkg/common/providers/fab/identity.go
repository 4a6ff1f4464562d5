/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package fab

// IdentityContext supplies the signing identity and organization ID used for
// discovery target resolution and for the build/sign steps of requests sent
// to peers.
type IdentityContext interface {
	// MSPID returns the MSP ID of the identity's organization.
	MSPID() string

	// Serialize returns the serialized identity sent with requests.
	Serialize() ([]byte, error)

	// Sign signs the given message with the identity's private key.
	Sign(msg []byte) ([]byte, error)
}
