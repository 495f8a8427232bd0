package envelope

import (
	"encoding/binary"
	"fmt"
)

// Serialized layout, all fields independently sized so parsing is never
// ambiguous:
//
//	version(1) | suite(1) | nonceLen(1) | nonce | ctLen(4, big-endian) | ciphertext | tag(16)
//
// The nonce length is redundant with the suite but is written anyway so a
// parser can skip past envelopes of a future suite without knowing it.

const (
	headerLength = 3  // version + suite + nonceLen
	ctLenLength  = 4  // big-endian uint32
)

// MarshalBinary encodes the envelope in the fixed binary layout.
func (e *Envelope) MarshalBinary() ([]byte, error) {
	if e.Version != Version {
		return nil, ErrUnsupportedVersion
	}
	nonceLen := e.Suite.NonceLength()
	if nonceLen == 0 {
		return nil, ErrUnsupportedSuite
	}
	if len(e.Nonce) != nonceLen || len(e.Tag) != TagLength {
		return nil, ErrMalformed
	}
	if len(e.Ciphertext) > MaxPlaintextLength {
		return nil, ErrPlaintextTooLarge
	}

	out := make([]byte, 0, headerLength+nonceLen+ctLenLength+len(e.Ciphertext)+TagLength)
	out = append(out, e.Version, uint8(e.Suite), uint8(nonceLen))
	out = append(out, e.Nonce...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.Ciphertext)))
	out = append(out, e.Ciphertext...)
	out = append(out, e.Tag...)
	return out, nil
}

// UnmarshalBinary decodes data into e. Unknown versions and suites are
// rejected outright; truncated or oversized input is ErrMalformed.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) < headerLength {
		return ErrMalformed
	}

	version := data[0]
	if version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	suite := Suite(data[1])
	nonceLen := suite.NonceLength()
	if nonceLen == 0 {
		return fmt.Errorf("%w: %d", ErrUnsupportedSuite, data[1])
	}
	if int(data[2]) != nonceLen {
		return ErrMalformed
	}

	rest := data[headerLength:]
	if len(rest) < nonceLen+ctLenLength+TagLength {
		return ErrMalformed
	}
	nonce := rest[:nonceLen]
	rest = rest[nonceLen:]

	ctLen := binary.BigEndian.Uint32(rest[:ctLenLength])
	if ctLen > MaxPlaintextLength {
		return ErrMalformed
	}
	rest = rest[ctLenLength:]
	if len(rest) != int(ctLen)+TagLength {
		return ErrMalformed
	}

	e.Version = version
	e.Suite = suite
	e.Nonce = append([]byte(nil), nonce...)
	e.Ciphertext = append([]byte(nil), rest[:ctLen]...)
	e.Tag = append([]byte(nil), rest[ctLen:]...)
	return nil
}
