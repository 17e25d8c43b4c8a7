// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "time"

// PasswordChallenge is the server-side VNC Authentication (security type
// 2) collaborator: it generates the 16-byte random challenge written to
// the client and verifies the 16-byte DES response against the
// configured password. GenerateChallenge and Verify both zero their
// working buffers before returning.
type PasswordChallenge struct {
	password string
	random   *SecureRandom
	cipher   *SecureDESCipher
	timing   *TimingProtection
	secMem   *SecureMemory
}

// NewPasswordChallenge creates a PasswordChallenge collaborator for the
// given server password (truncated to VNCMaxPasswordLength characters by
// the DES key preparation, per the protocol).
func NewPasswordChallenge(password string) *PasswordChallenge {
	return &PasswordChallenge{
		password: password,
		random:   newSecureRandom(),
		cipher:   newSecureDESCipher(),
		timing:   newTimingProtection(),
		secMem:   &SecureMemory{},
	}
}

// GenerateChallenge returns a fresh 16-byte random challenge to write to
// the client at AwaitingAuth.
func (p *PasswordChallenge) GenerateChallenge() ([16]byte, error) {
	var challenge [16]byte
	bytes, err := p.random.GenerateChallenge(VNCChallengeSize)
	if err != nil {
		return challenge, authFailureError("PasswordChallenge.GenerateChallenge",
			"failed to generate authentication challenge", err)
	}
	copy(challenge[:], bytes)
	p.secMem.ClearBytes(bytes)
	return challenge, nil
}

// Verify reports whether response is the correct DES encryption of
// challenge under the configured password, using a constant-time compare
// and a constant-time floor on the overall operation to reduce timing
// side channels. response and challenge are not retained.
func (p *PasswordChallenge) Verify(challenge [16]byte, response []byte) (bool, error) {
	if len(response) != VNCChallengeSize {
		return false, authFailureError("PasswordChallenge.Verify",
			"authentication response has the wrong length", nil)
	}

	var ok bool
	var verifyErr error

	err := p.timing.ConstantTimeAuthentication(func() error {
		expected, err := p.cipher.EncryptVNCChallenge(p.password, challenge[:])
		if err != nil {
			verifyErr = err
			return err
		}
		defer p.secMem.ClearBytes(expected)

		ok = p.secMem.ConstantTimeCompare(expected, response)
		return nil
	}, 50*time.Millisecond)

	if err != nil {
		return false, err
	}
	if verifyErr != nil {
		return false, verifyErr
	}

	return ok, nil
}
