// Package cryptotool bundles the cryptographic primitives used by the
// callback pipeline and the TFA confirmation engine: constant-time
// comparison, callback MAC verification, end-to-end message decryption
// and numeric one-time secrets.
package cryptotool

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"time"

	"golang.org/x/crypto/nacl/box"
)

const (
	// NonceSize is the NaCl box nonce size in bytes.
	NonceSize = 24
	// KeySize is the NaCl key size in bytes.
	KeySize = 32
)

// ErrDecryptionFailed is returned when a box cannot be opened with the
// given key pair. Retrying with the same inputs cannot succeed.
var ErrDecryptionFailed = errors.New("message decryption failed")

// ConstantTimeEqual compares two strings in constant time. It must be
// used for every secret comparison: access tokens, recipient ids and
// one-time codes.
func ConstantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ComputeCallbackMAC computes the keyed MAC over the canonical
// concatenation of the raw callback fields, exactly as they arrived on
// the wire (nonce and box stay hex-encoded).
func ComputeCallbackMAC(from, to, messageID, date, nonceHex, boxHex string, secret []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(from))
	mac.Write([]byte(to))
	mac.Write([]byte(messageID))
	mac.Write([]byte(date))
	mac.Write([]byte(nonceHex))
	mac.Write([]byte(boxHex))
	return mac.Sum(nil)
}

// VerifyCallbackMAC reports whether the supplied MAC matches the
// expected MAC for the given fields. Comparison is constant time.
// Neither the secret nor the MAC is ever logged by this package.
func VerifyCallbackMAC(from, to, messageID, date, nonceHex, boxHex string, suppliedMAC, secret []byte) bool {
	expected := ComputeCallbackMAC(from, to, messageID, date, nonceHex, boxHex, secret)
	return hmac.Equal(expected, suppliedMAC)
}

// DecryptMessage opens a NaCl box with the sender's public key and the
// recipient's private key and strips the message padding. The returned
// plaintext starts with the message type code.
//
// The padding scheme appends n bytes each of value n (1..255); the
// padded plaintext must therefore be at least 2 bytes long (type code
// plus at least one pad byte).
func DecryptMessage(ciphertext, nonce []byte, senderPublicKey, recipientPrivateKey *[KeySize]byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce must be %d bytes, got %d", ErrDecryptionFailed, NonceSize, len(nonce))
	}

	var nonceArr [NonceSize]byte
	copy(nonceArr[:], nonce)

	padded, ok := box.Open(nil, ciphertext, &nonceArr, senderPublicKey, recipientPrivateKey)
	if !ok {
		return nil, ErrDecryptionFailed
	}

	return removePadding(padded)
}

func removePadding(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, fmt.Errorf("%w: padded plaintext too short", ErrDecryptionFailed)
	}
	padLen := int(padded[len(padded)-1])
	if padLen < 1 || padLen >= len(padded) {
		return nil, fmt.Errorf("%w: invalid padding length %d", ErrDecryptionFailed, padLen)
	}
	return padded[:len(padded)-padLen], nil
}

// RandomNumericSecret produces a string of length decimal digits drawn
// uniformly from [0, 10^length). Digits come from crypto/rand through
// rejection sampling, so there is no modulo bias. If the system's
// secure source is unavailable the generator falls back to a
// time-seeded math/rand source; the fallback is weaker entropy but
// keeps the same unbiased reduction.
func RandomNumericSecret(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("secret length must be positive, got %d", length)
	}

	secret, err := numericFromSource(rand.Reader, length)
	if err == nil {
		return secret, nil
	}

	// Fallback source. Never silently relax the uniform-distribution
	// property: the same rejection sampling applies.
	fallback := mathrand.New(mathrand.NewSource(time.Now().UnixNano()))
	return numericFromSource(fallback, length)
}

// numericFromSource draws unbiased decimal digits from r. Bytes in
// [250, 255] are rejected because 250 is the largest multiple of 10
// that fits in a byte.
func numericFromSource(r io.Reader, length int) (string, error) {
	digits := make([]byte, 0, length)
	buf := make([]byte, 1)
	for len(digits) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		if buf[0] >= 250 {
			continue
		}
		digits = append(digits, '0'+buf[0]%10)
	}
	return string(digits), nil
}
