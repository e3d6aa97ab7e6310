package source

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/rcourtman/claimguard/pkg/ensure"
)

var ErrMalformedPublicKey = errors.New("malformed claim public key")

// DecodePublicKey decodes a base64-encoded Ed25519 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	decoded, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPublicKey, err)
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, ErrMalformedPublicKey
	}
	return ed25519.PublicKey(decoded), nil
}

// PublicKeyFingerprint returns an SHA256 fingerprint for logging.
func PublicKeyFingerprint(key ed25519.PublicKey) string {
	if len(key) == 0 {
		return ""
	}
	sum := sha256.Sum256(key)
	return "SHA256:" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyDetached checks a base64 encoded detached signature over data.
// Failures wrap ensure.ErrVerification.
func VerifyDetached(key ed25519.PublicKey, data, encodedSig []byte) error {
	sig, err := decodeBase64(string(encodedSig))
	if err != nil {
		return fmt.Errorf("%w: decode signature: %v", ensure.ErrVerification, err)
	}
	if len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: signature has %d bytes", ensure.ErrVerification, len(sig))
	}
	if !ed25519.Verify(key, data, sig) {
		return fmt.Errorf("%w: signature mismatch", ensure.ErrVerification)
	}
	return nil
}

// SignDetached returns the base64 encoded detached signature of data.
func SignDetached(key ed25519.PrivateKey, data []byte) []byte {
	return []byte(base64.StdEncoding.EncodeToString(ed25519.Sign(key, data)))
}

// Try standard base64 first, then URL-safe.
func decodeBase64(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
	}
	return decoded, nil
}
