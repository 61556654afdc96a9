package shared

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// GenKeypair returns a fresh ed25519 keypair, base64 encoded for storage
// alongside the agent config.
func GenKeypair() (pubB64 string, privB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", err
	}
	return base64.StdEncoding.EncodeToString(pub), base64.StdEncoding.EncodeToString(priv), nil
}

func DecodePubKey(b64 string) (ed25519.PublicKey, error) {
	b, err := decodeKey(b64, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

func DecodePrivKey(b64 string) (ed25519.PrivateKey, error) {
	b, err := decodeKey(b64, ed25519.PrivateKeySize)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	return ed25519.PrivateKey(b), nil
}

func decodeKey(b64 string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("decoded to %d bytes, want %d", len(b), size)
	}
	return b, nil
}

func BodySHA256(body []byte) string {
	h := sha256.Sum256(body)
	return base64.StdEncoding.EncodeToString(h[:])
}

// canonical builds the signed string out of timestamp, method, path and
// body hash. Agent and server must assemble it identically.
func canonical(timestamp, method, path, bodySha string) []byte {
	return []byte(timestamp + "\n" + method + "\n" + path + "\n" + bodySha)
}

func Sign(priv ed25519.PrivateKey, timestamp, method, path, bodySha string) string {
	sig := ed25519.Sign(priv, canonical(timestamp, method, path, bodySha))
	return base64.StdEncoding.EncodeToString(sig)
}

func Verify(pub ed25519.PublicKey, signatureB64, timestamp, method, path, bodySha string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, canonical(timestamp, method, path, bodySha), sig)
}
