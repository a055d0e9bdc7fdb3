package app

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// SigningIdentity is an Ed25519 keypair and the address derived from it.
// It is never persisted; callers recompute it from its seed.
type SigningIdentity struct {
	Address string

	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// DeriveSigningIdentity deterministically derives the signing identity of
// userKey from the service derive secret.
func DeriveSigningIdentity(deriveSecret, userKey string) SigningIdentity {
	return NewSigningIdentity(keccak256([]byte(deriveSecret + ":" + userKey)))
}

// NewSigningIdentity builds an identity from a 32 byte seed.
func NewSigningIdentity(seed []byte) SigningIdentity {
	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)
	return SigningIdentity{
		Address: addressOf(public),
		public:  public,
		private: private,
	}
}

// ParseSigningSeed decodes a hex seed, with or without a 0x prefix.
func ParseSigningSeed(s string) ([]byte, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode signing seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

// Sign signs msg.
func (id SigningIdentity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify reports whether sig is a valid signature of msg by this identity.
func (id SigningIdentity) Verify(msg, sig []byte) bool {
	return ed25519.Verify(id.public, msg, sig)
}

// String returns the address only so identities are safe to log.
func (id SigningIdentity) String() string {
	return id.Address
}

// ReceiptHash is the 0x-prefixed Keccak-256 of a signature.
func ReceiptHash(signature []byte) string {
	return "0x" + hex.EncodeToString(keccak256(signature))
}

// addressOf uses the last 20 bytes of the public key hash, as EVM addresses do.
func addressOf(pub ed25519.PublicKey) string {
	sum := keccak256(pub)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}
