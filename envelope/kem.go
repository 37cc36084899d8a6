package envelope

import (
	"fmt"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/schemes"
	"github.com/pkg/errors"
)

const (
	AlgMLKEM768  = "ML-KEM-768"
	AlgMLKEM1024 = "ML-KEM-1024"
)

var ErrInvalidPublicKey = errors.New("envelope: invalid KEM public key")

// PublicKey is an imported KEM public key. Its concrete type belongs to the KEM that produced it.
type PublicKey any

// KEM imports recipient public keys and encapsulates fresh shared secrets against them.
type KEM interface {
	ImportPublicKey(raw []byte, alg string) (PublicKey, error)
	Encapsulate(pk PublicKey) (sharedSecret, ciphertext []byte, err error)
}

// Decapsulator recovers a shared secret on the receiving side.
type Decapsulator interface {
	Decapsulate(privateKey []byte, alg string, ciphertext []byte) (sharedSecret []byte, err error)
}

// CirclKEM implements KEM and Decapsulator with the ML-KEM schemes from circl.
type CirclKEM struct{}

var (
	_ KEM          = CirclKEM{}
	_ Decapsulator = CirclKEM{}
)

type circlPublicKey struct {
	scheme kem.Scheme
	key    kem.PublicKey
}

func scheme(alg string) (kem.Scheme, error) {
	s := schemes.ByName(alg)
	if s == nil {
		return nil, fmt.Errorf("envelope: KEM scheme %q not found", alg)
	}
	return s, nil
}

func (CirclKEM) ImportPublicKey(raw []byte, alg string) (PublicKey, error) {
	s, err := scheme(alg)
	if err != nil {
		return nil, err
	}
	if len(raw) != s.PublicKeySize() {
		return nil, errors.Wrapf(ErrInvalidPublicKey, "%s wants %d bytes, got %d", alg, s.PublicKeySize(), len(raw))
	}
	pk, err := s.UnmarshalBinaryPublicKey(raw)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	return circlPublicKey{scheme: s, key: pk}, nil
}

func (CirclKEM) Encapsulate(pk PublicKey) ([]byte, []byte, error) {
	cpk, ok := pk.(circlPublicKey)
	if !ok {
		return nil, nil, errors.Wrapf(ErrInvalidPublicKey, "unexpected key type %T", pk)
	}
	ct, ss, err := cpk.scheme.Encapsulate(cpk.key)
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: encapsulate: %w", err)
	}
	return ss, ct, nil
}

func (CirclKEM) Decapsulate(privateKey []byte, alg string, ciphertext []byte) ([]byte, error) {
	s, err := scheme(alg)
	if err != nil {
		return nil, err
	}
	sk, err := s.UnmarshalBinaryPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("envelope: unmarshal KEM private key: %w", err)
	}
	if len(ciphertext) != s.CiphertextSize() {
		return nil, fmt.Errorf("envelope: KEM ciphertext is %d bytes, want %d", len(ciphertext), s.CiphertextSize())
	}
	ss, err := s.Decapsulate(sk, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: decapsulate: %w", err)
	}
	return ss, nil
}

// GenerateKeyPair returns a fresh raw (public, private) key pair for alg.
func GenerateKeyPair(alg string) ([]byte, []byte, error) {
	s, err := scheme(alg)
	if err != nil {
		return nil, nil, err
	}
	pk, sk, err := s.GenerateKeyPair()
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: KEM keygen failed: %w", err)
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: marshal KEM public key: %w", err)
	}
	priv, err := sk.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("envelope: marshal KEM private key: %w", err)
	}
	return pub, priv, nil
}
