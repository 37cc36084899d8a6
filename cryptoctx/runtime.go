// Package cryptoctx holds a post-quantum signing key for a development credential holder.
// Keys live in process memory only.
package cryptoctx

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/schemes"
	"github.com/pkg/errors"
)

const DefaultPQScheme = "ML-DSA-65"

var (
	ErrUnknownScheme = errors.New("cryptoctx: unknown PQ scheme")
	ErrClosed        = errors.New("cryptoctx: runtime closed")
	ErrBadSignature  = errors.New("cryptoctx: signature does not verify")
)

type Runtime interface {
	PQPublicKeyB64() string
	SignPQB64(ctx context.Context, msg []byte) (string, error)
	Close() error
}

type Config struct {
	// PQSchemeName is a CIRCL scheme name, default ML-DSA-65.
	PQSchemeName string
}

type runtimeImpl struct {
	scheme sign.Scheme
	pubB64 string

	mu sync.RWMutex
	sk sign.PrivateKey
}

// New generates a fresh key pair for cfg.PQSchemeName.
func New(cfg Config) (Runtime, error) {
	s, err := scheme(cfg.PQSchemeName)
	if err != nil {
		return nil, err
	}
	pk, sk, err := s.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "cryptoctx: PQ keygen failed")
	}
	pub, err := pk.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "cryptoctx: marshal PQ pub")
	}
	return &runtimeImpl{
		scheme: s,
		pubB64: base64.RawStdEncoding.EncodeToString(pub),
		sk:     sk,
	}, nil
}

func scheme(name string) (sign.Scheme, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultPQScheme
	}
	s := schemes.ByName(name)
	if s == nil {
		return nil, errors.Wrapf(ErrUnknownScheme, "%q", name)
	}
	return s, nil
}

func (r *runtimeImpl) PQPublicKeyB64() string {
	return r.pubB64
}

func (r *runtimeImpl) SignPQB64(ctx context.Context, msg []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.sk == nil {
		return "", ErrClosed
	}
	sig := r.scheme.Sign(r.sk, msg, nil)
	if sig == nil {
		return "", errors.New("cryptoctx: PQ sign failed")
	}
	return base64.RawStdEncoding.EncodeToString(sig), nil
}

// Close drops the private key; later signs fail with ErrClosed.
func (r *runtimeImpl) Close() error {
	r.mu.Lock()
	r.sk = nil
	r.mu.Unlock()
	return nil
}

// VerifyPQB64 checks a signature produced by SignPQB64 against a public key from PQPublicKeyB64.
func VerifyPQB64(schemeName, pubB64, sigB64 string, msg []byte) error {
	s, err := scheme(schemeName)
	if err != nil {
		return err
	}
	pubRaw, err := base64.RawStdEncoding.DecodeString(pubB64)
	if err != nil {
		return errors.Wrap(err, "cryptoctx: decode public key")
	}
	pk, err := s.UnmarshalBinaryPublicKey(pubRaw)
	if err != nil {
		return errors.Wrap(err, "cryptoctx: unmarshal PQ public key")
	}
	sig, err := base64.RawStdEncoding.DecodeString(sigB64)
	if err != nil {
		return errors.Wrap(err, "cryptoctx: decode signature")
	}
	if !s.Verify(pk, msg, sig, nil) {
		return ErrBadSignature
	}
	return nil
}
