// Package envelope encrypts request payloads for the QuantumAuth server: a fresh KEM
// encapsulation per call, HKDF-SHA256 key derivation and a 256-bit AEAD.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/quantumauth-io/quantumauth-go/log"
	qacrypto "github.com/quantumauth-io/quantumauth-go/qa/crypto"
)

const (
	AEADAESGCM256        = "AES-GCM-256"
	AEADChaCha20Poly1305 = "ChaCha20-Poly1305"

	hkdfInfo = "quantum-auth-pq-aead"
	keySize  = 32
	ivSize   = 12
)

var hkdfSalt = make([]byte, 32)

// Envelope is the JSON body sent in place of the plaintext payload.
type Envelope struct {
	KEMAlgorithm     string `json:"pq_kem_alg"`
	AEADAlgorithm    string `json:"aead_alg"`
	KEMCiphertextB64 string `json:"kem_ciphertext_b64"`
	IVB64            string `json:"aead_iv_b64"`
	CiphertextB64    string `json:"aead_ciphertext_b64"`

	ChallengeID string `json:"challenge_id,omitempty"`
	Nonce       string `json:"nonce,omitempty"`
	AppID       string `json:"app_id,omitempty"`
}

// Binding holds the correlation fields a caller may bind into an envelope.
// They are written both inside the ciphertext and alongside it.
type Binding struct {
	ChallengeID string
	Nonce       string
	AppID       string
}

// Plaintext is what the AEAD ciphertext decrypts to.
type Plaintext struct {
	Payload     json.RawMessage `json:"payload"`
	ChallengeID string          `json:"challenge_id,omitempty"`
	Nonce       string          `json:"nonce,omitempty"`
	AppID       string          `json:"app_id,omitempty"`
}

type Config struct {
	KEM          KEM
	Algorithm    string // KEM algorithm, default ML-KEM-768
	PublicKeyB64 string // raw recipient public key, standard base64
	AEAD         string // default AES-GCM-256
	Logger       *zap.Logger
}

// Sealer builds envelopes for one recipient key. The imported public key is memoized after
// the first successful import and shared read-only between concurrent Seal calls.
type Sealer struct {
	kem    KEM
	alg    string
	pubB64 string
	aead   string
	logger *zap.Logger

	mu  sync.Mutex
	pub PublicKey
}

func NewSealer(cfg Config) (*Sealer, error) {
	if cfg.KEM == nil {
		cfg.KEM = CirclKEM{}
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgMLKEM768
	}
	if cfg.AEAD == "" {
		cfg.AEAD = AEADAESGCM256
	}
	if _, err := newAEAD(cfg.AEAD, make([]byte, keySize)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.PublicKeyB64) == "" {
		return nil, errors.Wrap(ErrInvalidPublicKey, "no public key configured")
	}
	return &Sealer{
		kem:    cfg.KEM,
		alg:    cfg.Algorithm,
		pubB64: strings.TrimSpace(cfg.PublicKeyB64),
		aead:   cfg.AEAD,
		logger: log.Named(cfg.Logger, "envelope"),
	}, nil
}

// Seal encrypts payload. Every call encapsulates a new shared secret and draws a new IV.
func (s *Sealer) Seal(ctx context.Context, payload any, b Binding) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pk, err := s.publicKey()
	if err != nil {
		return nil, err
	}

	sharedSecret, kemCT, err := s.kem.Encapsulate(pk)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(sharedSecret)
	zeroBytes(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: marshal payload")
	}
	plaintext, err := json.Marshal(Plaintext{Payload: raw, ChallengeID: b.ChallengeID, Nonce: b.Nonce, AppID: b.AppID})
	if err != nil {
		return nil, errors.Wrap(err, "envelope: marshal plaintext")
	}

	iv, err := qacrypto.RandomBytes(ivSize)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: iv")
	}
	aead, err := newAEAD(s.aead, key)
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, iv, plaintext, nil)

	return &Envelope{
		KEMAlgorithm:     s.alg,
		AEADAlgorithm:    s.aead,
		KEMCiphertextB64: qacrypto.BytesToB64(kemCT),
		IVB64:            qacrypto.BytesToB64(iv),
		CiphertextB64:    qacrypto.BytesToB64(ct),
		ChallengeID:      b.ChallengeID,
		Nonce:            b.Nonce,
		AppID:            b.AppID,
	}, nil
}

func (s *Sealer) publicKey() (PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pub != nil {
		return s.pub, nil
	}

	raw, err := qacrypto.B64ToBytes(s.pubB64)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, err.Error())
	}
	pk, err := s.kem.ImportPublicKey(raw, s.alg)
	if err != nil {
		// not memoized; the next Seal imports again
		s.logger.Warn("failed to import KEM public key", zap.String("alg", s.alg), zap.Error(err))
		return nil, err
	}
	s.pub = pk
	return pk, nil
}

// Open decrypts env with the recipient's raw private key.
func Open(d Decapsulator, privateKey []byte, env *Envelope) (*Plaintext, error) {
	if env == nil {
		return nil, errors.New("envelope: nil envelope")
	}
	kemCT, err := qacrypto.B64ToBytes(env.KEMCiphertextB64)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: kem ciphertext")
	}
	iv, err := qacrypto.B64ToBytes(env.IVB64)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: iv")
	}
	if len(iv) != ivSize {
		return nil, fmt.Errorf("envelope: iv is %d bytes, want %d", len(iv), ivSize)
	}
	ct, err := qacrypto.B64ToBytes(env.CiphertextB64)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: aead ciphertext")
	}

	sharedSecret, err := d.Decapsulate(privateKey, env.KEMAlgorithm, kemCT)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(sharedSecret)
	zeroBytes(sharedSecret)
	if err != nil {
		return nil, err
	}
	defer zeroBytes(key)

	aead, err := newAEAD(env.AEADAlgorithm, key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, errors.Wrap(err, "envelope: open")
	}

	var out Plaintext
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, errors.Wrap(err, "envelope: decode plaintext")
	}
	return &out, nil
}

func deriveKey(sharedSecret []byte) ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, sharedSecret, hkdfSalt, []byte(hkdfInfo)), key); err != nil {
		return nil, errors.Wrap(err, "envelope: hkdf")
	}
	return key, nil
}

func newAEAD(alg string, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AEADAESGCM256:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, errors.Wrap(err, "envelope: aes")
		}
		return cipher.NewGCM(block)
	case AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("envelope: unsupported AEAD %q", alg)
	}
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
