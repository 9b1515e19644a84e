package memory

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Scheme and algorithm tags for the self-describing envelope, grounded
// on original_source/bartholomew/kernel/encryption_engine.py.
const (
	SchemeV1 = "bartholomew.enc.v1"
	AlgAESGCM = "AES-GCM"
)

// ErrUnknownAlgorithm is returned when decrypting an envelope whose alg
// tag this cipher does not implement.
var ErrUnknownAlgorithm = errors.New("bartholomew: unknown envelope algorithm")

// ErrDecryptFailed is returned when AEAD authentication fails.
var ErrDecryptFailed = errors.New("bartholomew: decryption failed")

// Envelope is the exact wire shape of an encrypted cell:
// {"scheme":"bartholomew.enc.v1","alg":"AES-GCM","kid":"<id>",
//  "nonce":"<b64url>","aad":"<b64url|null>","ct":"<b64url>"}
type Envelope struct {
	Scheme string `json:"scheme"`
	Alg    string `json:"alg"`
	KID    string `json:"kid"`
	Nonce  string `json:"nonce"`
	AAD    string `json:"aad,omitempty"`
	CT     string `json:"ct"`
}

// AEADCipher implements authenticated encryption into/out of a
// self-describing Envelope.
type AEADCipher struct{}

// NewAEADCipher constructs the AES-GCM-256 cipher.
func NewAEADCipher() *AEADCipher { return &AEADCipher{} }

// Encrypt produces an Envelope for plaintext under key, bound to aad.
// The caller fills in KID after the call (the orchestrator knows which
// strength/key id was used; the cipher itself is key-id agnostic).
func (c *AEADCipher) Encrypt(plaintext []byte, key []byte, aad []byte) (Envelope, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("aes cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("nonce generation: %w", err)
	}
	ct := gcm.Seal(nil, nonce, plaintext, aad)

	env := Envelope{
		Scheme: SchemeV1,
		Alg:    AlgAESGCM,
		Nonce:  base64.RawURLEncoding.EncodeToString(nonce),
		CT:     base64.RawURLEncoding.EncodeToString(ct),
	}
	if len(aad) > 0 {
		env.AAD = base64.RawURLEncoding.EncodeToString(aad)
	}
	return env, nil
}

// Decrypt authenticates and decrypts env under key. Authentication
// failure is fatal for this call (returns ErrDecryptFailed); the caller
// decides whether to surface the ciphertext unchanged (read-time
// DecryptFailure policy) or propagate the error (startup-time misuse).
func (c *AEADCipher) Decrypt(env Envelope, key []byte) ([]byte, error) {
	if env.Alg != AlgAESGCM {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, env.Alg)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm init: %w", err)
	}
	nonce, err := base64.RawURLEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.RawURLEncoding.DecodeString(env.CT)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	var aad []byte
	if env.AAD != "" {
		aad, err = base64.RawURLEncoding.DecodeString(env.AAD)
		if err != nil {
			return nil, fmt.Errorf("decode aad: %w", err)
		}
	}
	plaintext, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// ParseEnvelope detects envelope form by successful parse of a JSON
// object carrying the expected scheme tag; any other string is not an
// envelope.
func ParseEnvelope(s string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(s), &env); err != nil {
		return Envelope{}, false
	}
	if env.Scheme != SchemeV1 {
		return Envelope{}, false
	}
	return env, true
}

func (env Envelope) String() string {
	b, err := json.Marshal(env)
	if err != nil {
		return ""
	}
	return string(b)
}

// EncryptionEngine orchestrates building AAD, choosing key
// strength, and the best-effort "try decrypt if envelope" helper used
// by retrieval and by the backfill utility.
type EncryptionEngine struct {
	keys   *KeyProvider
	cipher *AEADCipher
}

// NewEncryptionEngine wires a KeyProvider and AEADCipher together.
func NewEncryptionEngine(keys *KeyProvider) *EncryptionEngine {
	return &EncryptionEngine{keys: keys, cipher: NewAEADCipher()}
}

// buildAAD canonicalizes {kind, key, ts} (or key+"::summary" for the
// summary cell) into JSON bytes for AEAD binding.
func buildAAD(kind, key, ts string, isSummary bool) []byte {
	k := key
	if isSummary {
		k = key + "::summary"
	}
	b, _ := json.Marshal(struct {
		Kind string `json:"kind"`
		Key  string `json:"key"`
		TS   string `json:"ts"`
	}{Kind: kind, Key: k, TS: ts})
	return b
}

// decideStrength maps the evaluated metadata's "encrypt" field to a
// Strength tier. "true" (bool) is equivalent to "standard".
func decideStrength(encrypt string) (Strength, bool) {
	switch encrypt {
	case "strong":
		return StrengthStrong, true
	case "standard", "true":
		return StrengthStandard, true
	default:
		return "", false
	}
}

// EncryptForPolicy encrypts plaintext for the given (kind, key, ts,
// isSummary) tuple at the strength implied by encrypt, returning the
// serialized envelope string. Returns (plaintext, false, nil) unchanged
// when encrypt does not request encryption.
func (e *EncryptionEngine) EncryptForPolicy(plaintext, kind, key, ts, encrypt string, isSummary bool) (string, bool, error) {
	strength, ok := decideStrength(encrypt)
	if !ok {
		return plaintext, false, nil
	}
	kid, keyBytes := e.keys.KeyByStrength(strength)
	aad := buildAAD(kind, key, ts, isSummary)
	env, err := e.cipher.Encrypt([]byte(plaintext), keyBytes, aad)
	if err != nil {
		return "", false, fmt.Errorf("encrypt for policy: %w", err)
	}
	env.KID = kid
	return env.String(), true, nil
}

// TryDecryptIfEnvelope best-effort decrypts s if it parses as an
// envelope, otherwise returns s unchanged (InvalidEnvelope /
// pass-through policy). Decryption failures are logged and the raw
// ciphertext string is returned untouched (DecryptFailure policy);
// a retrieval must never panic on bad ciphertext.
func (e *EncryptionEngine) TryDecryptIfEnvelope(s string) string {
	env, ok := ParseEnvelope(s)
	if !ok {
		return s
	}
	key, ok := e.keys.Key(env.KID)
	if !ok {
		log.Warn().Str("kid", env.KID).Msg("no key available for envelope key id; leaving ciphertext as-is")
		return s
	}
	plaintext, err := e.cipher.Decrypt(env, key)
	if err != nil {
		log.Error().Err(err).Str("kid", env.KID).Msg("envelope decryption failed")
		return s
	}
	return string(plaintext)
}
