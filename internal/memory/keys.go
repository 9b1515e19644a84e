package memory

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Strength names a key's cryptographic strength tier.
type Strength string

const (
	StrengthStandard Strength = "standard"
	StrengthStrong   Strength = "strong"
)

// KeyProvider resolves encryption keys by strength tag, falling back to
// an ephemeral per-process key (with a warning) when no environment
// variable supplies one. Grounded on
// original_source/bartholomew/kernel/encryption_engine.py's
// EnvKeyProvider. Never writes keys to disk.
type KeyProvider struct {
	mu        sync.Mutex
	keys      map[Strength][]byte
	keyIDs    map[Strength]string
	ephemeral map[Strength]bool
}

// NewKeyProvider resolves keys from BME_KEY_STANDARD / BME_KEY_STRONG
// (base64url-encoded 32-byte keys) and ids from
// BME_KID_STANDARD / BME_KID_STRONG (default "std"/"str").
func NewKeyProvider() *KeyProvider {
	kp := &KeyProvider{
		keys:      make(map[Strength][]byte),
		keyIDs:    make(map[Strength]string),
		ephemeral: make(map[Strength]bool),
	}
	kp.resolve(StrengthStandard, "BME_KEY_STANDARD", "BME_KID_STANDARD", "std")
	kp.resolve(StrengthStrong, "BME_KEY_STRONG", "BME_KID_STRONG", "str")
	return kp
}

func (kp *KeyProvider) resolve(strength Strength, keyEnv, kidEnv, defaultKID string) {
	kid := os.Getenv(kidEnv)
	if kid == "" {
		kid = defaultKID
	}
	kp.keyIDs[strength] = kid

	if raw := os.Getenv(keyEnv); raw != "" {
		key, err := base64.RawURLEncoding.DecodeString(raw)
		if err != nil || len(key) != 32 {
			if key, err = base64.URLEncoding.DecodeString(raw); err != nil || len(key) != 32 {
				log.Warn().Str("strength", string(strength)).Msg("configured encryption key is not a valid base64url 32-byte value; generating ephemeral key")
				kp.keys[strength] = randomKey()
				kp.ephemeral[strength] = true
				return
			}
		}
		kp.keys[strength] = key
		return
	}

	log.Warn().Str("strength", string(strength)).Msg("no encryption key configured; generating ephemeral dev key for this process")
	kp.keys[strength] = randomKey()
	kp.ephemeral[strength] = true
}

func randomKey() []byte {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic("bartholomew: crypto/rand unavailable: " + err.Error())
	}
	return key
}

// KeyByStrength returns the key id and key bytes for the given strength.
// Unknown strengths fall back to standard.
func (kp *KeyProvider) KeyByStrength(strength Strength) (string, []byte) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if _, ok := kp.keys[strength]; !ok {
		strength = StrengthStandard
	}
	return kp.keyIDs[strength], kp.keys[strength]
}

// Key returns the key bytes for a given key id, scanning both strength
// tiers since key ids are caller-facing and strength is an internal tag.
func (kp *KeyProvider) Key(keyID string) ([]byte, bool) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	for strength, id := range kp.keyIDs {
		if id == keyID {
			return kp.keys[strength], true
		}
	}
	return nil, false
}

// IsEphemeral reports whether the given strength's key was generated
// in-process rather than sourced from the environment.
func (kp *KeyProvider) IsEphemeral(strength Strength) bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return kp.ephemeral[strength]
}

// newConsentSourceTag generates a "<prefix>:<uuid>" source tag for a
// consent record (e.g. "prompt:<uuid>"). The store's own consent writes
// use the fixed tags "upsert" and "persist_embeddings_for" instead.
func newConsentSourceTag(prefix string) string {
	return prefix + ":" + uuid.NewString()
}
