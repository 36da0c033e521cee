// Package crypto implements the share-link codec: password-derived
// symmetric encryption of JSON values and the title/subtitle namespace
// derivation.
//
// Wire format (pinned; deployed links must keep decrypting):
//
//	base64url( salt[16] ‖ nonce[12] ‖ AES-256-GCM(plaintextJSON) )
//
// Key derivation is Argon2id(password, salt, t=3, m=64MiB, p=4, keyLen=32).
// These parameters are part of the wire format and must never change.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltLen  = 16
	nonceLen = 12
	keyLen   = 32

	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// FallbackPassword is used when a link is created without a password
// ("shared" mode). Links encrypted with it are flagged insecure.
const FallbackPassword = "hacka.re-shared-link"

// EffectivePassword maps an empty password to the fallback phrase.
// The second return reports whether the fallback was used.
func EffectivePassword(password string) (string, bool) {
	if password == "" {
		return FallbackPassword, true
	}
	return password, false
}

func deriveKey(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// Encrypt serializes value to JSON and encrypts it under a key derived
// from password with a fresh salt and nonce. Two encryptions of the same
// value never produce the same token.
func Encrypt(value any, password string) (string, error) {
	plaintext, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal plaintext: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("draw salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("draw nonce: %w", err)
	}

	password, _ = EffectivePassword(password)
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	envelope := make([]byte, 0, saltLen+nonceLen+len(ciphertext))
	envelope = append(envelope, salt...)
	envelope = append(envelope, nonce...)
	envelope = append(envelope, ciphertext...)

	return base64.RawURLEncoding.EncodeToString(envelope), nil
}

// Decrypt reverses Encrypt into out (a JSON-unmarshal target). A wrong
// password, tampered token, or structurally invalid envelope all return
// false with out untouched, never an error in the success path.
func Decrypt(token, password string, out any) bool {
	envelope, err := decodeBase64URL(token)
	if err != nil {
		return false
	}
	if len(envelope) < saltLen+nonceLen+1 {
		return false
	}

	salt := envelope[:saltLen]
	nonce := envelope[saltLen : saltLen+nonceLen]
	ciphertext := envelope[saltLen+nonceLen:]

	password, _ = EffectivePassword(password)
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return false
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return false
	}

	return json.Unmarshal(plaintext, out) == nil
}

// decodeBase64URL accepts both padded and unpadded URL-safe base64; the
// web client historically emitted both.
func decodeBase64URL(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// DeriveNamespace returns eight lowercase hex digits from (title, subtitle):
// the first four bytes of SHA-256("title|subtitle").
func DeriveNamespace(title, subtitle string) string {
	sum := sha256.Sum256([]byte(title + "|" + subtitle))
	return hex.EncodeToString(sum[:4])
}

// DeriveFallbackKey derives a namespace-bound master key used when no
// user-supplied master key exists for a namespace. Callers must surface
// the fallback-namespace warning on every use.
func DeriveFallbackKey(namespace string) []byte {
	sum := sha256.Sum256([]byte("hackare-fallback|" + namespace))
	return sum[:]
}

// EncryptBytes encrypts raw bytes under a pre-derived 32-byte key using
// the same envelope minus the salt (the key is not password-derived).
// Used by the namespaced store for values at rest.
func EncryptBytes(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw nonce: %w", err)
	}
	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// DecryptBytes reverses EncryptBytes. Returns nil, false on any failure.
func DecryptBytes(key, envelope []byte) ([]byte, bool) {
	if len(envelope) < nonceLen+1 {
		return nil, false
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, false
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, false
	}
	plaintext, err := aead.Open(nil, envelope[:nonceLen], envelope[nonceLen:], nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}
