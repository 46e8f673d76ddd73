package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/argon2"

	"lexvault/internal/domain"
)

const (
	algorithmAES256GCM = "aes-256-gcm"
	keySize            = 32
	gcmTagSize         = 16

	// envelopeVersionDetachedTag stores the GCM tag in AuthTag.
	envelopeVersionDetachedTag = 1
	// envelopeVersionSealedTag is the legacy shape: tag appended to Ciphertext.
	envelopeVersionSealedTag = 2
)

// AESEnvelopeEncryptor implements domain.ContentEncryptor using AES-256-GCM.
// The key is held only in memory.
type AESEnvelopeEncryptor struct {
	mu  sync.RWMutex
	key []byte // 32 bytes
}

// NewAESEnvelopeEncryptor creates an encryptor from a raw 32-byte key.
func NewAESEnvelopeEncryptor(key []byte) (*AESEnvelopeEncryptor, error) {
	if len(key) != keySize {
		return nil, domain.NewDomainError("NewAESEnvelopeEncryptor", domain.ErrEncryption,
			fmt.Sprintf("key must be %d bytes, got %d", keySize, len(key)))
	}
	k := make([]byte, keySize)
	copy(k, key)
	return &AESEnvelopeEncryptor{key: k}, nil
}

// NewAESEnvelopeEncryptorFromPassphrase derives the key with Argon2id. The
// same passphrase and salt always yield the same key, so stored envelopes
// stay readable across restarts.
func NewAESEnvelopeEncryptorFromPassphrase(passphrase string, salt []byte) (*AESEnvelopeEncryptor, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	if len(salt) < 16 {
		return nil, fmt.Errorf("salt must be at least 16 bytes")
	}
	return NewAESEnvelopeEncryptor(deriveContentKey(passphrase, salt))
}

// Encrypt seals plaintext into a version 1 envelope with a fresh nonce.
func (e *AESEnvelopeEncryptor) Encrypt(plaintext string) (*domain.Envelope, error) {
	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: generate nonce: %v", domain.ErrEncryption, err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	return &domain.Envelope{
		Algorithm:  algorithmAES256GCM,
		Ciphertext: base64.StdEncoding.EncodeToString(ct),
		IV:         base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(tag),
		Version:    envelopeVersionDetachedTag,
	}, nil
}

// EncryptString encrypts plaintext and returns the envelope as the JSON text
// stored in a column.
func (e *AESEnvelopeEncryptor) EncryptString(plaintext string) (string, error) {
	env, err := e.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("%w: marshal envelope: %v", domain.ErrEncryption, err)
	}
	return string(data), nil
}

// Decrypt opens an envelope. Envelopes without an AuthTag are treated as the
// legacy shape whose tag trails the ciphertext.
func (e *AESEnvelopeEncryptor) Decrypt(env *domain.Envelope) (string, error) {
	if env == nil {
		return "", domain.NewDomainError("AESEnvelopeEncryptor.Decrypt", domain.ErrDecryption, "nil envelope")
	}
	if env.Algorithm != "" && env.Algorithm != algorithmAES256GCM {
		return "", domain.NewDomainError("AESEnvelopeEncryptor.Decrypt", domain.ErrDecryption,
			"unsupported algorithm "+env.Algorithm)
	}

	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", domain.ErrDecryption, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return "", fmt.Errorf("%w: decode iv: %v", domain.ErrDecryption, err)
	}
	if env.AuthTag != "" {
		tag, err := base64.StdEncoding.DecodeString(env.AuthTag)
		if err != nil {
			return "", fmt.Errorf("%w: decode auth tag: %v", domain.ErrDecryption, err)
		}
		ct = append(ct, tag...)
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: iv must be %d bytes", domain.ErrDecryption, gcm.NonceSize())
	}
	if len(ct) < gcmTagSize {
		return "", fmt.Errorf("%w: ciphertext too short", domain.ErrDecryption)
	}

	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	return string(plaintext), nil
}

// Zeroize clears the key bytes from memory. Call on shutdown.
func (e *AESEnvelopeEncryptor) Zeroize() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.key {
		e.key[i] = 0
	}
}

func (e *AESEnvelopeEncryptor) gcm() (cipher.AEAD, error) {
	e.mu.RLock()
	key := make([]byte, len(e.key))
	copy(key, e.key)
	e.mu.RUnlock()

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", domain.ErrEncryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: create gcm: %v", domain.ErrEncryption, err)
	}
	return gcm, nil
}

// deriveContentKey uses Argon2id to derive a 32-byte key.
func deriveContentKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, keySize)
}
