package shelfsync

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EncryptionNonceSize is the nonce size for AES-GCM.
	EncryptionNonceSize = 12
	// EncryptionSaltSize is the salt size for key derivation.
	EncryptionSaltSize = 32
	// EncryptionKeySize is the AES-256 key size.
	EncryptionKeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation.
	PBKDF2Iterations = 100000
)

// magicEncrypted marks an encrypted queue file. The header is
// magic (4) + version (1) + salt (32), followed by nonce-prefixed
// AES-GCM ciphertext.
var magicEncrypted = [4]byte{'S', 'E', 'N', 'C'}

const encryptedHeaderSize = 4 + 1 + EncryptionSaltSize

// EncryptionConfig configures encryption at rest for the queue file.
// Change-sets carry full product snapshots, so a queue file on shared
// disk can leak catalog data without it.
type EncryptionConfig struct {
	// Enabled turns on encryption for the persisted queue.
	Enabled bool `yaml:"enabled"`

	// Key is the encryption key (must be 32 bytes for AES-256).
	// If empty, KeyPassword is used to derive a key.
	Key []byte `yaml:"-"`

	// KeyPassword is used to derive the encryption key via PBKDF2.
	KeyPassword string `yaml:"key_password,omitempty"`
}

// Encryptor seals and opens queue file payloads. A nil *Encryptor is valid
// and performs no encryption.
type Encryptor struct {
	key      []byte
	password string
}

// NewEncryptor creates a new encryptor from a key or password. Returns
// (nil, nil) when encryption is disabled.
func NewEncryptor(cfg EncryptionConfig) (*Encryptor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Key) > 0 {
		if len(cfg.Key) != EncryptionKeySize {
			return nil, errors.New("encryption key must be 32 bytes for AES-256")
		}
		return &Encryptor{key: cfg.Key}, nil
	}
	if cfg.KeyPassword != "" {
		return &Encryptor{password: cfg.KeyPassword}, nil
	}
	return nil, errors.New("encryption enabled but no key or password provided")
}

func (e *Encryptor) aead(salt []byte) (cipher.AEAD, error) {
	key := e.key
	if len(key) == 0 {
		key = pbkdf2.Key([]byte(e.password), salt, PBKDF2Iterations, EncryptionKeySize, sha256.New)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts a queue file payload, producing a self-describing blob
// with header, salt, and nonce-prefixed ciphertext.
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if e == nil {
		return plaintext, nil
	}

	salt := make([]byte, EncryptionSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, EncryptionNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, encryptedHeaderSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, magicEncrypted[:]...)
	out = append(out, 1) // version
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open decrypts a sealed queue file payload. Payloads without the
// encryption magic pass through untouched, so a plaintext queue written
// before encryption was enabled still loads.
func (e *Encryptor) Open(data []byte) ([]byte, error) {
	if e == nil || !isEncrypted(data) {
		return data, nil
	}
	if len(data) < encryptedHeaderSize+EncryptionNonceSize {
		return nil, errors.New("encrypted payload too short")
	}
	if data[4] != 1 {
		return nil, errors.New("unsupported encryption version")
	}

	salt := data[5:encryptedHeaderSize]
	gcm, err := e.aead(salt)
	if err != nil {
		return nil, err
	}

	nonce := data[encryptedHeaderSize : encryptedHeaderSize+EncryptionNonceSize]
	ciphertext := data[encryptedHeaderSize+EncryptionNonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func isEncrypted(data []byte) bool {
	return len(data) >= 4 && [4]byte(data[:4]) == magicEncrypted
}
