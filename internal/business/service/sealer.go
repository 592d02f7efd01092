package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/smallbiznis/appointly/internal/business/domain"
	"gorm.io/datatypes"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Sealer encrypts processor configs at rest with AES-256-GCM. The key is the
// SHA-256 of the configured secret.
type Sealer struct {
	key []byte
}

func NewSealer(secret string) *Sealer {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return &Sealer{}
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}
}

func (s *Sealer) Seal(config map[string]any) (datatypes.JSON, error) {
	if s == nil || len(s.key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}

	payload, err := json.Marshal(config)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nil, nonce, payload, nil)
	out, err := json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(out), nil
}

func (s *Sealer) Open(encrypted datatypes.JSON) (map[string]any, error) {
	if s == nil || len(s.key) == 0 {
		return nil, domain.ErrEncryptionKeyMissing
	}
	if len(encrypted) == 0 {
		return nil, domain.ErrInvalidConfig
	}

	var payload encryptedPayload
	if err := json.Unmarshal(encrypted, &payload); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	if payload.Version != 1 {
		return nil, domain.ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, domain.ErrInvalidConfig
	}

	var out map[string]any
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, domain.ErrInvalidConfig
	}
	if len(out) == 0 {
		return nil, domain.ErrInvalidConfig
	}
	return out, nil
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
