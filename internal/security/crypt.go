package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const KeySize = 32

var ErrKeySize = fmt.Errorf("encryption key must decode to %d bytes", KeySize)

func LoadKeyFromBase64(b64 string) ([]byte, error) {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(k) != KeySize {
		return nil, ErrKeySize
	}
	return k, nil
}

// EncryptAESGCM returns base64url(nonce|ciphertext).
func EncryptAESGCM(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	out := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(out), nil
}

func DecryptAESGCM(key []byte, b64url string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(b64url)
	if err != nil {
		return nil, err
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := gcm.NonceSize()
	if len(raw) < ns {
		return nil, errors.New("ciphertext too short")
	}
	return gcm.Open(nil, raw[:ns], raw[ns:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Sealer encrypts JSON-encodable values, e.g. the contact details of a resume.
type Sealer struct {
	key []byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	return &Sealer{key: key}, nil
}

func (s *Sealer) Seal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return EncryptAESGCM(s.key, b)
}

func (s *Sealer) Open(sealed string, v any) error {
	b, err := DecryptAESGCM(s.key, sealed)
	if err != nil {
		return fmt.Errorf("open sealed value: %w", err)
	}
	return json.Unmarshal(b, v)
}
