package security

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"catering-service/internal/models"
	"catering-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var ErrCiphertext = errors.New("invalid ciphertext")

// PIICodec encrypts customer fields at rest
type PIICodec struct {
	aead           cipher.AEAD
	fingerprintKey []byte
	logger         *zap.Logger
}

// NewPIICodec derives an encryption key and a fingerprint key from secret
func NewPIICodec(secret string) (*PIICodec, error) {
	if secret == "" {
		return nil, errors.New("pii secret is empty")
	}

	encKey, err := deriveKey(secret, "pii-encryption")
	if err != nil {
		return nil, err
	}
	fpKey, err := deriveKey(secret, "client-fingerprint")
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	return &PIICodec{aead: aead, fingerprintKey: fpKey, logger: util.Logger("pii")}, nil
}

func deriveKey(secret, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt returns base64(nonce || sealed plaintext)
func (c *PIICodec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to read nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (c *PIICodec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	if len(raw) < c.aead.NonceSize()+c.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertext, err)
	}
	return string(plain), nil
}

// DecryptOrEmpty never fails; a field that cannot be decrypted becomes ""
func (c *PIICodec) DecryptOrEmpty(field, ciphertext string) string {
	if ciphertext == "" {
		return ""
	}
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		c.logger.Warn("Failed to decrypt customer field", zap.String("field", field), zap.Error(err))
		return ""
	}
	return plain
}

// EncryptCustomer encrypts every field of a plaintext customer
func (c *PIICodec) EncryptCustomer(in models.Customer) (models.Customer, error) {
	var out models.Customer
	fields := []struct {
		src string
		dst *string
	}{
		{in.Name, &out.Name},
		{in.Surname, &out.Surname},
		{in.Phone, &out.Phone},
		{in.Email, &out.Email},
		{in.Address, &out.Address},
		{in.Notes, &out.Notes},
		{in.PromoCode, &out.PromoCode},
	}
	for _, f := range fields {
		enc, err := c.Encrypt(f.src)
		if err != nil {
			return models.Customer{}, err
		}
		*f.dst = enc
	}
	return out, nil
}

// DecryptCustomer decrypts field by field, degrading each failure to ""
func (c *PIICodec) DecryptCustomer(in models.Customer) models.Customer {
	return models.Customer{
		Name:      c.DecryptOrEmpty("name", in.Name),
		Surname:   c.DecryptOrEmpty("surname", in.Surname),
		Phone:     c.DecryptOrEmpty("phone", in.Phone),
		Email:     c.DecryptOrEmpty("email", in.Email),
		Address:   c.DecryptOrEmpty("address", in.Address),
		Notes:     c.DecryptOrEmpty("notes", in.Notes),
		PromoCode: c.DecryptOrEmpty("promo_code", in.PromoCode),
	}
}

// Fingerprint is a keyed, deterministic hash of normalized values
func (c *PIICodec) Fingerprint(values ...string) string {
	mac := hmac.New(sha256.New, c.fingerprintKey)
	for i, v := range values {
		if i > 0 {
			mac.Write([]byte{0x1f})
		}
		mac.Write([]byte(strings.ToLower(strings.TrimSpace(v))))
	}
	return hex.EncodeToString(mac.Sum(nil))
}
