package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
)

var ErrInvalidSignature = errors.New("invalid signature")

// NotificationClaims are the claims carried by a settlement token
type NotificationClaims struct {
	MerchantReference string `json:"merchantReference"`
	PaymentStatus     string `json:"paymentStatus"`
	UUID              string `json:"uuid"`
	jwt.StandardClaims
}

// Signer signs outbound processor payloads and verifies inbound tokens
type Signer struct {
	signingKey      []byte
	notificationKey []byte
}

// NewSigner creates a signer. signingSecret keys outbound HMACs,
// notificationSecret is shared with the processor for settlement tokens.
func NewSigner(signingSecret, notificationSecret string) *Signer {
	return &Signer{
		signingKey:      []byte(signingSecret),
		notificationKey: []byte(notificationSecret),
	}
}

// Sign returns the hex HMAC-SHA256 of the canonical JSON form of payload
func (s *Signer) Sign(payload interface{}) (string, error) {
	canonical, err := CanonicalJSON(payload)
	if err != nil {
		return "", err
	}

	mac := hmac.New(sha256.New, s.signingKey)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyToken checks the token signature before decoding any claim
func (s *Signer) VerifyToken(tokenString string) (*NotificationClaims, error) {
	if len(s.notificationKey) == 0 {
		return nil, fmt.Errorf("%w: notification secret not configured", ErrInvalidSignature)
	}

	claims := &NotificationClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.notificationKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !token.Valid {
		return nil, ErrInvalidSignature
	}

	return claims, nil
}

// CanonicalJSON serializes v with object keys sorted at every depth
// and without HTML escaping. Numbers keep their literal form.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("failed to encode canonical payload: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
