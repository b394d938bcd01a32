// Package push manages Web Push subscriptions whose endpoint is this bot.
package push

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// AuthSecretSize is the length of the subscription auth secret.
const AuthSecretSize = 16

var ErrInvalidKey = errors.New("invalid application server key")

// DecodeKey decodes base64url with or without padding. Standard base64 characters are accepted too.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}

func encodeKey(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeApplicationServerKey turns the configured VAPID public key into the 65-byte uncompressed P-256 point.
func DecodeApplicationServerKey(s string) ([]byte, error) {
	raw, err := DecodeKey(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return raw, nil
}

// Keys is the user agent side of a subscription.
type Keys struct {
	Private    *ecdh.PrivateKey
	AuthSecret []byte
}

func GenerateKeys() (*Keys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate p256 key: %w", err)
	}

	secret := make([]byte, AuthSecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate auth secret: %w", err)
	}
	return &Keys{Private: priv, AuthSecret: secret}, nil
}

// P256dh is the public key as sent to the backend.
func (k *Keys) P256dh() string { return encodeKey(k.Private.PublicKey().Bytes()) }

func (k *Keys) Auth() string { return encodeKey(k.AuthSecret) }
