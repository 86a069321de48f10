package push

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Webpush payload encryption per RFC 8291 (aes128gcm content coding). The
// device holds a P-256 ECDH keypair plus a 16-byte auth secret; the sender
// derives a one-off content key from its own ephemeral key, the device
// public key and the auth secret, and ships its public key in the header.

const (
	saltLen       = 16
	authSecretLen = 16
	p256PointLen  = 65 // uncompressed SEC1 point
	gcmTagLen     = 16
)

// SubscriptionKeys is the device-side encryption material of one push
// subscription. Generated fresh on every subscribe and never persisted.
type SubscriptionKeys struct {
	privateKey *ecdh.PrivateKey
	authSecret [authSecretLen]byte
}

// GenerateSubscriptionKeys creates a new P-256 keypair and auth secret
func GenerateSubscriptionKeys() (*SubscriptionKeys, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate subscription keypair: %w", err)
	}

	keys := &SubscriptionKeys{privateKey: priv}
	if _, err := io.ReadFull(rand.Reader, keys.authSecret[:]); err != nil {
		return nil, fmt.Errorf("failed to generate auth secret: %w", err)
	}
	return keys, nil
}

// P256dh returns the public key in the form carried by the subscription
// descriptor
func (k *SubscriptionKeys) P256dh() string {
	return base64.RawURLEncoding.EncodeToString(k.privateKey.PublicKey().Bytes())
}

// Auth returns the encoded auth secret for the subscription descriptor
func (k *SubscriptionKeys) Auth() string {
	return base64.RawURLEncoding.EncodeToString(k.authSecret[:])
}

// Decrypt opens one aes128gcm-coded push payload and returns the cleartext
// with record padding stripped
func (k *SubscriptionKeys) Decrypt(body []byte) ([]byte, error) {
	// Header: salt(16) | record size(4) | key id length(1) | key id
	if len(body) < saltLen+4+1 {
		return nil, fmt.Errorf("push payload too short: %d bytes", len(body))
	}
	salt := body[:saltLen]
	recordSize := binary.BigEndian.Uint32(body[saltLen : saltLen+4])
	idLen := int(body[saltLen+4])
	if idLen != p256PointLen {
		return nil, fmt.Errorf("unexpected key id length %d", idLen)
	}
	headerLen := saltLen + 4 + 1 + idLen
	if len(body) < headerLen+gcmTagLen {
		return nil, fmt.Errorf("push payload truncated")
	}
	if recordSize < gcmTagLen+1 {
		return nil, fmt.Errorf("invalid record size %d", recordSize)
	}

	senderPub, err := ecdh.P256().NewPublicKey(body[saltLen+5 : headerLen])
	if err != nil {
		return nil, fmt.Errorf("bad sender public key: %w", err)
	}

	cek, nonce, err := k.deriveContentKeys(senderPub, salt)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plain, err := gcm.Open(nil, nonce, body[headerLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("push payload authentication failed: %w", err)
	}
	return stripPadding(plain)
}

// deriveContentKeys runs the two-stage HKDF schedule of RFC 8291
func (k *SubscriptionKeys) deriveContentKeys(senderPub *ecdh.PublicKey, salt []byte) (cek, nonce []byte, err error) {
	shared, err := k.privateKey.ECDH(senderPub)
	if err != nil {
		return nil, nil, fmt.Errorf("ECDH agreement failed: %w", err)
	}

	keyInfo := make([]byte, 0, 14+2*p256PointLen)
	keyInfo = append(keyInfo, []byte("WebPush: info\x00")...)
	keyInfo = append(keyInfo, k.privateKey.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, senderPub.Bytes()...)

	prkKey := hkdf.Extract(sha256.New, shared, k.authSecret[:])
	ikm := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prkKey, keyInfo), ikm); err != nil {
		return nil, nil, err
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	cek = make([]byte, 16)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("Content-Encoding: aes128gcm\x00")), cek); err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, 12)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, []byte("Content-Encoding: nonce\x00")), nonce); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

// stripPadding removes the 0x02 delimiter and trailing zeros of the final
// record
func stripPadding(plain []byte) ([]byte, error) {
	for i := len(plain) - 1; i >= 0; i-- {
		if plain[i] == 0 {
			continue
		}
		if plain[i] != 0x02 {
			return nil, fmt.Errorf("invalid record padding delimiter 0x%02x", plain[i])
		}
		return plain[:i], nil
	}
	return nil, fmt.Errorf("push record is all padding")
}

// ParseServerKey validates the base64url server public key handed out by
// the key endpoint
func ParseServerKey(encoded string) (*ecdh.PublicKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Some servers pad their keys
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("server key is not base64url: %w", err)
		}
	}
	key, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("server key is not a valid P-256 point: %w", err)
	}
	return key, nil
}
