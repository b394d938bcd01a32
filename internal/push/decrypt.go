package push

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	saltSize    = 16
	headerFixed = saltSize + 4 + 1
	tagSize     = 16
	nonceSize   = 12
	keySize     = 16
)

var ErrMalformedPayload = errors.New("malformed aes128gcm payload")

// Decrypt opens an aes128gcm Web Push message addressed to keys.
func Decrypt(keys *Keys, body []byte) ([]byte, error) {
	if len(body) < headerFixed {
		return nil, ErrMalformedPayload
	}

	salt := body[:saltSize]
	rs := binary.BigEndian.Uint32(body[saltSize : saltSize+4])
	idLen := int(body[saltSize+4])
	if rs <= tagSize+1 || len(body) < headerFixed+idLen {
		return nil, ErrMalformedPayload
	}

	senderPub, err := ecdh.P256().NewPublicKey(body[headerFixed : headerFixed+idLen])
	if err != nil {
		return nil, fmt.Errorf("%w: sender key: %v", ErrMalformedPayload, err)
	}

	cek, nonce, err := deriveContentKeys(keys.Private, senderPub, keys.AuthSecret, salt)
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

	ciphertext := body[headerFixed+idLen:]
	if len(ciphertext) == 0 {
		return nil, ErrMalformedPayload
	}

	var out bytes.Buffer
	for seq := uint64(0); len(ciphertext) > 0; seq++ {
		n := int(rs)
		if n > len(ciphertext) {
			n = len(ciphertext)
		}
		record := ciphertext[:n]
		ciphertext = ciphertext[n:]

		plain, err := gcm.Open(nil, recordNonce(nonce, seq), record, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: open record %d: %v", ErrMalformedPayload, seq, err)
		}

		data, err := unpad(plain, len(ciphertext) == 0)
		if err != nil {
			return nil, err
		}
		out.Write(data)
	}
	return out.Bytes(), nil
}

// deriveContentKeys follows RFC 8291 section 3.4 and RFC 8188 section 2.2.
func deriveContentKeys(uaPriv *ecdh.PrivateKey, asPub *ecdh.PublicKey, authSecret, salt []byte) (cek, nonce []byte, err error) {
	shared, err := uaPriv.ECDH(asPub)
	if err != nil {
		return nil, nil, fmt.Errorf("ecdh: %w", err)
	}

	keyInfo := make([]byte, 0, 14+65+65)
	keyInfo = append(keyInfo, "WebPush: info\x00"...)
	keyInfo = append(keyInfo, uaPriv.PublicKey().Bytes()...)
	keyInfo = append(keyInfo, asPub.Bytes()...)

	ikm, err := expand(hkdf.Extract(sha256.New, shared, authSecret), keyInfo, 32)
	if err != nil {
		return nil, nil, err
	}

	prk := hkdf.Extract(sha256.New, ikm, salt)
	if cek, err = expand(prk, []byte("Content-Encoding: aes128gcm\x00"), keySize); err != nil {
		return nil, nil, err
	}
	if nonce, err = expand(prk, []byte("Content-Encoding: nonce\x00"), nonceSize); err != nil {
		return nil, nil, err
	}
	return cek, nonce, nil
}

func expand(prk, info []byte, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.Expand(sha256.New, prk, info), out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

func recordNonce(base []byte, seq uint64) []byte {
	nonce := make([]byte, nonceSize)
	copy(nonce, base)

	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	for i := 0; i < 8; i++ {
		nonce[nonceSize-8+i] ^= s[i]
	}
	return nonce
}

// unpad strips zero padding and the delimiter: 0x02 ends the last record, 0x01 any other.
func unpad(plain []byte, last bool) ([]byte, error) {
	i := len(plain) - 1
	for i >= 0 && plain[i] == 0 {
		i--
	}
	if i < 0 {
		return nil, fmt.Errorf("%w: missing delimiter", ErrMalformedPayload)
	}

	want := byte(1)
	if last {
		want = 2
	}
	if plain[i] != want {
		return nil, fmt.Errorf("%w: unexpected delimiter %#x", ErrMalformedPayload, plain[i])
	}
	return plain[:i], nil
}
