// Package nostr implements the NIP-04 encrypted direct message convention
// used for order notifications: AES-256-CBC with PKCS#7 padding, keyed by the
// raw x-coordinate of an ECDH shared secret over secp256k1. The point math
// uses btcec's Jacobian scalar-multiplication API directly since the package
// exposes no high-level ECDH helper for x-only keys.
package nostr

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const ivSize = 16 // AES block size, CBC requires IV == block size

// sharedSecret computes the NIP-04 ECDH shared secret: the raw x-coordinate
// of (ourPriv * theirPub), with theirPub lifted from its x-only (BIP-340)
// form assuming even y-parity, the convention every NIP-04 implementation
// built on schnorr-only Nostr keys uses.
func sharedSecret(privHex, theirXOnlyPubHex string) ([]byte, error) {
	privBytes, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(privBytes)

	pubBytes, err := hex.DecodeString(theirXOnlyPubHex)
	if err != nil {
		return nil, fmt.Errorf("decode peer pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return nil, fmt.Errorf("parse peer pubkey: %w", err)
	}

	var pubPoint btcec.JacobianPoint
	pub.AsJacobian(&pubPoint)

	var shared btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &pubPoint, &shared)
	shared.ToAffine()

	x := shared.X.Bytes()
	return x[:], nil
}

// EncryptDM encrypts plaintext for recipientPubkey using senderPrivkey,
// returning the "<base64 ciphertext>?iv=<base64 iv>" envelope NIP-04 puts in
// an event's content field.
func EncryptDM(senderPrivHex, recipientPubHex, plaintext string) (string, error) {
	key, err := sharedSecret(senderPrivHex, recipientPubHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new aes cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// DecryptDM reverses EncryptDM: recipientPrivHex is the *recipient's* key
// and senderPubHex is the original sender's pubkey. ECDH is symmetric, so the
// same sharedSecret call works from either side.
func DecryptDM(recipientPrivHex, senderPubHex, envelope string) (string, error) {
	parts := strings.SplitN(envelope, "?iv=", 2)
	if len(parts) != 2 {
		return "", errors.New("malformed nip-04 envelope: missing ?iv=")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	if len(iv) != ivSize {
		return "", fmt.Errorf("iv must be %d bytes, got %d", ivSize, len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errors.New("ciphertext length is not a multiple of the block size")
	}

	key, err := sharedSecret(recipientPrivHex, senderPubHex)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new aes cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plain, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", fmt.Errorf("unpad plaintext: %w", err)
	}
	return string(plain), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, errors.New("invalid padding")
	}
	return data[:n-padLen], nil
}
