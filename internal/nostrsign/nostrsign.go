// Package nostrsign produces and verifies the BIP-340 Schnorr signatures
// Nostr events require (NIP-01), and computes a Nostr event id as the
// lowercase-hex SHA-256 of its canonical serialization.
package nostrsign

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// Keypair holds a secp256k1 private key alongside its x-only public key,
// hex-encoded the way Nostr events carry pubkeys.
type Keypair struct {
	priv      *btcec.PrivateKey
	PublicKey string // 32-byte x-only pubkey, hex
}

// GenerateKeypair mints a fresh random Nostr identity key.
func GenerateKeypair() (*Keypair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate nostr key: %w", err)
	}
	return fromPrivateKey(priv), nil
}

// KeypairFromHex loads a keypair from a 32-byte hex-encoded private key, the
// format Nostr clients commonly call "nsec" once bech32-decoded.
func KeypairFromHex(privHex string) (*Keypair, error) {
	raw, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return fromPrivateKey(priv), nil
}

// KeypairFromSecret accepts either a 32-byte hex private key or its NIP-19
// bech32 "nsec1..." form, the two encodings SHOP_NOSTR_SECRET_HEX may arrive in.
func KeypairFromSecret(secret string) (*Keypair, error) {
	if strings.HasPrefix(strings.ToLower(secret), "nsec1") {
		raw, err := decodeBech32("nsec", secret)
		if err != nil {
			return nil, err
		}
		return KeypairFromHex(hex.EncodeToString(raw))
	}
	return KeypairFromHex(secret)
}

// PubkeyHex normalizes a buyer-supplied pubkey: NIP-19 "npub1..." strings are
// decoded to their 32-byte hex form, anything else is validated as hex.
func PubkeyHex(pubkey string) (string, error) {
	if strings.HasPrefix(strings.ToLower(pubkey), "npub1") {
		raw, err := decodeBech32("npub", pubkey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(raw), nil
	}
	raw, err := hex.DecodeString(pubkey)
	if err != nil {
		return "", fmt.Errorf("pubkey is neither npub nor hex: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("pubkey must be 32 bytes, got %d", len(raw))
	}
	return strings.ToLower(pubkey), nil
}

func decodeBech32(wantHRP, encoded string) ([]byte, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode bech32: %w", err)
	}
	if hrp != wantHRP {
		return nil, fmt.Errorf("expected %s, got %s", wantHRP, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("convert bech32 payload: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("bech32 payload must be 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

// PrivateKeyHex exposes the raw 32-byte private key, hex-encoded, for the
// one caller that legitimately needs it: internal/nostr's NIP-04 ECDH key
// derivation. Never logged, never persisted outside the env var it was
// loaded from.
func (k *Keypair) PrivateKeyHex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

func fromPrivateKey(priv *btcec.PrivateKey) *Keypair {
	pub := priv.PubKey()
	xOnly := schnorr.SerializePubKey(pub)
	return &Keypair{priv: priv, PublicKey: hex.EncodeToString(xOnly)}
}

// EventID computes the lowercase-hex SHA-256 id of an event, per NIP-01's
// canonical JSON array serialization (field order and absence of whitespace
// matter: it is not the same as json.Marshal'ing a struct).
func EventID(pubkey string, createdAt int64, kind int, tags [][]string, content string) (string, error) {
	if tags == nil {
		tags = [][]string{}
	}
	arr := []any{0, pubkey, createdAt, kind, tags, content}
	raw, err := json.Marshal(arr)
	if err != nil {
		return "", fmt.Errorf("serialize event for hashing: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Sign produces a BIP-340 Schnorr signature over a 32-byte event id.
func (k *Keypair) Sign(eventIDHex string) (string, error) {
	idBytes, err := hex.DecodeString(eventIDHex)
	if err != nil {
		return "", fmt.Errorf("decode event id: %w", err)
	}
	if len(idBytes) != 32 {
		return "", fmt.Errorf("event id must be 32 bytes, got %d", len(idBytes))
	}

	sig, err := schnorr.Sign(k.priv, idBytes, schnorr.FastSign())
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a BIP-340 signature over eventIDHex against an x-only
// pubkey, both hex-encoded, as used to authenticate inbound relay events and
// comment proofs.
func Verify(pubkeyHex, eventIDHex, sigHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil {
		return false, fmt.Errorf("decode pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return false, fmt.Errorf("parse pubkey: %w", err)
	}

	idBytes, err := hex.DecodeString(eventIDHex)
	if err != nil {
		return false, fmt.Errorf("decode event id: %w", err)
	}

	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("decode signature: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, fmt.Errorf("parse signature: %w", err)
	}

	return sig.Verify(idBytes, pub), nil
}
