package nostrsign

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toBech32(t *testing.T, hrp, payloadHex string) string {
	t.Helper()
	raw, err := hex.DecodeString(payloadHex)
	require.NoError(t, err)
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	require.NoError(t, err)
	encoded, err := bech32.Encode(hrp, data)
	require.NoError(t, err)
	return encoded
}

func TestGenerateKeypair_RoundTripsThroughHex(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	require.Len(t, kp.PublicKey, 64) // 32-byte x-only pubkey, hex

	loaded, err := KeypairFromHex(kp.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, loaded.PublicKey)
}

func TestKeypairFromHex_RejectsWrongLength(t *testing.T) {
	_, err := KeypairFromHex("deadbeef")
	assert.Error(t, err)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	id, err := EventID(kp.PublicKey, 1700000000, 30018, [][]string{{"d", "prod-1"}}, `{"title":"widget"}`)
	require.NoError(t, err)
	require.Len(t, id, 64)

	sig, err := kp.Sign(id)
	require.NoError(t, err)

	ok, err := Verify(kp.PublicKey, id, sig)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_FailsOnTamperedEventID(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	id, err := EventID(kp.PublicKey, 1700000000, 30018, nil, "content")
	require.NoError(t, err)
	sig, err := kp.Sign(id)
	require.NoError(t, err)

	otherID, err := EventID(kp.PublicKey, 1700000001, 30018, nil, "content")
	require.NoError(t, err)

	ok, err := Verify(kp.PublicKey, otherID, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_FailsWithWrongPubkey(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)
	other, err := GenerateKeypair()
	require.NoError(t, err)

	id, err := EventID(kp.PublicKey, 1700000000, 1, nil, "hello")
	require.NoError(t, err)
	sig, err := kp.Sign(id)
	require.NoError(t, err)

	ok, err := Verify(other.PublicKey, id, sig)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeypairFromSecret_AcceptsHexAndNsec(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	fromHex, err := KeypairFromSecret(kp.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, fromHex.PublicKey)

	nsec := toBech32(t, "nsec", kp.PrivateKeyHex())
	fromNsec, err := KeypairFromSecret(nsec)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, fromNsec.PublicKey)
}

func TestPubkeyHex_NormalizesNpub(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	npub := toBech32(t, "npub", kp.PublicKey)
	got, err := PubkeyHex(npub)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, got)

	passthrough, err := PubkeyHex(kp.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKey, passthrough)
}

func TestPubkeyHex_RejectsGarbage(t *testing.T) {
	_, err := PubkeyHex("not-a-key")
	assert.Error(t, err)

	_, err = PubkeyHex("nsec1qqqq") // wrong prefix family for a pubkey
	assert.Error(t, err)
}

func TestEventID_IsDeterministic(t *testing.T) {
	id1, err := EventID("pub", 100, 1, [][]string{{"d", "x"}}, "content")
	require.NoError(t, err)
	id2, err := EventID("pub", 100, 1, [][]string{{"d", "x"}}, "content")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}
