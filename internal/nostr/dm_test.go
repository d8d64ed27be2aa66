package nostr

import (
	"testing"

	"storefront/internal/nostrsign"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptDM_RoundTrips(t *testing.T) {
	alice, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	bob, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)

	envelope, err := EncryptDM(alice.PrivateKeyHex(), bob.PublicKey, "order PAID, thank you!")
	require.NoError(t, err)
	assert.Contains(t, envelope, "?iv=")

	plain, err := DecryptDM(bob.PrivateKeyHex(), alice.PublicKey, envelope)
	require.NoError(t, err)
	assert.Equal(t, "order PAID, thank you!", plain)
}

func TestEncryptDM_ProducesFreshIVEachTime(t *testing.T) {
	alice, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	bob, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)

	e1, err := EncryptDM(alice.PrivateKeyHex(), bob.PublicKey, "same message")
	require.NoError(t, err)
	e2, err := EncryptDM(alice.PrivateKeyHex(), bob.PublicKey, "same message")
	require.NoError(t, err)

	assert.NotEqual(t, e1, e2, "each encryption should use a fresh random IV")
}

func TestDecryptDM_RejectsMalformedEnvelope(t *testing.T) {
	bob, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	alice, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)

	_, err = DecryptDM(bob.PrivateKeyHex(), alice.PublicKey, "not-a-valid-envelope")
	assert.Error(t, err)
}

func TestDecryptDM_WrongRecipientFailsToRecoverPlaintext(t *testing.T) {
	alice, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	bob, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	eve, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)

	envelope, err := EncryptDM(alice.PrivateKeyHex(), bob.PublicKey, "secret")
	require.NoError(t, err)

	plain, err := DecryptDM(eve.PrivateKeyHex(), alice.PublicKey, envelope)
	if err == nil {
		assert.NotEqual(t, "secret", plain, "eve must not recover the original plaintext")
	}
}

func TestPKCS7PadUnpad_RoundTrips(t *testing.T) {
	for _, msg := range [][]byte{
		[]byte(""),
		[]byte("short"),
		[]byte("exactly16bytes!!"),
		[]byte("a message longer than one AES block of sixteen bytes"),
	} {
		padded := pkcs7Pad(append([]byte{}, msg...), 16)
		assert.Equal(t, 0, len(padded)%16)

		unpadded, err := pkcs7Unpad(padded, 16)
		require.NoError(t, err)
		assert.Equal(t, msg, unpadded)
	}
}

func TestPKCS7Unpad_RejectsInvalidPadding(t *testing.T) {
	_, err := pkcs7Unpad([]byte{1, 2, 3, 0}, 16)
	assert.Error(t, err)
}
