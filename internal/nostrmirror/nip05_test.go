package nostrmirror

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"storefront/internal/nostrsign"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNIP05Handler_ResolvesMatchingName(t *testing.T) {
	key, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	m := &Mirror{key: key}

	handler := m.NIP05Handler("My Shop")
	req := httptest.NewRequest("GET", "/.well-known/nostr.json?name=my%20shop", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp nip05Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, key.PublicKey, resp.Names["my shop"])
}

func TestNIP05Handler_UnderscoreResolvesRootIdentity(t *testing.T) {
	key, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	m := &Mirror{key: key}

	handler := m.NIP05Handler("My Shop")
	req := httptest.NewRequest("GET", "/.well-known/nostr.json?name=_", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp nip05Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, key.PublicKey, resp.Names["_"])
}

func TestNIP05Handler_UnknownNameReturnsEmptyMap(t *testing.T) {
	key, err := nostrsign.GenerateKeypair()
	require.NoError(t, err)
	m := &Mirror{key: key}

	handler := m.NIP05Handler("My Shop")
	req := httptest.NewRequest("GET", "/.well-known/nostr.json?name=someone-else", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	var resp nip05Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Names)
}
