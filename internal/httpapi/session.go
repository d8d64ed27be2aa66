package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

const sessionCookieName = "storefront_session"

// sessionSigner signs the HttpOnly cookie identifying an anonymous buyer:
// `<sessionId>.<hmac>`. It carries no personal data, only an opaque random
// id the store binds orders to.
type sessionSigner struct {
	secret []byte
}

func newSessionSigner(secret string) *sessionSigner {
	return &sessionSigner{secret: []byte(secret)}
}

func (s *sessionSigner) sign(sessionID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID))
	return sessionID + "." + hex.EncodeToString(mac.Sum(nil))
}

func (s *sessionSigner) verify(cookieValue string) (string, bool) {
	parts := strings.SplitN(cookieValue, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	sessionID, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(sessionID))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return sessionID, true
}

func randomSessionID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// sessionID reads the session cookie, validating its signature, and mints a
// fresh one (setting the cookie on w) if absent or invalid.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if id, ok := s.sessions.verify(c.Value); ok {
			return id
		}
	}

	id, err := randomSessionID()
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    s.sessions.sign(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
	})
	return id
}
