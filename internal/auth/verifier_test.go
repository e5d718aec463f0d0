package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testProject = "sentinel-test"
	testSecret  = "test-secret"
)

func testClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   "https://securetoken.google.com/" + testProject,
		"aud":   testProject,
		"sub":   sub,
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"email": sub + "@example.com",
		"name":  "Test " + sub,
	}
}

func signHMAC(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func newHMACVerifier(t *testing.T) *Verifier {
	v, err := NewVerifier(VerifierConfig{Mode: ModeHMAC, ProjectID: testProject, HMACSecret: testSecret}, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestVerifier_HMAC(t *testing.T) {
	v := newHMACVerifier(t)

	id, err := v.Verify(context.Background(), signHMAC(t, testClaims("user-1")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.Subject)
	assert.Equal(t, "user-1@example.com", id.Email)
	assert.Equal(t, "Test user-1", id.DisplayName)
	assert.Equal(t, "user-1", id.Claims["sub"])
}

func TestVerifier_Rejects(t *testing.T) {
	v := newHMACVerifier(t)

	expired := testClaims("u")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()

	wrongAudience := testClaims("u")
	wrongAudience["aud"] = "other-project"

	wrongIssuer := testClaims("u")
	wrongIssuer["iss"] = "https://evil.example.com"

	noSubject := testClaims("")

	otherSecret, err := jwt.NewWithClaims(jwt.SigningMethodHS256, testClaims("u")).SignedString([]byte("nope"))
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        signHMAC(t, expired),
		"wrong audience": signHMAC(t, wrongAudience),
		"wrong issuer":   signHMAC(t, wrongIssuer),
		"no subject":     signHMAC(t, noSubject),
		"wrong secret":   otherSecret,
		"garbage":        "not.a.jwt",
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = v.Verify(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestVerifier_Emulator(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{Mode: ModeEmulator, ProjectID: testProject}, zerolog.Nop())
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, testClaims("emu-user")).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "emu-user", id.Subject)

	// signed tokens are not what the emulator issues
	_, err = v.Verify(context.Background(), signHMAC(t, testClaims("emu-user")))
	assert.Error(t, err)
}

func selfSignedPEM(t *testing.T, key *rsa.PrivateKey) string {
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "securetoken.system.gserviceaccount.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func TestVerifier_FirebaseCertificates(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "public, max-age=600, must-revalidate")
		_ = json.NewEncoder(w).Encode(map[string]string{"kid-1": selfSignedPEM(t, key)})
	}))
	defer srv.Close()

	v, err := NewVerifier(VerifierConfig{Mode: ModeFirebase, ProjectID: testProject, CertsURL: srv.URL}, zerolog.Nop())
	require.NoError(t, err)

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, testClaims("fb-user"))
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	id, err := v.Verify(context.Background(), sign("kid-1"))
	require.NoError(t, err)
	assert.Equal(t, "fb-user", id.Subject)

	_, err = v.Verify(context.Background(), sign("kid-1"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "certificates should be cached")

	_, err = v.Verify(context.Background(), sign("kid-unknown"))
	assert.ErrorIs(t, err, ErrInvalidToken)

	// HS256 tokens are refused in firebase mode
	_, err = v.Verify(context.Background(), signHMAC(t, testClaims("fb-user")))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifier_Config(t *testing.T) {
	_, err := NewVerifier(VerifierConfig{Mode: ModeHMAC, ProjectID: testProject}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{Mode: "magic", ProjectID: testProject}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewVerifier(VerifierConfig{Mode: ModeEmulator}, zerolog.Nop())
	assert.Error(t, err)
}

func TestMaxAge(t *testing.T) {
	assert.Equal(t, 600*time.Second, maxAge("public, max-age=600, must-revalidate"))
	assert.Equal(t, time.Hour, maxAge(""))
	assert.Equal(t, time.Hour, maxAge("max-age=abc"))
}
