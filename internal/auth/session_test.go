package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-session-secret-32bytes-long!"

func newTestIssuer(t *testing.T, algorithm string, now *time.Time) *SessionIssuer {
	t.Helper()
	issuer, err := NewSessionIssuer(testSecret, algorithm, 24*time.Hour)
	require.NoError(t, err)
	return issuer.WithClock(func() time.Time { return *now })
}

func TestNewSessionIssuer_Validation(t *testing.T) {
	_, err := NewSessionIssuer("", "HS256", time.Hour)
	assert.Error(t, err)

	_, err = NewSessionIssuer(testSecret, "RS256", time.Hour)
	assert.Error(t, err)

	_, err = NewSessionIssuer(testSecret, "HS256", 0)
	assert.Error(t, err)

	for _, alg := range []string{"HS256", "HS384", "HS512"} {
		_, err := NewSessionIssuer(testSecret, alg, time.Hour)
		assert.NoError(t, err, alg)
	}
}

func TestSessionIssuer_IssueAndVerify(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "HS256", &now)

	token, expiresAt, err := issuer.Issue(42, "a@example.com", 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(24*time.Hour), expiresAt)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.True(t, claims.ExpiresAt.Equal(expiresAt))
	assert.True(t, claims.IssuedAt.Equal(now))
}

// 24時間のトークンは23時間59分後には有効、24時間1分後には無効になる。
func TestSessionIssuer_ExpiryBoundary(t *testing.T) {
	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	now := issuedAt
	issuer := newTestIssuer(t, "HS256", &now)

	token, _, err := issuer.Issue(7, "b@example.com", 24*time.Hour)
	require.NoError(t, err)

	now = issuedAt.Add(23*time.Hour + 59*time.Minute)
	_, err = issuer.Verify(token)
	assert.NoError(t, err)

	now = issuedAt.Add(24*time.Hour + 1*time.Minute)
	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionIssuer_Verify_Rejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, "HS256", &now)

	valid, _, err := issuer.Issue(1, "a@example.com", time.Hour)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, key any, claims jwt.Claims) string {
		s, err := jwt.NewWithClaims(method, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	exp := jwt.NewNumericDate(now.Add(time.Hour))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"malformed", "not.a.jwt"},
		{"tampered signature", valid[:len(valid)-2] + "xx"},
		{"wrong secret", sign(jwt.SigningMethodHS256, []byte("other-secret"), jwt.RegisteredClaims{Subject: "1", ExpiresAt: exp})},
		{"other hmac algorithm", sign(jwt.SigningMethodHS512, []byte(testSecret), jwt.RegisteredClaims{Subject: "1", ExpiresAt: exp})},
		{"missing expiry", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "1"})},
		{"non numeric subject", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "alice", ExpiresAt: exp})},
		{"zero subject", sign(jwt.SigningMethodHS256, []byte(testSecret), jwt.RegisteredClaims{Subject: "0", ExpiresAt: exp})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := issuer.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidSession)
			assert.Nil(t, claims)
		})
	}
}

func TestSessionIssuer_HS512RoundTrip(t *testing.T) {
	now := time.Now()
	issuer := newTestIssuer(t, "HS512", &now)

	token, _, err := issuer.Issue(3, "c@example.com", time.Minute)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), claims.UserID)
}
