package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/pubadmin/internal/model"
	"github.com/hitoshi/pubadmin/internal/repository/memory"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(ctx context.Context, raw string) (*model.IdentityClaim, error)
}

func (m *mockVerifier) Verify(ctx context.Context, raw string) (*model.IdentityClaim, error) {
	return m.verifyFn(ctx, raw)
}

type mockOAuthProvider struct {
	exchangeFn func(ctx context.Context, code string) (string, error)
}

func (m *mockOAuthProvider) GetLoginURL(state string) string {
	return "https://accounts.google.com/o/oauth2/auth?state=" + state
}

func (m *mockOAuthProvider) ExchangeIDToken(ctx context.Context, code string) (string, error) {
	return m.exchangeFn(ctx, code)
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveLogin(outcome string) {
	r.outcomes = append(r.outcomes, outcome)
}

func claimFor(email, sub string) *mockVerifier {
	return &mockVerifier{verifyFn: func(_ context.Context, raw string) (*model.IdentityClaim, error) {
		if raw != "good-token" {
			return nil, fmt.Errorf("%w: bad", ErrInvalidIdentityToken)
		}
		return &model.IdentityClaim{Email: email, Subject: sub, Name: "Test User"}, nil
	}}
}

func newTestService(t *testing.T, verifier IdentityVerifier, opts ...Option) (*Service, *memory.Store, *SessionIssuer) {
	t.Helper()
	issuer, err := NewSessionIssuer(testSecret, "HS256", 24*time.Hour)
	require.NoError(t, err)
	store := memory.NewStore()
	return NewService(verifier, issuer, store, opts...), store, issuer
}

func apiErrorCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	return apiErr.Code
}

func TestLoginWithIDToken_NewUser(t *testing.T) {
	obs := &recordingObserver{}
	svc, store, issuer := newTestService(t, claimFor("new@example.com", "sub-1"), WithLoginObserver(obs))

	result, err := svc.LoginWithIDToken(context.Background(), "good-token")
	require.NoError(t, err)

	assert.Equal(t, "bearer", result.TokenType)
	assert.Equal(t, model.RoleAnalyst, result.User.Role)

	claims, err := issuer.Verify(result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, result.ExpiresAt.Unix(), claims.ExpiresAt.Unix())

	stored, _ := store.Users().FindByEmail(context.Background(), "new@example.com")
	require.NotNil(t, stored)
	assert.Equal(t, []string{LoginOutcomeSuccess}, obs.outcomes)
}

func TestLoginWithIDToken_InvalidToken(t *testing.T) {
	svc, _, _ := newTestService(t, claimFor("a@example.com", "sub-1"))

	_, err := svc.LoginWithIDToken(context.Background(), "forged")
	assert.Equal(t, model.ErrCodeInvalidIdentityToken, apiErrorCode(t, err))
}

func TestLoginWithIDToken_ProviderUnavailable(t *testing.T) {
	verifier := &mockVerifier{verifyFn: func(context.Context, string) (*model.IdentityClaim, error) {
		return nil, fmt.Errorf("%w: dial tcp: connection refused", ErrIdentityProviderUnavailable)
	}}
	obs := &recordingObserver{}
	svc, _, _ := newTestService(t, verifier, WithLoginObserver(obs))

	_, err := svc.LoginWithIDToken(context.Background(), "good-token")
	assert.Equal(t, model.ErrCodeIdentityProviderUnavailable, apiErrorCode(t, err))
	assert.Equal(t, []string{LoginOutcomeUnavailable}, obs.outcomes)
}

func TestLoginWithIDToken_InactiveUserRejectedWithoutSideEffects(t *testing.T) {
	svc, store, _ := newTestService(t, claimFor("off@example.com", "sub-9"))
	ctx := context.Background()

	disabled := &model.User{Email: "off@example.com", FullName: "Off", Role: model.RoleDeveloper, IsActive: false}
	require.NoError(t, store.Users().Create(ctx, disabled))

	_, err := svc.LoginWithIDToken(ctx, "good-token")
	assert.Equal(t, model.ErrCodeUserInactive, apiErrorCode(t, err))

	stored, _ := store.Users().FindByID(ctx, disabled.ID)
	assert.Nil(t, stored.LastLogin, "upsert is rolled back")
	assert.Nil(t, stored.GoogleID)
}

func TestAuthenticate(t *testing.T) {
	svc, store, issuer := newTestService(t, claimFor("a@example.com", "sub-1"))
	ctx := context.Background()

	result, err := svc.LoginWithIDToken(ctx, "good-token")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, result.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, user.ID)

	_, err = svc.Authenticate(ctx, "garbage")
	assert.Equal(t, model.ErrCodeInvalidSession, apiErrorCode(t, err))

	orphan, _, err := issuer.Issue(999, "ghost@example.com", 0)
	require.NoError(t, err)
	_, err = svc.Authenticate(ctx, orphan)
	assert.Equal(t, model.ErrCodeInvalidSession, apiErrorCode(t, err))

	user.IsActive = false
	require.NoError(t, store.Users().Update(ctx, user))
	_, err = svc.Authenticate(ctx, result.AccessToken)
	assert.Equal(t, model.ErrCodeUserInactive, apiErrorCode(t, err))
}

func TestHandleCallback(t *testing.T) {
	oauth := &mockOAuthProvider{exchangeFn: func(_ context.Context, code string) (string, error) {
		if code != "auth-code" {
			return "", errors.New("invalid_grant")
		}
		return "good-token", nil
	}}
	svc, _, _ := newTestService(t, claimFor("cb@example.com", "sub-2"), WithOAuthProvider(oauth))
	require.True(t, svc.OAuthEnabled())

	loginURL, err := svc.GetLoginURL("xyz")
	require.NoError(t, err)
	assert.Contains(t, loginURL, "state=xyz")

	result, err := svc.HandleCallback(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "cb@example.com", result.User.Email)

	_, err = svc.HandleCallback(context.Background(), "bad-code")
	assert.Equal(t, model.ErrCodeInvalidIdentityToken, apiErrorCode(t, err))
}

func TestHandleCallback_NotConfigured(t *testing.T) {
	svc, _, _ := newTestService(t, claimFor("a@example.com", "sub-1"))
	assert.False(t, svc.OAuthEnabled())

	_, err := svc.GetLoginURL("state")
	assert.Error(t, err)
	_, err = svc.HandleCallback(context.Background(), "code")
	assert.Error(t, err)
}
