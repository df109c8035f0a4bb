package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidSession はセッショントークンの検証に失敗したことを表す。
var ErrInvalidSession = errors.New("invalid session token")

// SessionClaims は検証済みセッショントークンの内容。
type SessionClaims struct {
	Subject   string
	UserID    int64
	Email     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// sessionTokenClaims はトークンに載せるJWTクレーム。
type sessionTokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// SessionIssuer はHMAC署名のステートレスなセッショントークンを発行・検証する。
// サーバー側に状態を持たないため、失効はトークンの有効期限のみで行う。
type SessionIssuer struct {
	secret []byte
	method *jwt.SigningMethodHMAC
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionIssuer はSessionIssuerを生成する。
// algorithmはHS256、HS384、HS512のいずれか。
func NewSessionIssuer(secret, algorithm string, ttl time.Duration) (*SessionIssuer, error) {
	if secret == "" {
		return nil, errors.New("session secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("session ttl must be positive: %s", ttl)
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported session signing algorithm: %q", algorithm)
	}
	return &SessionIssuer{
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// WithClock は時刻取得関数を差し替えたコピーを返す。
func (i *SessionIssuer) WithClock(now func() time.Time) *SessionIssuer {
	c := *i
	c.now = now
	return &c
}

// TTL はデフォルトの有効期間を返す。
func (i *SessionIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue はユーザーのセッショントークンを発行する。
// ttlが0以下の場合はデフォルトの有効期間を使用する。
func (i *SessionIssuer) Issue(userID int64, email string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.ttl
	}
	issuedAt := i.now()
	expiresAt := issuedAt.Add(ttl)

	claims := sessionTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign session token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify はセッショントークンの署名と有効期限を検証する。
// ユーザーの存在・有効状態はここでは確認しない。
func (i *SessionIssuer) Verify(token string) (*SessionClaims, error) {
	claims := &sessionTokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{i.method.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return nil, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidSession, claims.Subject)
	}

	out := &SessionClaims{
		Subject:   claims.Subject,
		UserID:    userID,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	return out, nil
}
