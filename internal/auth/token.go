package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/online-library/apiserver/types"
)

const DefaultTokenTTL = 60 * time.Minute

// ErrInvalidToken covers malformed, wrongly signed and expired tokens alike.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the session token payload: sub = user id, role, exp.
type Claims struct {
	Role types.Role `json:"role"`
	jwt.RegisteredClaims
}

// Subject is what a verified token says about its bearer.
type Subject struct {
	UserID int
	Role   types.Role
}

// TokenIssuer signs and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer. A zero ttl selects DefaultTokenTTL.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for the user.
func (t *TokenIssuer) Issue(userID int, role types.Role) (string, error) {
	now := t.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(userID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify checks the signature, algorithm and expiry of tokenString.
// Every failure is reported as ErrInvalidToken.
func (t *TokenIssuer) Verify(tokenString string) (Subject, error) {
	claims := Claims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return Subject{}, ErrInvalidToken
	}

	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return Subject{}, ErrInvalidToken
	}
	return Subject{UserID: userID, Role: claims.Role}, nil
}
