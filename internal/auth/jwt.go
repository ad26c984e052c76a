package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token kinds. Only access tokens authenticate API requests; refresh tokens
// exist solely to mint new pairs.
const (
	kindAccess  = "access"
	kindRefresh = "refresh"
)

// TokenPair holds access and refresh tokens for one roster user.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents the JWT payload: the roster user id, role and token kind.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	Kind    string `json:"kind"`
	jwt.RegisteredClaims
}

// Issue issues signed access and refresh tokens for subject acting as role.
func Issue(subject, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	accessExp := time.Now().Add(accessTTL)
	refreshExp := time.Now().Add(refreshTTL)

	accessToken, err := sign(subject, role, issuer, key, kindAccess, accessExp)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := sign(subject, role, issuer, key, kindRefresh, refreshExp)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		AccessExp:    accessExp,
		RefreshExp:   refreshExp,
	}, nil
}

func sign(subject, role, issuer, key, kind string, exp time.Time) (string, error) {
	claims := Claims{
		Subject: subject,
		Role:    role,
		Kind:    kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates an access token, checks the issuer, and returns claims.
// Refresh tokens are rejected; they never authenticate a request.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return Claims{}, err
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, errors.New("invalid token")
	}
	if issuer != "" && claims.Issuer != issuer {
		return Claims{}, errors.New("issuer mismatch")
	}
	if claims.Kind != kindAccess {
		return Claims{}, errors.New("not an access token")
	}
	return *claims, nil
}
