package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims binds a token to one wallet. A token authorizes selling only
// that wallet's positions.
type Claims struct {
	Wallet string `json:"wallet"`
	jwt.RegisteredClaims
}

// NewWalletToken issues an HS256 token bound to the wallet address.
func NewWalletToken(wallet string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Wallet: strings.ToLower(wallet),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strings.ToLower(wallet),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseWalletToken validates the token and returns its claims.
func ParseWalletToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Wallet == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractBearer pulls the token out of an Authorization header.
func ExtractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
