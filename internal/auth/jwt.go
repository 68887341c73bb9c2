package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IssueToken signs an HS256 token carrying the identity, valid for ttl.
func IssueToken(ident *Identity, secret []byte, ttl time.Duration) (string, error) {
	if ident == nil || ident.ID == "" {
		return "", fmt.Errorf("cannot issue token for empty identity")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   ident.ID,
		"email": ident.Email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %s", err)
	}
	return signed, nil
}

// VerifyToken parses and validates a token and returns the identity it
// carries.
func VerifyToken(tokenString string, secret []byte) (*Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %s", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("token is missing subject")
	}
	email, _ := claims["email"].(string)

	return &Identity{ID: sub, Email: email}, nil
}
