package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims covers the two places servers put the user id.
type tokenClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// SubjectFromToken reads the user id from a session token without verifying
// its signature. user_id wins over sub when both are present.
func SubjectFromToken(token string) (string, error) {
	var claims tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if claims.UserID != "" {
		return claims.UserID, nil
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("parsing token: no user_id or sub claim")
	}
	return claims.Subject, nil
}
