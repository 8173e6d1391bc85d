package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/nkiryanov/itemsadmin/internal/models"
)

func tokenFromResponse(resp models.TokenResponse) oauth2.Token {
	token := oauth2.Token{
		AccessToken: resp.AccessToken,
		TokenType:   resp.TokenType,
		Expiry:      resp.ExpiresAt.Time,
	}
	if token.TokenType == "" {
		token.TokenType = models.DefaultTokenType
	}
	if token.Expiry.IsZero() {
		token.Expiry = expiryFromJWT(resp.AccessToken)
	}
	return token
}

// Reads 'exp' claim without verifying the signature, the client has no key anyway.
// Returns zero time if token is not a JWT or has no expiry.
func expiryFromJWT(accessToken string) time.Time {
	var claims jwt.RegisteredClaims

	_, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.UTC()
}
