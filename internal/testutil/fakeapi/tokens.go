package fakeapi

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type accessClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Issues and parses HS256 access tokens
type tokenManager struct {
	key []byte
	alg jwt.SigningMethod
	ttl time.Duration
	now func() time.Time
}

func (m *tokenManager) issue(userID string, username string) (token string, jti string, expiresAt time.Time, err error) {
	now := m.now().Truncate(time.Second)
	expiresAt = now.Add(m.ttl)
	jti = uuid.NewString()

	access := jwt.NewWithClaims(m.alg, accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
	})

	token, err = access.SignedString(m.key)
	if err != nil {
		return "", "", time.Time{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}
	return token, jti, expiresAt, nil
}

// Parse and validate access token
func (m *tokenManager) parse(token string) (accessClaims, error) {
	var claims accessClaims

	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return claims, fmt.Errorf("error while parsing or validating token. Err: %w", err)
	}
	if claims.ID == "" {
		return claims, errors.New("token without id")
	}

	return claims, nil
}

// Bcrypt over sha256 so long passwords are not truncated
type bcryptHasher struct{}

func (h bcryptHasher) hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], bcrypt.MinCost)
	return string(hash), err
}

func (h bcryptHasher) compare(hashedPassword string, password string) error {
	sum := sha256.Sum256([]byte(password))
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), sum[:])
}
