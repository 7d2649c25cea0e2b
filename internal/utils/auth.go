package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const sessionTokenType = "session"

// HashSecret hashes an API key secret using bcrypt
func HashSecret(secret string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), 10)
	return string(bytes), err
}

// CheckSecretHash compares an API key secret with a hash
func CheckSecretHash(secret, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	return err == nil
}

// GenerateSessionToken issues a short-lived token for ownerID
func GenerateSessionToken(ownerID, keyID, jwtSecret string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"sub":  ownerID,
		"kid":  keyID,
		"type": sessionTokenType,
		"iat":  time.Now().Unix(),
		"exp":  expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateSessionToken parses a session token and returns the owner id and
// the id of the API key it was issued for.
func ValidateSessionToken(tokenString string, jwtSecret string) (ownerID, keyID string, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid token")
	}
	if claims["type"] != sessionTokenType {
		return "", "", errors.New("invalid token type")
	}

	ownerID, _ = claims["sub"].(string)
	keyID, _ = claims["kid"].(string)
	if ownerID == "" || keyID == "" {
		return "", "", errors.New("invalid token: missing subject or key id")
	}
	return ownerID, keyID, nil
}
