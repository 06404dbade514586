// Package auth issues and verifies bearer tokens for the operator surface.
//
// There is no user store. Operators are provisioned through configuration as
// a name plus a bcrypt hash, and a successful login yields a short-lived JWT
// carrying the operator id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials signals a wrong operator name or password.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

const tokenTTL = 24 * time.Hour

// Credential is one provisioned operator login.
type Credential struct {
	Name         string
	PasswordHash string
}

// Service handles operator authentication.
type Service struct {
	credentials map[string]Credential
	jwtSecret   []byte
	now         func() time.Time
}

// NewService creates an authentication service over the provisioned
// credentials.
func NewService(credentials []Credential, jwtSecret string) *Service {
	byName := make(map[string]Credential, len(credentials))
	for _, c := range credentials {
		byName[c.Name] = c
	}
	return &Service{
		credentials: byName,
		jwtSecret:   []byte(jwtSecret),
		now:         time.Now,
	}
}

// Login verifies an operator password and returns a signed token.
func (s *Service) Login(name, password string) (string, error) {
	cred, ok := s.credentials[name]
	if !ok {
		// Burn a comparison anyway so unknown names cost the same as
		// wrong passwords.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	token, err := s.generateToken(cred.Name)
	if err != nil {
		return "", fmt.Errorf("auth: generate token: %w", err)
	}
	return token, nil
}

// VerifyToken validates a JWT and returns the operator name it was issued to.
func (s *Service) VerifyToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("auth: invalid token")
	}
	operator, ok := claims["operator"].(string)
	if !ok || operator == "" {
		return "", fmt.Errorf("auth: invalid operator in token")
	}
	return operator, nil
}

func (s *Service) generateToken(operator string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"operator": operator,
		"exp":      now.Add(tokenTTL).Unix(),
		"iat":      now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}
