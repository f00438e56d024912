package usecase

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/orcid-service/config"
)

// SessionVerifier checks session tokens issued by the host application.
// This service never issues them.
type SessionVerifier interface {
	Parse(token string) (*jwt.Token, jwt.MapClaims, error)
}

type sessionVerifier struct {
	hmacKey []byte
}

func NewSessionVerifier(cfg *config.Config) (SessionVerifier, error) {
	if cfg.SessionSecret == "" {
		return nil, errors.New("session secret required")
	}
	return &sessionVerifier{hmacKey: []byte(cfg.SessionSecret)}, nil
}

func (s *sessionVerifier) Parse(tokenStr string) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return s.hmacKey, nil
	})
	return token, claims, err
}
