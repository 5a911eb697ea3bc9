package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/satonic/nftledger/internal/config"
	"github.com/satonic/nftledger/internal/models"
)

// Claims represents the JWT claims. The subject is the acting account.
type Claims struct {
	jwt.RegisteredClaims
}

// AuthService validates bearer tokens issued by the external identity
// service, and issues tokens for local tooling
type AuthService struct {
	cfg config.AuthConfig
	now func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{cfg: cfg, now: time.Now}
}

// ValidateToken validates a JWT token and returns its subject
func (s *AuthService) ValidateToken(tokenString string) (string, error) {
	claims := &Claims{}

	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(s.cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}

	return claims.Subject, nil
}

// IssueToken signs a token for subject
func (s *AuthService) IssueToken(subject string) (*models.AuthToken, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: subject is required", models.ErrInvalidAccount)
	}

	now := s.now()
	expiresAt := now.Add(time.Duration(s.cfg.JWTExpiration) * time.Hour)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.cfg.Issuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, err
	}

	return &models.AuthToken{
		Token:     tokenString,
		ExpiresAt: expiresAt,
		Subject:   subject,
	}, nil
}
