package jwt

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims carries the authenticated clinician identity
type Claims struct {
	ClinicianID string `json:"clinician_id"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// Service signs and validates clinician bearer tokens
type Service struct {
	secretKey []byte
	expiry    time.Duration
}

// NewService creates a JWT service. An empty secret falls back to the
// JWT_SECRET environment variable.
func NewService(secretKey string, expiry time.Duration) *Service {
	if secretKey == "" {
		secretKey = os.Getenv("JWT_SECRET")
	}
	if secretKey == "" {
		// development fallback, never for production
		secretKey = "devJwtSecretDoNotUseInProduction"
	}
	if expiry == 0 {
		expiry = 24 * time.Hour
	}

	return &Service{
		secretKey: []byte(secretKey),
		expiry:    expiry,
	}
}

// GenerateToken issues a token for a clinician
func (s *Service) GenerateToken(clinicianID, role string) (string, error) {
	now := time.Now()
	claims := &Claims{
		ClinicianID: clinicianID,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secretKey)
}

// ValidateToken validates a token and returns its claims
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.secretKey, nil
		},
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
