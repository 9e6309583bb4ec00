package services

import (
	"errors"
	"time"

	"djlive/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type AuthService interface {
	GenerateToken(partyID domain.PartyID, username string, capabilities []string) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	IsAuthorizedBroadcaster(claims domain.IdentityClaims) bool
}

type Claims struct {
	PartyID      domain.PartyID `json:"party_id"`
	Username     string         `json:"username"`
	Capabilities []string       `json:"capabilities"`
	jwt.RegisteredClaims
}

// Identity converts token claims into the immutable identity fact the core
// carries through a role request.
func (c *Claims) Identity() domain.IdentityClaims {
	return domain.IdentityClaims{
		PartyID:      c.PartyID,
		Username:     c.Username,
		Capabilities: c.Capabilities,
	}
}

type authService struct {
	jwtSecret      []byte
	accessTokenTTL time.Duration
}

func NewAuthService(jwtSecret string, accessTokenTTL time.Duration) AuthService {
	return &authService{
		jwtSecret:      []byte(jwtSecret),
		accessTokenTTL: accessTokenTTL,
	}
}

func (s *authService) GenerateToken(partyID domain.PartyID, username string, capabilities []string) (string, error) {
	claims := &Claims{
		PartyID:      partyID,
		Username:     username,
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func (s *authService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *authService) IsAuthorizedBroadcaster(claims domain.IdentityClaims) bool {
	return claims.Has(domain.CapabilityBroadcast)
}
