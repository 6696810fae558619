package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// JoinClaims authorizes one participant to join one session. Participant ids
// come from an external identity provider and stay opaque strings here.
type JoinClaims struct {
	ParticipantID string    `json:"participant_id"`
	SessionID     uuid.UUID `json:"session_id"`
	Host          bool      `json:"host"`
	jwt.RegisteredClaims
}

// TokenService mints and validates join tokens embedded in join URLs.
type TokenService struct {
	secret      []byte
	expireHours int
}

// NewTokenService creates a token service.
func NewTokenService(secret string, expireHours int) *TokenService {
	return &TokenService{
		secret:      []byte(secret),
		expireHours: expireHours,
	}
}

// Mint creates a join token for one participant and session.
func (s *TokenService) Mint(participantID string, sessionID uuid.UUID, host bool) (string, error) {
	claims := JoinClaims{
		ParticipantID: participantID,
		SessionID:     sessionID,
		Host:          host,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses a join token and returns its claims.
func (s *TokenService) Validate(tokenString string) (*JoinClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JoinClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*JoinClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
