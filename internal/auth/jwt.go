package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// Roles known to the platform. Entitlement (e.g. maximum rendition) keys off these.
const (
	RoleAdmin   = "admin"
	RoleMentor  = "mentor"
	RoleStudent = "student"
	RoleGuest   = "guest"
)

// Claims holds JWT claims for a viewer. Tokens are issued by the platform's auth
// service; this service validates them and reads identity and role.
type Claims struct {
	ViewerID uuid.UUID `json:"viewer_id"`
	Role     string    `json:"role"`
	jwt.RegisteredClaims
}

// JWTService validates viewer tokens.
type JWTService struct {
	secret []byte
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// Generate creates a token for a viewer. Used by tooling and tests; production tokens
// come from the auth service, which shares the signing secret.
func (s *JWTService) Generate(viewerID uuid.UUID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		ViewerID: viewerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
