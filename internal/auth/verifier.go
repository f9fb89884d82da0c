package auth

import (
	"github.com/crewdeck/crewdeck/internal/errs"
	"github.com/crewdeck/crewdeck/internal/models"
)

// Identity is a verified caller, as resolved from a bearer credential.
type Identity = models.UserView

// Verifier resolves a bearer credential to an Identity. The gateway binds
// one Identity per connection at handshake time.
type Verifier interface {
	Resolve(credential string) (Identity, error)
}

// JWTVerifier verifies HS256 tokens issued by this service.
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Resolve(credential string) (Identity, error) {
	claims, err := ParseToken(credential, v.secret)
	if err != nil {
		return Identity{}, errs.Unauthorized("invalid or expired token")
	}
	return Identity{
		ID:        claims.UserID,
		Username:  claims.Username,
		FirstName: claims.FirstName,
		LastName:  claims.LastName,
	}, nil
}
