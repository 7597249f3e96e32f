package stream

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// TokenValidator accepts a fixed shared token from configuration. Anything
// smarter plugs in behind the CredentialValidator interface.
type TokenValidator struct {
	token string
}

// NewTokenValidator creates a validator for one shared token.
func NewTokenValidator(token string) *TokenValidator {
	return &TokenValidator{token: token}
}

func (v *TokenValidator) Validate(_ context.Context, token string) error {
	if subtle.ConstantTimeCompare([]byte(v.token), []byte(token)) != 1 {
		return fmt.Errorf("unknown token")
	}
	return nil
}
