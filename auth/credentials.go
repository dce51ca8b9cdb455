package auth

import (
	"context"
	"time"
)

// Credentials is an access/refresh pair handed back to a client.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
}

// Issuer produces full credential pairs for a SessionContext.
type Issuer struct {
	Tokens  *TokenService
	Refresh *RefreshStore
}

func NewIssuer(tokens *TokenService, refresh *RefreshStore) *Issuer {
	return &Issuer{Tokens: tokens, Refresh: refresh}
}

// Issue signs an access token for sc and rotates the subject's refresh credential.
func (i *Issuer) Issue(ctx context.Context, sc SessionContext) (*Credentials, error) {
	access, expiresAt, err := i.Tokens.Sign(sc)
	if err != nil {
		return nil, err
	}
	refresh, err := i.Refresh.Issue(ctx, sc)
	if err != nil {
		return nil, err
	}
	return &Credentials{AccessToken: access, ExpiresAt: expiresAt, RefreshToken: refresh}, nil
}

// Renew exchanges a refresh credential for a new access token with the
// stored scope. The refresh credential itself is returned unchanged.
func (i *Issuer) Renew(ctx context.Context, refreshToken string) (*Credentials, error) {
	sc, err := i.Refresh.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	access, expiresAt, err := i.Tokens.Sign(sc)
	if err != nil {
		return nil, err
	}
	return &Credentials{AccessToken: access, ExpiresAt: expiresAt, RefreshToken: refreshToken}, nil
}
