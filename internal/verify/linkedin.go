package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/sujalbistaa/qreview/internal/config"
)

// Identity is a LinkedIn member as asserted by a verified ID token.
type Identity struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	ProfileURL string `json:"profileUrl"`
}

// IdentityProvider runs the OAuth2 authorization-code flow.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (Identity, error)
}

type idTokenClaims struct {
	Subject    string `json:"sub"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Email      string `json:"email"`
}

// LinkedIn verifies members through LinkedIn's OpenID Connect endpoint.
type LinkedIn struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ IdentityProvider = (*LinkedIn)(nil)

// NewLinkedIn discovers the provider configuration. It returns an error when
// credentials are missing or discovery fails; callers disable the feature.
func NewLinkedIn(ctx context.Context, cfg config.LinkedInConfig, redirectURL string) (*LinkedIn, error) {
	if !cfg.Enabled() {
		return nil, errors.New("linkedin credentials not configured")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("%w: oidc discovery: %v", ErrUnavailable, err)
	}

	return &LinkedIn{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (l *LinkedIn) AuthCodeURL(state string) string {
	return l.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a verified identity.
func (l *LinkedIn) Exchange(ctx context.Context, code string) (Identity, error) {
	token, err := l.oauth.Exchange(ctx, code)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: token exchange: %v", ErrUnavailable, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Identity{}, fmt.Errorf("%w: no id_token in token response", ErrUnavailable)
	}

	idToken, err := l.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Identity{}, fmt.Errorf("verify id_token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("decode id_token claims: %w", err)
	}

	// OpenID Connect does not expose the vanity profile URL.
	return Identity{
		ID:        claims.Subject,
		Name:      claims.Name,
		FirstName: claims.GivenName,
		LastName:  claims.FamilyName,
		Email:     claims.Email,
	}, nil
}
