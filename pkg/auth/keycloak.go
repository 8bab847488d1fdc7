package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned for missing, malformed or unverifiable tokens
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrInvalidAudience is returned when neither aud nor azp matches an expected client
	ErrInvalidAudience = errors.New("invalid audience")
)

// Identity is the caller resolved from a verified access token
type Identity struct {
	Subject  string
	Email    string
	Username string
	Roles    []string
}

// HasRole reports whether the identity carries the realm role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

// KeycloakClaims are the access token claims this service reads
type KeycloakClaims struct {
	Email             string      `json:"email,omitempty"`
	PreferredUsername string      `json:"preferred_username,omitempty"`
	AuthorizedParty   string      `json:"azp,omitempty"`
	RealmAccess       realmAccess `json:"realm_access"`
	jwt.RegisteredClaims
}

// Verifier validates RS256 access tokens against the identity provider's key set
type Verifier struct {
	keys      keyfunc.Keyfunc
	issuer    string
	audiences []string
}

// NewVerifier builds a verifier over an already resolved key set.
// An empty issuer skips the issuer check; an empty audience list skips the audience check.
func NewVerifier(keys keyfunc.Keyfunc, issuer string, audiences []string) *Verifier {
	return &Verifier{
		keys:      keys,
		issuer:    strings.TrimRight(issuer, "/"),
		audiences: audiences,
	}
}

// NewRemoteVerifier fetches and keeps refreshing the key set at jwksURL until ctx ends.
func NewRemoteVerifier(ctx context.Context, jwksURL, issuer string, audiences []string) (*Verifier, error) {
	if jwksURL == "" {
		return nil, errors.New("KEYCLOAK_JWKS_URL not configured")
	}
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS: %w", err)
	}
	return NewVerifier(keys, issuer, audiences), nil
}

// Verify checks the signature, expiry, issuer and audience of a token
func (v *Verifier) Verify(tokenString string) (*KeycloakClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &KeycloakClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keys.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid {
		return nil, ErrUnauthenticated
	}

	if len(v.audiences) > 0 && !v.audienceAllowed(claims) {
		return nil, ErrInvalidAudience
	}
	return claims, nil
}

// Identify verifies a token and maps its claims to an Identity
func (v *Verifier) Identify(tokenString string) (Identity, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return Identity{}, err
	}
	email := claims.Email
	if email == "" {
		email = claims.PreferredUsername
	}
	return Identity{
		Subject:  claims.Subject,
		Email:    email,
		Username: claims.PreferredUsername,
		Roles:    claims.RealmAccess.Roles,
	}, nil
}

// aud may hold the resource servers only, so azp (the requesting client) also counts.
func (v *Verifier) audienceAllowed(claims *KeycloakClaims) bool {
	for _, aud := range claims.Audience {
		if slices.Contains(v.audiences, aud) {
			return true
		}
	}
	return claims.AuthorizedParty != "" && slices.Contains(v.audiences, claims.AuthorizedParty)
}

// ExtractToken extracts the JWT token from an Authorization header value.
// Supports "Bearer <token>" format.
func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", errors.New("empty authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty token")
	}

	return token, nil
}
